// Package service orchestrates the conversation core: append, edit,
// delete, react, purge and the events published for each. It owns the
// business rules; transports stay thin.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"

	"parley/pkg/bus"
	"parley/pkg/clock"
	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/store"
	"parley/pkg/telemetry"
	"parley/pkg/window"
)

// MediaResolver turns an upload reference into a servable media descriptor.
// Implementations live outside the core; the service only stores the
// resolved URL and metadata.
type MediaResolver interface {
	Resolve(ctx context.Context, ref string) (models.MediaPayload, error)
}

// Outbound event types, fanned out on the conversation's bus subject.
const (
	EventMessage     = "message"
	EventEdited      = "message_edited"
	EventDeleted     = "message_deleted"
	EventReaction    = "reaction"
	EventConvDeleted = "conversation_deleted"
)

// Event is the wire envelope published on the bus and relayed to clients.
type Event struct {
	Type         string `json:"type"`
	Conversation string `json:"conversationId"`
	Payload      any    `json:"payload,omitempty"`
}

// ReactionEvent is the payload of EventReaction.
type ReactionEvent struct {
	MessageID string                 `json:"messageId"`
	Reactions models.ReactionSet    `json:"reactions"`
	Summary   models.ReactionSummary `json:"summary"`
}

// EditEvent is the payload of EventEdited.
type EditEvent struct {
	MessageID    string        `json:"messageId"`
	Text         string        `json:"text"`
	LastEditedAt int64         `json:"lastEditedAt"`
	Edits        []models.Edit `json:"edits"`
}

// DeleteEvent is the payload of EventDeleted.
type DeleteEvent struct {
	MessageID string `json:"messageId"`
	DeletedAt int64  `json:"deletedAt"`
}

// SendInput carries one inbound message body. Exactly the payload matching
// Kind must be set; MediaRef may replace Media when a resolver is wired.
type SendInput struct {
	Kind     models.Kind
	Text     string
	Gif      *models.GifPayload
	Media    *models.MediaPayload
	MediaRef string
	Audio    *models.AudioPayload
	ReplyTo  string
}

// MaxTextLen caps message and edit text length in bytes.
const MaxTextLen = 8192

// Chat wires the store, window reader and event bus behind the
// conversation operations.
type Chat struct {
	st      *store.Store
	windows *window.Reader
	bus     bus.Messenger
	clk     clock.Clock
	media   MediaResolver
}

func NewChat(st *store.Store, windows *window.Reader, msgr bus.Messenger, clk clock.Clock, media MediaResolver) *Chat {
	return &Chat{st: st, windows: windows, bus: msgr, clk: clk, media: media}
}

// Windows exposes the read path for transports.
func (c *Chat) Windows() *window.Reader { return c.windows }

// Store exposes the log for maintenance jobs.
func (c *Chat) Store() *store.Store { return c.st }

// Page proxies backward pagination, folding store failures into the
// service error taxonomy so transports map them uniformly.
func (c *Chat) Page(conv, before string, limit int) (window.Page, error) {
	if conv == "" {
		return window.Page{}, validationf("conversation id required")
	}
	p, err := c.windows.Page(conv, before, limit)
	if err != nil {
		return window.Page{}, errors.Join(ErrStoreUnavailable, err)
	}
	return p, nil
}

// Send validates, resolves and appends one message, then publishes it.
func (c *Chat) Send(ctx context.Context, conv string, author models.Author, in SendInput) (models.View, error) {
	if conv == "" {
		return models.View{}, validationf("conversation id required")
	}
	if author.ID == "" {
		return models.View{}, validationf("author required")
	}
	e := models.Entry{
		ID:     uuid.NewString(),
		Conv:   conv,
		Author: author,
		Kind:   in.Kind,
		TS:     c.clk.Now().UnixNano(),
	}
	if err := c.fillBody(ctx, &e, in); err != nil {
		return models.View{}, err
	}
	if in.ReplyTo != "" {
		snap, err := c.replySnapshot(conv, in.ReplyTo)
		if err != nil {
			return models.View{}, err
		}
		e.ReplyTo = snap
	}
	pos, err := c.st.Append(conv, e)
	if err != nil {
		return models.View{}, errors.Join(ErrStoreUnavailable, err)
	}
	e.Pos = pos
	if _, err := c.windows.Refresh(conv); err != nil {
		logger.Warn("window_refresh_failed", "conversation", conv, "error", err.Error())
	}
	v := models.Merge(e, nil, nil)
	c.publish(ctx, conv, EventMessage, v)
	return v, nil
}

func (c *Chat) fillBody(ctx context.Context, e *models.Entry, in SendInput) error {
	if !models.ValidKind(in.Kind) {
		return validationf("unknown kind %q", in.Kind)
	}
	text := strings.TrimSpace(in.Text)
	if len(text) > MaxTextLen {
		return validationf("text exceeds %d bytes", MaxTextLen)
	}
	e.Text = text
	switch in.Kind {
	case models.KindText:
		if text == "" {
			return validationf("text message requires text")
		}
	case models.KindGif:
		if in.Gif == nil || in.Gif.URL == "" {
			return validationf("gif message requires a gif url")
		}
		e.Gif = in.Gif
	case models.KindMedia:
		switch {
		case in.MediaRef != "":
			if c.media == nil {
				return validationf("media uploads not supported")
			}
			m, err := c.media.Resolve(ctx, in.MediaRef)
			if err != nil {
				return validationf("unresolvable media ref: %v", err)
			}
			e.Media = &m
		case in.Media != nil && in.Media.URL != "":
			e.Media = in.Media
		default:
			return validationf("media message requires a media payload")
		}
	case models.KindAudio:
		if in.Audio == nil || in.Audio.URL == "" {
			return validationf("audio message requires an audio url")
		}
		e.Audio = in.Audio
	case models.KindSystem:
		return validationf("system messages are server generated")
	}
	return nil
}

// replySnapshot denormalizes the replied-to message at send time. The
// snapshot reflects the target's effective state now and is never
// re-resolved later.
func (c *Chat) replySnapshot(conv, msgID string) (*models.ReplySnapshot, error) {
	target, err := c.st.FindEntry(conv, msgID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, validationf("reply target %s not found", msgID)
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	var ov *models.Overlay
	if got, err := c.st.GetOverlay(conv, msgID); err == nil {
		ov = &got
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	v := models.Merge(target, ov, nil)
	return &models.ReplySnapshot{
		MessageID: v.ID,
		Author:    v.Author.Name,
		Text:      v.Text,
		Kind:      v.Kind,
		Media:     v.Media,
		Audio:     v.Audio,
		Deleted:   v.Deleted,
		DeletedAt: v.DeletedAt,
	}, nil
}

// Edit replaces the effective text of the author's own message. Deleted
// messages cannot be edited.
func (c *Chat) Edit(ctx context.Context, conv, msgID, editorID, newText string) (models.Overlay, error) {
	newText = strings.TrimSpace(newText)
	if newText == "" {
		return models.Overlay{}, validationf("edit requires text")
	}
	if len(newText) > MaxTextLen {
		return models.Overlay{}, validationf("text exceeds %d bytes", MaxTextLen)
	}
	e, err := c.st.FindEntry(conv, msgID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Overlay{}, notFoundf("message %s", msgID)
		}
		return models.Overlay{}, errors.Join(ErrStoreUnavailable, err)
	}
	if e.Kind != models.KindText {
		return models.Overlay{}, validationf("only text messages can be edited")
	}
	if e.Author.ID != editorID {
		return models.Overlay{}, unauthorizedf("message %s belongs to another author", msgID)
	}
	ov, err := c.currentOverlay(conv, msgID)
	if err != nil {
		return models.Overlay{}, err
	}
	if ov.Deleted {
		return models.Overlay{}, validationf("message %s is deleted", msgID)
	}
	prev := e.Text
	if ov.Edited {
		prev = ov.Text
	}
	next := ov.WithEdit(prev, newText, c.clk.Now().UnixNano())
	if err := c.st.PutOverlay(conv, msgID, next); err != nil {
		return models.Overlay{}, errors.Join(ErrStoreUnavailable, err)
	}
	if _, err := c.windows.Refresh(conv); err != nil {
		logger.Warn("window_refresh_failed", "conversation", conv, "error", err.Error())
	}
	c.publish(ctx, conv, EventEdited, EditEvent{
		MessageID:    msgID,
		Text:         next.Text,
		LastEditedAt: next.LastEditedAt,
		Edits:        next.Edits,
	})
	return next, nil
}

// Delete tombstones the author's own message. Idempotent: deleting an
// already deleted message succeeds without a second event.
func (c *Chat) Delete(ctx context.Context, conv, msgID, requesterID string) error {
	e, err := c.st.FindEntry(conv, msgID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundf("message %s", msgID)
		}
		return errors.Join(ErrStoreUnavailable, err)
	}
	if e.Author.ID != requesterID {
		return unauthorizedf("message %s belongs to another author", msgID)
	}
	ov, err := c.currentOverlay(conv, msgID)
	if err != nil {
		return err
	}
	if ov.Deleted {
		return nil
	}
	next := ov.WithDelete(c.clk.Now().UnixNano())
	if err := c.st.PutOverlay(conv, msgID, next); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	if _, err := c.windows.Refresh(conv); err != nil {
		logger.Warn("window_refresh_failed", "conversation", conv, "error", err.Error())
	}
	c.publish(ctx, conv, EventDeleted, DeleteEvent{MessageID: msgID, DeletedAt: next.DeletedAt})
	return nil
}

// React toggles the reactor's reaction on a message and publishes the
// resulting set with its summary.
func (c *Chat) React(ctx context.Context, conv, msgID, reactorID, reactorName, emoji string) (models.ReactionSet, error) {
	if reactorID == "" {
		return nil, validationf("reactor required")
	}
	if _, err := c.st.FindEntry(conv, msgID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundf("message %s", msgID)
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	set, err := c.st.SetReaction(conv, msgID, reactorID, models.Reaction{
		Emoji:     emoji,
		ReactedAt: c.clk.Now().UnixNano(),
		Name:      reactorName,
	})
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	if _, err := c.windows.Refresh(conv); err != nil {
		logger.Warn("window_refresh_failed", "conversation", conv, "error", err.Error())
	}
	c.publish(ctx, conv, EventReaction, ReactionEvent{
		MessageID: msgID,
		Reactions: set,
		Summary:   models.SummarizeReactions(set),
	})
	return set, nil
}

// SendSystem appends a server-generated notice line.
func (c *Chat) SendSystem(ctx context.Context, conv, text string) error {
	if text == "" {
		return validationf("system notice requires text")
	}
	e := models.Entry{
		ID:     uuid.NewString(),
		Conv:   conv,
		Author: models.Author{ID: "system", Name: "System"},
		Kind:   models.KindSystem,
		Text:   text,
		TS:     c.clk.Now().UnixNano(),
	}
	pos, err := c.st.Append(conv, e)
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	e.Pos = pos
	if _, err := c.windows.Refresh(conv); err != nil {
		logger.Warn("window_refresh_failed", "conversation", conv, "error", err.Error())
	}
	c.publish(ctx, conv, EventMessage, models.Merge(e, nil, nil))
	return nil
}

// Purge drops the conversation's entire keyspace: log, overlays and
// reactions together, then announces the deletion.
func (c *Chat) Purge(ctx context.Context, conv string) error {
	if err := c.st.Purge(conv); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	c.windows.Evict(conv)
	c.publish(ctx, conv, EventConvDeleted, nil)
	logger.Info("conversation_purged", "conversation", conv)
	return nil
}

// publish fans the event out on the conversation subject. Publish failures
// are logged and counted, never surfaced to the caller; the write already
// committed.
func (c *Chat) publish(ctx context.Context, conv, typ string, payload any) {
	ev := Event{Type: typ, Conversation: conv, Payload: payload}
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("event_encode_failed", "type", typ, "error", err.Error())
		return
	}
	if err := c.bus.Publish(ctx, bus.ConversationSubject(conv), data); err != nil {
		telemetry.DroppedEvents.Inc()
		logger.Warn("event_publish_failed", "type", typ, "conversation", conv, "error", err.Error())
	}
}

func (c *Chat) currentOverlay(conv, msgID string) (models.Overlay, error) {
	ov, err := c.st.GetOverlay(conv, msgID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Overlay{}, nil
		}
		return models.Overlay{}, errors.Join(ErrStoreUnavailable, err)
	}
	return ov, nil
}
