package api

import (
	"encoding/json"

	"parley/pkg/models"
	"parley/pkg/window"
)

// Inbound frame verbs.
const (
	opBind   = "bind"
	opJoin   = "join"
	opLeave  = "leave"
	opActive = "active"
	opSend   = "send"
	opEdit   = "edit"
	opDelete = "delete"
	opReact  = "react"
	opPage   = "page"
	opPing   = "ping"
)

// clientFrame is the decoded shape of every inbound websocket frame. Only
// the fields for the given op are read.
type clientFrame struct {
	Op string `json:"op"`

	UserID        string   `json:"userId,omitempty"`
	Username      string   `json:"username,omitempty"`
	Avatar        string   `json:"avatar,omitempty"`
	BubbleColor   string   `json:"bubbleColor,omitempty"`
	SessionID     string   `json:"sessionId,omitempty"`
	Conversations []string `json:"conversations,omitempty"`

	Conversation string `json:"conversationId,omitempty"`
	MessageID    string `json:"messageId,omitempty"`

	Kind     models.Kind          `json:"kind,omitempty"`
	Text     string               `json:"text,omitempty"`
	Gif      *models.GifPayload   `json:"gif,omitempty"`
	Media    *models.MediaPayload `json:"media,omitempty"`
	MediaRef string               `json:"mediaRef,omitempty"`
	Audio    *models.AudioPayload `json:"audio,omitempty"`
	ReplyTo  string               `json:"replyTo,omitempty"`

	Emoji  string `json:"emoji,omitempty"`
	Before string `json:"before,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Direct reply event types, sent to a single connection rather than fanned
// out on the bus.
const (
	evBound    = "bound"
	evWindow   = "window"
	evPage     = "page"
	evRoster   = "roster"
	evPresence = "presence"
	evError    = "error"
	evPong     = "pong"
)

type serverFrame struct {
	Type         string `json:"type"`
	Conversation string `json:"conversationId,omitempty"`
	Payload      any    `json:"payload,omitempty"`
}

type errorPayload struct {
	Op      string `json:"op,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type presencePayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Online   bool   `json:"online"`
}

func encodeFrame(typ, conv string, payload any) []byte {
	b, err := json.Marshal(serverFrame{Type: typ, Conversation: conv, Payload: payload})
	if err != nil {
		return nil
	}
	return b
}

func windowFrame(conv string, items []models.View) []byte {
	if items == nil {
		items = []models.View{}
	}
	return encodeFrame(evWindow, conv, map[string]any{"items": items})
}

func pageFrame(conv string, p window.Page) []byte {
	return encodeFrame(evPage, conv, p)
}
