package models

// Kind tags the body variant of a log entry.
type Kind string

const (
	KindText   Kind = "text"
	KindGif    Kind = "gif"
	KindMedia  Kind = "media"
	KindAudio  Kind = "audio"
	KindSystem Kind = "system"
)

// ValidKind reports whether k is one of the known entry kinds.
func ValidKind(k Kind) bool {
	switch k {
	case KindText, KindGif, KindMedia, KindAudio, KindSystem:
		return true
	}
	return false
}

// Author is the identity snapshot stamped onto an entry at append time.
// The identity collaborator supplies it; the core never re-validates.
type Author struct {
	ID     string `json:"userId"`
	Name   string `json:"username"`
	Avatar string `json:"avatar,omitempty"`
	Color  string `json:"bubbleColor,omitempty"`
}

// MediaPayload is the descriptor the media collaborator resolves before a
// message is appended. The core never stores raw bytes.
type MediaPayload struct {
	URL    string `json:"url"`
	Type   string `json:"type,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// GifPayload references an externally hosted animation.
type GifPayload struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// AudioPayload references a recorded voice note.
type AudioPayload struct {
	URL        string `json:"url"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

// ReplySnapshot is a denormalized copy of the replied-to entry taken at the
// time of reply. It is never re-resolved against the log afterwards.
type ReplySnapshot struct {
	MessageID string        `json:"messageId,omitempty"`
	Author    string        `json:"username,omitempty"`
	Text      string        `json:"text"`
	Kind      Kind          `json:"kind,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
	Audio     *AudioPayload `json:"audio,omitempty"`
	Deleted   bool          `json:"deleted,omitempty"`
	DeletedAt int64         `json:"deletedAt,omitempty"`
}

// Entry is one immutable log record. Once appended it is never mutated or
// deleted individually; only a whole-conversation purge removes it. Edits
// and deletes live in the overlay and are merged at read time.
type Entry struct {
	ID     string `json:"messageId"`
	Conv   string `json:"conv"`
	Author Author `json:"author"`
	Kind   Kind   `json:"kind"`
	Text   string `json:"text"`

	Media *MediaPayload `json:"media,omitempty"`
	Gif   *GifPayload   `json:"gif,omitempty"`
	Audio *AudioPayload `json:"audio,omitempty"`

	ReplyTo *ReplySnapshot `json:"replyTo,omitempty"`

	// TS is the append timestamp in unix nanoseconds.
	TS int64 `json:"ts"`
	// Pos is the store-assigned position token: totally ordered within a
	// conversation, opaque to clients, also used as the pagination cursor.
	Pos string `json:"pos"`
}
