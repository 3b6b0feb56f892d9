package window

import (
	"parley/pkg/models"
)

// Preview is the one-line inbox summary derived from a conversation's
// newest visible entry.
type Preview struct {
	Username    string      `json:"username,omitempty"`
	Text        string      `json:"text"`
	PreviewText string      `json:"previewText,omitempty"`
	Kind        models.Kind `json:"kind,omitempty"`
	VoiceNote   bool        `json:"voiceNote"`
	HasMedia    bool        `json:"hasMedia"`
	CreatedAt   int64       `json:"createdAt,omitempty"`
}

// LatestPreview derives a preview from the newest non-deleted, non-system
// entry in the conversation's window. Returns nil when nothing qualifies.
func (r *Reader) LatestPreview(conv string) (*Preview, error) {
	views, err := r.Latest(conv)
	if err != nil {
		return nil, err
	}
	for i := len(views) - 1; i >= 0; i-- {
		if p := buildPreview(views[i]); p != nil {
			return p, nil
		}
	}
	return nil, nil
}

func buildPreview(v models.View) *Preview {
	if v.Deleted || v.Kind == models.KindSystem {
		return nil
	}
	p := &Preview{
		Username:  v.Author.Name,
		Text:      v.Text,
		Kind:      v.Kind,
		CreatedAt: v.TS,
	}
	switch {
	case v.Kind == models.KindGif:
		p.PreviewText = "GIF"
		p.HasMedia = true
	case v.Kind == models.KindMedia && v.Media != nil:
		p.HasMedia = true
		switch v.Media.Type {
		case "video":
			p.PreviewText = "Video"
		case "image", "photo":
			p.PreviewText = "Photo"
		default:
			p.PreviewText = "Attachment"
		}
	case v.Kind == models.KindAudio && v.Audio != nil:
		p.VoiceNote = true
	default:
		p.PreviewText = v.Text
	}
	return p
}
