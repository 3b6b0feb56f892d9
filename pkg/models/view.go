package models

// View is the read-time merge of an immutable entry with its overlay and
// reactions: effective = entry overridden by overlay. Deleted views carry an
// empty text; clients render a tombstone.
type View struct {
	Entry

	Edited       bool   `json:"edited,omitempty"`
	LastEditedAt int64  `json:"lastEditedAt,omitempty"`
	Edits        []Edit `json:"edits,omitempty"`
	Deleted      bool   `json:"deleted,omitempty"`
	DeletedAt    int64  `json:"deletedAt,omitempty"`

	Reactions ReactionSet `json:"reactions"`
}

// Merge builds the effective view of e given its optional overlay and
// reaction set. The raw entry is never modified.
func Merge(e Entry, ov *Overlay, reactions ReactionSet) View {
	v := View{Entry: e, Reactions: reactions}
	if v.Reactions == nil {
		v.Reactions = ReactionSet{}
	}
	if ov == nil {
		return v
	}
	if ov.Edited {
		v.Text = ov.Text
		v.Edited = true
		v.LastEditedAt = ov.LastEditedAt
		v.Edits = ov.Edits
	}
	if ov.Deleted {
		v.Deleted = true
		v.DeletedAt = ov.DeletedAt
		v.Text = ""
		v.Media = nil
		v.Gif = nil
		v.Audio = nil
	}
	return v
}
