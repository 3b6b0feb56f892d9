package models

// Edit records one prior text at the moment it was replaced.
type Edit struct {
	PreviousText string `json:"previousText"`
	EditedAt     int64  `json:"editedAt"`
}

// Overlay holds the mutable metadata for one message id. It is created on
// first edit or delete and merged onto the immutable entry at read time.
// Writes are last-writer-wins full replaces; callers read-modify-write the
// edit history before putting.
type Overlay struct {
	Text         string `json:"text,omitempty"`
	Edited       bool   `json:"edited,omitempty"`
	LastEditedAt int64  `json:"lastEditedAt,omitempty"`
	Edits        []Edit `json:"edits,omitempty"`
	Deleted      bool   `json:"deleted,omitempty"`
	DeletedAt    int64  `json:"deletedAt,omitempty"`
}

// WithEdit returns a copy of o with newText applied and the previous text
// appended to the edit history.
func (o Overlay) WithEdit(previousText, newText string, now int64) Overlay {
	edits := make([]Edit, 0, len(o.Edits)+1)
	edits = append(edits, o.Edits...)
	edits = append(edits, Edit{PreviousText: previousText, EditedAt: now})
	o.Edits = edits
	o.Text = newText
	o.Edited = true
	o.LastEditedAt = now
	return o
}

// WithDelete returns a copy of o marked deleted with its text cleared.
func (o Overlay) WithDelete(now int64) Overlay {
	o.Deleted = true
	o.DeletedAt = now
	o.Text = ""
	return o
}
