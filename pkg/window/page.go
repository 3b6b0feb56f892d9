package window

import (
	"fmt"

	"parley/pkg/models"
)

// Page is one backward pagination step. NextBefore is the position token of
// the oldest item returned, or nil when the retained history is exhausted.
// The cursor is opaque to clients.
type Page struct {
	Items      []models.View `json:"items"`
	NextBefore *string       `json:"nextBefore"`
}

// Page fetches up to limit merged entries strictly older than the before
// cursor (exclusive), returned ascending. An empty before starts from the
// newest entry; an empty conversation yields {items: [], nextBefore: null}.
// maxPageLimit bounds a single page regardless of what the client asks
// for; limits are clamped, not rejected.
const maxPageLimit = 200

func (r *Reader) Page(conv, before string, limit int) (Page, error) {
	if limit <= 0 {
		limit = r.size
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	entries, err := r.st.Range(conv, before, limit)
	if err != nil {
		return Page{}, fmt.Errorf("page %s: %w", conv, err)
	}
	views, err := r.merge(conv, entries)
	if err != nil {
		return Page{}, err
	}
	p := Page{Items: views}
	if p.Items == nil {
		p.Items = []models.View{}
	}
	// a short page means history is exhausted
	if len(views) == limit {
		cursor := views[0].Pos
		p.NextBefore = &cursor
	}
	return p, nil
}
