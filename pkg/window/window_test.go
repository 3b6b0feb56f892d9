package window

import (
	"fmt"
	"testing"

	"parley/pkg/models"
	"parley/pkg/store"
)

func openStore(t *testing.T, opts store.Options) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func appendN(t *testing.T, s *store.Store, conv string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.Append(conv, models.Entry{
			ID:     fmt.Sprintf("m%d", i),
			Author: models.Author{ID: "ann", Name: "Ann"},
			Kind:   models.KindText,
			Text:   fmt.Sprintf("msg %d", i),
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

// TestLatestWindowSize verifies the window holds at most the configured
// number of newest entries, oldest first.
func TestLatestWindowSize(t *testing.T) {
	s := openStore(t, store.Options{GroupCap: 100})
	appendN(t, s, "room", 30)
	r := New(s, 10)
	views, err := r.Latest("room")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(views) != 10 {
		t.Fatalf("window has %d entries, want 10", len(views))
	}
	if views[0].ID != "m20" || views[9].ID != "m29" {
		t.Fatalf("window bounds wrong: %s .. %s", views[0].ID, views[9].ID)
	}
}

// TestWindowReflectsOverlayAfterRefresh applies an edit then a delete and
// checks the merged window tracks the effective state.
func TestWindowReflectsOverlayAfterRefresh(t *testing.T) {
	s := openStore(t, store.Options{})
	appendN(t, s, "room", 3)
	r := New(s, 10)
	if _, err := r.Latest("room"); err != nil {
		t.Fatalf("Latest: %v", err)
	}

	if err := s.PutOverlay("room", "m1", models.Overlay{}.WithEdit("msg 1", "edited", 50)); err != nil {
		t.Fatalf("PutOverlay: %v", err)
	}
	views, err := r.Refresh("room")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if views[1].Text != "edited" || !views[1].Edited {
		t.Fatalf("edit not reflected: %+v", views[1])
	}

	ov, _ := s.GetOverlay("room", "m1")
	if err := s.PutOverlay("room", "m1", ov.WithDelete(60)); err != nil {
		t.Fatalf("PutOverlay: %v", err)
	}
	views, err = r.Refresh("room")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !views[1].Deleted || views[1].Text != "" {
		t.Fatalf("delete not reflected: %+v", views[1])
	}
}

// TestLatestServesCacheUntilRefresh verifies reads hit the cached snapshot;
// new appends show up only after a refresh.
func TestLatestServesCacheUntilRefresh(t *testing.T) {
	s := openStore(t, store.Options{})
	appendN(t, s, "room", 2)
	r := New(s, 10)
	first, err := r.Latest("room")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if _, err := s.Append("room", models.Entry{ID: "late", Kind: models.KindText, Text: "x"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	again, err := r.Latest("room")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(again) != len(first) {
		t.Fatalf("cache refreshed implicitly: %d vs %d", len(again), len(first))
	}
	views, err := r.Refresh("room")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("refresh missed the append: %d", len(views))
	}
}

// TestPageCursorWalk pages backward collecting every retained entry once,
// and checks the final page reports no further cursor.
func TestPageCursorWalk(t *testing.T) {
	s := openStore(t, store.Options{GroupCap: 100})
	appendN(t, s, "room", 25)
	r := New(s, 10)

	seen := map[string]bool{}
	before := ""
	for steps := 0; ; steps++ {
		if steps > 10 {
			t.Fatalf("cursor walk did not terminate")
		}
		p, err := r.Page("room", before, 10)
		if err != nil {
			t.Fatalf("Page: %v", err)
		}
		for _, v := range p.Items {
			if seen[v.ID] {
				t.Fatalf("entry %s returned twice", v.ID)
			}
			seen[v.ID] = true
		}
		if p.NextBefore == nil {
			break
		}
		before = *p.NextBefore
	}
	if len(seen) != 25 {
		t.Fatalf("walk visited %d entries, want 25", len(seen))
	}
}

// TestPageEmptyConversation verifies the empty-but-valid shape.
func TestPageEmptyConversation(t *testing.T) {
	s := openStore(t, store.Options{})
	r := New(s, 10)
	p, err := r.Page("ghost", "", 10)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if p.Items == nil || len(p.Items) != 0 || p.NextBefore != nil {
		t.Fatalf("unexpected empty page %+v", p)
	}
}

// TestPageLimitClamped verifies an oversized client limit is clamped
// instead of driving the allocation and scan size.
func TestPageLimitClamped(t *testing.T) {
	s := openStore(t, store.Options{GroupCap: 300})
	appendN(t, s, "room", 210)
	r := New(s, 10)

	p, err := r.Page("room", "", 1<<30)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if len(p.Items) != maxPageLimit {
		t.Fatalf("page has %d items, want %d", len(p.Items), maxPageLimit)
	}
	if p.NextBefore == nil {
		t.Fatalf("clamped full page should carry a cursor")
	}
}

// TestLatestPreview covers the per-kind preview lines and skips deleted
// and system entries.
func TestLatestPreview(t *testing.T) {
	s := openStore(t, store.Options{})
	r := New(s, 10)

	if _, err := s.Append("room", models.Entry{ID: "m0", Author: models.Author{ID: "ann", Name: "Ann"}, Kind: models.KindText, Text: "hello"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append("room", models.Entry{ID: "m1", Author: models.Author{ID: "bob", Name: "Bob"}, Kind: models.KindMedia, Media: &models.MediaPayload{URL: "u", Type: "video"}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append("room", models.Entry{ID: "m2", Author: models.Author{ID: "system", Name: "System"}, Kind: models.KindSystem, Text: "Bob joined"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := r.Refresh("room"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	p, err := r.LatestPreview("room")
	if err != nil {
		t.Fatalf("LatestPreview: %v", err)
	}
	if p == nil || p.Username != "Bob" || p.PreviewText != "Video" || !p.HasMedia {
		t.Fatalf("unexpected preview %+v", p)
	}

	// delete the newest visible entry; preview falls back to the text one
	if err := s.PutOverlay("room", "m1", models.Overlay{}.WithDelete(9)); err != nil {
		t.Fatalf("PutOverlay: %v", err)
	}
	if _, err := r.Refresh("room"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	p, err = r.LatestPreview("room")
	if err != nil {
		t.Fatalf("LatestPreview: %v", err)
	}
	if p == nil || p.PreviewText != "hello" {
		t.Fatalf("preview did not fall back: %+v", p)
	}
}
