package bus

import (
	"context"
	"testing"
)

// TestInMemPublishReachesSubscribers fans one payload out to every
// subscriber of the subject and no one else.
func TestInMemPublishReachesSubscribers(t *testing.T) {
	b := NewInMem()
	defer b.Close()

	ctx := context.Background()
	ch1 := make(chan []byte, 1)
	ch2 := make(chan []byte, 1)
	other := make(chan []byte, 1)
	if _, err := b.Stream(ctx, "parley.conv.room", ch1); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := b.Stream(ctx, "parley.conv.room", ch2); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := b.Stream(ctx, "parley.conv.lobby", other); err != nil {
		t.Fatalf("Stream: %v", err)
	}

	if err := b.Publish(ctx, "parley.conv.room", []byte("hi")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for i, ch := range []chan []byte{ch1, ch2} {
		select {
		case got := <-ch:
			if string(got) != "hi" {
				t.Fatalf("subscriber %d got %q", i, got)
			}
		default:
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
	select {
	case <-other:
		t.Fatalf("unrelated subject received the payload")
	default:
	}
}

// TestInMemUnsubscribeStopsDelivery verifies no delivery after
// Unsubscribe.
func TestInMemUnsubscribeStopsDelivery(t *testing.T) {
	b := NewInMem()
	defer b.Close()

	ctx := context.Background()
	ch := make(chan []byte, 1)
	sub, err := b.Stream(ctx, "parley.conv.room", ch)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if err := b.Publish(ctx, "parley.conv.room", []byte("hi")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case <-ch:
		t.Fatalf("received after unsubscribe")
	default:
	}
}

// TestClosedBusRejects returns ErrClosed for both operations.
func TestClosedBusRejects(t *testing.T) {
	b := NewInMem()
	_ = b.Close()
	if err := b.Publish(context.Background(), "s", nil); err != ErrClosed {
		t.Fatalf("Publish after close: %v", err)
	}
	if _, err := b.Stream(context.Background(), "s", make(chan []byte)); err != ErrClosed {
		t.Fatalf("Stream after close: %v", err)
	}
}

// TestConversationSubjectDistinct checks the escaping cannot collide
// distinct conversation ids, including direct ids with separators.
func TestConversationSubjectDistinct(t *testing.T) {
	ids := []string{"room", "dm:ann|bob", "dm:ann:bob", "dm:ann|b.ob", "ro om"}
	seen := map[string]string{}
	for _, id := range ids {
		subj := ConversationSubject(id)
		if prev, dup := seen[subj]; dup {
			t.Fatalf("ids %q and %q share subject %q", prev, id, subj)
		}
		seen[subj] = id
		for _, c := range subj {
			if c == '|' || c == ' ' || c == '*' || c == '>' {
				t.Fatalf("subject %q carries unsafe byte %q", subj, c)
			}
		}
	}
}
