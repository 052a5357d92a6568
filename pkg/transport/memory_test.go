package transport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"chatsync/pkg/models"
)

func TestObserveReplaysBacklogLargerThanLiveBuffer(t *testing.T) {
	mem := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const backlog = 70
	for i := 0; i < backlog; i++ {
		_, err := mem.SendMessage(ctx, models.Message{
			ConversationID: "c1",
			SenderID:       "peer",
			Body:           fmt.Sprintf("m%d", i),
			ContentType:    models.ContentText,
			CreatedAt:      int64(i + 1),
		})
		if err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	// Registration must complete regardless of how deep the catch-up
	// backlog is; a subscriber that has not read anything yet cannot be
	// allowed to block it.
	type result struct {
		sub *Subscription
		err error
	}
	done := make(chan result, 1)
	go func() {
		sub, err := mem.ObserveConversation(ctx, "c1", 0)
		done <- result{sub, err}
	}()

	var sub *Subscription
	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("observe: %v", r.err)
		}
		sub = r.sub
	case <-time.After(2 * time.Second):
		t.Fatalf("observe blocked replaying %d-message backlog", backlog)
	}
	defer sub.Close()

	for i := 0; i < backlog; i++ {
		select {
		case ev := <-sub.Events:
			if ev.Seq != int64(i+1) {
				t.Fatalf("replay out of order at %d: seq %d", i, ev.Seq)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("replay delivered only %d of %d events", i, backlog)
		}
	}
}
