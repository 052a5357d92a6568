package summary

import (
	"testing"
	"time"

	"chatsync/pkg/models"
	"chatsync/pkg/store"
)

func newTestAggregator(t *testing.T) (*Aggregator, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, "me"), st
}

func seed(t *testing.T, st *store.Store, msgs ...models.Message) {
	t.Helper()
	if err := st.UpsertMessages(msgs); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func confirmed(id, conv, sender, body string, createdAt, seq int64) models.Message {
	return models.Message{
		ID: id, ConversationID: conv, SenderID: sender, Body: body,
		ContentType: models.ContentText, CreatedAt: createdAt,
		MessageSeq: seq, ServerAckAt: createdAt, Status: models.StatusSent,
	}
}

func TestUnreadStrictlyAfterMarker(t *testing.T) {
	agg, st := newTestAggregator(t)
	seed(t, st,
		confirmed("srv-1", "c1", "peer", "a", 100, 1),
		confirmed("srv-2", "c1", "peer", "b", 200, 2),
		confirmed("srv-3", "c1", "peer", "c", 300, 3),
	)
	if err := st.UpsertParticipant(models.Participant{
		ConversationID: "c1", UserID: "me", Role: models.RoleMember,
		JoinedAt: 1, LastReadSeq: 2, LastReadAt: 200,
	}); err != nil {
		t.Fatalf("participant: %v", err)
	}

	s, err := agg.Summarize(models.Conversation{ID: "c1"})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	// message at seq 2 sits exactly at the marker and is read
	if s.UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1", s.UnreadCount)
	}
	if s.LastMessage == nil || s.LastMessage.ID != "srv-3" {
		t.Fatalf("last message wrong: %+v", s.LastMessage)
	}
}

func TestUnreadExcludesSelf(t *testing.T) {
	agg, st := newTestAggregator(t)
	seed(t, st,
		confirmed("srv-1", "c1", "peer", "a", 100, 1),
		confirmed("srv-2", "c1", "me", "b", 200, 2),
	)
	s, err := agg.Summarize(models.Conversation{ID: "c1"})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if s.UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1 (own message counted?)", s.UnreadCount)
	}
}

func TestUnreadPendingFallsBackToCreatedAt(t *testing.T) {
	agg, st := newTestAggregator(t)
	// peer messages known only locally (no seq yet) count by created-at;
	// one sits exactly at the marker and must read as seen
	seed(t, st, models.Message{
		LocalTempID: "tmp-x", ConversationID: "c1", SenderID: "peer", Body: "p",
		ContentType: models.ContentText, CreatedAt: 500, Status: models.StatusSending,
	}, models.Message{
		LocalTempID: "tmp-y", ConversationID: "c1", SenderID: "peer", Body: "q",
		ContentType: models.ContentText, CreatedAt: 400, Status: models.StatusSending,
	})
	if err := st.UpsertParticipant(models.Participant{
		ConversationID: "c1", UserID: "me", Role: models.RoleMember,
		JoinedAt: 1, LastReadAt: 400,
	}); err != nil {
		t.Fatalf("participant: %v", err)
	}
	s, err := agg.Summarize(models.Conversation{ID: "c1"})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if s.UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1 (created-at boundary must count as read)", s.UnreadCount)
	}
}

func TestMuteWindow(t *testing.T) {
	agg, st := newTestAggregator(t)
	seed(t, st, confirmed("srv-1", "c1", "peer", "a", 100, 1))

	now := time.Now()
	if _, err := st.MutateParticipant("c1", "me", func(p *models.Participant) {
		p.MuteUntil = now.Add(time.Hour).UnixMilli()
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	agg.SetClock(func() time.Time { return now })
	s, err := agg.Summarize(models.Conversation{ID: "c1"})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if !s.Muted {
		t.Fatalf("conversation not muted inside window")
	}

	// past the window the flag clears without any write
	agg.SetClock(func() time.Time { return now.Add(2 * time.Hour) })
	s, err = agg.Summarize(models.Conversation{ID: "c1"})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if s.Muted {
		t.Fatalf("mute window did not expire")
	}
}

func TestMarkConversationAsRead(t *testing.T) {
	agg, st := newTestAggregator(t)
	seed(t, st,
		confirmed("srv-1", "c1", "peer", "a", 100, 1),
		confirmed("srv-2", "c1", "peer", "b", 200, 2),
	)
	s, _ := agg.Summarize(models.Conversation{ID: "c1"})
	if s.UnreadCount != 2 {
		t.Fatalf("precondition unread = %d, want 2", s.UnreadCount)
	}
	if err := agg.MarkConversationAsRead("c1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	s, _ = agg.Summarize(models.Conversation{ID: "c1"})
	if s.UnreadCount != 0 {
		t.Fatalf("unread after mark = %d, want 0", s.UnreadCount)
	}

	// a new message brings the count back
	seed(t, st, confirmed("srv-3", "c1", "peer", "c", 300, 3))
	s, _ = agg.Summarize(models.Conversation{ID: "c1"})
	if s.UnreadCount != 1 {
		t.Fatalf("unread after new message = %d, want 1", s.UnreadCount)
	}
}

func TestSummariesOrderPinnedFirst(t *testing.T) {
	agg, st := newTestAggregator(t)
	seed(t, st,
		confirmed("srv-1", "old", "peer", "a", 100, 1),
		confirmed("srv-2", "busy", "peer", "b", 900, 1),
		confirmed("srv-3", "pinned", "peer", "c", 50, 1),
	)
	if _, err := st.MutateParticipant("pinned", "me", func(p *models.Participant) {
		p.Pinned = true
	}); err != nil {
		t.Fatalf("pin: %v", err)
	}
	sums, err := agg.Summaries()
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(sums) != 3 {
		t.Fatalf("got %d summaries, want 3", len(sums))
	}
	if sums[0].ConversationID != "pinned" {
		t.Fatalf("pinned conversation not first: %s", sums[0].ConversationID)
	}
	if sums[1].ConversationID != "busy" || sums[2].ConversationID != "old" {
		t.Fatalf("activity order wrong: %s, %s", sums[1].ConversationID, sums[2].ConversationID)
	}
}

func TestObserveSummariesRecomputesOnChange(t *testing.T) {
	agg, st := newTestAggregator(t)
	seed(t, st, confirmed("srv-1", "c1", "peer", "a", 100, 1))

	sub := agg.ObserveSummaries()
	defer sub.Close()

	select {
	case sums := <-sub.C:
		if len(sums) != 1 || sums[0].UnreadCount != 1 {
			t.Fatalf("initial summaries wrong: %+v", sums)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no initial summaries")
	}

	seed(t, st, confirmed("srv-2", "c1", "peer", "b", 200, 2))
	deadline := time.Now().Add(2 * time.Second)
	for {
		select {
		case sums := <-sub.C:
			if len(sums) == 1 && sums[0].UnreadCount == 2 {
				return
			}
		case <-time.After(time.Until(deadline)):
			t.Fatalf("summaries never caught up")
		}
	}
}
