// Package summary derives per-conversation projections (last message,
// unread count, pin/mute/archive state) from the store. Summaries are
// recomputed on demand or on observed change, never persisted.
package summary

import (
	"sync"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/syncerr"
)

type Aggregator struct {
	store *store.Store
	self  string
	clock func() time.Time
}

func New(st *store.Store, selfUserID string) *Aggregator {
	return &Aggregator{store: st, self: selfUserID, clock: time.Now}
}

// SetClock overrides the time source. Tests only.
func (a *Aggregator) SetClock(fn func() time.Time) { a.clock = fn }

// unread reports whether m sits strictly after the participant's read
// marker. Confirmed messages compare by server sequence; pending rows
// (which carry no sequence) fall back to creation time. A message exactly
// at the marker is read.
func unread(m models.Message, p models.Participant) bool {
	if m.Confirmed() && m.MessageSeq > 0 {
		return m.MessageSeq > p.LastReadSeq
	}
	return m.CreatedAt > p.LastReadAt
}

// Summarize builds the projection for one conversation as seen by the
// local user.
func (a *Aggregator) Summarize(c models.Conversation) (models.ConversationSummary, error) {
	out := models.ConversationSummary{
		ConversationID: c.ID,
		DisplayName:    c.DisplayName,
		PeerID:         c.PeerID,
	}
	p, err := a.store.GetParticipant(c.ID, a.self)
	if err != nil && !syncerr.IsNotFound(err) {
		return out, err
	}
	msgs, err := a.store.SnapshotMessages(c.ID, 0)
	if err != nil {
		return out, err
	}
	for i := range msgs {
		m := msgs[i]
		if m.SenderID == a.self {
			continue
		}
		if unread(m, p) {
			out.UnreadCount++
		}
	}
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		out.LastMessage = &last
	}
	out.Pinned = p.Pinned
	out.Archived = p.Archived
	out.MuteUntil = p.MuteUntil
	out.Muted = p.MutedAt(a.clock().UnixMilli())
	return out, nil
}

// Summaries projects every known conversation, pinned first, then by most
// recent activity.
func (a *Aggregator) Summaries() ([]models.ConversationSummary, error) {
	convs, err := a.store.ListConversations()
	if err != nil {
		return nil, err
	}
	out := make([]models.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		s, err := a.Summarize(c)
		if err != nil {
			logger.Warn("summarize_failed", "conversation", c.ID, "error", err)
			continue
		}
		out = append(out, s)
	}
	sortSummaries(out)
	return out, nil
}

func sortSummaries(s []models.ConversationSummary) {
	lastTS := func(cs models.ConversationSummary) int64 {
		if cs.LastMessage == nil {
			return 0
		}
		if cs.LastMessage.ServerAckAt > cs.LastMessage.CreatedAt {
			return cs.LastMessage.ServerAckAt
		}
		return cs.LastMessage.CreatedAt
	}
	// Insertion sort keeps the common small-N case allocation free.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0; j-- {
			a, b := s[j-1], s[j]
			swap := false
			if a.Pinned != b.Pinned {
				swap = b.Pinned
			} else {
				swap = lastTS(b) > lastTS(a)
			}
			if !swap {
				break
			}
			s[j-1], s[j] = b, a
		}
	}
}

// MarkConversationAsRead advances the local user's read marker past every
// message currently held, zeroing the unread count until new messages
// arrive.
func (a *Aggregator) MarkConversationAsRead(conversationID string) error {
	msgs, err := a.store.SnapshotMessages(conversationID, 0)
	if err != nil {
		return err
	}
	var maxSeq, maxTS int64
	for _, m := range msgs {
		if m.MessageSeq > maxSeq {
			maxSeq = m.MessageSeq
		}
		ts := m.CreatedAt
		if m.ServerAckAt > ts {
			ts = m.ServerAckAt
		}
		if ts > maxTS {
			maxTS = ts
		}
	}
	_, err = a.store.MutateParticipant(conversationID, a.self, func(p *models.Participant) {
		if maxSeq > p.LastReadSeq {
			p.LastReadSeq = maxSeq
		}
		if maxTS > p.LastReadAt {
			p.LastReadAt = maxTS
		}
	})
	return err
}

// SummarySub is a coalesced feed of full summary lists. A slow consumer
// only ever sees the newest recomputation.
type SummarySub struct {
	C <-chan []models.ConversationSummary

	once sync.Once
	stop chan struct{}
}

func (ss *SummarySub) Close() {
	ss.once.Do(func() { close(ss.stop) })
}

// ObserveSummaries emits a full recomputed summary list on every store
// change, starting with the current state.
func (a *Aggregator) ObserveSummaries() *SummarySub {
	ch := make(chan []models.ConversationSummary, 1)
	ss := &SummarySub{C: ch, stop: make(chan struct{})}
	changes := a.store.ObserveChanges()
	push := func() {
		s, err := a.Summaries()
		if err != nil {
			logger.Warn("summaries_recompute_failed", "error", err)
			return
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
	push()
	go func() {
		defer changes.Close()
		for {
			select {
			case _, ok := <-changes.C:
				if !ok {
					return
				}
				push()
			case <-ss.stop:
				return
			}
		}
	}()
	return ss
}
