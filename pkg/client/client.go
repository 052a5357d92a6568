// Package client is the narrow facade a rendering layer talks to. It owns
// no state of its own: every call delegates to the store, the
// reconciliation engine, or the summary aggregator.
package client

import (
	"context"
	"time"

	"chatsync/pkg/engine"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/summary"
)

type Client struct {
	store  *store.Store
	engine *engine.Engine
	agg    *summary.Aggregator
	self   string
}

func New(st *store.Store, eng *engine.Engine, agg *summary.Aggregator) *Client {
	return &Client{store: st, engine: eng, agg: agg, self: eng.SelfUserID()}
}

// ObserveConversation streams ordered snapshots of a conversation's
// messages, starting with the current state. limit > 0 caps each snapshot
// to the newest messages.
func (c *Client) ObserveConversation(conversationID string, limit int) *store.MessageSub {
	return c.store.ObserveMessages(conversationID, limit)
}

// ObserveSelfParticipant streams the local user's participant row for the
// conversation.
func (c *Client) ObserveSelfParticipant(conversationID string) *store.ParticipantSub {
	return c.store.ObserveParticipant(conversationID, c.self)
}

// SendMessage sends optimistically: the returned message is immediately
// renderable and carries either Sent (acknowledged) or Failed (retryable)
// status.
func (c *Client) SendMessage(ctx context.Context, d models.Draft) (models.Message, error) {
	return c.engine.SendMessage(ctx, d)
}

// RetrySend re-attempts a failed send under its original temp id.
func (c *Client) RetrySend(ctx context.Context, localTempID string) (models.Message, error) {
	return c.engine.RetrySend(ctx, localTempID)
}

// DeleteMessageLocal tombstones a message in the local cache only; no
// remote delete is issued.
func (c *Client) DeleteMessageLocal(messageID string) error {
	return c.store.DeleteMessage(messageID)
}

// SyncConversation runs a catch-up pull from the given cursor and reports
// how many messages were applied.
func (c *Client) SyncConversation(ctx context.Context, conversationID string, since int64) (int, error) {
	return c.engine.SyncConversation(ctx, conversationID, since)
}

// ListenConversation attaches the live inbound stream for a conversation.
func (c *Client) ListenConversation(ctx context.Context, conversationID string, since int64) (*engine.Listener, error) {
	return c.engine.ListenConversation(ctx, conversationID, since)
}

// EnsureConversation materializes the conversation remotely and locally.
func (c *Client) EnsureConversation(ctx context.Context, conv models.Conversation) error {
	return c.engine.EnsureConversation(ctx, conv)
}

// ObserveConversationSummaries streams the recomputed summary list on
// every underlying change.
func (c *Client) ObserveConversationSummaries() *summary.SummarySub {
	return c.agg.ObserveSummaries()
}

// ConversationSummaries returns the current summary list.
func (c *Client) ConversationSummaries() ([]models.ConversationSummary, error) {
	return c.agg.Summaries()
}

// MarkConversationAsRead moves the read marker past everything currently
// held for the conversation.
func (c *Client) MarkConversationAsRead(conversationID string) error {
	return c.agg.MarkConversationAsRead(conversationID)
}

// SetConversationPinned toggles the local pinned flag.
func (c *Client) SetConversationPinned(conversationID string, pinned bool) error {
	_, err := c.store.MutateParticipant(conversationID, c.self, func(p *models.Participant) {
		p.Pinned = pinned
		if pinned {
			p.PinnedAt = time.Now().UnixNano()
		} else {
			p.PinnedAt = 0
		}
	})
	return err
}

// SetConversationMuted mutes the conversation until the given epoch-millis
// instant; zero unmutes.
func (c *Client) SetConversationMuted(conversationID string, muteUntil int64) error {
	_, err := c.store.MutateParticipant(conversationID, c.self, func(p *models.Participant) {
		p.MuteUntil = muteUntil
	})
	return err
}

// SetConversationArchived toggles the local archived flag.
func (c *Client) SetConversationArchived(conversationID string, archived bool) error {
	_, err := c.store.MutateParticipant(conversationID, c.self, func(p *models.Participant) {
		p.Archived = archived
	})
	return err
}

// DowngradeReadStatuses bulk-regresses Read messages to Delivered, for
// callers reconciling against a backend that lost read receipts. Returns
// the number of rows changed.
func (c *Client) DowngradeReadStatuses(conversationID string) (int, error) {
	return c.store.DowngradeReadStatuses(conversationID)
}
