// Package transport defines the abstract remote boundary the reconciliation
// engine talks to. Concrete backend protocols live in adapters implementing
// these interfaces; the engine depends only on the contract here.
package transport

import (
	"context"
	"sync"

	"chatsync/pkg/models"
)

// EventType classifies a remote event.
type EventType string

const (
	// EventMessage carries a new or re-delivered message (payload = message JSON).
	EventMessage EventType = "message"
	// EventEdit carries a body rewrite for an existing message.
	EventEdit EventType = "edit"
	// EventDelete targets a message for removal.
	EventDelete EventType = "delete"
	// EventStatus advances a message's delivery status.
	EventStatus EventType = "status"
)

// RemoteEvent is one discrete action delivered by the backend. Delivery is
// at-least-once: the engine derives a stable action id from the fields here
// and consults the ledger before applying. Payload holds adapter-decoded
// message JSON for message/edit events and stays nil otherwise.
type RemoteEvent struct {
	Type           EventType
	ConversationID string
	SenderID       string
	// TargetID names the affected message for edit/delete/status events.
	TargetID string
	Seq      int64
	// TS is the backend's event timestamp (unix nanos).
	TS      int64
	Status  models.Status
	Payload []byte
}

// Subscription is a live event feed for one conversation. Close releases
// the underlying listener; it is safe to call more than once. Stream
// failures arrive on Errs without closing Events.
type Subscription struct {
	Events <-chan RemoteEvent
	Errs   <-chan error

	CloseFunc func()
	once      sync.Once
}

// Close releases the listener resource.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.CloseFunc != nil {
			s.CloseFunc()
		}
	})
}

// Transport is the message channel of a backend. All calls are blocking and
// honor ctx cancellation promptly; failures are marked syncerr.ErrTransport.
type Transport interface {
	// ObserveConversation starts push-style delivery of new/changed remote
	// events for a conversation from the given cursor (unix nanos).
	ObserveConversation(ctx context.Context, conversationID string, since int64) (*Subscription, error)
	// SendMessage delivers a client-authored message and returns the
	// server-confirmed copy (id, seq, ack time assigned). At-most-once from
	// the transport's view; the backend deduplicates on the message's
	// LocalTempID so a retry with the same temp id is safe.
	SendMessage(ctx context.Context, m models.Message) (models.Message, error)
	// PullHistorical is a one-shot catch-up fetch from a cursor.
	PullHistorical(ctx context.Context, conversationID string, since int64) ([]models.Message, error)
	// EnsureConversation idempotently materializes conversation metadata on
	// the backend before first send.
	EnsureConversation(ctx context.Context, conversationID, userID string) error
}

// MediaStore moves attachment bytes to and from the backend blob store.
type MediaStore interface {
	// UploadBytes stores data under objectKey and returns the remote URL.
	UploadBytes(ctx context.Context, objectKey string, data []byte, mime string) (string, error)
	// DownloadBytes fetches at most maxBytes for objectKey.
	DownloadBytes(ctx context.Context, objectKey string, maxBytes int64) ([]byte, error)
	// DeleteRemote removes the remote object. Absent objects are a no-op.
	DeleteRemote(ctx context.Context, objectKey string) error
}

// DeviceTokens registers push tokens with the backend. Push plumbing beyond
// registration is out of scope for this core.
type DeviceTokens interface {
	Register(ctx context.Context, userID, token string) error
	Unregister(ctx context.Context, userID, token string) error
}
