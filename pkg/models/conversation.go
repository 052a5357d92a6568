package models

// Conversation is the registry row for a known conversation, created on
// first observation or an explicit ensure. Display fields are denormalized
// contact data owned by the caller.
type Conversation struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	PeerID      string `json:"peer_id,omitempty"`
	CreatedTS   int64  `json:"created_ts,omitempty"`
	UpdatedTS   int64  `json:"updated_ts,omitempty"`
}

// ConversationSummary is a derived projection over the store and the viewing
// user's participant row. It is recomputed on every observed change and is
// never persisted independently of its sources.
type ConversationSummary struct {
	ConversationID string   `json:"conversation_id"`
	DisplayName    string   `json:"display_name,omitempty"`
	PeerID         string   `json:"peer_id,omitempty"`
	LastMessage    *Message `json:"last_message,omitempty"`
	// UnreadCount counts other-authored messages whose ordering key is
	// strictly after the participant's read marker.
	UnreadCount int   `json:"unread_count"`
	Pinned      bool  `json:"pinned,omitempty"`
	Archived    bool  `json:"archived,omitempty"`
	Muted       bool  `json:"muted,omitempty"`
	MuteUntil   int64 `json:"mute_until,omitempty"`
}
