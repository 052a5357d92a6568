package models

// Role is a participant's role within a conversation.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Participant is the per-user, per-conversation state record: read position,
// mute/pin/archive flags and free-form settings. It is owned by the local
// store and mutated only through explicit repository calls, never inferred
// from message traffic.
type Participant struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Role           Role   `json:"role"`
	JoinedAt       int64  `json:"joined_at"`
	LeftAt         int64  `json:"left_at,omitempty"`
	// MuteUntil is epoch millis; zero means unmuted.
	MuteUntil int64 `json:"mute_until,omitempty"`
	Archived  bool  `json:"archived,omitempty"`
	Pinned    bool  `json:"pinned,omitempty"`
	PinnedAt  int64 `json:"pinned_at,omitempty"`
	// LastReadAt (ns) and LastReadSeq mark the read position. A message whose
	// ordering key equals the marker counts as read.
	LastReadAt  int64             `json:"last_read_at,omitempty"`
	LastReadSeq int64             `json:"last_read_seq,omitempty"`
	Settings    map[string]string `json:"settings,omitempty"`
}

// MutedAt reports whether the participant is muted at the given instant
// (epoch millis). Re-evaluated on every read, never cached past the window.
func (p *Participant) MutedAt(nowMillis int64) bool {
	return p.MuteUntil != 0 && p.MuteUntil > nowMillis
}
