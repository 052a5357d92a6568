package validation

import (
	"fmt"
	"strings"

	"chatsync/pkg/models"
)

var knownContentTypes = map[models.ContentType]struct{}{
	models.ContentText:      {},
	models.ContentImage:     {},
	models.ContentAudio:     {},
	models.ContentEncrypted: {},
}

var knownStatuses = map[models.Status]struct{}{
	models.StatusSending:   {},
	models.StatusSent:      {},
	models.StatusDelivered: {},
	models.StatusRead:      {},
	models.StatusFailed:    {},
}

// ValidateMessage checks the structural invariants every stored message must
// hold. The identity rule is the load-bearing one: a message with neither a
// server ID nor a local temp ID is unaddressable and must never be persisted.
func ValidateMessage(m models.Message) error {
	var errs []string
	if m.ID == "" && m.LocalTempID == "" {
		errs = append(errs, "message requires id or local_temp_id")
	}
	if m.ConversationID == "" {
		errs = append(errs, "conversation_id is required")
	}
	if m.SenderID == "" {
		errs = append(errs, "sender_id is required")
	}
	if m.CreatedAt == 0 {
		errs = append(errs, "created_at is required")
	}
	if _, ok := knownContentTypes[m.ContentType]; !ok {
		errs = append(errs, fmt.Sprintf("unknown content_type %q", m.ContentType))
	}
	if _, ok := knownStatuses[m.Status]; !ok {
		errs = append(errs, fmt.Sprintf("unknown status %q", m.Status))
	}
	if m.ContentType == models.ContentEncrypted && !m.Deleted && m.Ciphertext == "" && m.Body == "" {
		errs = append(errs, "encrypted message carries neither ciphertext nor body")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid message: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateParticipant checks participant row invariants.
func ValidateParticipant(p models.Participant) error {
	var errs []string
	if p.ConversationID == "" {
		errs = append(errs, "conversation_id is required")
	}
	if p.UserID == "" {
		errs = append(errs, "user_id is required")
	}
	switch p.Role {
	case models.RoleMember, models.RoleAdmin:
	default:
		errs = append(errs, fmt.Sprintf("unknown role %q", p.Role))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid participant: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateDraft checks a UI draft before the engine accepts it.
func ValidateDraft(d models.Draft) error {
	var errs []string
	if d.ConversationID == "" {
		errs = append(errs, "conversation_id is required")
	}
	if _, ok := knownContentTypes[d.ContentType]; !ok {
		errs = append(errs, fmt.Sprintf("unknown content_type %q", d.ContentType))
	}
	switch d.ContentType {
	case models.ContentImage, models.ContentAudio:
		if d.LocalPath == "" && d.Body == "" {
			errs = append(errs, "media draft requires local_path or body")
		}
	case models.ContentText:
		if d.Body == "" {
			errs = append(errs, "text draft requires body")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid draft: %s", strings.Join(errs, "; "))
	}
	return nil
}
