// Package moderation holds the ownership and role rules for editing and deleting
// messages, and the editor that drives the Normal/Editing state machine.
package moderation

import (
	"github.com/convsession/internal/apperr"
	"github.com/convsession/internal/model"
)

type Scope string

const (
	ScopeForMe       Scope = "for_me"
	ScopeForEveryone Scope = "for_everyone"
)

func (s Scope) Valid() bool {
	return s == ScopeForMe || s == ScopeForEveryone
}

// immutable is returned for any edit or delete of a system message. It wraps
// ErrPermission so callers that only check for permission problems still catch it.
func immutable(op string) error {
	return &apperr.Error{
		Kind: apperr.KindSystemMessageImmutable,
		Op:   op,
		Msg:  "system messages cannot be changed",
		Err:  apperr.ErrPermission,
	}
}

// CanEdit allows editing only the current user's own non-system messages.
func CanEdit(m model.Message, currentUserID string) error {
	if m.IsSystem {
		return immutable("moderation.CanEdit")
	}
	if currentUserID == "" || m.SenderID() != currentUserID {
		return apperr.New(apperr.KindPermission, "moderation.CanEdit", "only the sender can edit a message")
	}
	return nil
}

// CanDeleteForMe allows hiding any visible user message.
func CanDeleteForMe(m model.Message) error {
	if m.IsSystem {
		return immutable("moderation.CanDeleteForMe")
	}
	return nil
}

// CanDeleteForEveryone allows the sender, and a conversation admin (creator or
// listed admin) for anyone's message.
func CanDeleteForEveryone(m model.Message, currentUserID string, conv *model.Conversation) error {
	if m.IsSystem {
		return immutable("moderation.CanDeleteForEveryone")
	}
	own := currentUserID != "" && m.SenderID() == currentUserID
	if own || conv.IsAdmin(currentUserID) {
		return nil
	}
	return apperr.New(apperr.KindPermission, "moderation.CanDeleteForEveryone", "only the sender or a conversation admin can delete for everyone")
}

func CanDelete(m model.Message, scope Scope, currentUserID string, conv *model.Conversation) error {
	switch scope {
	case ScopeForMe:
		return CanDeleteForMe(m)
	case ScopeForEveryone:
		return CanDeleteForEveryone(m, currentUserID, conv)
	default:
		return apperr.New(apperr.KindValidation, "moderation.CanDelete", "unknown delete scope "+string(scope))
	}
}
