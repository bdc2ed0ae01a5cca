// Package legacy adapts old backend payloads that predate system_message_type.
// Inference is best effort and English/French only; the explicit type always wins.
package legacy

import (
	"strings"

	"github.com/convsession/internal/model"
)

type rule struct {
	needles []string
	typ     model.SystemMessageType
}

// Order matters: "removed the photo" is a removal, not a photo change.
var rules = []rule{
	{[]string{"removed", "supprimé"}, model.SystemUserRemoved},
	{[]string{"photo", "image"}, model.SystemGroupPhotoChanged},
	{[]string{"created the group"}, model.SystemGroupCreated},
	{[]string{"joined"}, model.SystemUserJoined},
	{[]string{"left"}, model.SystemUserLeft},
	{[]string{"invited", "added"}, model.SystemUserAdded},
	{[]string{"changed the group name"}, model.SystemGroupNameChanged},
	{[]string{"promoted"}, model.SystemAdminPromoted},
	{[]string{"demoted"}, model.SystemAdminDemoted},
	{[]string{"transferred"}, model.SystemOwnershipTransferred},
}

// InferSystemType guesses a system message type from its text.
func InferSystemType(content string) model.SystemMessageType {
	c := strings.ToLower(content)
	for _, r := range rules {
		for _, n := range r.needles {
			if strings.Contains(c, n) {
				return r.typ
			}
		}
	}
	return model.SystemInfo
}

// Resolve returns the type of a system message, falling back to inference when
// the backend sent none or sent a value this client does not know.
func Resolve(m model.Message) model.SystemMessageType {
	if !m.IsSystem {
		return ""
	}
	if m.SystemType.Valid() {
		return m.SystemType
	}
	return InferSystemType(m.Content)
}

// Normalize fills in SystemType on every system message of batch in place.
func Normalize(batch []model.Message) {
	for i := range batch {
		if batch[i].IsSystem {
			batch[i].SystemType = Resolve(batch[i])
		}
	}
}
