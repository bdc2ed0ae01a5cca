// Package menu computes which actions a message offers and holds the single open
// context menu of a conversation view.
package menu

import (
	"slices"
	"sync"

	"github.com/convsession/internal/apperr"
	"github.com/convsession/internal/model"
)

type Action string

const (
	ActionEdit              Action = "edit"
	ActionDeleteForMe       Action = "delete_for_me"
	ActionDeleteForEveryone Action = "delete_for_everyone"
	ActionReport            Action = "report"
	ActionBlock             Action = "block"
)

func (a Action) Valid() bool {
	switch a {
	case ActionEdit, ActionDeleteForMe, ActionDeleteForEveryone, ActionReport, ActionBlock:
		return true
	}
	return false
}

// AvailableActions is a pure function of the message and the viewer's role.
// System messages offer nothing.
func AvailableActions(m model.Message, currentUserID string, conv *model.Conversation) []Action {
	if m.IsSystem {
		return nil
	}
	if currentUserID != "" && m.SenderID() == currentUserID {
		return []Action{ActionEdit, ActionDeleteForMe, ActionDeleteForEveryone}
	}
	actions := []Action{ActionDeleteForMe}
	if conv.IsAdmin(currentUserID) {
		actions = append(actions, ActionDeleteForEveryone)
	}
	return append(actions, ActionReport, ActionBlock)
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// anchor is where the menu is drawn relative to the pointer.
var anchor = Position{X: -2, Y: -4}

type Target struct {
	Message  model.Message `json:"-"`
	ID       model.ID      `json:"message_id"`
	Position Position      `json:"position"`
	Actions  []Action      `json:"actions"`
}

// Menu is the one context menu of a view. Opening it again moves it to the new
// target; any selection or an outside click closes it.
type Menu struct {
	userID string

	mu     sync.Mutex
	conv   *model.Conversation
	target *Target
}

func New(currentUserID string) *Menu {
	return &Menu{userID: currentUserID}
}

func (m *Menu) SetConversation(c *model.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conv = c
}

// Open positions the menu at the pointer for msg. It reports false and stays
// closed when the message has no actions.
func (m *Menu) Open(msg model.Message, pointer Position) (Target, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := AvailableActions(msg, m.userID, m.conv)
	if len(actions) == 0 {
		m.target = nil
		return Target{}, false
	}
	t := Target{
		Message:  msg.Clone(),
		ID:       msg.ID,
		Position: Position{X: pointer.X + anchor.X, Y: pointer.Y + anchor.Y},
		Actions:  actions,
	}
	m.target = &t
	return t, true
}

func (m *Menu) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.target = nil
}

func (m *Menu) Current() (Target, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.target == nil {
		return Target{}, false
	}
	return *m.target, true
}

// Select closes the menu and returns its target if a is one of the offered actions.
func (m *Menu) Select(a Action) (Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.target
	m.target = nil
	if t == nil {
		return Target{}, apperr.New(apperr.KindValidation, "menu.Select", "no context menu is open")
	}
	if !slices.Contains(t.Actions, a) {
		return Target{}, apperr.New(apperr.KindPermission, "menu.Select", "action "+string(a)+" is not available for this message")
	}
	return *t, nil
}
