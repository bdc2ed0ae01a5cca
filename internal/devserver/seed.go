package devserver

import (
	"fmt"

	"github.com/convsession/internal/model"
)

// Demo ids created by Seed.
const (
	DemoPrivateID model.ID = "100"
	DemoGroupID   model.ID = "200"
)

var demoUsers = []model.User{
	{ID: "1", Username: "alice"},
	{ID: "2", Username: "bob"},
	{ID: "3", Username: "carol"},
}

// DemoTokens maps the seeded users' tokens to their ids.
func DemoTokens() map[string]string {
	out := make(map[string]string, len(demoUsers))
	for _, u := range demoUsers {
		out["dev-"+u.Username] = string(u.ID)
	}
	return out
}

// Seed fills the store with three users, one private and one group conversation.
// alice owns the group and bob is its admin.
func Seed(s *Store) error {
	for _, u := range demoUsers {
		s.AddUser(u)
	}
	alice, bob, carol := demoUsers[0], demoUsers[1], demoUsers[2]

	if _, err := s.CreateConversation(model.Conversation{
		ID:           DemoPrivateID,
		Participants: []model.User{alice, bob},
	}); err != nil {
		return fmt.Errorf("seed private conversation: %w", err)
	}
	if _, err := s.CreateConversation(model.Conversation{
		ID:           DemoGroupID,
		IsGroup:      true,
		Name:         "Project",
		Participants: []model.User{alice, bob, carol},
		CreatedBy:    &alice,
		Admins:       []model.ID{bob.ID},
	}); err != nil {
		return fmt.Errorf("seed group conversation: %w", err)
	}

	steps := []func() error{
		func() error {
			_, err := s.AddMessage(DemoPrivateID, alice.ID, "Hi Bob!", nil)
			return err
		},
		func() error {
			_, err := s.AddMessage(DemoPrivateID, bob.ID, "Hey, how are you?", nil)
			return err
		},
		func() error {
			_, err := s.AddSystemMessage(DemoGroupID, model.SystemGroupCreated, "alice created the group")
			return err
		},
		func() error {
			_, err := s.AddSystemMessage(DemoGroupID, model.SystemUserAdded, "alice added carol")
			return err
		},
		func() error {
			_, err := s.AddMessage(DemoGroupID, carol.ID, "Thanks for adding me", nil)
			return err
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("seed messages: %w", err)
		}
	}
	return nil
}
