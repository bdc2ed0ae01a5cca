package model

import (
	"errors"
	"time"
)

var (
	ErrGroupWithoutCreator     = errors.New("group conversation must have a creator")
	ErrPrivateParticipantCount = errors.New("private conversation must have exactly two participants")
)

type Conversation struct {
	ID              ID        `json:"id"`
	Participants    []User    `json:"participants"`
	IsGroup         bool      `json:"is_group"`
	Name            string    `json:"name,omitempty"`
	Description     string    `json:"description,omitempty"`
	GroupPhotoURL   string    `json:"group_photo_url,omitempty"`
	CreatedBy       *User     `json:"created_by,omitempty"`
	Admins          []ID      `json:"admins,omitempty"`
	CanAnyoneInvite bool      `json:"can_anyone_invite"`
	CreatedAt       time.Time `json:"created_at"`
}

// Validate checks the structural invariants the session relies on for role checks.
func (c *Conversation) Validate() error {
	if c.IsGroup {
		if c.CreatedBy == nil || c.CreatedBy.ID == "" {
			return ErrGroupWithoutCreator
		}
		return nil
	}
	if len(c.Participants) != 2 {
		return ErrPrivateParticipantCount
	}
	return nil
}

// IsAdmin reports whether userID is the conversation's creator or listed among its admins.
func (c *Conversation) IsAdmin(userID string) bool {
	if c == nil || userID == "" {
		return false
	}
	if c.CreatedBy != nil && string(c.CreatedBy.ID) == userID {
		return true
	}
	for _, id := range c.Admins {
		if string(id) == userID {
			return true
		}
	}
	return false
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if string(p.ID) == userID {
			return true
		}
	}
	return false
}
