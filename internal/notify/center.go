// Package notify collects what the session wants the user to see: short-lived
// notices, dismissible banners and the persistent connection-lost indicator.
package notify

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convsession/internal/apperr"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Kind string

const (
	KindTransient  Kind = "transient"
	KindBanner     Kind = "banner"
	KindPersistent Kind = "persistent"
)

// ConnectionLostID is the fixed id of the persistent polling-failure indicator.
const ConnectionLostID = "connection-lost"

const DefaultTransientTTL = 3 * time.Second

type Notification struct {
	ID        string      `json:"id"`
	Kind      Kind        `json:"kind"`
	Level     Level       `json:"level"`
	Message   string      `json:"message"`
	ErrorKind apperr.Kind `json:"error_kind,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}

type Center struct {
	mu       sync.Mutex
	items    []Notification
	ttl      time.Duration
	now      func() time.Time
	onChange func()
}

func NewCenter(transientTTL time.Duration) *Center {
	if transientTTL <= 0 {
		transientTTL = DefaultTransientTTL
	}
	return &Center{ttl: transientTTL, now: time.Now}
}

// OnChange installs a callback run after every change, outside the lock.
func (c *Center) OnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

func (c *Center) add(n Notification) Notification {
	c.mu.Lock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = c.now()
	if n.Kind == KindTransient {
		exp := n.CreatedAt.Add(c.ttl)
		n.ExpiresAt = &exp
	}
	c.items = append(c.items, n)
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
	return n
}

// Notify shows a short notice that disappears on its own.
func (c *Center) Notify(level Level, msg string) Notification {
	return c.add(Notification{Kind: KindTransient, Level: level, Message: msg})
}

// Banner shows a message that stays until the user dismisses it.
func (c *Center) Banner(level Level, msg string) Notification {
	return c.add(Notification{Kind: KindBanner, Level: level, Message: msg})
}

// Error converts an action failure into the notification its kind calls for.
// Stale responses produce nothing.
func (c *Center) Error(err error) (Notification, bool) {
	if err == nil || apperr.Silent(err) {
		return Notification{}, false
	}
	kind := apperr.KindOf(err)
	n := Notification{Message: userMessage(err), ErrorKind: kind}
	switch kind {
	case apperr.KindPermission, apperr.KindSystemMessageImmutable, apperr.KindValidation, apperr.KindNotFound:
		n.Kind, n.Level = KindTransient, LevelWarning
	case apperr.KindMediaUnavailable:
		n.Kind, n.Level = KindBanner, LevelWarning
	default:
		n.Kind, n.Level = KindBanner, LevelError
	}
	return c.add(n), true
}

func userMessage(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case apperr.KindSystemMessageImmutable:
			return "System messages cannot be edited or deleted"
		case apperr.KindNetwork:
			return "Network error, please try again"
		case apperr.KindSessionExpired:
			return "Your session has expired, please sign in again"
		case apperr.KindMediaUnavailable:
			return "Media is unavailable"
		}
		if e.Msg != "" {
			return e.Msg
		}
	}
	return err.Error()
}

// SetConnectionLost raises or clears the persistent indicator; repeated calls are no-ops.
func (c *Center) SetConnectionLost(lost bool) {
	c.mu.Lock()
	idx := c.indexLocked(ConnectionLostID)
	if lost == (idx >= 0) {
		c.mu.Unlock()
		return
	}
	if !lost {
		c.items = append(c.items[:idx], c.items[idx+1:]...)
		fn := c.onChange
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
		return
	}
	c.mu.Unlock()
	c.add(Notification{ID: ConnectionLostID, Kind: KindPersistent, Level: LevelError, Message: "Connection lost, retrying"})
}

func (c *Center) ConnectionLost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexLocked(ConnectionLostID) >= 0
}

func (c *Center) indexLocked(id string) int {
	for i, n := range c.items {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// Dismiss removes a transient notice or banner. The persistent indicator cannot be dismissed.
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	idx := c.indexLocked(id)
	if idx < 0 || c.items[idx].Kind == KindPersistent {
		c.mu.Unlock()
		return false
	}
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}

// List returns live notifications oldest first, dropping expired transient ones.
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	kept := c.items[:0]
	for _, n := range c.items {
		if n.ExpiresAt != nil && !now.Before(*n.ExpiresAt) {
			continue
		}
		kept = append(kept, n)
	}
	c.items = kept
	out := make([]Notification, len(kept))
	copy(out, kept)
	return out
}
