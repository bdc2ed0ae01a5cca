package memory

import (
	"context"
	"sync"
	"time"

	"github.com/convsession/internal/model"
	"github.com/convsession/internal/storage"
)

type item struct {
	val string
	exp time.Time
}

type convKey struct {
	user string
	conv model.ID
}

type draftKey struct {
	convKey
	msg model.ID
}

// Client реализует SessionStore в памяти процесса; состояние теряется при перезапуске.
type Client struct {
	mu       sync.RWMutex
	tombs    map[convKey]map[model.ID]time.Time
	lastSeen map[convKey]item
	drafts   map[draftKey]item
	now      func() time.Time
}

func New() *Client {
	return &Client{
		tombs:    make(map[convKey]map[model.ID]time.Time),
		lastSeen: make(map[convKey]item),
		drafts:   make(map[draftKey]item),
		now:      time.Now,
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) AddTombstone(ctx context.Context, userID string, conversationID, messageID model.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := convKey{userID, conversationID}
	if c.tombs[k] == nil {
		c.tombs[k] = make(map[model.ID]time.Time)
	}
	c.tombs[k][messageID] = c.now().Add(storage.TombstoneTTL)
	return nil
}

func (c *Client) Tombstones(ctx context.Context, userID string, conversationID model.ID) ([]model.ID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	var out []model.ID
	for id, exp := range c.tombs[convKey{userID, conversationID}] {
		if now.Before(exp) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (c *Client) SetLastSeen(ctx context.Context, userID string, conversationID, messageID model.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen[convKey{userID, conversationID}] = item{val: string(messageID), exp: c.now().Add(storage.LastSeenTTL)}
	return nil
}

func (c *Client) LastSeen(ctx context.Context, userID string, conversationID model.ID) (model.ID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.lastSeen[convKey{userID, conversationID}]
	if !ok || c.now().After(v.exp) {
		return "", nil
	}
	return model.ID(v.val), nil
}

func (c *Client) SetDraft(ctx context.Context, userID string, conversationID, messageID model.ID, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drafts[draftKey{convKey{userID, conversationID}, messageID}] = item{val: content, exp: c.now().Add(storage.DraftTTL)}
	return nil
}

func (c *Client) Draft(ctx context.Context, userID string, conversationID, messageID model.ID) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.drafts[draftKey{convKey{userID, conversationID}, messageID}]
	if !ok || c.now().After(v.exp) {
		return "", false, nil
	}
	return v.val, true, nil
}

func (c *Client) DeleteDraft(ctx context.Context, userID string, conversationID, messageID model.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.drafts, draftKey{convKey{userID, conversationID}, messageID})
	return nil
}
