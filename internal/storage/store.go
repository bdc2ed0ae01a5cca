package storage

import (
	"context"
	"time"

	"github.com/convsession/internal/model"
)

const (
	// Скрытые "для себя" сообщения держим дольше, чем живёт история на сервере.
	TombstoneTTL = 90 * 24 * time.Hour
	DraftTTL     = 7 * 24 * time.Hour
	LastSeenTTL  = 30 * 24 * time.Hour
)

// SessionStore хранит состояние сессии пользователя между перезапусками: удалённые "для себя"
// сообщения, последний увиденный id и черновики правок.
// Реализации: redis.Client, memory.Client (без Redis).
type SessionStore interface {
	AddTombstone(ctx context.Context, userID string, conversationID, messageID model.ID) error
	Tombstones(ctx context.Context, userID string, conversationID model.ID) ([]model.ID, error)
	SetLastSeen(ctx context.Context, userID string, conversationID, messageID model.ID) error
	LastSeen(ctx context.Context, userID string, conversationID model.ID) (model.ID, error)
	SetDraft(ctx context.Context, userID string, conversationID, messageID model.ID, content string) error
	Draft(ctx context.Context, userID string, conversationID, messageID model.ID) (string, bool, error)
	DeleteDraft(ctx context.Context, userID string, conversationID, messageID model.ID) error
	Close() error
}

// UserDrafts привязывает SessionStore к пользователю для редактора сообщений.
type UserDrafts struct {
	Store  SessionStore
	UserID string
}

func (d UserDrafts) SaveDraft(ctx context.Context, conversationID, messageID model.ID, content string) error {
	return d.Store.SetDraft(ctx, d.UserID, conversationID, messageID, content)
}

func (d UserDrafts) Draft(ctx context.Context, conversationID, messageID model.ID) (string, bool, error) {
	return d.Store.Draft(ctx, d.UserID, conversationID, messageID)
}

func (d UserDrafts) DeleteDraft(ctx context.Context, conversationID, messageID model.ID) error {
	return d.Store.DeleteDraft(ctx, d.UserID, conversationID, messageID)
}
