package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/convsession/internal/model"
	"github.com/convsession/internal/storage"
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func tombKey(userID string, conv model.ID) string {
	return "tomb:" + userID + ":" + string(conv)
}

func lastSeenKey(userID string, conv model.ID) string {
	return "last_seen:" + userID + ":" + string(conv)
}

func draftKey(userID string, conv, msg model.ID) string {
	return "draft:" + userID + ":" + string(conv) + ":" + string(msg)
}

// AddTombstone добавляет id в множество tomb:{user}:{conv} и продлевает TTL множества.
func (c *Client) AddTombstone(ctx context.Context, userID string, conversationID, messageID model.ID) error {
	key := tombKey(userID, conversationID)
	pipe := c.cli.TxPipeline()
	pipe.SAdd(ctx, key, string(messageID))
	pipe.Expire(ctx, key, storage.TombstoneTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis add tombstone: %w", err)
	}
	return nil
}

func (c *Client) Tombstones(ctx context.Context, userID string, conversationID model.ID) ([]model.ID, error) {
	vals, err := c.cli.SMembers(ctx, tombKey(userID, conversationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis tombstones: %w", err)
	}
	out := make([]model.ID, len(vals))
	for i, v := range vals {
		out[i] = model.ID(v)
	}
	return out, nil
}

func (c *Client) SetLastSeen(ctx context.Context, userID string, conversationID, messageID model.ID) error {
	return c.cli.Set(ctx, lastSeenKey(userID, conversationID), string(messageID), storage.LastSeenTTL).Err()
}

// LastSeen возвращает "" если ключа нет.
func (c *Client) LastSeen(ctx context.Context, userID string, conversationID model.ID) (model.ID, error) {
	val, err := c.cli.Get(ctx, lastSeenKey(userID, conversationID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return model.ID(val), err
}

func (c *Client) SetDraft(ctx context.Context, userID string, conversationID, messageID model.ID, content string) error {
	return c.cli.Set(ctx, draftKey(userID, conversationID, messageID), content, storage.DraftTTL).Err()
}

func (c *Client) Draft(ctx context.Context, userID string, conversationID, messageID model.ID) (string, bool, error) {
	val, err := c.cli.Get(ctx, draftKey(userID, conversationID, messageID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *Client) DeleteDraft(ctx context.Context, userID string, conversationID, messageID model.ID) error {
	return c.cli.Del(ctx, draftKey(userID, conversationID, messageID)).Err()
}

// FlushDB очищает текущую БД Redis (для тестов).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
