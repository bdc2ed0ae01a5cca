package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/convsession/internal/logger"
	"github.com/convsession/internal/model"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 1024
	queueSize    = 256
)

// Client is one event-stream connection of a user, scoped to the conversations it
// subscribed to. With no subscription it receives every event of its user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	queue  chan OutgoingMessage

	subsMu sync.RWMutex
	subs   map[model.ID]struct{}

	closed    chan struct{}
	stop      context.CancelFunc
	closeOnce sync.Once
	pumps     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, conversations ...model.ID) *Client {
	c := &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		queue:  make(chan OutgoingMessage, queueSize),
		subs:   make(map[model.ID]struct{}, len(conversations)),
		closed: make(chan struct{}),
	}
	for _, id := range conversations {
		if id != "" {
			c.subs[id] = struct{}{}
		}
	}
	return c
}

// Subscribe adds conversationID to the client's scope.
func (c *Client) Subscribe(conversationID model.ID) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subs[conversationID] = struct{}{}
}

func (c *Client) Unsubscribe(conversationID model.ID) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	delete(c.subs, conversationID)
}

// Wants reports whether an event of conversationID belongs on this connection.
func (c *Client) Wants(conversationID model.ID) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	if len(c.subs) == 0 {
		return true
	}
	_, ok := c.subs[conversationID]
	return ok
}

// Subscriptions returns the conversations the client is scoped to.
func (c *Client) Subscriptions() []model.ID {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	out := make([]model.ID, 0, len(c.subs))
	for id := range c.subs {
		out = append(out, id)
	}
	return out
}

// Start runs both pumps until ctx is cancelled or the connection fails.
func (c *Client) Start(ctx context.Context, stop context.CancelFunc) {
	c.stop = stop
	c.pumps.Add(2)
	go c.writeLoop(ctx)
	go c.readLoop(ctx)
}

func (c *Client) Wait() {
	c.pumps.Wait()
}

// Close is idempotent; closing the socket unblocks both pumps.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.stop != nil {
			c.stop()
		}
		close(c.closed)
		c.conn.Close()
	})
}

// enqueue hands msg to the write loop. A full queue means a stalled reader: the
// connection is dropped and the subscriber redials and falls back to polling.
func (c *Client) enqueue(msg OutgoingMessage) {
	select {
	case c.queue <- msg:
	case <-c.closed:
	default:
		logger.Errorf("ws queue full, dropping connection user=%s", c.userID)
		c.Close()
	}
}

// readLoop handles the few frames a subscriber sends: ping and (un)subscribe.
func (c *Client) readLoop(ctx context.Context) {
	defer c.pumps.Done()
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for ctx.Err() == nil {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if malformed(err) {
				c.enqueue(OutgoingMessage{Type: EventError, Payload: "malformed frame"})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read user=%s: %v", c.userID, err)
			}
			return
		}
		c.handle(env)
	}
}

func (c *Client) handle(env Envelope) {
	switch env.Type {
	case EventPing:
		c.enqueue(OutgoingMessage{Type: EventPong})
	case EventSubscribe, EventUnsubscribe:
		var p SubscriptionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ConversationID == "" {
			c.enqueue(OutgoingMessage{Type: EventError, Payload: "conversation_id is required"})
			return
		}
		if env.Type == EventSubscribe {
			c.Subscribe(p.ConversationID)
		} else {
			c.Unsubscribe(p.ConversationID)
		}
		c.enqueue(OutgoingMessage{Type: env.Type, Payload: p})
	default:
		c.enqueue(OutgoingMessage{Type: EventError, Payload: "unsupported frame " + string(env.Type)})
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	defer c.pumps.Done()
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.Debugf("ws write user=%s: %v", c.userID, err)
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func malformed(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
