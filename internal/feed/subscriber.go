package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/convsession/internal/apperr"
	"github.com/convsession/internal/logger"
	"github.com/convsession/internal/model"
	"github.com/convsession/internal/ws"
)

const (
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	writeWait   = 10 * time.Second
	minRedial   = time.Second
	maxRedial   = 30 * time.Second
	maxReadSize = 1 << 20
)

type SubscriberOptions struct {
	URL   string
	Token string
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Subscriber listens to new_message, message_edited and message_deleted events for
// one conversation and redials with backoff when the connection drops.
type Subscriber struct {
	opts           SubscriberOptions
	conversationID model.ID
}

func NewSubscriber(conversationID model.ID, opts SubscriberOptions) *Subscriber {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Subscriber{opts: opts, conversationID: conversationID}
}

func (s *Subscriber) endpoint() (string, error) {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	q := u.Query()
	q.Set("conversation_id", string(s.conversationID))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Subscriber) Run(ctx context.Context, h Handler) error {
	endpoint, err := s.endpoint()
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "feed.Subscriber", err)
	}
	backoff := minRedial
	for {
		connected, err := s.session(ctx, endpoint, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = minRedial
		}
		h(Event{Kind: EventFailed, ConversationID: s.conversationID, Err: err})
		logger.Warnf("feed: stream for conversation %s dropped, redial in %v: %v", s.conversationID, backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxRedial {
			backoff *= 2
		}
	}
}

// session runs one connection until it fails. connected reports whether the dial succeeded.
func (s *Subscriber) session(ctx context.Context, endpoint string, h Handler) (connected bool, err error) {
	header := http.Header{}
	if s.opts.Token != "" {
		header.Set("Authorization", "Bearer "+s.opts.Token)
	}
	conn, resp, err := s.opts.Dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return false, apperr.Wrap(apperr.KindSessionExpired, "feed.Subscriber", err)
		}
		return false, apperr.Wrap(apperr.KindNetwork, "feed.Subscriber", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			conn.Close()
		case <-stop:
		}
	}()
	go s.keepAlive(conn, stop)

	conn.SetReadLimit(maxReadSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, apperr.Wrap(apperr.KindNetwork, "feed.Subscriber", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		var env ws.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Errorf("feed: bad stream frame: %v", err)
			continue
		}
		if ev, ok := s.decode(env); ok {
			h(ev)
		}
	}
}

func (s *Subscriber) keepAlive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// decode maps one envelope to an Event, dropping events of other conversations.
func (s *Subscriber) decode(env ws.Envelope) (Event, bool) {
	switch env.Type {
	case ws.EventNewMessage:
		var m ws.NewMessagePayload
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			logger.Errorf("feed: decode new_message: %v", err)
			return Event{}, false
		}
		if m.ConversationID != s.conversationID {
			return Event{}, false
		}
		return Event{Kind: EventNew, ConversationID: s.conversationID, Messages: []model.Message{m}, MessageID: m.ID}, true
	case ws.EventMessageEdited:
		var p ws.MessageEditedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ConversationID != s.conversationID {
			return Event{}, false
		}
		return Event{Kind: EventEdited, ConversationID: s.conversationID, MessageID: p.MessageID, Content: p.Content}, true
	case ws.EventMessageDeleted:
		var p ws.MessageDeletedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ConversationID != s.conversationID {
			return Event{}, false
		}
		return Event{Kind: EventDeleted, ConversationID: s.conversationID, MessageID: p.MessageID}, true
	}
	return Event{}, false
}
