package ws

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/convsession/internal/logger"
	"github.com/convsession/internal/model"
)

// Server upgrades authenticated requests and registers the connection with the hub.
type Server struct {
	hub            *Hub
	allowedOrigins string
}

// NewServer создаёт обработчик WebSocket. allowedOrigins задаётся как в CORS (через запятую или "*").
func NewServer(hub *Hub, allowedOrigins string) *Server {
	return &Server{hub: hub, allowedOrigins: strings.TrimSpace(allowedOrigins)}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.allowedOrigins == "*" || s.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(s.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// subscriptions reads the initial scope from ?conversation_id=, repeated or comma-separated.
func subscriptions(r *http.Request) []model.ID {
	var out []model.ID
	for _, v := range r.URL.Query()["conversation_id"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, model.ID(id))
			}
		}
	}
	return out
}

// Serve upgrades the request for userID. The caller has already authenticated it.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !s.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(s.hub, conn, userID, subscriptions(r)...)
	client.Start(ctx, cancel)
	s.hub.Register(client)
}
