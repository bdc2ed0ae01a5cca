// Package devserver is an in-memory messaging backend speaking the same REST and
// WebSocket protocol as production. It backs local development and the tests of the
// client packages.
package devserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/convsession/internal/middleware"
	"github.com/convsession/internal/ws"
)

type Options struct {
	// Tokens maps bearer tokens to user ids.
	Tokens map[string]string
	// Prefix is the mount point of the conversation routes, e.g. "/msg".
	Prefix         string
	AllowedOrigins string
	MaxUploadSize  int64
	// RateLimit is requests per second per user; 0 disables it.
	RateLimit float64
	RateBurst int
	MaxConns  int
}

type Server struct {
	opts  Options
	store *Store
	hub   *ws.Hub
	ws    *ws.Server
}

func New(store *Store, opts Options) *Server {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 20 << 20
	}
	opts.Prefix = strings.TrimSuffix(opts.Prefix, "/")
	if opts.Prefix != "" && !strings.HasPrefix(opts.Prefix, "/") {
		opts.Prefix = "/" + opts.Prefix
	}
	hub := ws.NewHub(opts.MaxConns)
	return &Server{
		opts:  opts,
		store: store,
		hub:   hub,
		ws:    ws.NewServer(hub, opts.AllowedOrigins),
	}
}

func (s *Server) Store() *Store { return s.store }

// Run drives the event hub until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	s.hub.Run(ctx)
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog(nil))

	// media is public, like the CDN in production
	r.Get("/media/{key}", s.serveMedia)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(middleware.StaticTokens(s.opts.Tokens)))
		if s.opts.RateLimit > 0 {
			r.Use(middleware.RateLimit(s.opts.RateLimit, s.opts.RateBurst))
		}
		r.Get("/ws", s.serveWS)
		r.Post("/api/users/{userId}/block/", s.blockUser)
		r.Route(s.opts.Prefix+"/conversations/{conversationId}", func(r chi.Router) {
			r.Get("/", s.getConversation)
			r.Get("/messages", s.getMessages)
			r.Post("/messages", s.sendMessage)
			r.Patch("/messages/{messageId}", s.editMessage)
			r.Post("/messages/{messageId}/delete-for-me", s.deleteForMe)
			r.Post("/messages/{messageId}/delete-for-everyone", s.deleteForEveryone)
		})
	})
	return r
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	s.ws.Serve(w, r, middleware.GetUserID(r.Context()))
}
