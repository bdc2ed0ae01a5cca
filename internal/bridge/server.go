// Package bridge is the local HTTP API a UI shell binds to. It exposes the session's
// render output and event hooks as JSON endpoints on the loopback interface.
package bridge

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/convsession/internal/metrics"
	"github.com/convsession/internal/middleware"
	"github.com/convsession/internal/session"
)

type Options struct {
	// AllowedOrigins is a comma-separated list, or "*".
	AllowedOrigins string
	// RateLimit is requests per second per client; 0 disables it.
	RateLimit float64
	RateBurst int
	// AllowRemote lifts the loopback/private-network restriction.
	AllowRemote bool
}

type Server struct {
	sess    *session.Manager
	metrics *metrics.Metrics
	opts    Options
}

func New(sess *session.Manager, opts Options) *Server {
	return &Server{sess: sess, metrics: sess.Metrics(), opts: opts}
}

func (s *Server) observe(method string, status int, d time.Duration) {
	s.metrics.BridgeRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	s.metrics.BridgeLatency.WithLabelValues(method).Observe(d.Seconds())
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog(s.observe))
	if !s.opts.AllowRemote {
		r.Use(middleware.LocalOnly)
	}
	if s.opts.RateLimit > 0 {
		r.Use(middleware.RateLimit(s.opts.RateLimit, s.opts.RateBurst))
	}
	r.Use(chimw.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: splitOrigins(s.opts.AllowedOrigins),
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", s.getSession)
		r.Post("/select", s.selectConversation)
		r.Post("/refresh", s.refresh)

		r.Get("/messages", s.getMessages)
		r.Post("/messages", s.sendMessage)

		r.Get("/context-menu", s.getMenu)
		r.Post("/context-menu", s.openMenu)
		r.Delete("/context-menu", s.closeMenu)
		r.Post("/context-menu/action", s.menuAction)

		r.Get("/edit", s.getEdit)
		r.Post("/edit", s.startEdit)
		r.Put("/edit", s.setDraft)
		r.Post("/edit/save", s.saveEdit)
		r.Delete("/edit", s.cancelEdit)

		r.Get("/delete", s.getPendingDelete)
		r.Post("/delete", s.confirmDelete)
		r.Delete("/delete", s.cancelDelete)

		r.Get("/media/{messageId}", s.mediaState)
		r.Post("/media/{messageId}/{op}", s.mediaControl)

		r.Get("/viewer", s.getViewer)
		r.Post("/viewer", s.openViewer)
		r.Delete("/viewer", s.closeViewer)

		r.Get("/notifications", s.listNotifications)
		r.Delete("/notifications/{id}", s.dismissNotification)
	})
	return r
}
