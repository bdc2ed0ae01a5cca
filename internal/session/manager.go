// Package session owns one active conversation view: its message list, feed
// sources, edit/delete state machine, context menu, media registry and fullscreen
// viewer. Selecting another conversation tears the old view down and discards
// anything still in flight for it.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/convsession/internal/api"
	"github.com/convsession/internal/apperr"
	"github.com/convsession/internal/feed"
	"github.com/convsession/internal/legacy"
	"github.com/convsession/internal/logger"
	"github.com/convsession/internal/menu"
	"github.com/convsession/internal/metrics"
	"github.com/convsession/internal/model"
	"github.com/convsession/internal/moderation"
	"github.com/convsession/internal/notify"
	"github.com/convsession/internal/playback"
	"github.com/convsession/internal/reconcile"
	"github.com/convsession/internal/storage"
)

const DefaultFailureThreshold = 3

// Backend is the REST surface the session uses.
type Backend interface {
	feed.Fetcher
	moderation.Backend
	GetConversation(ctx context.Context, conversationID model.ID) (*model.Conversation, error)
	SendMessage(ctx context.Context, conversationID model.ID, out api.Outgoing) (model.Message, error)
	BlockUser(ctx context.Context, userID model.ID) error
}

type Options struct {
	UserID  string
	Backend Backend
	// Store persists tombstones, drafts and the last seen id. Optional.
	Store   storage.SessionStore
	Notify  *notify.Center
	Metrics *metrics.Metrics
	Poll    feed.PollerOptions
	// StreamURL enables the websocket subscriber next to the poller.
	StreamURL   string
	StreamToken string
	// FailureThreshold is the number of consecutive feed failures that raise the
	// connection-lost indicator.
	FailureThreshold int
	// Sources overrides the feed sources of a view; the poller is still used for Refresh
	// when one of the returned sources is a *feed.Poller.
	Sources func(conversationID model.ID) []feed.Source
	// NewModal creates the fullscreen viewer's element. Defaults to a virtual element.
	NewModal func() playback.Element
}

// view is everything bound to one selected conversation.
type view struct {
	gen            uint64
	conversationID model.ID
	ctx            context.Context
	cancel         context.CancelFunc
	list           *reconcile.Engine
	editor         *moderation.Editor
	menu           *menu.Menu
	registry       *playback.Registry
	viewer         *playback.Viewer
	poller         *feed.Poller
	conversation   *model.Conversation
	pendingDelete  *PendingDelete
	failures       int
}

// PendingDelete is a delete waiting for the user's confirmation.
type PendingDelete struct {
	Message model.Message    `json:"message"`
	Scope   moderation.Scope `json:"scope"`
}

type Manager struct {
	opts    Options
	notify  *notify.Center
	metrics *metrics.Metrics

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	gen    uint64
	cur    *view
	closed bool
}

func New(opts Options) *Manager {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.Notify == nil {
		opts.Notify = notify.NewCenter(notify.DefaultTransientTTL)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.NewModal == nil {
		opts.NewModal = func() playback.Element { return playback.NewVirtualElement() }
	}
	root, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:    opts,
		notify:  opts.Notify,
		metrics: opts.Metrics,
		root:    root,
		cancel:  cancel,
	}
}

func (m *Manager) Notifications() *notify.Center { return m.notify }

func (m *Manager) Metrics() *metrics.Metrics { return m.metrics }

// current returns the active view or a Validation error when nothing is selected.
func (m *Manager) current(op string) (*view, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return nil, apperr.New(apperr.KindValidation, op, "no conversation selected")
	}
	return m.cur, nil
}

// isCurrent reports whether v is still the selected view.
func (m *Manager) isCurrent(v *view) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur == v && !m.closed
}

func (m *Manager) newView(gen uint64, conversationID model.ID) *view {
	ctx, cancel := context.WithCancel(m.root)
	v := &view{
		gen:            gen,
		conversationID: conversationID,
		ctx:            ctx,
		cancel:         cancel,
		list:           reconcile.New(conversationID, m.opts.UserID),
		menu:           menu.New(m.opts.UserID),
		registry:       playback.NewRegistry(),
	}
	v.registry.OnSwitch(func(from, to model.ID) {
		if to != "" {
			m.metrics.MediaSwitches.Inc()
		}
	})
	v.viewer = playback.NewViewer(v.registry, m.opts.NewModal())

	var drafts moderation.Drafts
	if m.opts.Store != nil {
		drafts = storage.UserDrafts{Store: m.opts.Store, UserID: m.opts.UserID}
	}
	v.editor = moderation.NewEditor(moderation.Options{
		UserID:         m.opts.UserID,
		ConversationID: conversationID,
		Backend:        m.opts.Backend,
		List:           v.list,
		Drafts:         drafts,
		OnDeleted: func(id model.ID, scope moderation.Scope) {
			m.afterDelete(v, id, scope)
		},
	})
	return v
}

func (v *view) teardown() {
	v.cancel()
	v.viewer.Close()
	v.registry.Close()
	v.menu.Close()
}

// Select makes conversationID the active view. Fetches still running for the previous
// view are cancelled; if this selection is itself superseded before its fetch returns,
// Select reports a silent StaleResponse and leaves the newer view untouched.
func (m *Manager) Select(ctx context.Context, conversationID model.ID) error {
	const op = "session.Select"
	if conversationID == "" {
		return m.report("select", apperr.New(apperr.KindValidation, op, "conversation id is required"))
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return apperr.New(apperr.KindStaleResponse, op, "session closed")
	}
	m.gen++
	v := m.newView(m.gen, conversationID)
	prev := m.cur
	m.cur = v
	m.mu.Unlock()
	if prev != nil {
		prev.teardown()
	}
	logger.Infof("session: selected conversation %s", conversationID)

	// the fetch ends with whichever comes first: the caller giving up or the view closing
	fetchCtx, cancelFetch := context.WithCancel(v.ctx)
	defer cancelFetch()
	stop := context.AfterFunc(ctx, cancelFetch)
	defer stop()

	if m.opts.Store != nil {
		tombs, err := m.opts.Store.Tombstones(fetchCtx, m.opts.UserID, conversationID)
		if err != nil {
			logger.Warnf("session: load tombstones of %s: %v", conversationID, err)
		}
		v.list.Tombstone(tombs...)
	}

	conv, convErr := m.opts.Backend.GetConversation(fetchCtx, conversationID)
	msgs, msgErr := m.opts.Backend.GetMessages(fetchCtx, conversationID)

	if !m.isCurrent(v) {
		m.metrics.StaleResponses.Inc()
		return apperr.New(apperr.KindStaleResponse, op, "conversation "+string(conversationID)+" was superseded")
	}

	if convErr == nil {
		if err := conv.Validate(); err != nil {
			logger.Warnf("session: conversation %s: %v", conversationID, err)
		}
		m.mu.Lock()
		v.conversation = conv
		m.mu.Unlock()
		v.editor.SetConversation(conv)
		v.menu.SetConversation(conv)
	} else if !apperr.Silent(convErr) {
		logger.Warnf("session: load conversation %s: %v", conversationID, convErr)
	}

	var err error
	if msgErr == nil {
		legacy.Normalize(msgs)
		err = v.list.Load(conversationID, msgs)
		if err == nil {
			m.mountMedia(v, v.list.Messages())
			m.saveLastSeen(v)
		}
	} else {
		err = msgErr
	}

	m.startSources(v)
	if err != nil {
		return m.report("select", err)
	}
	m.metrics.Action("select", "ok")
	return nil
}

func (m *Manager) startSources(v *view) {
	var sources []feed.Source
	if m.opts.Sources != nil {
		sources = m.opts.Sources(v.conversationID)
	} else {
		sources = append(sources, feed.NewPoller(m.opts.Backend, v.conversationID, m.opts.Poll))
		if m.opts.StreamURL != "" {
			sources = append(sources, feed.NewSubscriber(v.conversationID, feed.SubscriberOptions{
				URL:   m.opts.StreamURL,
				Token: m.opts.StreamToken,
			}))
		}
	}
	for _, src := range sources {
		if p, ok := src.(*feed.Poller); ok && v.poller == nil {
			m.mu.Lock()
			v.poller = p
			m.mu.Unlock()
		}
		m.wg.Add(1)
		go func(src feed.Source) {
			defer m.wg.Done()
			if err := src.Run(v.ctx, func(ev feed.Event) { m.apply(v, ev) }); err != nil && v.ctx.Err() == nil {
				logger.Errorf("session: feed of %s stopped: %v", v.conversationID, err)
			}
		}(src)
	}
}

// Refresh requests an immediate poll. It returns false when throttled or when no
// poller runs.
func (m *Manager) Refresh() bool {
	v, err := m.current("session.Refresh")
	if err != nil {
		return false
	}
	m.mu.Lock()
	p := v.poller
	m.mu.Unlock()
	return p != nil && p.Refresh()
}

// ConversationID returns the selected conversation, or "" when none is selected.
func (m *Manager) ConversationID() model.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return ""
	}
	return m.cur.conversationID
}

// Conversation returns the metadata of the selected conversation once it has loaded.
func (m *Manager) Conversation() (*model.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil || m.cur.conversation == nil {
		return nil, false
	}
	c := *m.cur.conversation
	return &c, true
}

// Close unmounts the view: feeds stop, media is paused and all state is dropped.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	v := m.cur
	m.cur = nil
	m.mu.Unlock()
	if v != nil {
		v.teardown()
	}
	m.cancel()
	m.wg.Wait()
}

// report turns an action failure into a notification and a metric. Stale responses
// are dropped silently.
func (m *Manager) report(action string, err error) error {
	if err == nil {
		m.metrics.Action(action, "ok")
		return nil
	}
	outcome := string(apperr.KindOf(err))
	if outcome == "" {
		outcome = "error"
	}
	m.metrics.Action(action, outcome)
	if apperr.Silent(err) {
		return err
	}
	logger.Warnf("session: %s: %v", action, err)
	m.notify.Error(err)
	return err
}

func (m *Manager) saveLastSeen(v *view) {
	if m.opts.Store == nil {
		return
	}
	id := v.list.LastSeenID()
	if id == "" || reconcile.IsTempID(id) {
		return
	}
	ctx, cancel := context.WithTimeout(v.ctx, 2*time.Second)
	defer cancel()
	if err := m.opts.Store.SetLastSeen(ctx, m.opts.UserID, v.conversationID, id); err != nil {
		logger.Warnf("session: save last seen of %s: %v", v.conversationID, err)
	}
}
