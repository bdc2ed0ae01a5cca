package session

import (
	"github.com/convsession/internal/apperr"
	"github.com/convsession/internal/feed"
	"github.com/convsession/internal/legacy"
	"github.com/convsession/internal/logger"
	"github.com/convsession/internal/model"
)

// apply merges one feed event into v. Events of a view that is no longer selected
// are dropped.
func (m *Manager) apply(v *view, ev feed.Event) {
	if !m.isCurrent(v) || ev.ConversationID != v.conversationID {
		m.metrics.StaleResponses.Inc()
		return
	}
	switch ev.Kind {
	case feed.EventSnapshot:
		legacy.Normalize(ev.Messages)
		res, err := v.list.Merge(v.conversationID, ev.Messages)
		if err != nil {
			m.metrics.StaleResponses.Inc()
			return
		}
		if res.Skipped {
			m.metrics.Polls.WithLabelValues("unchanged").Inc()
		} else {
			m.metrics.Polls.WithLabelValues("changed").Inc()
			m.metrics.MessagesMerged.Add(float64(res.Added))
			m.mountMedia(v, v.list.Messages())
			m.saveLastSeen(v)
		}
		m.feedRecovered(v)
	case feed.EventNew:
		m.metrics.StreamEvents.WithLabelValues(string(ev.Kind)).Inc()
		legacy.Normalize(ev.Messages)
		res, err := v.list.Merge(v.conversationID, ev.Messages)
		if err != nil {
			return
		}
		if res.Added > 0 {
			m.metrics.MessagesMerged.Add(float64(res.Added))
			m.mountMedia(v, ev.Messages)
			m.saveLastSeen(v)
		}
		m.feedRecovered(v)
	case feed.EventEdited:
		m.metrics.StreamEvents.WithLabelValues(string(ev.Kind)).Inc()
		v.list.ApplyEdit(ev.MessageID, ev.Content)
		m.feedRecovered(v)
	case feed.EventDeleted:
		m.metrics.StreamEvents.WithLabelValues(string(ev.Kind)).Inc()
		if v.list.Remove(ev.MessageID) {
			m.dropMessage(v, ev.MessageID)
		}
		m.feedRecovered(v)
	case feed.EventFailed:
		m.feedFailed(v, ev.Err)
	}
}

// feedFailed counts consecutive failures; reaching the threshold raises the
// persistent connection-lost indicator. Failures below it are only logged.
func (m *Manager) feedFailed(v *view, err error) {
	if apperr.Silent(err) {
		return
	}
	m.mu.Lock()
	v.failures++
	n := v.failures
	m.mu.Unlock()

	m.metrics.Polls.WithLabelValues("error").Inc()
	m.metrics.PollFailures.Set(float64(n))
	logger.Warnf("session: feed of %s failed (%d in a row): %v", v.conversationID, n, err)
	if n >= m.opts.FailureThreshold {
		m.notify.SetConnectionLost(true)
	}
	if apperr.KindOf(err) == apperr.KindSessionExpired && n == 1 {
		m.notify.Error(err)
	}
}

func (m *Manager) feedRecovered(v *view) {
	m.mu.Lock()
	had := v.failures
	v.failures = 0
	m.mu.Unlock()
	if had > 0 {
		m.metrics.PollFailures.Set(0)
		m.notify.SetConnectionLost(false)
	}
}

// dropMessage releases everything bound to a message that left the list.
func (m *Manager) dropMessage(v *view, id model.ID) {
	if cur, ok := v.viewer.Current(); ok && cur.ID == id {
		v.viewer.Close()
	}
	v.registry.Unregister(id)
	if st := v.editor.State(); st.MessageID == id && !st.Saving {
		v.editor.Cancel(v.ctx)
	}
	m.mu.Lock()
	if v.pendingDelete != nil && v.pendingDelete.Message.ID == id {
		v.pendingDelete = nil
	}
	m.mu.Unlock()
	if t, ok := v.menu.Current(); ok && t.ID == id {
		v.menu.Close()
	}
}
