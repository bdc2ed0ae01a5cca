// Package reconcile keeps the local message list of one conversation in step with
// the server. It never trusts arrival order: every change re-sorts by timestamp.
package reconcile

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convsession/internal/apperr"
	"github.com/convsession/internal/model"
)

const tempPrefix = "tmp-"

// IsTempID reports whether id was assigned locally to an unconfirmed message.
func IsTempID(id model.ID) bool {
	return strings.HasPrefix(string(id), tempPrefix)
}

type MergeResult struct {
	Added   int
	Skipped bool // tail id unchanged since the previous batch; state untouched
}

type Engine struct {
	conversationID model.ID
	currentUserID  string

	mu         sync.RWMutex
	messages   []model.Message
	ids        map[model.ID]struct{}
	tombstones map[model.ID]struct{}
	// claimed maps a temporary id to the server id that replaced it before Confirm.
	claimed    map[model.ID]model.ID
	lastSeenID model.ID
	version    uint64
}

func New(conversationID model.ID, currentUserID string) *Engine {
	return &Engine{
		conversationID: conversationID,
		currentUserID:  currentUserID,
		ids:            make(map[model.ID]struct{}),
		tombstones:     make(map[model.ID]struct{}),
		claimed:        make(map[model.ID]model.ID),
	}
}

func (e *Engine) ConversationID() model.ID { return e.conversationID }

func (e *Engine) checkConversation(op string, conversationID model.ID) error {
	if conversationID != e.conversationID {
		return apperr.New(apperr.KindStaleResponse, op,
			"batch for conversation "+string(conversationID)+" delivered to "+string(e.conversationID))
	}
	return nil
}

// Tombstone marks ids as removed locally; later batches never bring them back.
func (e *Engine) Tombstone(ids ...model.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		e.tombstones[id] = struct{}{}
		e.removeLocked(id)
	}
}

// Load replaces the list with a full initial fetch.
func (e *Engine) Load(conversationID model.ID, batch []model.Message) error {
	if err := e.checkConversation("reconcile.Load", conversationID); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pending := e.pendingLocked()
	e.messages = make([]model.Message, 0, len(batch)+len(pending))
	e.ids = make(map[model.ID]struct{}, len(batch)+len(pending))
	e.messages = append(e.messages, pending...)
	for _, m := range pending {
		e.ids[m.ID] = struct{}{}
	}
	e.appendUniqueLocked(batch)
	e.sortLocked()
	e.lastSeenID = ""
	if len(batch) > 0 {
		e.lastSeenID = batch[len(batch)-1].ID
	}
	e.version++
	return nil
}

// Merge folds a polled batch into the list. If the batch's last id equals the one
// seen last time nothing is touched. Otherwise only ids not already present (and
// not tombstoned) are appended and the list is re-sorted by timestamp.
func (e *Engine) Merge(conversationID model.ID, batch []model.Message) (MergeResult, error) {
	if err := e.checkConversation("reconcile.Merge", conversationID); err != nil {
		return MergeResult{}, err
	}
	if len(batch) == 0 {
		return MergeResult{Skipped: true}, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	latest := batch[len(batch)-1].ID
	if latest == e.lastSeenID {
		return MergeResult{Skipped: true}, nil
	}
	e.lastSeenID = latest
	added := e.appendUniqueLocked(batch)
	if added == 0 {
		return MergeResult{}, nil
	}
	e.sortLocked()
	e.version++
	return MergeResult{Added: added}, nil
}

func (e *Engine) appendUniqueLocked(batch []model.Message) int {
	added := 0
	for _, m := range batch {
		if m.ID == "" {
			continue
		}
		if _, ok := e.ids[m.ID]; ok {
			continue
		}
		if _, ok := e.tombstones[m.ID]; ok {
			continue
		}
		m = m.Clone()
		m.IsOwn = m.SenderID() == e.currentUserID
		m.Pending = false
		if m.IsOwn && !m.IsSystem {
			if i := e.pendingMatchLocked(m); i >= 0 {
				// own message delivered before the POST returned: it takes the
				// optimistic entry's place instead of showing up twice
				tempID := e.messages[i].ID
				delete(e.ids, tempID)
				e.claimed[tempID] = m.ID
				e.messages[i] = m
				e.ids[m.ID] = struct{}{}
				added++
				continue
			}
		}
		e.messages = append(e.messages, m)
		e.ids[m.ID] = struct{}{}
		added++
	}
	return added
}

// pendingMatchLocked returns the index of the oldest pending message with the same
// content and attachment kind as m, or -1.
func (e *Engine) pendingMatchLocked(m model.Message) int {
	best := -1
	for i, p := range e.messages {
		if !p.Pending || p.Content != m.Content || attachmentKind(p) != attachmentKind(m) {
			continue
		}
		if best < 0 || p.Timestamp.Before(e.messages[best].Timestamp) {
			best = i
		}
	}
	return best
}

func attachmentKind(m model.Message) model.AttachmentKind {
	if m.Attachment == nil {
		return ""
	}
	return m.Attachment.Kind
}

func (e *Engine) pendingLocked() []model.Message {
	var out []model.Message
	for _, m := range e.messages {
		if m.Pending {
			out = append(out, m)
		}
	}
	return out
}

func (e *Engine) sortLocked() {
	sort.SliceStable(e.messages, func(i, j int) bool {
		return e.messages[i].Timestamp.Before(e.messages[j].Timestamp)
	})
}

// AppendOptimistic adds a message the user is sending before the server confirms it.
// It gets a temporary id unless one is set.
func (e *Engine) AppendOptimistic(m model.Message) model.Message {
	m = m.Clone()
	if m.ID == "" {
		m.ID = model.ID(tempPrefix + uuid.NewString())
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	m.ConversationID = e.conversationID
	m.IsOwn = true
	m.Pending = true
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, m)
	e.ids[m.ID] = struct{}{}
	e.sortLocked()
	e.version++
	return m
}

// Confirm swaps an optimistic message for the server's copy. If a poll already
// delivered the server id, the temporary entry is simply dropped; if that poll
// already took the entry's place, nothing changes.
func (e *Engine) Confirm(tempID model.ID, server model.Message) model.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	if claimedID, ok := e.claimed[tempID]; ok {
		delete(e.claimed, tempID)
		if claimedID == server.ID {
			for _, m := range e.messages {
				if m.ID == server.ID {
					return m.Clone()
				}
			}
		}
	}
	server = server.Clone()
	server.IsOwn = true
	server.Pending = false
	if server.ConversationID == "" {
		server.ConversationID = e.conversationID
	}
	e.removeLocked(tempID)
	if _, ok := e.tombstones[server.ID]; ok {
		e.version++
		return server
	}
	if _, ok := e.ids[server.ID]; !ok {
		e.messages = append(e.messages, server)
		e.ids[server.ID] = struct{}{}
		e.sortLocked()
	}
	e.version++
	return server
}

// Discard drops an optimistic message whose send failed.
func (e *Engine) Discard(tempID model.ID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.claimed, tempID)
	if !e.removeLocked(tempID) {
		return false
	}
	e.version++
	return true
}

// ApplyEdit replaces the content of id in place, keeping every attachment field.
// It returns false when the message is no longer in the list.
func (e *Engine) ApplyEdit(id model.ID, content string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.messages {
		if e.messages[i].ID == id {
			e.messages[i].Content = content
			e.version++
			return true
		}
	}
	return false
}

// Remove deletes id from the list and tombstones it.
func (e *Engine) Remove(id model.ID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tombstones[id] = struct{}{}
	if !e.removeLocked(id) {
		return false
	}
	e.version++
	return true
}

func (e *Engine) removeLocked(id model.ID) bool {
	if _, ok := e.ids[id]; !ok {
		return false
	}
	delete(e.ids, id)
	for i := range e.messages {
		if e.messages[i].ID == id {
			e.messages = append(e.messages[:i], e.messages[i+1:]...)
			break
		}
	}
	return true
}

func (e *Engine) Get(id model.ID) (model.Message, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.ids[id]; !ok {
		return model.Message{}, false
	}
	for _, m := range e.messages {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return model.Message{}, false
}

// Messages returns a sorted snapshot safe to use after the lock is released.
func (e *Engine) Messages() []model.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.Message, len(e.messages))
	for i, m := range e.messages {
		out[i] = m.Clone()
	}
	return out
}

func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.messages)
}

// Version increases on every change to the list; equal versions mean equal lists.
func (e *Engine) Version() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

func (e *Engine) LastSeenID() model.ID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSeenID
}
