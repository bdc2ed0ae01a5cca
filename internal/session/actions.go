package session

import (
	"context"
	"strings"
	"time"

	"github.com/convsession/internal/api"
	"github.com/convsession/internal/apperr"
	"github.com/convsession/internal/logger"
	"github.com/convsession/internal/menu"
	"github.com/convsession/internal/model"
	"github.com/convsession/internal/moderation"
	"github.com/convsession/internal/notify"
)

// message looks id up in the active list.
func (m *Manager) message(op string, id model.ID) (*view, model.Message, error) {
	v, err := m.current(op)
	if err != nil {
		return nil, model.Message{}, err
	}
	msg, ok := v.list.Get(id)
	if !ok {
		return v, model.Message{}, apperr.New(apperr.KindNotFound, op, "message "+string(id)+" is not in the conversation")
	}
	return v, msg, nil
}

// Send appends the message optimistically, posts it and swaps the temporary entry
// for the server's. On failure the optimistic entry is withdrawn.
func (m *Manager) Send(ctx context.Context, content string, upload *api.Upload) (model.Message, error) {
	const op = "session.Send"
	v, err := m.current(op)
	if err != nil {
		return model.Message{}, m.report("send", err)
	}
	if strings.TrimSpace(content) == "" && upload == nil {
		return model.Message{}, m.report("send", apperr.New(apperr.KindValidation, op, "message is empty"))
	}

	local := model.Message{
		ConversationID: v.conversationID,
		Sender:         &model.User{ID: model.ID(m.opts.UserID)},
		Content:        content,
		Timestamp:      time.Now().UTC(),
	}
	if upload != nil {
		local.Attachment = &model.Attachment{Kind: upload.Kind, FileName: upload.FileName}
	}
	tmp := v.list.AppendOptimistic(local)

	sent, err := m.opts.Backend.SendMessage(ctx, v.conversationID, api.Outgoing{Content: content, Attachment: upload})
	if err != nil {
		v.list.Discard(tmp.ID)
		return model.Message{}, m.report("send", err)
	}
	if !m.isCurrent(v) {
		// delivered, but the view it belonged to is gone
		m.metrics.StaleResponses.Inc()
		return sent, nil
	}
	confirmed := v.list.Confirm(tmp.ID, sent)
	m.mountMedia(v, []model.Message{confirmed})
	m.metrics.Action("send", "ok")
	return confirmed, nil
}

// StartEdit is the onEditStart hook.
func (m *Manager) StartEdit(ctx context.Context, id model.ID) error {
	v, msg, err := m.message("session.StartEdit", id)
	if err != nil {
		return m.report("edit_start", err)
	}
	return m.report("edit_start", v.editor.StartEdit(ctx, msg))
}

func (m *Manager) SetDraft(ctx context.Context, content string) error {
	v, err := m.current("session.SetDraft")
	if err != nil {
		return err
	}
	return v.editor.SetDraft(ctx, content)
}

// SaveEdit submits the draft. On failure the editor stays in Editing so the user can retry.
func (m *Manager) SaveEdit(ctx context.Context) (model.Message, error) {
	v, err := m.current("session.SaveEdit")
	if err != nil {
		return model.Message{}, m.report("edit_save", err)
	}
	msg, err := v.editor.Save(ctx)
	return msg, m.report("edit_save", err)
}

func (m *Manager) CancelEdit(ctx context.Context) {
	if v, err := m.current("session.CancelEdit"); err == nil {
		v.editor.Cancel(ctx)
	}
}

func (m *Manager) EditState() moderation.State {
	v, err := m.current("session.EditState")
	if err != nil {
		return moderation.State{Mode: moderation.ModeNormal}
	}
	return v.editor.State()
}

// Delete is the onDeleteConfirm hook: the user confirmed deleting id in scope.
func (m *Manager) Delete(ctx context.Context, id model.ID, scope moderation.Scope) error {
	action := "delete_" + string(scope)
	v, msg, err := m.message("session.Delete", id)
	if err != nil {
		return m.report(action, err)
	}
	m.mu.Lock()
	if v.pendingDelete != nil && v.pendingDelete.Message.ID == id {
		v.pendingDelete = nil
	}
	m.mu.Unlock()
	return m.report(action, v.editor.Delete(ctx, msg, scope))
}

// afterDelete runs once the server confirmed a delete and the list dropped the message.
func (m *Manager) afterDelete(v *view, id model.ID, scope moderation.Scope) {
	m.dropMessage(v, id)
	if scope != moderation.ScopeForMe || m.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(v.ctx, 2*time.Second)
	defer cancel()
	if err := m.opts.Store.AddTombstone(ctx, m.opts.UserID, v.conversationID, id); err != nil {
		logger.Warnf("session: tombstone %s: %v", id, err)
	}
}

// PendingDelete returns the delete waiting for confirmation, if any.
func (m *Manager) PendingDelete() (PendingDelete, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil || m.cur.pendingDelete == nil {
		return PendingDelete{}, false
	}
	return *m.cur.pendingDelete, true
}

func (m *Manager) CancelPendingDelete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil {
		m.cur.pendingDelete = nil
	}
}

// OnContextMenu opens the menu for id at the pointer. It reports false when the
// message offers no actions, as with system messages.
func (m *Manager) OnContextMenu(id model.ID, pointer menu.Position) (menu.Target, bool, error) {
	v, msg, err := m.message("session.OnContextMenu", id)
	if err != nil {
		return menu.Target{}, false, err
	}
	t, ok := v.menu.Open(msg, pointer)
	return t, ok, nil
}

func (m *Manager) CloseMenu() {
	if v, err := m.current("session.CloseMenu"); err == nil {
		v.menu.Close()
	}
}

func (m *Manager) MenuTarget() (menu.Target, bool) {
	v, err := m.current("session.MenuTarget")
	if err != nil {
		return menu.Target{}, false
	}
	return v.menu.Current()
}

// Dispatch runs the chosen menu action. The menu closes whatever the outcome.
// Delete actions do not delete: they stage a PendingDelete for the confirmation dialog.
func (m *Manager) Dispatch(ctx context.Context, a menu.Action) error {
	v, err := m.current("session.Dispatch")
	if err != nil {
		return m.report("menu", err)
	}
	t, err := v.menu.Select(a)
	if err != nil {
		return m.report("menu", err)
	}
	switch a {
	case menu.ActionEdit:
		return m.report("edit_start", v.editor.StartEdit(ctx, t.Message))
	case menu.ActionDeleteForMe, menu.ActionDeleteForEveryone:
		scope := moderation.ScopeForMe
		if a == menu.ActionDeleteForEveryone {
			scope = moderation.ScopeForEveryone
		}
		m.mu.Lock()
		v.pendingDelete = &PendingDelete{Message: t.Message, Scope: scope}
		m.mu.Unlock()
		m.metrics.Action("menu", "ok")
		return nil
	case menu.ActionReport:
		m.notify.Notify(notify.LevelInfo, "Report submitted for review")
		m.metrics.Action("report", "ok")
		return nil
	case menu.ActionBlock:
		sender := t.Message.SenderID()
		if sender == "" {
			return m.report("block", apperr.New(apperr.KindValidation, "session.Dispatch", "message has no sender"))
		}
		if err := m.opts.Backend.BlockUser(ctx, model.ID(sender)); err != nil {
			return m.report("block", err)
		}
		name := sender
		if t.Message.Sender.Username != "" {
			name = t.Message.Sender.Username
		}
		m.notify.Notify(notify.LevelSuccess, name+" has been blocked")
		m.metrics.Action("block", "ok")
		return nil
	}
	return m.report("menu", apperr.New(apperr.KindValidation, "session.Dispatch", "unknown action "+string(a)))
}
