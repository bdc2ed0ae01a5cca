package moderation

import (
	"context"
	"strings"
	"sync"

	"github.com/convsession/internal/apperr"
	"github.com/convsession/internal/model"
)

type Mode string

const (
	ModeNormal  Mode = "normal"
	ModeEditing Mode = "editing"
)

type State struct {
	Mode      Mode     `json:"mode"`
	MessageID model.ID `json:"message_id,omitempty"`
	Draft     string   `json:"draft,omitempty"`
	Saving    bool     `json:"saving,omitempty"`
}

// Backend is the subset of the REST client the editor needs.
type Backend interface {
	EditMessage(ctx context.Context, conversationID, messageID model.ID, content string) (model.Message, error)
	DeleteForMe(ctx context.Context, conversationID, messageID model.ID) error
	DeleteForEveryone(ctx context.Context, conversationID, messageID model.ID) error
}

// List is the message list the editor mutates after the server confirms.
type List interface {
	Get(id model.ID) (model.Message, bool)
	ApplyEdit(id model.ID, content string) bool
	Remove(id model.ID) bool
}

// Drafts persists unsaved edit text. Errors are ignored by the editor: a lost
// draft is not worth failing an edit over.
type Drafts interface {
	SaveDraft(ctx context.Context, conversationID, messageID model.ID, content string) error
	Draft(ctx context.Context, conversationID, messageID model.ID) (string, bool, error)
	DeleteDraft(ctx context.Context, conversationID, messageID model.ID) error
}

type Options struct {
	UserID         string
	ConversationID model.ID
	Backend        Backend
	List           List
	Drafts         Drafts
	// OnDeleted runs after a message has been removed from the list.
	OnDeleted func(id model.ID, scope Scope)
}

// Editor is the Normal/Editing state machine of one conversation view plus the
// two-scope delete. Network calls run without the lock held; results are applied
// only after re-checking the list.
type Editor struct {
	opts Options

	mu   sync.Mutex
	st   State
	conv *model.Conversation
}

func NewEditor(opts Options) *Editor {
	return &Editor{opts: opts, st: State{Mode: ModeNormal}}
}

// SetConversation updates the metadata used for admin checks.
func (e *Editor) SetConversation(c *model.Conversation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conv = c
}

func (e *Editor) Conversation() *model.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv
}

func (e *Editor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st
}

// StartEdit moves to Editing(msg.ID). The draft starts from a stored draft when one
// exists, else from the current content. Starting on another message replaces the
// previous edit. On error the state is unchanged.
func (e *Editor) StartEdit(ctx context.Context, msg model.Message) error {
	if err := CanEdit(msg, e.opts.UserID); err != nil {
		return err
	}
	if _, ok := e.opts.List.Get(msg.ID); !ok {
		return apperr.New(apperr.KindNotFound, "moderation.StartEdit", "message "+string(msg.ID)+" is not in the conversation")
	}
	draft := msg.Content
	if e.opts.Drafts != nil {
		if d, ok, err := e.opts.Drafts.Draft(ctx, e.opts.ConversationID, msg.ID); err == nil && ok {
			draft = d
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.Saving {
		return apperr.New(apperr.KindValidation, "moderation.StartEdit", "an edit is being saved")
	}
	e.st = State{Mode: ModeEditing, MessageID: msg.ID, Draft: draft}
	return nil
}

func (e *Editor) SetDraft(ctx context.Context, content string) error {
	e.mu.Lock()
	if e.st.Mode != ModeEditing {
		e.mu.Unlock()
		return apperr.New(apperr.KindValidation, "moderation.SetDraft", "not editing")
	}
	e.st.Draft = content
	id := e.st.MessageID
	e.mu.Unlock()
	if e.opts.Drafts != nil {
		_ = e.opts.Drafts.SaveDraft(ctx, e.opts.ConversationID, id, content)
	}
	return nil
}

// Save submits the draft as the new content. Only content is sent; the attachment
// cannot be replaced. On failure the editor stays in Editing with the draft intact.
func (e *Editor) Save(ctx context.Context) (model.Message, error) {
	const op = "moderation.Save"
	e.mu.Lock()
	if e.st.Mode != ModeEditing {
		e.mu.Unlock()
		return model.Message{}, apperr.New(apperr.KindValidation, op, "not editing")
	}
	if e.st.Saving {
		e.mu.Unlock()
		return model.Message{}, apperr.New(apperr.KindValidation, op, "save already in progress")
	}
	id, draft := e.st.MessageID, e.st.Draft
	current, ok := e.opts.List.Get(id)
	if !ok {
		e.st = State{Mode: ModeNormal}
		e.mu.Unlock()
		return model.Message{}, apperr.New(apperr.KindNotFound, op, "message "+string(id)+" was removed")
	}
	if strings.TrimSpace(draft) == "" && current.Attachment == nil {
		e.mu.Unlock()
		return model.Message{}, apperr.New(apperr.KindValidation, op, "message content cannot be empty")
	}
	e.st.Saving = true
	e.mu.Unlock()

	updated, err := e.opts.Backend.EditMessage(ctx, e.opts.ConversationID, id, draft)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.st.Saving = false
	if err != nil {
		return model.Message{}, err
	}
	content := draft
	if updated.ID == id {
		content = updated.Content
	}
	if !e.opts.List.ApplyEdit(id, content) {
		if e.st.MessageID == id {
			e.st = State{Mode: ModeNormal}
		}
		return model.Message{}, apperr.New(apperr.KindNotFound, op, "message "+string(id)+" was removed while saving")
	}
	if e.st.Mode == ModeEditing && e.st.MessageID == id {
		e.st = State{Mode: ModeNormal}
	}
	if e.opts.Drafts != nil {
		_ = e.opts.Drafts.DeleteDraft(ctx, e.opts.ConversationID, id)
	}
	out, _ := e.opts.List.Get(id)
	return out, nil
}

// Cancel discards the draft without any network call.
func (e *Editor) Cancel(ctx context.Context) {
	e.mu.Lock()
	id := e.st.MessageID
	wasEditing := e.st.Mode == ModeEditing
	e.st = State{Mode: ModeNormal}
	e.mu.Unlock()
	if wasEditing && e.opts.Drafts != nil {
		_ = e.opts.Drafts.DeleteDraft(ctx, e.opts.ConversationID, id)
	}
}

// Delete removes msg in the given scope after the server confirms. An edit in
// progress on the same message is abandoned.
func (e *Editor) Delete(ctx context.Context, msg model.Message, scope Scope) error {
	if err := CanDelete(msg, scope, e.opts.UserID, e.Conversation()); err != nil {
		return err
	}
	var err error
	if scope == ScopeForEveryone {
		err = e.opts.Backend.DeleteForEveryone(ctx, e.opts.ConversationID, msg.ID)
	} else {
		err = e.opts.Backend.DeleteForMe(ctx, e.opts.ConversationID, msg.ID)
	}
	if err != nil {
		return err
	}
	e.opts.List.Remove(msg.ID)

	e.mu.Lock()
	if e.st.Mode == ModeEditing && e.st.MessageID == msg.ID && !e.st.Saving {
		e.st = State{Mode: ModeNormal}
	}
	e.mu.Unlock()

	if e.opts.Drafts != nil {
		_ = e.opts.Drafts.DeleteDraft(ctx, e.opts.ConversationID, msg.ID)
	}
	if e.opts.OnDeleted != nil {
		e.opts.OnDeleted(msg.ID, scope)
	}
	return nil
}
