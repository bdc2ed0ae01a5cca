package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convsession/internal/api"
	"github.com/convsession/internal/apperr"
	"github.com/convsession/internal/feed"
	"github.com/convsession/internal/menu"
	"github.com/convsession/internal/model"
	"github.com/convsession/internal/moderation"
	"github.com/convsession/internal/notify"
	"github.com/convsession/internal/storage/memory"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu       sync.Mutex
	messages map[model.ID][]model.Message
	convs    map[model.ID]*model.Conversation
	// gates hold GetMessages of a conversation until closed; started is signalled on entry
	gates   map[model.ID]chan struct{}
	started chan model.ID
	sendErr error
	// onSend runs after the message is stored, before SendMessage returns
	onSend  func(model.Message)
	nextID  int
	deleted map[model.ID]moderation.Scope
	blocked []model.ID
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		messages: make(map[model.ID][]model.Message),
		convs:    make(map[model.ID]*model.Conversation),
		gates:    make(map[model.ID]chan struct{}),
		started:  make(chan model.ID, 8),
		deleted:  make(map[model.ID]moderation.Scope),
		nextID:   100,
	}
}

func (f *fakeBackend) set(conv model.ID, msgs ...model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[conv] = msgs
}

func (f *fakeBackend) GetMessages(_ context.Context, conv model.ID) ([]model.Message, error) {
	f.mu.Lock()
	gate := f.gates[conv]
	f.mu.Unlock()
	select {
	case f.started <- conv:
	default:
	}
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Message, len(f.messages[conv]))
	for i, m := range f.messages[conv] {
		out[i] = m.Clone()
	}
	return out, nil
}

func (f *fakeBackend) GetConversation(_ context.Context, conv model.ID) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.convs[conv]; ok {
		cp := *c
		return &cp, nil
	}
	return &model.Conversation{ID: conv, Participants: []model.User{{ID: "me"}, {ID: "bob"}}}, nil
}

func (f *fakeBackend) SendMessage(_ context.Context, conv model.ID, out api.Outgoing) (model.Message, error) {
	f.mu.Lock()
	if f.sendErr != nil {
		f.mu.Unlock()
		return model.Message{}, f.sendErr
	}
	f.nextID++
	msg := model.Message{
		ID:             model.ID(strconv.Itoa(f.nextID)),
		ConversationID: conv,
		Sender:         &model.User{ID: "me", Username: "me"},
		Content:        out.Content,
		Timestamp:      t0.Add(time.Hour),
	}
	f.messages[conv] = append(f.messages[conv], msg)
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(msg.Clone())
	}
	return msg, nil
}

func (f *fakeBackend) EditMessage(_ context.Context, _, id model.ID, content string) (model.Message, error) {
	return model.Message{ID: id, Content: content}, nil
}

func (f *fakeBackend) DeleteForMe(_ context.Context, _, id model.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[id] = moderation.ScopeForMe
	return nil
}

func (f *fakeBackend) DeleteForEveryone(_ context.Context, _, id model.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[id] = moderation.ScopeForEveryone
	return nil
}

func (f *fakeBackend) BlockUser(_ context.Context, id model.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked = append(f.blocked, id)
	return nil
}

func msg(id string, sec int, sender string) model.Message {
	return model.Message{
		ID:             model.ID(id),
		ConversationID: "c1",
		Sender:         &model.User{ID: model.ID(sender), Username: sender},
		Content:        "text " + id,
		Timestamp:      t0.Add(time.Duration(sec) * time.Second),
	}
}

func media(id string, sec int, kind model.AttachmentKind) model.Message {
	m := msg(id, sec, "bob")
	m.Attachment = &model.Attachment{Kind: kind, URL: "http://cdn/" + id, FileName: id + ".bin"}
	return m
}

// noSources keeps feeds out of tests that drive events by hand.
func noSources(model.ID) []feed.Source { return nil }

func newManager(t *testing.T, be *fakeBackend, mutate ...func(*Options)) *Manager {
	t.Helper()
	opts := Options{UserID: "me", Backend: be, Sources: noSources}
	for _, fn := range mutate {
		fn(&opts)
	}
	m := New(opts)
	t.Cleanup(m.Close)
	return m
}

func renderedIDs(views []MessageView) []model.ID {
	out := make([]model.ID, len(views))
	for i, v := range views {
		out[i] = v.ID
	}
	return out
}

func TestSendThenPoll_SingleInstance(t *testing.T) {
	be := newFakeBackend()
	be.set("c1", msg("1", 0, "bob"))
	m := newManager(t, be)
	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "c1"))

	sent, err := m.Send(ctx, "hello", nil)
	require.NoError(t, err)
	assert.False(t, sent.Pending)

	server, _ := be.GetMessages(ctx, "c1")
	m.apply(m.cur, feed.Event{Kind: feed.EventSnapshot, ConversationID: "c1", Messages: server})

	hello := 0
	for _, row := range m.RenderMessages() {
		if row.Content == "hello" {
			hello++
			assert.True(t, row.IsOwn)
		}
	}
	assert.Equal(t, 1, hello)
}

func TestSend_StreamEchoBeforeResponse(t *testing.T) {
	be := newFakeBackend()
	be.set("c1", msg("1", 0, "bob"))
	m := newManager(t, be)
	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "c1"))

	var during []MessageView
	be.onSend = func(echo model.Message) {
		// the sender's own new_message broadcast wins the race with the POST response
		m.apply(m.cur, feed.Event{Kind: feed.EventNew, ConversationID: "c1", Messages: []model.Message{echo}, MessageID: echo.ID})
		during = m.RenderMessages()
	}

	sent, err := m.Send(ctx, "hello", nil)
	require.NoError(t, err)

	count := func(rows []MessageView) int {
		n := 0
		for _, row := range rows {
			if row.Content == "hello" {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, count(during))
	rows := m.RenderMessages()
	assert.Equal(t, 1, count(rows))
	assert.Equal(t, []model.ID{"1", sent.ID}, renderedIDs(rows))
	assert.False(t, rows[1].Pending)
}

func TestSend_FailureWithdrawsOptimisticMessage(t *testing.T) {
	be := newFakeBackend()
	be.sendErr = apperr.New(apperr.KindNetwork, "api.SendMessage", "connection refused")
	m := newManager(t, be)
	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "c1"))

	_, err := m.Send(ctx, "hello", nil)
	assert.True(t, errors.Is(err, apperr.ErrNetwork))
	assert.Empty(t, m.RenderMessages())

	list := m.Notifications().List()
	require.Len(t, list, 1)
	assert.Equal(t, notify.KindBanner, list[0].Kind)
}

func TestConcurrentMedia_VideoPausesAudio(t *testing.T) {
	be := newFakeBackend()
	be.set("c1", media("a", 0, model.AttachmentAudio), media("b", 1, model.AttachmentVideo))
	m := newManager(t, be)
	require.NoError(t, m.Select(context.Background(), "c1"))

	require.NoError(t, m.Play("a"))
	a, _ := m.MediaState("a")
	require.True(t, a.IsPlaying)

	require.NoError(t, m.Play("b"))
	a, _ = m.MediaState("a")
	b, _ := m.MediaState("b")
	assert.False(t, a.IsPlaying)
	assert.True(t, b.IsPlaying)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Metrics().MediaSwitches))
}

func TestStaleConversationSwitch(t *testing.T) {
	be := newFakeBackend()
	be.set("x", model.Message{ID: "x1", ConversationID: "x", Content: "from x", Timestamp: t0})
	be.set("y", model.Message{ID: "y1", ConversationID: "y", Content: "from y", Timestamp: t0})
	gate := make(chan struct{})
	be.gates["x"] = gate
	m := newManager(t, be)

	done := make(chan error, 1)
	go func() { done <- m.Select(context.Background(), "x") }()
	require.Equal(t, model.ID("x"), <-be.started)

	require.NoError(t, m.Select(context.Background(), "y"))
	close(gate)

	err := <-done
	require.Error(t, err)
	assert.True(t, apperr.Silent(err))

	assert.Equal(t, model.ID("y"), m.ConversationID())
	assert.Equal(t, []model.ID{"y1"}, renderedIDs(m.RenderMessages()))
	assert.Empty(t, m.Notifications().List())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Metrics().StaleResponses))
}

func TestFeedEvents_FromSupersededViewIgnored(t *testing.T) {
	be := newFakeBackend()
	m := newManager(t, be)
	require.NoError(t, m.Select(context.Background(), "c1"))
	old := m.cur
	require.NoError(t, m.Select(context.Background(), "c2"))

	m.apply(old, feed.Event{Kind: feed.EventSnapshot, ConversationID: "c1", Messages: []model.Message{msg("1", 0, "bob")}})
	assert.Empty(t, m.RenderMessages())
}

func TestFailureThreshold(t *testing.T) {
	be := newFakeBackend()
	m := newManager(t, be, func(o *Options) { o.FailureThreshold = 3 })
	require.NoError(t, m.Select(context.Background(), "c1"))
	v := m.cur
	fail := feed.Event{Kind: feed.EventFailed, ConversationID: "c1", Err: apperr.New(apperr.KindNetwork, "api.GetMessages", "timeout")}

	m.apply(v, fail)
	m.apply(v, fail)
	assert.False(t, m.Notifications().ConnectionLost())
	assert.Empty(t, m.Notifications().List(), "failures below the threshold stay silent")

	m.apply(v, fail)
	assert.True(t, m.Notifications().ConnectionLost())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Metrics().PollFailures))

	m.apply(v, feed.Event{Kind: feed.EventSnapshot, ConversationID: "c1"})
	assert.False(t, m.Notifications().ConnectionLost())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Metrics().PollFailures))
}

func TestPoller_DeliversNewMessages(t *testing.T) {
	be := newFakeBackend()
	be.set("c1", msg("1", 0, "bob"))
	m := newManager(t, be, func(o *Options) {
		o.Sources = nil
		o.Poll = feed.PollerOptions{Interval: 20 * time.Millisecond}
	})
	require.NoError(t, m.Select(context.Background(), "c1"))

	be.set("c1", msg("1", 0, "bob"), msg("2", 5, "bob"))
	require.Eventually(t, func() bool { return len(m.RenderMessages()) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return testutil.ToFloat64(m.Metrics().MessagesMerged) == 1 }, time.Second, 10*time.Millisecond)
}

func TestStreamEvents_EditAndDelete(t *testing.T) {
	be := newFakeBackend()
	be.set("c1", msg("1", 0, "bob"), media("2", 1, model.AttachmentAudio))
	m := newManager(t, be)
	require.NoError(t, m.Select(context.Background(), "c1"))
	v := m.cur

	m.apply(v, feed.Event{Kind: feed.EventEdited, ConversationID: "c1", MessageID: "1", Content: "fixed"})
	m.apply(v, feed.Event{Kind: feed.EventDeleted, ConversationID: "c1", MessageID: "2"})

	rows := m.RenderMessages()
	require.Len(t, rows, 1)
	assert.Equal(t, "fixed", rows[0].Content)
	_, mounted := m.MediaState("2")
	assert.False(t, mounted)
}

func TestStartEdit_PermissionNotifies(t *testing.T) {
	be := newFakeBackend()
	be.set("c1", msg("1", 0, "bob"))
	m := newManager(t, be)
	require.NoError(t, m.Select(context.Background(), "c1"))

	err := m.StartEdit(context.Background(), "1")
	assert.True(t, errors.Is(err, apperr.ErrPermission))
	assert.Equal(t, moderation.ModeNormal, m.EditState().Mode)

	list := m.Notifications().List()
	require.Len(t, list, 1)
	assert.Equal(t, notify.KindTransient, list[0].Kind)
	assert.Equal(t, notify.LevelWarning, list[0].Level)
}

func TestEditFlow(t *testing.T) {
	be := newFakeBackend()
	be.set("c1", msg("1", 0, "me"))
	m := newManager(t, be)
	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "c1"))

	require.NoError(t, m.StartEdit(ctx, "1"))
	require.NoError(t, m.SetDraft(ctx, "better"))
	rows := m.RenderMessages()
	assert.True(t, rows[0].Editing)
	assert.Equal(t, "better", rows[0].Draft)

	got, err := m.SaveEdit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "better", got.Content)
	assert.Equal(t, moderation.ModeNormal, m.EditState().Mode)
}

func TestContextMenu_SystemMessageDoesNotOpen(t *testing.T) {
	be := newFakeBackend()
	be.set("c1", model.Message{ID: "s", ConversationID: "c1", IsSystem: true, Content: "bob joined", Timestamp: t0})
	m := newManager(t, be)
	require.NoError(t, m.Select(context.Background(), "c1"))

	_, ok, err := m.OnContextMenu("s", menu.Position{X: 10, Y: 10})
	require.NoError(t, err)
	assert.False(t, ok)
	_, open := m.MenuTarget()
	assert.False(t, open)
}

func TestDispatch_DeleteNeedsConfirmation(t *testing.T) {
	be := newFakeBackend()
	be.set("c1", msg("1", 0, "bob"), msg("2", 1, "bob"))
	store := memory.New()
	m := newManager(t, be, func(o *Options) { o.Store = store })
	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "c1"))

	target, ok, err := m.OnContextMenu("1", menu.Position{X: 100, Y: 50})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, menu.Position{X: 98, Y: 46}, target.Position)
	assert.Equal(t, []menu.Action{menu.ActionDeleteForMe, menu.ActionReport, menu.ActionBlock}, target.Actions)

	require.NoError(t, m.Dispatch(ctx, menu.ActionDeleteForMe))
	_, open := m.MenuTarget()
	assert.False(t, open)
	pending, ok := m.PendingDelete()
	require.True(t, ok)
	assert.Equal(t, moderation.ScopeForMe, pending.Scope)
	assert.Len(t, m.RenderMessages(), 2, "nothing is deleted before confirmation")

	require.NoError(t, m.Delete(ctx, "1", moderation.ScopeForMe))
	_, ok = m.PendingDelete()
	assert.False(t, ok)
	assert.Equal(t, []model.ID{"2"}, renderedIDs(m.RenderMessages()))
	assert.Equal(t, moderation.ScopeForMe, be.deleted["1"])

	// the tombstone survives reselecting the conversation
	require.NoError(t, m.Select(ctx, "c1"))
	assert.Equal(t, []model.ID{"2"}, renderedIDs(m.RenderMessages()))
}

func TestDispatch_DeleteForEveryoneNotOffered(t *testing.T) {
	be := newFakeBackend()
	be.set("c1", msg("1", 0, "bob"))
	m := newManager(t, be)
	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "c1"))

	_, ok, _ := m.OnContextMenu("1", menu.Position{})
	require.True(t, ok)
	err := m.Dispatch(ctx, menu.ActionDeleteForEveryone)
	assert.True(t, errors.Is(err, apperr.ErrPermission))
	_, staged := m.PendingDelete()
	assert.False(t, staged)
}

func TestDispatch_AdminDeletesForEveryone(t *testing.T) {
	be := newFakeBackend()
	be.set("c1", msg("1", 0, "bob"))
	be.convs["c1"] = &model.Conversation{ID: "c1", IsGroup: true, CreatedBy: &model.User{ID: "me"}}
	m := newManager(t, be)
	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "c1"))

	target, ok, _ := m.OnContextMenu("1", menu.Position{})
	require.True(t, ok)
	assert.Contains(t, target.Actions, menu.ActionDeleteForEveryone)
	require.NoError(t, m.Dispatch(ctx, menu.ActionDeleteForEveryone))
	require.NoError(t, m.Delete(ctx, "1", moderation.ScopeForEveryone))
	assert.Equal(t, moderation.ScopeForEveryone, be.deleted["1"])
	assert.Empty(t, m.RenderMessages())
}

func TestDispatch_Block(t *testing.T) {
	be := newFakeBackend()
	be.set("c1", msg("1", 0, "bob"))
	m := newManager(t, be)
	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "c1"))

	_, ok, _ := m.OnContextMenu("1", menu.Position{})
	require.True(t, ok)
	require.NoError(t, m.Dispatch(ctx, menu.ActionBlock))
	assert.Equal(t, []model.ID{"bob"}, be.blocked)

	list := m.Notifications().List()
	require.Len(t, list, 1)
	assert.Equal(t, notify.LevelSuccess, list[0].Level)
}

func TestViewer_HandsPlaybackBack(t *testing.T) {
	be := newFakeBackend()
	be.set("c1", media("v", 0, model.AttachmentVideo))
	m := newManager(t, be)
	require.NoError(t, m.Select(context.Background(), "c1"))
	reg, err := m.Registry()
	require.NoError(t, err)
	reg.OnLoadedMetadata("v", 120)
	reg.OnTimeUpdate("v", 30)
	require.NoError(t, m.Play("v"))

	require.NoError(t, m.OpenViewer("v"))
	st, _ := m.MediaState("v")
	assert.Equal(t, model.ViewModal, st.View)
	assert.Equal(t, 30.0, st.CurrentTime)

	h, ok := m.CloseViewer()
	require.True(t, ok)
	assert.Equal(t, model.ID("v"), h.MessageID)
	st, _ = m.MediaState("v")
	assert.Equal(t, model.ViewMiniature, st.View)
}

func TestRenderMessages_SystemRowsAndMedia(t *testing.T) {
	be := newFakeBackend()
	be.set("c1",
		model.Message{ID: "s", ConversationID: "c1", IsSystem: true, Content: "Bob joined the group", Timestamp: t0},
		media("a", 1, model.AttachmentAudio),
	)
	m := newManager(t, be)
	require.NoError(t, m.Select(context.Background(), "c1"))

	rows := m.RenderMessages()
	require.Len(t, rows, 2)
	assert.Equal(t, ViewSystem, rows[0].Kind)
	assert.Equal(t, model.SystemUserJoined, rows[0].SystemType)
	assert.Equal(t, ViewMessage, rows[1].Kind)
	require.NotNil(t, rows[1].Media)
	assert.Equal(t, "00:00", rows[1].Media.Duration)
	assert.Equal(t, 0.0, rows[1].Media.Percent)
}

func TestClose_UnmountsEverything(t *testing.T) {
	be := newFakeBackend()
	be.set("c1", media("a", 0, model.AttachmentAudio))
	m := New(Options{UserID: "me", Backend: be, Sources: noSources})
	require.NoError(t, m.Select(context.Background(), "c1"))
	require.NoError(t, m.Play("a"))
	reg, _ := m.Registry()

	m.Close()
	_, playing := reg.Active()
	assert.False(t, playing)
	assert.Nil(t, m.RenderMessages())
	assert.True(t, apperr.Silent(m.Select(context.Background(), "c1")))
}

func TestNoSelection(t *testing.T) {
	m := newManager(t, newFakeBackend())
	_, err := m.Send(context.Background(), "hi", nil)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.False(t, m.Refresh())
}
