package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convsession/internal/apperr"
	"github.com/convsession/internal/model"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, sec int, sender string) model.Message {
	return model.Message{
		ID:             model.ID(id),
		ConversationID: "c1",
		Sender:         &model.User{ID: model.ID(sender), Username: "u" + sender},
		Content:        "m" + id,
		Timestamp:      t0.Add(time.Duration(sec) * time.Second),
	}
}

func ids(ms []model.Message) []model.ID {
	out := make([]model.ID, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func TestLoad_SortsAndMarksOwn(t *testing.T) {
	e := New("c1", "me")
	require.NoError(t, e.Load("c1", []model.Message{msg("2", 20, "me"), msg("1", 10, "bob")}))

	got := e.Messages()
	assert.Equal(t, []model.ID{"1", "2"}, ids(got))
	assert.False(t, got[0].IsOwn)
	assert.True(t, got[1].IsOwn)
	assert.Equal(t, model.ID("1"), e.LastSeenID())
}

func TestMerge_Idempotent(t *testing.T) {
	e := New("c1", "me")
	require.NoError(t, e.Load("c1", []model.Message{msg("1", 10, "bob")}))
	batch := []model.Message{msg("1", 10, "bob"), msg("2", 20, "bob")}

	res, err := e.Merge("c1", batch)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	v := e.Version()
	snapshot := e.Messages()

	res, err = e.Merge("c1", batch)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, v, e.Version())
	assert.Equal(t, snapshot, e.Messages())
}

func TestMerge_SortsByTimestampNotArrival(t *testing.T) {
	e := New("c1", "me")
	require.NoError(t, e.Load("c1", []model.Message{msg("1", 10, "bob"), msg("3", 30, "bob")}))

	// late arrival with an earlier timestamp lands in the middle
	_, err := e.Merge("c1", []model.Message{msg("1", 10, "bob"), msg("3", 30, "bob"), msg("2", 20, "ann")})
	require.NoError(t, err)
	assert.Equal(t, []model.ID{"1", "2", "3"}, ids(e.Messages()))

	got := e.Messages()
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Timestamp.Before(got[i-1].Timestamp))
	}
}

func TestMerge_NoDuplicateIDs(t *testing.T) {
	e := New("c1", "me")
	batch := []model.Message{msg("1", 10, "bob"), msg("1", 10, "bob"), msg("2", 20, "bob")}
	_, err := e.Merge("c1", batch)
	require.NoError(t, err)
	assert.Equal(t, []model.ID{"1", "2"}, ids(e.Messages()))
}

func TestMerge_ForeignConversationIsStale(t *testing.T) {
	e := New("c1", "me")
	_, err := e.Merge("c2", []model.Message{msg("1", 10, "bob")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrStaleResponse))
	assert.True(t, apperr.Silent(err))
	assert.Equal(t, 0, e.Len())

	assert.True(t, errors.Is(e.Load("c2", nil), apperr.ErrStaleResponse))
}

func TestSendThenPoll_NoDuplicate(t *testing.T) {
	e := New("c1", "me")
	require.NoError(t, e.Load("c1", []model.Message{msg("1", 10, "bob")}))

	tmp := e.AppendOptimistic(model.Message{Content: "hello", Sender: &model.User{ID: "me"}, Timestamp: t0.Add(40 * time.Second)})
	assert.True(t, IsTempID(tmp.ID))
	assert.True(t, tmp.Pending)
	assert.Equal(t, 2, e.Len())

	server := msg("9", 40, "me")
	server.Content = "hello"
	e.Confirm(tmp.ID, server)

	_, err := e.Merge("c1", []model.Message{msg("1", 10, "bob"), server})
	require.NoError(t, err)

	got := e.Messages()
	assert.Equal(t, []model.ID{"1", "9"}, ids(got))
	assert.True(t, got[1].IsOwn)
	assert.False(t, got[1].Pending)
}

func countContent(ms []model.Message, content string) int {
	n := 0
	for _, m := range ms {
		if m.Content == content {
			n++
		}
	}
	return n
}

func TestSendThenPoll_PollWinsRace(t *testing.T) {
	e := New("c1", "me")
	require.NoError(t, e.Load("c1", []model.Message{msg("1", -10, "bob")}))
	tmp := e.AppendOptimistic(model.Message{Content: "hello", Sender: &model.User{ID: "me"}, Timestamp: t0})
	server := msg("9", 1, "me")
	server.Content = "hello"

	// the poll lands before the POST response is processed
	res, err := e.Merge("c1", []model.Message{msg("1", -10, "bob"), server})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)

	before := e.Messages()
	assert.Equal(t, 1, countContent(before, "hello"))
	assert.Equal(t, []model.ID{"1", "9"}, ids(before))
	assert.False(t, before[1].Pending)
	assert.True(t, before[1].IsOwn)
	_, ok := e.Get(tmp.ID)
	assert.False(t, ok)

	v := e.Version()
	got := e.Confirm(tmp.ID, server)
	assert.Equal(t, model.ID("9"), got.ID)
	assert.Equal(t, v, e.Version(), "confirm after the poll claimed the entry changes nothing")
	assert.Equal(t, []model.ID{"1", "9"}, ids(e.Messages()))
}

func TestSendThenPoll_ClaimsOldestMatchingSend(t *testing.T) {
	e := New("c1", "me")
	me := &model.User{ID: "me"}
	first := e.AppendOptimistic(model.Message{Content: "ok", Sender: me, Timestamp: t0})
	second := e.AppendOptimistic(model.Message{Content: "ok", Sender: me, Timestamp: t0.Add(time.Second)})
	pic := e.AppendOptimistic(model.Message{
		Content: "ok", Sender: me, Timestamp: t0.Add(2 * time.Second),
		Attachment: &model.Attachment{Kind: model.AttachmentImage, FileName: "a.png"},
	})

	server := msg("20", 0, "me")
	server.Content = "ok"
	_, err := e.Merge("c1", []model.Message{server})
	require.NoError(t, err)

	assert.Equal(t, 3, e.Len())
	_, ok := e.Get(first.ID)
	assert.False(t, ok, "oldest pending send is replaced")
	_, ok = e.Get(second.ID)
	assert.True(t, ok)
	_, ok = e.Get(pic.ID)
	assert.True(t, ok, "attachment kind must match")

	// someone else saying the same thing never claims a pending send
	other := msg("21", 5, "bob")
	other.Content = "ok"
	_, err = e.Merge("c1", []model.Message{server, other})
	require.NoError(t, err)
	assert.Equal(t, 4, e.Len())
	_, ok = e.Get(second.ID)
	assert.True(t, ok)
}

func TestLoad_ClaimsPendingSend(t *testing.T) {
	e := New("c1", "me")
	tmp := e.AppendOptimistic(model.Message{Content: "hello", Sender: &model.User{ID: "me"}, Timestamp: t0})
	server := msg("9", 0, "me")
	server.Content = "hello"
	require.NoError(t, e.Load("c1", []model.Message{server}))

	assert.Equal(t, []model.ID{"9"}, ids(e.Messages()))
	e.Confirm(tmp.ID, server)
	assert.Equal(t, []model.ID{"9"}, ids(e.Messages()))
}

func TestDiscard(t *testing.T) {
	e := New("c1", "me")
	tmp := e.AppendOptimistic(model.Message{Content: "x"})
	assert.True(t, e.Discard(tmp.ID))
	assert.False(t, e.Discard(tmp.ID))
	assert.Equal(t, 0, e.Len())
}

func TestLoad_KeepsPendingSends(t *testing.T) {
	e := New("c1", "me")
	tmp := e.AppendOptimistic(model.Message{Content: "x", Timestamp: t0.Add(time.Hour)})
	require.NoError(t, e.Load("c1", []model.Message{msg("1", 10, "bob")}))
	assert.Equal(t, []model.ID{"1", tmp.ID}, ids(e.Messages()))
}

func TestRemove_TombstoneBlocksResurrection(t *testing.T) {
	e := New("c1", "me")
	require.NoError(t, e.Load("c1", []model.Message{msg("1", 10, "bob"), msg("2", 20, "bob")}))
	assert.True(t, e.Remove("1"))

	// stale poll still contains the deleted id
	_, err := e.Merge("c1", []model.Message{msg("1", 10, "bob"), msg("2", 20, "bob"), msg("3", 30, "bob")})
	require.NoError(t, err)
	assert.Equal(t, []model.ID{"2", "3"}, ids(e.Messages()))

	assert.False(t, e.Remove("1"))
}

func TestTombstone_Preloaded(t *testing.T) {
	e := New("c1", "me")
	e.Tombstone("1")
	require.NoError(t, e.Load("c1", []model.Message{msg("1", 10, "bob"), msg("2", 20, "bob")}))
	assert.Equal(t, []model.ID{"2"}, ids(e.Messages()))
}

func TestApplyEdit_KeepsAttachment(t *testing.T) {
	e := New("c1", "me")
	m := msg("1", 10, "me")
	m.Attachment = &model.Attachment{Kind: model.AttachmentAudio, URL: "http://cdn/a.mp3", FileName: "a.mp3"}
	require.NoError(t, e.Load("c1", []model.Message{m}))

	assert.True(t, e.ApplyEdit("1", "edited"))
	got, ok := e.Get("1")
	require.True(t, ok)
	assert.Equal(t, "edited", got.Content)
	assert.Equal(t, m.Attachment, got.Attachment)
	assert.Equal(t, m.Timestamp, got.Timestamp)

	assert.False(t, e.ApplyEdit("missing", "x"))
}

func TestMessages_IsSnapshot(t *testing.T) {
	e := New("c1", "me")
	require.NoError(t, e.Load("c1", []model.Message{msg("1", 10, "bob")}))
	got := e.Messages()
	got[0].Content = "changed"
	got[0].Sender.Username = "changed"

	again, _ := e.Get("1")
	assert.Equal(t, "m1", again.Content)
	assert.Equal(t, "ubob", again.Sender.Username)
}
