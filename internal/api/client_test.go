package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convsession/internal/apperr"
	"github.com/convsession/internal/devserver"
	"github.com/convsession/internal/model"
)

func backend(t *testing.T, prefix string) (*devserver.Server, *httptest.Server) {
	t.Helper()
	store := devserver.NewStore()
	require.NoError(t, devserver.Seed(store))
	srv := devserver.New(store, devserver.Options{Tokens: devserver.DemoTokens(), Prefix: prefix})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func client(ts *httptest.Server, token string) *Client {
	return NewClient(Options{BaseURL: ts.URL, Token: token})
}

func TestGetMessages(t *testing.T) {
	_, ts := backend(t, "")
	msgs, err := client(ts, "dev-alice").GetMessages(context.Background(), devserver.DemoPrivateID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hi Bob!", msgs[0].Content)
	assert.Equal(t, devserver.DemoPrivateID, msgs[0].ConversationID)
	assert.Equal(t, "alice", msgs[0].Sender.Username)
}

func TestGetMessages_SystemMessages(t *testing.T) {
	_, ts := backend(t, "")
	msgs, err := client(ts, "dev-carol").GetMessages(context.Background(), devserver.DemoGroupID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.True(t, msgs[0].IsSystem)
	assert.Equal(t, model.SystemGroupCreated, msgs[0].SystemType)
	assert.False(t, msgs[2].IsSystem)
}

func TestGetMessages_PaginatedBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/msg/conversations/7/messages", r.URL.Path)
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":1,"results":[{"id":5,"content":"hi","timestamp":"2024-01-01T00:00:00Z"}]}`))
	}))
	defer ts.Close()

	c := NewClient(Options{BaseURL: ts.URL, Prefix: "msg", Token: "t"})
	msgs, err := c.GetMessages(context.Background(), "7")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.ID("5"), msgs[0].ID)
	assert.Equal(t, model.ID("7"), msgs[0].ConversationID)
}

func TestGetConversation(t *testing.T) {
	_, ts := backend(t, "/msg")
	c := NewClient(Options{BaseURL: ts.URL, Prefix: "/msg", Token: "dev-bob"})
	conv, err := c.GetConversation(context.Background(), devserver.DemoGroupID)
	require.NoError(t, err)
	assert.True(t, conv.IsGroup)
	assert.True(t, conv.IsAdmin("2"))
	assert.True(t, conv.IsAdmin("1"))
	assert.False(t, conv.IsAdmin("3"))
}

func TestSendMessage_Text(t *testing.T) {
	_, ts := backend(t, "")
	c := client(ts, "dev-bob")
	msg, err := c.SendMessage(context.Background(), devserver.DemoPrivateID, Outgoing{Content: "on my way"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "on my way", msg.Content)
	assert.Nil(t, msg.Attachment)

	msgs, err := c.GetMessages(context.Background(), devserver.DemoPrivateID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, msgs[len(msgs)-1].ID)
}

func TestSendMessage_Attachments(t *testing.T) {
	_, ts := backend(t, "")
	c := client(ts, "dev-alice")
	cases := []struct {
		upload Upload
		want   model.AttachmentKind
	}{
		{Upload{Kind: model.AttachmentImage, FileName: "cat.png", Data: strings.NewReader("png")}, model.AttachmentImage},
		{Upload{Kind: model.AttachmentAudio, FileName: "voice.ogg", Data: strings.NewReader("ogg")}, model.AttachmentAudio},
		{Upload{Kind: model.AttachmentVideo, FileName: "clip.mp4", Data: strings.NewReader("mp4")}, model.AttachmentVideo},
		{Upload{Kind: model.AttachmentFile, FileName: "notes.pdf", Data: strings.NewReader("pdf")}, model.AttachmentFile},
	}
	for _, tc := range cases {
		t.Run(tc.upload.FileName, func(t *testing.T) {
			up := tc.upload
			msg, err := c.SendMessage(context.Background(), devserver.DemoPrivateID, Outgoing{Attachment: &up})
			require.NoError(t, err)
			require.NotNil(t, msg.Attachment)
			assert.Equal(t, tc.want, msg.Attachment.Kind)
			assert.Equal(t, tc.upload.FileName, msg.Attachment.FileName)
			assert.Contains(t, msg.Attachment.URL, "/media/")
		})
	}
}

func TestSendMessage_EmptyIsRejectedLocally(t *testing.T) {
	c := NewClient(Options{BaseURL: "http://127.0.0.1:1", Token: "t"})
	_, err := c.SendMessage(context.Background(), "1", Outgoing{Content: "  "})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestEditMessage(t *testing.T) {
	srv, ts := backend(t, "")
	msgs, err := srv.Store().Messages(devserver.DemoPrivateID, "1")
	require.NoError(t, err)
	fromAlice, fromBob := msgs[0], msgs[1]

	got, err := client(ts, "dev-alice").EditMessage(context.Background(), devserver.DemoPrivateID, fromAlice.ID, "Hello Bob!")
	require.NoError(t, err)
	assert.Equal(t, "Hello Bob!", got.Content)

	_, err = client(ts, "dev-alice").EditMessage(context.Background(), devserver.DemoPrivateID, fromBob.ID, "nope")
	assert.True(t, errors.Is(err, apperr.ErrPermission))
}

func TestDelete(t *testing.T) {
	srv, ts := backend(t, "")
	ctx := context.Background()
	msgs, _ := srv.Store().Messages(devserver.DemoPrivateID, "1")

	require.NoError(t, client(ts, "dev-alice").DeleteForMe(ctx, devserver.DemoPrivateID, msgs[1].ID))
	mine, _ := client(ts, "dev-alice").GetMessages(ctx, devserver.DemoPrivateID)
	assert.Len(t, mine, 1)

	err := client(ts, "dev-bob").DeleteForEveryone(ctx, devserver.DemoPrivateID, msgs[0].ID)
	assert.True(t, errors.Is(err, apperr.ErrPermission))
	require.NoError(t, client(ts, "dev-alice").DeleteForEveryone(ctx, devserver.DemoPrivateID, msgs[0].ID))
	theirs, _ := client(ts, "dev-bob").GetMessages(ctx, devserver.DemoPrivateID)
	assert.Len(t, theirs, 1)

	err = client(ts, "dev-alice").DeleteForMe(ctx, devserver.DemoPrivateID, "999")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestBlockUser(t *testing.T) {
	srv, ts := backend(t, "")
	require.NoError(t, client(ts, "dev-alice").BlockUser(context.Background(), "2"))
	assert.True(t, srv.Store().Blocked("1", "2"))
}

func TestErrorKinds(t *testing.T) {
	_, ts := backend(t, "")
	ctx := context.Background()

	_, err := client(ts, "wrong").GetMessages(ctx, devserver.DemoPrivateID)
	assert.True(t, errors.Is(err, apperr.ErrSessionExpired))

	_, err = client(ts, "").GetMessages(ctx, devserver.DemoPrivateID)
	assert.True(t, errors.Is(err, apperr.ErrSessionExpired))

	_, err = client(ts, "dev-carol").GetMessages(ctx, devserver.DemoPrivateID)
	assert.True(t, errors.Is(err, apperr.ErrPermission))
	var ae *apperr.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "not a member", ae.Msg)

	_, err = client(ts, "dev-alice").GetMessages(ctx, "404")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = client(ts, "dev-alice").GetMessages(cctx, devserver.DemoPrivateID)
	assert.True(t, errors.Is(err, apperr.ErrStaleResponse))
	assert.True(t, apperr.Silent(err))

	_, err = NewClient(Options{BaseURL: "http://127.0.0.1:1", Token: "t"}).GetMessages(ctx, "1")
	assert.True(t, errors.Is(err, apperr.ErrNetwork))
}
