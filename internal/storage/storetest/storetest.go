// Package storetest holds behaviour checks shared by every SessionStore implementation.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convsession/internal/model"
	"github.com/convsession/internal/storage"
)

func Run(t *testing.T, s storage.SessionStore) {
	t.Run("tombstones", func(t *testing.T) { tombstones(t, s) })
	t.Run("last seen", func(t *testing.T) { lastSeen(t, s) })
	t.Run("drafts", func(t *testing.T) { drafts(t, s) })
}

func tombstones(t *testing.T, s storage.SessionStore) {
	ctx := context.Background()
	got, err := s.Tombstones(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.AddTombstone(ctx, "u1", "c1", "10"))
	require.NoError(t, s.AddTombstone(ctx, "u1", "c1", "11"))
	require.NoError(t, s.AddTombstone(ctx, "u1", "c1", "10"))
	require.NoError(t, s.AddTombstone(ctx, "u2", "c1", "12"))

	got, err = s.Tombstones(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.ID{"10", "11"}, got)

	got, err = s.Tombstones(ctx, "u1", "c2")
	require.NoError(t, err)
	assert.Empty(t, got, "scoped per conversation")
}

func lastSeen(t *testing.T, s storage.SessionStore) {
	ctx := context.Background()
	id, err := s.LastSeen(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, model.ID(""), id)

	require.NoError(t, s.SetLastSeen(ctx, "u1", "c1", "42"))
	require.NoError(t, s.SetLastSeen(ctx, "u1", "c1", "43"))
	id, err = s.LastSeen(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, model.ID("43"), id)
}

func drafts(t *testing.T, s storage.SessionStore) {
	ctx := context.Background()
	_, ok, err := s.Draft(ctx, "u1", "c1", "5")
	require.NoError(t, err)
	assert.False(t, ok)

	d := storage.UserDrafts{Store: s, UserID: "u1"}
	require.NoError(t, d.SaveDraft(ctx, "c1", "5", "half a thought"))
	text, ok, err := d.Draft(ctx, "c1", "5")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "half a thought", text)

	_, ok, err = s.Draft(ctx, "u2", "c1", "5")
	require.NoError(t, err)
	assert.False(t, ok, "drafts are per user")

	require.NoError(t, d.DeleteDraft(ctx, "c1", "5"))
	_, ok, err = d.Draft(ctx, "c1", "5")
	require.NoError(t, err)
	assert.False(t, ok)
}
