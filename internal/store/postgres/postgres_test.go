package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrorsync/internal/model"
	"mirrorsync/internal/store"
)

// Runs against a real server only when MIRRORSYNC_POSTGRES_DSN is set.
func openTest(t *testing.T) *Storage {
	t.Helper()
	dsn := os.Getenv("MIRRORSYNC_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MIRRORSYNC_POSTGRES_DSN not set")
	}
	s, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresRepositoryRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	username := "pgtest_" + uuid.NewString()[:8]

	prof := &model.Profile{Username: username, Tags: []string{"friend"}}
	require.NoError(t, s.UpsertProfile(ctx, prof))
	got, err := s.GetProfile(ctx, username)
	require.NoError(t, err)
	assert.Equal(t, []string{"friend"}, got.Tags)

	post, created, err := s.FindOrCreatePost(ctx, prof.ID, "SC1")
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = s.FindOrCreatePost(ctx, prof.ID, "SC1")
	require.NoError(t, err)
	assert.False(t, created)

	taken := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	post.TakenAt = &taken
	post.Metadata = model.PostMetadata{MediaID: "m1", DeletedFromSource: true}
	require.NoError(t, s.SavePost(ctx, post))
	posts, err := s.ListPosts(ctx, prof.ID)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.True(t, posts[0].TakenAt.Equal(taken))
	assert.True(t, posts[0].Deleted())

	require.NoError(t, s.ReplaceComments(ctx, post.ID, []model.Comment{{Body: "a"}, {AuthorUsername: "x", Body: "b"}}))
	comments, err := s.ListComments(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "x", comments[1].AuthorUsername)

	require.NoError(t, s.AttachMedia(ctx, post.ID, model.MediaBlob{Filename: "f.jpg", ContentType: "image/jpeg", SourceURL: "u", Data: []byte{1}}))
	has, err := s.HasMedia(ctx, post.ID)
	require.NoError(t, err)
	assert.True(t, has)

	_, err = s.LatestSyncRun(ctx, username)
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, s.RecordSyncRun(ctx, model.SyncRun{RunID: uuid.NewString(), Username: username, StartedAt: taken, FinishedAt: taken}))
	run, err := s.LatestSyncRun(ctx, username)
	require.NoError(t, err)
	assert.Nil(t, run.Summary)
}
