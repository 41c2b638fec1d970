package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrorsync/internal/model"
	"mirrorsync/internal/store"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedProfile(t *testing.T, db *DB, username string) *model.Profile {
	t.Helper()
	p := &model.Profile{Username: username, Tags: []string{"friend"}}
	require.NoError(t, db.UpsertProfile(context.Background(), p))
	return p
}

func TestProfileUpsertIsCaseInsensitive(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	p := seedProfile(t, db, "Alice")
	require.NotZero(t, p.ID)

	again := &model.Profile{Username: "alice", DisplayName: "Alice A.", FollowersCount: 10, Following: true}
	require.NoError(t, db.UpsertProfile(ctx, again))
	assert.Equal(t, p.ID, again.ID)

	got, err := db.GetProfile(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", got.DisplayName)
	assert.Equal(t, 10, got.FollowersCount)
	assert.True(t, got.Following)
	assert.Equal(t, []string{}, got.Tags)

	_, err = db.GetProfile(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindOrCreatePostIsUniquePerProfile(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	a := seedProfile(t, db, "a")
	b := seedProfile(t, db, "b")

	p1, created, err := db.FindOrCreatePost(ctx, a.ID, "SC1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.AnalysisPending, p1.AnalysisStatus)

	p2, created, err := db.FindOrCreatePost(ctx, a.ID, "SC1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p1.ID, p2.ID)

	p3, created, err := db.FindOrCreatePost(ctx, b.ID, "SC1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, p1.ID, p3.ID)
}

func TestSavePostRoundTripsMetadataAndTimes(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	prof := seedProfile(t, db, "a")
	p, _, err := db.FindOrCreatePost(ctx, prof.ID, "SC1")
	require.NoError(t, err)

	taken := time.Date(2024, 5, 1, 10, 0, 0, 123, time.UTC)
	reported := 3
	p.TakenAt = &taken
	p.Caption = "hello"
	p.CommentsCount = 3
	p.Metadata = model.PostMetadata{MediaType: "image", MediaID: "m1", Source: "sync", ReportedCommentsCount: &reported,
		DeletedFromSource: true, DeletedReason: "missing_from_latest_capture", DeletedDetectedAt: &taken}
	require.NoError(t, db.SavePost(ctx, p))

	posts, err := db.ListPosts(ctx, prof.ID)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	got := posts[0]
	assert.True(t, got.TakenAt.Equal(taken))
	assert.Equal(t, "hello", got.Caption)
	assert.Equal(t, p.Metadata.MediaID, got.Metadata.MediaID)
	assert.True(t, got.Deleted())
	require.NotNil(t, got.Metadata.ReportedCommentsCount)
	assert.Equal(t, 3, *got.Metadata.ReportedCommentsCount)

	missing := &model.Post{ID: 9999, Shortcode: "nope"}
	assert.ErrorIs(t, db.SavePost(ctx, missing), store.ErrNotFound)
}

func TestReplaceCommentsClearsThenInserts(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	prof := seedProfile(t, db, "a")
	p, _, err := db.FindOrCreatePost(ctx, prof.ID, "SC1")
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, db.ReplaceComments(ctx, p.ID, []model.Comment{
		{AuthorUsername: "x", Body: "one", CommentedAt: &at, Source: "sync"},
		{Body: "two"},
	}))
	got, err := db.ListComments(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "x", got[0].AuthorUsername)
	assert.Equal(t, "", got[1].AuthorUsername)
	assert.Nil(t, got[1].CommentedAt)

	require.NoError(t, db.ReplaceComments(ctx, p.ID, []model.Comment{{Body: "three"}}))
	got, err = db.ListComments(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "three", got[0].Body)

	require.NoError(t, db.ReplaceComments(ctx, p.ID, nil))
	got, err = db.ListComments(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAttachMediaReplaces(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	prof := seedProfile(t, db, "a")
	p, _, err := db.FindOrCreatePost(ctx, prof.ID, "SC1")
	require.NoError(t, err)

	has, err := db.HasMedia(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, db.AttachMedia(ctx, p.ID, model.MediaBlob{Filename: "a.jpg", ContentType: "image/jpeg", SourceURL: "u1", Data: []byte{1}}))
	require.NoError(t, db.AttachMedia(ctx, p.ID, model.MediaBlob{Filename: "b.png", ContentType: "image/png", SourceURL: "u2", Data: []byte{2, 3}}))
	has, err = db.HasMedia(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, has)

	m, err := db.Media(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "b.png", m.Filename)
	assert.Equal(t, []byte{2, 3}, m.Data)
}

func TestSyncRunsLatest(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	_, err := db.LatestSyncRun(ctx, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sum := model.NewSyncSummary("r2", t0.Add(time.Hour))
	sum.Record("A", model.ChangeCreated, true)
	sum.Finalize()
	require.NoError(t, db.RecordSyncRun(ctx, model.SyncRun{RunID: "r1", Username: "Alice", StartedAt: t0, FinishedAt: t0, Error: "boom"}))
	require.NoError(t, db.RecordSyncRun(ctx, model.SyncRun{RunID: "r2", Username: "alice", StartedAt: t0.Add(time.Hour), FinishedAt: t0.Add(time.Hour), Summary: sum}))

	run, err := db.LatestSyncRun(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, "r2", run.RunID)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 1, run.Summary.CreatedCount)
	assert.Equal(t, []string{"A"}, run.Summary.AnalysisCandidateShortcodes)
}

func TestOpenFileDatabaseIsReopenable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.db")
	db, err := Open(path)
	require.NoError(t, err)
	seedProfile(t, db, "a")
	require.NoError(t, db.Close())

	db2, err := Open(path)
	require.NoError(t, err)
	defer db2.Close()
	_, err = db2.GetProfile(context.Background(), "a")
	assert.NoError(t, err)
}
