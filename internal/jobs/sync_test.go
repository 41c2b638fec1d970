package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrorsync/internal/config"
	"mirrorsync/internal/ingest"
	"mirrorsync/internal/media"
	"mirrorsync/internal/metrics"
	"mirrorsync/internal/model"
	"mirrorsync/internal/schedule"
	"mirrorsync/internal/source"
	"mirrorsync/internal/store"
	"mirrorsync/internal/store/sqlite"
	"mirrorsync/internal/trust"
)

const aliceDataset = `{"profile": {"display_name": "Alice"}, "posts": [
  {"shortcode": "A", "taken_at": "2024-05-01T10:00:00Z", "caption": "one", "comments_count": 0, "comments": []},
  {"shortcode": "B", "taken_at": "2024-05-02T10:00:00Z", "caption": "two", "comments_count": 0, "comments": []}
]}`

func newRunner(t *testing.T) (*Runner, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alice.json"), []byte(aliceDataset), 0o644))

	cfg := config.Default()
	account := model.Account{Username: "owner"}
	rec := ingest.NewReconciler(db, trust.NewPolicy(cfg.Trust, nil), media.NewRetriever(cfg.Media, ""), account)
	fixed := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	return &Runner{
		Repo:                  db,
		Source:                source.NewFileSource(dir),
		Orchestrator:          ingest.NewOrchestrator(db, rec),
		Locks:                 NewProfileLocks(),
		TrackMissingAsDeleted: true,
		SourceTag:             "profile_sync",
		Now:                   func() time.Time { return fixed },
	}, db
}

func TestRunSyncOnceRecordsRun(t *testing.T) {
	r, db := newRunner(t)
	ctx := context.Background()
	before := testutil.ToFloat64(metrics.PostChanges.WithLabelValues("created"))

	res, err := r.RunSyncOnce(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Summary.CreatedCount)
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.PostChanges.WithLabelValues("created")))

	run, err := db.LatestSyncRun(ctx, "ALICE")
	require.NoError(t, err)
	assert.Empty(t, run.Error)
	require.NotNil(t, run.Summary)
	assert.Equal(t, []string{"A", "B"}, run.Summary.CreatedShortcodes)
	id, err := uuid.Parse(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
	assert.Equal(t, res.Summary.RunID, run.RunID)
}

func TestRunSyncOnceRecordsFailure(t *testing.T) {
	r, db := newRunner(t)
	ctx := context.Background()
	before := testutil.ToFloat64(metrics.SyncErrors)

	_, err := r.RunSyncOnce(ctx, "nobody")
	require.Error(t, err)
	assert.True(t, errors.Is(err, source.ErrNoDataset))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SyncErrors))

	run, err := db.LatestSyncRun(ctx, "nobody")
	require.NoError(t, err)
	assert.Contains(t, run.Error, "no dataset")
	assert.Nil(t, run.Summary)
}

func TestRunDatasetSkipsSource(t *testing.T) {
	r, _ := newRunner(t)
	r.Source = nil
	ds := model.SyncDataset{Posts: []model.PostRecord{{Shortcode: "Z"}}}
	res, err := r.RunDataset(context.Background(), "carol", ds)
	require.NoError(t, err)
	assert.Equal(t, []string{"Z"}, res.Summary.CreatedShortcodes)
}

func TestRunSyncNowRefusesConcurrentCycle(t *testing.T) {
	r, _ := newRunner(t)
	unlock := r.Locks.Lock("Alice")
	_, err := r.RunSyncNow(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrBusy)
	unlock()

	_, err = r.RunSyncNow(context.Background(), "alice")
	assert.NoError(t, err)
}

func TestProfileLocksAreCaseInsensitive(t *testing.T) {
	l := NewProfileLocks()
	unlock := l.Lock("Alice")
	_, ok := l.TryLock("@alice")
	assert.False(t, ok)
	other, ok := l.TryLock("bob")
	require.True(t, ok)
	other()
	unlock()
	again, ok := l.TryLock("ALICE")
	require.True(t, ok)
	again()
}

func TestRunSyncLoopRunsImmediatelyAndStops(t *testing.T) {
	r, db := newRunner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := r.RunSyncLoop(ctx, []string{"nobody", "alice"}, time.Hour)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the failing profile did not stop the next one
	run, err := db.LatestSyncRun(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, run.Error)

	assert.Error(t, r.RunSyncLoop(context.Background(), nil, time.Hour))
	assert.Error(t, r.RunSyncLoop(context.Background(), []string{"alice"}, 0))
}

func TestRunSyncLoopSkipsQuietHours(t *testing.T) {
	r, db := newRunner(t)
	r.QuietHours = schedule.Valid([]int{0})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_ = r.RunSyncLoop(ctx, []string{"alice"}, time.Hour)
	_, err := db.LatestSyncRun(context.Background(), "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

var _ store.Repository = (*sqlite.DB)(nil)
