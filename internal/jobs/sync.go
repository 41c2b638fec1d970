package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mirrorsync/internal/ingest"
	"mirrorsync/internal/logging"
	"mirrorsync/internal/metrics"
	"mirrorsync/internal/model"
	"mirrorsync/internal/schedule"
	"mirrorsync/internal/source"
	"mirrorsync/internal/store"
)

// ErrBusy is returned by RunSyncNow when a cycle for the profile is running.
var ErrBusy = errors.New("sync already running")

// Runner wires a dataset source to the orchestrator and records each cycle.
type Runner struct {
	Repo                  store.Repository
	Source                source.Source
	Orchestrator          *ingest.Orchestrator
	Locks                 *ProfileLocks
	TrackMissingAsDeleted bool
	SourceTag             string
	// Loop ticks inside these hours are skipped.
	QuietHours schedule.QuietHours
	Now        func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// RunSyncOnce fetches the current dataset for username and reconciles it.
func (r *Runner) RunSyncOnce(ctx context.Context, username string) (*ingest.Result, error) {
	unlock := r.Locks.Lock(username)
	defer unlock()
	return r.run(ctx, username, nil)
}

// RunSyncNow is RunSyncOnce that fails with ErrBusy instead of waiting.
func (r *Runner) RunSyncNow(ctx context.Context, username string) (*ingest.Result, error) {
	unlock, ok := r.Locks.TryLock(username)
	if !ok {
		return nil, ErrBusy
	}
	defer unlock()
	return r.run(ctx, username, nil)
}

// RunDataset reconciles an already loaded dataset.
func (r *Runner) RunDataset(ctx context.Context, username string, ds model.SyncDataset) (*ingest.Result, error) {
	unlock := r.Locks.Lock(username)
	defer unlock()
	return r.run(ctx, username, &ds)
}

func (r *Runner) run(ctx context.Context, username string, ds *model.SyncDataset) (*ingest.Result, error) {
	runID := newRunID()
	start := time.Now()
	run := model.SyncRun{RunID: runID, Username: username, StartedAt: r.now()}
	metrics.SyncRuns.Inc()

	res, err := r.cycle(ctx, username, ds, runID, run.StartedAt)
	metrics.ObserveSyncDuration(start)
	run.FinishedAt = r.now()
	if err != nil {
		metrics.SyncErrors.Inc()
		run.Error = err.Error()
		logging.Error("sync_run_error", map[string]any{"username": username, "run_id": runID, "error": err.Error()})
	} else {
		run.Summary = res.Summary
		countChanges(res.Summary)
		logging.Info("sync_run_ok", map[string]any{
			"username":            username,
			"run_id":              runID,
			"duration_ms":         time.Since(start).Milliseconds(),
			"analysis_candidates": len(res.Summary.AnalysisCandidateShortcodes),
		})
	}
	// a cancelled cycle is still recorded
	if rerr := r.Repo.RecordSyncRun(context.WithoutCancel(ctx), run); rerr != nil {
		logging.Error("sync_run_record_error", map[string]any{"username": username, "run_id": runID, "error": rerr.Error()})
		if err == nil {
			return res, fmt.Errorf("record sync run: %w", rerr)
		}
	}
	return res, err
}

func (r *Runner) cycle(ctx context.Context, username string, ds *model.SyncDataset, runID string, syncedAt time.Time) (*ingest.Result, error) {
	if ds == nil {
		fetched, err := r.Source.Fetch(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("fetch dataset %s: %w", username, err)
		}
		ds = &fetched
	}
	return r.Orchestrator.Run(ctx, username, *ds, ingest.Options{
		TrackMissingAsDeleted: r.TrackMissingAsDeleted,
		Source:                r.SourceTag,
		RunID:                 runID,
		SyncedAt:              syncedAt,
	})
}

// RunSyncLoop runs every profile immediately and then on each tick until ctx
// is cancelled. A failing profile does not stop the others.
func (r *Runner) RunSyncLoop(ctx context.Context, profiles []string, interval time.Duration) error {
	if len(profiles) == 0 {
		return errors.New("no profiles configured")
	}
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s", interval)
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	// run immediately
	r.syncAll(ctx, profiles)
	for {
		select {
		case <-ctx.Done():
			logging.Info("sync_loop_stop", nil)
			return ctx.Err()
		case <-t.C:
			r.syncAll(ctx, profiles)
		}
	}
}

func (r *Runner) syncAll(ctx context.Context, profiles []string) {
	if now := r.now(); r.QuietHours.Contains(now) {
		logging.Info("sync_loop_quiet", map[string]any{"next_window": r.QuietHours.NextWindow(now)})
		return
	}
	for _, p := range profiles {
		if ctx.Err() != nil {
			return
		}
		// errors are logged and recorded by run
		_, _ = r.RunSyncOnce(ctx, p)
	}
}

func countChanges(s *model.SyncSummary) {
	metrics.AddPostChanges(string(model.ChangeCreated), s.CreatedCount)
	metrics.AddPostChanges(string(model.ChangeUpdated), s.UpdatedCount)
	metrics.AddPostChanges(string(model.ChangeRestored), s.RestoredCount)
	metrics.AddPostChanges(string(model.ChangeDeleted), s.DeletedCount)
	metrics.AddPostChanges(string(model.ChangeUnchanged), s.UnchangedCount)
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
