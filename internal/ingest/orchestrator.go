package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mirrorsync/internal/logging"
	"mirrorsync/internal/model"
	"mirrorsync/internal/store"
	"mirrorsync/internal/urlnorm"
	"mirrorsync/internal/util"
)

// DeletedReasonMissing marks posts absent from the latest dataset.
const DeletedReasonMissing = "missing_from_latest_capture"

// Options control one orchestrator run.
type Options struct {
	TrackMissingAsDeleted bool
	// Source tags posts and comments with their provenance.
	Source   string
	RunID    string
	SyncedAt time.Time
}

// Result is what one run produced.
type Result struct {
	Details *model.Profile     `json:"details"`
	Posts   []model.Post       `json:"posts"`
	Summary *model.SyncSummary `json:"summary"`
}

// Orchestrator runs a full sync cycle for one profile. Callers must not run
// two cycles for the same profile concurrently.
type Orchestrator struct {
	Repo       store.Repository
	Reconciler *Reconciler
}

func NewOrchestrator(repo store.Repository, reconciler *Reconciler) *Orchestrator {
	return &Orchestrator{Repo: repo, Reconciler: reconciler}
}

func (o *Orchestrator) Run(ctx context.Context, username string, dataset model.SyncDataset, opts Options) (*Result, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return nil, errors.New("empty username")
	}
	syncedAt := opts.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}
	syncedAt = syncedAt.UTC()

	profile, err := o.Repo.GetProfile(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		profile = &model.Profile{Username: username}
	} else if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", username, err)
	}
	mergeDetails(profile, dataset)
	profile.LastSyncedAt = &syncedAt
	if err := o.Repo.UpsertProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("save profile %s: %w", username, err)
	}

	summary := model.NewSyncSummary(opts.RunID, syncedAt)
	fetched := make(map[string]struct{}, len(dataset.Posts))
	for _, record := range dataset.Posts {
		out, err := o.Reconciler.Reconcile(ctx, profile, record, syncedAt, opts.Source)
		if err != nil {
			return nil, err
		}
		if out == nil {
			continue
		}
		// a repeated shortcode keeps its first classification
		if _, seen := fetched[out.Post.Shortcode]; seen {
			continue
		}
		fetched[out.Post.Shortcode] = struct{}{}
		summary.Record(out.Post.Shortcode, out.Change, out.AnalysisRequired)
	}

	if opts.TrackMissingAsDeleted && len(fetched) > 0 {
		if err := o.sweepMissing(ctx, profile, fetched, syncedAt, summary); err != nil {
			return nil, err
		}
	}
	summary.Finalize()

	posts, err := o.Repo.ListPosts(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("list posts %s: %w", username, err)
	}
	logging.Info("sync_cycle", map[string]any{
		"username":  profile.Username,
		"run_id":    opts.RunID,
		"created":   summary.CreatedCount,
		"updated":   summary.UpdatedCount,
		"restored":  summary.RestoredCount,
		"deleted":   summary.DeletedCount,
		"unchanged": summary.UnchangedCount,
	})
	return &Result{Details: profile, Posts: posts, Summary: summary}, nil
}

// sweepMissing soft-deletes stored posts that were not in the fetched set.
func (o *Orchestrator) sweepMissing(ctx context.Context, profile *model.Profile, fetched map[string]struct{}, syncedAt time.Time, summary *model.SyncSummary) error {
	stored, err := o.Repo.ListPosts(ctx, profile.ID)
	if err != nil {
		return fmt.Errorf("list posts %s: %w", profile.Username, err)
	}
	for i := range stored {
		p := &stored[i]
		if _, ok := fetched[p.Shortcode]; ok || p.Deleted() {
			continue
		}
		detected := syncedAt
		p.Metadata.DeletedFromSource = true
		p.Metadata.DeletedDetectedAt = &detected
		p.Metadata.DeletedReason = DeletedReasonMissing
		p.LastSyncedAt = &detected
		if err := o.Repo.SavePost(ctx, p); err != nil {
			return err
		}
		summary.Record(p.Shortcode, model.ChangeDeleted, false)
	}
	return nil
}

// mergeDetails overlays non-blank dataset fields onto the stored profile.
func mergeDetails(p *model.Profile, dataset model.SyncDataset) {
	d := dataset.Profile
	if v := util.NormalizeWhitespace(d.DisplayName); v != "" {
		p.DisplayName = v
	}
	if v, ok := urlnorm.Normalize(d.ProfilePicURL); ok {
		p.ProfilePicURL = v
	}
	if v := strings.TrimSpace(d.PlatformUserID); v != "" {
		p.PlatformUserID = v
	}
	if v := strings.TrimSpace(d.Bio); v != "" {
		p.Bio = v
	}
	if v := util.NormalizeWhitespace(d.CategoryName); v != "" {
		p.CategoryName = v
	}
	if d.FollowersCount != nil {
		p.FollowersCount = *d.FollowersCount
	}
	if d.IsBusinessAccount != nil {
		p.IsBusinessAccount = bool(*d.IsBusinessAccount)
	}
	if t := d.LastPostAt.TimePtr(); t != nil {
		p.LastPostAt = t
		return
	}
	// without an explicit value, the newest post seen moves it forward
	for _, rec := range dataset.Posts {
		if t := rec.TakenAt.TimePtr(); t != nil && (p.LastPostAt == nil || t.After(*p.LastPostAt)) {
			p.LastPostAt = t
		}
	}
}
