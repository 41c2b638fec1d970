// Package ingest reconciles fetched profile datasets into the repository.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mirrorsync/internal/model"
	"mirrorsync/internal/store"
)

// Outcome is the result of reconciling one post record.
type Outcome struct {
	Post             *model.Post
	Change           model.Change
	AnalysisRequired bool
}

// Reconciler upserts a single post with its media and comments.
type Reconciler struct {
	Repo     store.Repository
	Trust    TrustEvaluator
	Media    MediaFetcher
	Account  model.Account
	Comments *CommentSynchronizer
}

func NewReconciler(repo store.Repository, trust TrustEvaluator, fetcher MediaFetcher, account model.Account) *Reconciler {
	return &Reconciler{
		Repo:     repo,
		Trust:    trust,
		Media:    fetcher,
		Account:  account,
		Comments: &CommentSynchronizer{Repo: repo},
	}
}

// Reconcile returns nil, nil for a record without a shortcode. Repository
// errors abort; media failures never do.
func (r *Reconciler) Reconcile(ctx context.Context, profile *model.Profile, record model.PostRecord, syncedAt time.Time, source string) (*Outcome, error) {
	shortcode := strings.TrimSpace(record.Shortcode)
	if shortcode == "" {
		return nil, nil
	}
	post, created, err := r.Repo.FindOrCreatePost(ctx, profile.ID, shortcode)
	if err != nil {
		return nil, fmt.Errorf("find post %s: %w", shortcode, err)
	}

	beforeChange := changeSignatureOf(post)
	beforeAnalysis := analysisSignatureOf(post)
	wasDeleted := post.Deleted()
	storedMediaID := post.Metadata.MediaID

	post.Metadata = mergeMetadata(post.Metadata, record, source, wasDeleted, syncedAt)
	post.TakenAt = record.TakenAt.TimePtr()
	post.Caption = record.Caption
	post.Permalink = strings.TrimSpace(record.Permalink)
	post.SourceMediaURL = record.SourceMediaURL()
	post.LikesCount = record.LikesCount
	post.CommentsCount = max(len(record.Comments), record.CommentsCount)
	synced := syncedAt
	post.LastSyncedAt = &synced
	if err := r.Repo.SavePost(ctx, post); err != nil {
		return nil, err
	}

	mediaChanged, err := r.syncMedia(ctx, profile, post, strings.TrimSpace(record.MediaID), storedMediaID)
	if err != nil {
		return nil, err
	}
	if mediaChanged {
		if err := r.Repo.SavePost(ctx, post); err != nil {
			return nil, err
		}
	}
	if _, err := r.Comments.Sync(ctx, post, record.Comments, record.CommentsCount); err != nil {
		return nil, err
	}

	change := model.ChangeUnchanged
	switch {
	case created:
		change = model.ChangeCreated
	case wasDeleted:
		change = model.ChangeRestored
	case changeSignatureOf(post) != beforeChange:
		change = model.ChangeUpdated
	}

	required := created || wasDeleted ||
		analysisSignatureOf(post) != beforeAnalysis ||
		post.AnalysisStatus != model.AnalysisAnalyzed ||
		post.AnalyzedAt == nil
	if required && (post.AnalysisStatus != model.AnalysisPending || post.AnalyzedAt != nil) {
		// only the external analyzer moves a post forward again
		post.AnalysisStatus = model.AnalysisPending
		post.AnalyzedAt = nil
		if err := r.Repo.SavePost(ctx, post); err != nil {
			return nil, err
		}
	}
	return &Outcome{Post: post, Change: change, AnalysisRequired: required}, nil
}

func mergeMetadata(meta model.PostMetadata, record model.PostRecord, source string, wasDeleted bool, syncedAt time.Time) model.PostMetadata {
	if v := strings.TrimSpace(record.MediaType); v != "" {
		meta.MediaType = v
	}
	if v := strings.TrimSpace(record.MediaID); v != "" {
		meta.MediaID = v
	}
	reported := record.CommentsCount
	meta.ReportedCommentsCount = &reported
	if source != "" {
		meta.Source = source
	}
	meta.StripDeletion()
	if wasDeleted {
		t := syncedAt
		meta.RestoredAt = &t
	}
	return meta
}
