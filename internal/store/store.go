// Package store defines the persistence contract of the sync engine.
package store

import (
	"context"
	"errors"

	"mirrorsync/internal/model"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("not found")

// Repository is the persistence interface the engine reconciles against.
// Implementations must enforce uniqueness of (profile_id, shortcode).
type Repository interface {
	// GetProfile looks a profile up by case-folded username.
	GetProfile(ctx context.Context, username string) (*model.Profile, error)
	// UpsertProfile inserts or updates by username and sets p.ID.
	UpsertProfile(ctx context.Context, p *model.Profile) error

	// FindOrCreatePost returns the post for shortcode, inserting an empty
	// pending row if none exists. created reports whether it was inserted.
	FindOrCreatePost(ctx context.Context, profileID int64, shortcode string) (post *model.Post, created bool, err error)
	SavePost(ctx context.Context, p *model.Post) error
	// ListPosts returns every stored post of a profile, deleted ones included.
	ListPosts(ctx context.Context, profileID int64) ([]model.Post, error)

	// ListComments returns a post's comments in insertion order.
	ListComments(ctx context.Context, postID int64) ([]model.Comment, error)
	// ReplaceComments atomically clears a post's comments and inserts comments.
	ReplaceComments(ctx context.Context, postID int64, comments []model.Comment) error

	// AttachMedia replaces the media attached to a post.
	AttachMedia(ctx context.Context, postID int64, blob model.MediaBlob) error
	HasMedia(ctx context.Context, postID int64) (bool, error)

	RecordSyncRun(ctx context.Context, run model.SyncRun) error
	LatestSyncRun(ctx context.Context, username string) (*model.SyncRun, error)

	Close() error
}
