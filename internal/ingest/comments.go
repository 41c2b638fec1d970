package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mirrorsync/internal/model"
	"mirrorsync/internal/store"
)

// MaxComments is how many comments of a post are mirrored.
const MaxComments = 20

// CommentSynchronizer mirrors the comment set of a post.
type CommentSynchronizer struct {
	Repo store.Repository
}

// Sync replaces the stored comments of post with incoming unless they already
// match. An empty incoming list clears stored comments only when
// reportedCount <= 0; with a positive count the empty list is treated as a
// fetch gap and stored comments are kept. Comments are tagged with the post's
// metadata source. It reports whether anything was written.
func (s *CommentSynchronizer) Sync(ctx context.Context, post *model.Post, incoming []model.CommentRecord, reportedCount int) (bool, error) {
	next := normalizeRecords(incoming)
	if len(next) == 0 {
		if reportedCount > 0 {
			return false, nil
		}
		stored, err := s.Repo.ListComments(ctx, post.ID)
		if err != nil {
			return false, fmt.Errorf("list comments %s: %w", post.Shortcode, err)
		}
		if len(stored) == 0 {
			return false, nil
		}
		if err := s.Repo.ReplaceComments(ctx, post.ID, nil); err != nil {
			return false, fmt.Errorf("clear comments %s: %w", post.Shortcode, err)
		}
		return true, nil
	}

	stored, err := s.Repo.ListComments(ctx, post.ID)
	if err != nil {
		return false, fmt.Errorf("list comments %s: %w", post.Shortcode, err)
	}
	if sameComments(normalizeComments(stored), next) {
		return false, nil
	}
	for i := range next {
		next[i].PostID = post.ID
		next[i].Source = post.Metadata.Source
	}
	if err := s.Repo.ReplaceComments(ctx, post.ID, next); err != nil {
		return false, fmt.Errorf("replace comments %s: %w", post.Shortcode, err)
	}
	return true, nil
}

func normalizeRecords(in []model.CommentRecord) []model.Comment {
	out := make([]model.Comment, 0, len(in))
	for _, r := range in {
		if len(out) == MaxComments {
			break
		}
		if c, ok := normalizeComment(r.AuthorUsername, r.Text, r.CreatedAt.TimePtr()); ok {
			out = append(out, c)
		}
	}
	return out
}

func normalizeComments(in []model.Comment) []model.Comment {
	out := make([]model.Comment, 0, len(in))
	for _, c := range in {
		if len(out) == MaxComments {
			break
		}
		if n, ok := normalizeComment(c.AuthorUsername, c.Body, c.CommentedAt); ok {
			out = append(out, n)
		}
	}
	return out
}

func normalizeComment(author, body string, at *time.Time) (model.Comment, bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return model.Comment{}, false
	}
	c := model.Comment{AuthorUsername: strings.TrimSpace(author), Body: body}
	if at != nil {
		t := at.UTC().Truncate(time.Second)
		c.CommentedAt = &t
	}
	return c, true
}

func sameComments(a, b []model.Comment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].AuthorUsername != b[i].AuthorUsername || a[i].Body != b[i].Body {
			return false
		}
		if !sameTime(a[i].CommentedAt, b[i].CommentedAt) {
			return false
		}
	}
	return true
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
