// Package postgres implements store.Repository on PostgreSQL through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mirrorsync/internal/model"
	"mirrorsync/internal/store"
	"mirrorsync/internal/util"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Storage is a pgx-backed repository.
type Storage struct {
	Pool *pgxpool.Pool
}

var _ store.Repository = (*Storage)(nil)

// Open connects to connStr and creates the schema if missing.
func Open(ctx context.Context, connStr string) (*Storage, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Storage{Pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			id BIGSERIAL PRIMARY KEY,
			username_key TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			profile_pic_url TEXT NOT NULL DEFAULT '',
			platform_user_id TEXT NOT NULL DEFAULT '',
			bio TEXT NOT NULL DEFAULT '',
			last_post_at TIMESTAMPTZ,
			followers_count INT NOT NULL DEFAULT 0,
			is_business_account BOOLEAN NOT NULL DEFAULT FALSE,
			category_name TEXT NOT NULL DEFAULT '',
			following BOOLEAN NOT NULL DEFAULT FALSE,
			followed_by BOOLEAN NOT NULL DEFAULT FALSE,
			tags TEXT[] NOT NULL DEFAULT '{}',
			last_synced_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS posts (
			id BIGSERIAL PRIMARY KEY,
			profile_id BIGINT NOT NULL REFERENCES profiles(id),
			shortcode TEXT NOT NULL,
			taken_at TIMESTAMPTZ,
			caption TEXT NOT NULL DEFAULT '',
			permalink TEXT NOT NULL DEFAULT '',
			source_media_url TEXT NOT NULL DEFAULT '',
			likes_count INT NOT NULL DEFAULT 0,
			comments_count INT NOT NULL DEFAULT 0,
			media_fingerprint TEXT NOT NULL DEFAULT '',
			analysis_status TEXT NOT NULL DEFAULT 'pending',
			analyzed_at TIMESTAMPTZ,
			last_synced_at TIMESTAMPTZ,
			metadata JSONB NOT NULL DEFAULT '{}',
			UNIQUE (profile_id, shortcode)
		)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id BIGSERIAL PRIMARY KEY,
			post_id BIGINT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
			author_username TEXT,
			body TEXT NOT NULL,
			commented_at TIMESTAMPTZ,
			source TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_post ON comments(post_id)`,
		`CREATE TABLE IF NOT EXISTS post_media (
			post_id BIGINT PRIMARY KEY REFERENCES posts(id) ON DELETE CASCADE,
			filename TEXT NOT NULL,
			content_type TEXT NOT NULL,
			source_url TEXT NOT NULL,
			data BYTEA NOT NULL,
			attached_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
			run_id TEXT PRIMARY KEY,
			username_key TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			summary JSONB,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_user ON sync_runs(username_key, started_at DESC)`,
	}
	for _, q := range queries {
		if _, err := s.Pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *Storage) Close() error {
	s.Pool.Close()
	return nil
}

const profileColumns = `id, username, display_name, profile_pic_url, platform_user_id, bio, last_post_at,
	followers_count, is_business_account, category_name, following, followed_by, tags, last_synced_at`

func (s *Storage) GetProfile(ctx context.Context, username string) (*model.Profile, error) {
	var p model.Profile
	err := s.Pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE username_key=$1`, util.NormalizeUsername(username)).
		Scan(&p.ID, &p.Username, &p.DisplayName, &p.ProfilePicURL, &p.PlatformUserID, &p.Bio, &p.LastPostAt,
			&p.FollowersCount, &p.IsBusinessAccount, &p.CategoryName, &p.Following, &p.FollowedBy, &p.Tags, &p.LastSyncedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Storage) UpsertProfile(ctx context.Context, p *model.Profile) error {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return s.Pool.QueryRow(ctx, `
		INSERT INTO profiles (username_key, username, display_name, profile_pic_url, platform_user_id, bio, last_post_at,
			followers_count, is_business_account, category_name, following, followed_by, tags, last_synced_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (username_key) DO UPDATE SET
			username=EXCLUDED.username, display_name=EXCLUDED.display_name, profile_pic_url=EXCLUDED.profile_pic_url,
			platform_user_id=EXCLUDED.platform_user_id, bio=EXCLUDED.bio, last_post_at=EXCLUDED.last_post_at,
			followers_count=EXCLUDED.followers_count, is_business_account=EXCLUDED.is_business_account,
			category_name=EXCLUDED.category_name, following=EXCLUDED.following, followed_by=EXCLUDED.followed_by,
			tags=EXCLUDED.tags, last_synced_at=EXCLUDED.last_synced_at
		RETURNING id`,
		util.NormalizeUsername(p.Username), p.Username, p.DisplayName, p.ProfilePicURL, p.PlatformUserID, p.Bio, p.LastPostAt,
		p.FollowersCount, p.IsBusinessAccount, p.CategoryName, p.Following, p.FollowedBy, tags, p.LastSyncedAt).Scan(&p.ID)
}

const postColumns = `id, profile_id, shortcode, taken_at, caption, permalink, source_media_url, likes_count,
	comments_count, media_fingerprint, analysis_status, analyzed_at, last_synced_at, metadata`

func scanPost(row pgx.Row) (*model.Post, error) {
	var (
		p    model.Post
		meta []byte
	)
	if err := row.Scan(&p.ID, &p.ProfileID, &p.Shortcode, &p.TakenAt, &p.Caption, &p.Permalink, &p.SourceMediaURL,
		&p.LikesCount, &p.CommentsCount, &p.MediaFingerprint, &p.AnalysisStatus, &p.AnalyzedAt, &p.LastSyncedAt, &meta); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meta, &p.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of post %d: %w", p.ID, err)
	}
	p.TakenAt, p.AnalyzedAt, p.LastSyncedAt = utc(p.TakenAt), utc(p.AnalyzedAt), utc(p.LastSyncedAt)
	return &p, nil
}

func (s *Storage) FindOrCreatePost(ctx context.Context, profileID int64, shortcode string) (*model.Post, bool, error) {
	tag, err := s.Pool.Exec(ctx, `INSERT INTO posts (profile_id, shortcode, analysis_status) VALUES ($1, $2, $3)
		ON CONFLICT (profile_id, shortcode) DO NOTHING`, profileID, shortcode, model.AnalysisPending)
	if err != nil {
		return nil, false, fmt.Errorf("insert post %s: %w", shortcode, err)
	}
	p, err := scanPost(s.Pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE profile_id=$1 AND shortcode=$2`, profileID, shortcode))
	if err != nil {
		return nil, false, fmt.Errorf("load post %s: %w", shortcode, err)
	}
	return p, tag.RowsAffected() == 1, nil
}

func (s *Storage) SavePost(ctx context.Context, p *model.Post) error {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return err
	}
	tag, err := s.Pool.Exec(ctx, `UPDATE posts SET taken_at=$1, caption=$2, permalink=$3, source_media_url=$4, likes_count=$5,
		comments_count=$6, media_fingerprint=$7, analysis_status=$8, analyzed_at=$9, last_synced_at=$10, metadata=$11
		WHERE id=$12`,
		p.TakenAt, p.Caption, p.Permalink, p.SourceMediaURL, p.LikesCount, p.CommentsCount, p.MediaFingerprint,
		p.AnalysisStatus, p.AnalyzedAt, p.LastSyncedAt, meta, p.ID)
	if err != nil {
		return fmt.Errorf("save post %s: %w", p.Shortcode, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save post %s: %w", p.Shortcode, store.ErrNotFound)
	}
	return nil
}

func (s *Storage) ListPosts(ctx context.Context, profileID int64) ([]model.Post, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+postColumns+` FROM posts WHERE profile_id=$1 ORDER BY taken_at DESC NULLS LAST, id`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Storage) ListComments(ctx context.Context, postID int64) ([]model.Comment, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, post_id, author_username, body, commented_at, source FROM comments WHERE post_id=$1 ORDER BY id`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Comment
	for rows.Next() {
		var (
			c      model.Comment
			author *string
		)
		if err := rows.Scan(&c.ID, &c.PostID, &author, &c.Body, &c.CommentedAt, &c.Source); err != nil {
			return nil, err
		}
		if author != nil {
			c.AuthorUsername = *author
		}
		c.CommentedAt = utc(c.CommentedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Storage) ReplaceComments(ctx context.Context, postID int64, comments []model.Comment) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		return replaceComments(ctx, tx, postID, comments)
	})
}

func replaceComments(ctx context.Context, db DBTX, postID int64, comments []model.Comment) error {
	if _, err := db.Exec(ctx, `DELETE FROM comments WHERE post_id=$1`, postID); err != nil {
		return fmt.Errorf("clear comments of post %d: %w", postID, err)
	}
	for _, c := range comments {
		var author *string
		if c.AuthorUsername != "" {
			a := c.AuthorUsername
			author = &a
		}
		if _, err := db.Exec(ctx, `INSERT INTO comments (post_id, author_username, body, commented_at, source) VALUES ($1,$2,$3,$4,$5)`,
			postID, author, c.Body, c.CommentedAt, c.Source); err != nil {
			return fmt.Errorf("insert comment of post %d: %w", postID, err)
		}
	}
	return nil
}

func (s *Storage) AttachMedia(ctx context.Context, postID int64, blob model.MediaBlob) error {
	_, err := s.Pool.Exec(ctx, `INSERT INTO post_media (post_id, filename, content_type, source_url, data, attached_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (post_id) DO UPDATE SET filename=EXCLUDED.filename, content_type=EXCLUDED.content_type,
			source_url=EXCLUDED.source_url, data=EXCLUDED.data, attached_at=EXCLUDED.attached_at`,
		postID, blob.Filename, blob.ContentType, blob.SourceURL, blob.Data)
	if err != nil {
		return fmt.Errorf("attach media to post %d: %w", postID, err)
	}
	return nil
}

func (s *Storage) HasMedia(ctx context.Context, postID int64) (bool, error) {
	var ok bool
	err := s.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM post_media WHERE post_id=$1)`, postID).Scan(&ok)
	return ok, err
}

func (s *Storage) RecordSyncRun(ctx context.Context, run model.SyncRun) error {
	var summary []byte
	if run.Summary != nil {
		b, err := json.Marshal(run.Summary)
		if err != nil {
			return err
		}
		summary = b
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO sync_runs (run_id, username_key, started_at, finished_at, summary, error) VALUES ($1,$2,$3,$4,$5,$6)`,
		run.RunID, util.NormalizeUsername(run.Username), run.StartedAt, run.FinishedAt, summary, run.Error)
	return err
}

func (s *Storage) LatestSyncRun(ctx context.Context, username string) (*model.SyncRun, error) {
	var (
		run     model.SyncRun
		summary []byte
	)
	err := s.Pool.QueryRow(ctx, `SELECT run_id, username_key, started_at, finished_at, summary, error FROM sync_runs
		WHERE username_key=$1 ORDER BY started_at DESC LIMIT 1`, util.NormalizeUsername(username)).
		Scan(&run.RunID, &run.Username, &run.StartedAt, &run.FinishedAt, &summary, &run.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	run.StartedAt, run.FinishedAt = run.StartedAt.UTC(), run.FinishedAt.UTC()
	if summary != nil {
		run.Summary = &model.SyncSummary{}
		if err := json.Unmarshal(summary, run.Summary); err != nil {
			return nil, fmt.Errorf("decode run summary: %w", err)
		}
	}
	return &run, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
