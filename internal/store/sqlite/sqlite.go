// Package sqlite implements store.Repository on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"mirrorsync/internal/model"
	"mirrorsync/internal/store"
	"mirrorsync/internal/util"
)

// DB wraps a SQLite database holding the profile mirror.
type DB struct{ sql *sql.DB }

var _ store.Repository = (*DB)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*DB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection: in-memory databases are per-connection and SQLite has a single writer anyway
	d.SetMaxOpenConns(1)
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON; PRAGMA busy_timeout=5000;`); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	db := &DB{sql: d}
	if err := db.migrate(); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS profiles (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  username_key TEXT NOT NULL UNIQUE,
	  username TEXT NOT NULL,
	  display_name TEXT NOT NULL DEFAULT '',
	  profile_pic_url TEXT NOT NULL DEFAULT '',
	  platform_user_id TEXT NOT NULL DEFAULT '',
	  bio TEXT NOT NULL DEFAULT '',
	  last_post_at INTEGER,
	  followers_count INTEGER NOT NULL DEFAULT 0,
	  is_business_account INTEGER NOT NULL DEFAULT 0,
	  category_name TEXT NOT NULL DEFAULT '',
	  following INTEGER NOT NULL DEFAULT 0,
	  followed_by INTEGER NOT NULL DEFAULT 0,
	  tags TEXT NOT NULL DEFAULT '[]',
	  last_synced_at INTEGER
	);
	CREATE TABLE IF NOT EXISTS posts (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  profile_id INTEGER NOT NULL REFERENCES profiles(id),
	  shortcode TEXT NOT NULL,
	  taken_at INTEGER,
	  caption TEXT NOT NULL DEFAULT '',
	  permalink TEXT NOT NULL DEFAULT '',
	  source_media_url TEXT NOT NULL DEFAULT '',
	  likes_count INTEGER NOT NULL DEFAULT 0,
	  comments_count INTEGER NOT NULL DEFAULT 0,
	  media_fingerprint TEXT NOT NULL DEFAULT '',
	  analysis_status TEXT NOT NULL DEFAULT 'pending',
	  analyzed_at INTEGER,
	  last_synced_at INTEGER,
	  metadata TEXT NOT NULL DEFAULT '{}',
	  UNIQUE(profile_id, shortcode)
	);
	CREATE INDEX IF NOT EXISTS idx_posts_profile ON posts(profile_id);
	CREATE TABLE IF NOT EXISTS comments (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  post_id INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	  author_username TEXT,
	  body TEXT NOT NULL,
	  commented_at INTEGER,
	  source TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_comments_post ON comments(post_id);
	CREATE TABLE IF NOT EXISTS post_media (
	  post_id INTEGER PRIMARY KEY REFERENCES posts(id) ON DELETE CASCADE,
	  filename TEXT NOT NULL,
	  content_type TEXT NOT NULL,
	  source_url TEXT NOT NULL,
	  data BLOB NOT NULL,
	  attached_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sync_runs (
	  run_id TEXT PRIMARY KEY,
	  username_key TEXT NOT NULL,
	  started_at INTEGER NOT NULL,
	  finished_at INTEGER NOT NULL,
	  summary TEXT,
	  error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_sync_runs_user ON sync_runs(username_key, started_at);
	`)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

const profileColumns = `id, username, display_name, profile_pic_url, platform_user_id, bio, last_post_at,
	followers_count, is_business_account, category_name, following, followed_by, tags, last_synced_at`

func scanProfile(s scanner) (*model.Profile, error) {
	var (
		p                         model.Profile
		lastPost, lastSync        sql.NullInt64
		business, following, fwBy bool
		tags                      string
	)
	if err := s.Scan(&p.ID, &p.Username, &p.DisplayName, &p.ProfilePicURL, &p.PlatformUserID, &p.Bio, &lastPost,
		&p.FollowersCount, &business, &p.CategoryName, &following, &fwBy, &tags, &lastSync); err != nil {
		return nil, err
	}
	p.IsBusinessAccount, p.Following, p.FollowedBy = business, following, fwBy
	p.LastPostAt, p.LastSyncedAt = fromNanos(lastPost), fromNanos(lastSync)
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return &p, nil
}

// GetProfile returns store.ErrNotFound for unknown usernames.
func (d *DB) GetProfile(ctx context.Context, username string) (*model.Profile, error) {
	row := d.sql.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE username_key=?`, util.NormalizeUsername(username))
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return p, err
}

func (d *DB) UpsertProfile(ctx context.Context, p *model.Profile) error {
	tags, err := json.Marshal(nonNilTags(p.Tags))
	if err != nil {
		return err
	}
	row := d.sql.QueryRowContext(ctx, `
	INSERT INTO profiles(username_key, username, display_name, profile_pic_url, platform_user_id, bio, last_post_at,
	  followers_count, is_business_account, category_name, following, followed_by, tags, last_synced_at)
	VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(username_key) DO UPDATE SET
	  username=excluded.username, display_name=excluded.display_name, profile_pic_url=excluded.profile_pic_url,
	  platform_user_id=excluded.platform_user_id, bio=excluded.bio, last_post_at=excluded.last_post_at,
	  followers_count=excluded.followers_count, is_business_account=excluded.is_business_account,
	  category_name=excluded.category_name, following=excluded.following, followed_by=excluded.followed_by,
	  tags=excluded.tags, last_synced_at=excluded.last_synced_at
	RETURNING id`,
		util.NormalizeUsername(p.Username), p.Username, p.DisplayName, p.ProfilePicURL, p.PlatformUserID, p.Bio,
		toNanos(p.LastPostAt), p.FollowersCount, p.IsBusinessAccount, p.CategoryName, p.Following, p.FollowedBy,
		string(tags), toNanos(p.LastSyncedAt))
	return row.Scan(&p.ID)
}

const postColumns = `id, profile_id, shortcode, taken_at, caption, permalink, source_media_url, likes_count,
	comments_count, media_fingerprint, analysis_status, analyzed_at, last_synced_at, metadata`

func scanPost(s scanner) (*model.Post, error) {
	var (
		p                          model.Post
		taken, analyzed, lastSync  sql.NullInt64
		meta                       string
	)
	if err := s.Scan(&p.ID, &p.ProfileID, &p.Shortcode, &taken, &p.Caption, &p.Permalink, &p.SourceMediaURL,
		&p.LikesCount, &p.CommentsCount, &p.MediaFingerprint, &p.AnalysisStatus, &analyzed, &lastSync, &meta); err != nil {
		return nil, err
	}
	p.TakenAt, p.AnalyzedAt, p.LastSyncedAt = fromNanos(taken), fromNanos(analyzed), fromNanos(lastSync)
	if err := json.Unmarshal([]byte(meta), &p.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of post %d: %w", p.ID, err)
	}
	return &p, nil
}

func (d *DB) FindOrCreatePost(ctx context.Context, profileID int64, shortcode string) (*model.Post, bool, error) {
	res, err := d.sql.ExecContext(ctx, `INSERT INTO posts(profile_id, shortcode, analysis_status, metadata) VALUES(?,?,?,'{}')
	ON CONFLICT(profile_id, shortcode) DO NOTHING`, profileID, shortcode, model.AnalysisPending)
	if err != nil {
		return nil, false, fmt.Errorf("insert post %s: %w", shortcode, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	row := d.sql.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE profile_id=? AND shortcode=?`, profileID, shortcode)
	p, err := scanPost(row)
	if err != nil {
		return nil, false, fmt.Errorf("load post %s: %w", shortcode, err)
	}
	return p, n == 1, nil
}

func (d *DB) SavePost(ctx context.Context, p *model.Post) error {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return err
	}
	res, err := d.sql.ExecContext(ctx, `UPDATE posts SET taken_at=?, caption=?, permalink=?, source_media_url=?, likes_count=?,
	  comments_count=?, media_fingerprint=?, analysis_status=?, analyzed_at=?, last_synced_at=?, metadata=?
	WHERE id=?`,
		toNanos(p.TakenAt), p.Caption, p.Permalink, p.SourceMediaURL, p.LikesCount, p.CommentsCount, p.MediaFingerprint,
		p.AnalysisStatus, toNanos(p.AnalyzedAt), toNanos(p.LastSyncedAt), string(meta), p.ID)
	if err != nil {
		return fmt.Errorf("save post %s: %w", p.Shortcode, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save post %s: %w", p.Shortcode, store.ErrNotFound)
	}
	return nil
}

func (d *DB) ListPosts(ctx context.Context, profileID int64) ([]model.Post, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT `+postColumns+` FROM posts WHERE profile_id=? ORDER BY taken_at DESC, id`, profileID)
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

func (d *DB) ListComments(ctx context.Context, postID int64) ([]model.Comment, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT id, post_id, author_username, body, commented_at, source FROM comments WHERE post_id=? ORDER BY id`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Comment
	for rows.Next() {
		var (
			c      model.Comment
			author sql.NullString
			at     sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.PostID, &author, &c.Body, &at, &c.Source); err != nil {
			return nil, err
		}
		c.AuthorUsername = author.String
		c.CommentedAt = fromNanos(at)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *DB) ReplaceComments(ctx context.Context, postID int64, comments []model.Comment) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE post_id=?`, postID); err != nil {
		return fmt.Errorf("clear comments of post %d: %w", postID, err)
	}
	for _, c := range comments {
		var author any
		if c.AuthorUsername != "" {
			author = c.AuthorUsername
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO comments(post_id, author_username, body, commented_at, source) VALUES(?,?,?,?,?)`,
			postID, author, c.Body, toNanos(c.CommentedAt), c.Source); err != nil {
			return fmt.Errorf("insert comment of post %d: %w", postID, err)
		}
	}
	return tx.Commit()
}

func (d *DB) AttachMedia(ctx context.Context, postID int64, blob model.MediaBlob) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO post_media(post_id, filename, content_type, source_url, data, attached_at) VALUES(?,?,?,?,?,?)
	ON CONFLICT(post_id) DO UPDATE SET filename=excluded.filename, content_type=excluded.content_type,
	  source_url=excluded.source_url, data=excluded.data, attached_at=excluded.attached_at`,
		postID, blob.Filename, blob.ContentType, blob.SourceURL, blob.Data, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("attach media to post %d: %w", postID, err)
	}
	return nil
}

func (d *DB) HasMedia(ctx context.Context, postID int64) (bool, error) {
	var ok bool
	err := d.sql.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM post_media WHERE post_id=?)`, postID).Scan(&ok)
	return ok, err
}

// Media returns the attached media of a post.
func (d *DB) Media(ctx context.Context, postID int64) (*model.MediaBlob, error) {
	var b model.MediaBlob
	err := d.sql.QueryRowContext(ctx, `SELECT filename, content_type, source_url, data FROM post_media WHERE post_id=?`, postID).
		Scan(&b.Filename, &b.ContentType, &b.SourceURL, &b.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (d *DB) RecordSyncRun(ctx context.Context, run model.SyncRun) error {
	var summary *string
	if run.Summary != nil {
		b, err := json.Marshal(run.Summary)
		if err != nil {
			return err
		}
		s := string(b)
		summary = &s
	}
	_, err := d.sql.ExecContext(ctx, `INSERT INTO sync_runs(run_id, username_key, started_at, finished_at, summary, error) VALUES(?,?,?,?,?,?)`,
		run.RunID, util.NormalizeUsername(run.Username), run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(), summary, run.Error)
	return err
}

func (d *DB) LatestSyncRun(ctx context.Context, username string) (*model.SyncRun, error) {
	row := d.sql.QueryRowContext(ctx, `SELECT run_id, username_key, started_at, finished_at, summary, error FROM sync_runs
	WHERE username_key=? ORDER BY started_at DESC, rowid DESC LIMIT 1`, util.NormalizeUsername(username))
	var (
		run             model.SyncRun
		started, finish int64
		summary         sql.NullString
	)
	if err := row.Scan(&run.RunID, &run.Username, &started, &finish, &summary, &run.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	run.StartedAt = time.Unix(0, started).UTC()
	run.FinishedAt = time.Unix(0, finish).UTC()
	if summary.Valid {
		run.Summary = &model.SyncSummary{}
		if err := json.Unmarshal([]byte(summary.String), run.Summary); err != nil {
			return nil, fmt.Errorf("decode run summary: %w", err)
		}
	}
	return &run, nil
}

func toNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func nonNilTags(t []string) []string {
	if t == nil {
		return []string{}
	}
	return t
}
