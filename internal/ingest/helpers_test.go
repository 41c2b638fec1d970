package ingest

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mirrorsync/internal/config"
	"mirrorsync/internal/media"
	"mirrorsync/internal/model"
	"mirrorsync/internal/store"
	"mirrorsync/internal/store/sqlite"
	"mirrorsync/internal/trust"
)

var (
	t0      = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	account = model.Account{Username: "owner", UserAgent: "test-agent"}
)

// countingRepo records comment and media writes and can inject failures.
type countingRepo struct {
	store.Repository
	replaceCalls atomic.Int32
	attachCalls  atomic.Int32
	failReplace  error
	failSave     error
}

func (c *countingRepo) ReplaceComments(ctx context.Context, postID int64, comments []model.Comment) error {
	c.replaceCalls.Add(1)
	if c.failReplace != nil {
		return c.failReplace
	}
	return c.Repository.ReplaceComments(ctx, postID, comments)
}

func (c *countingRepo) AttachMedia(ctx context.Context, postID int64, blob model.MediaBlob) error {
	c.attachCalls.Add(1)
	return c.Repository.AttachMedia(ctx, postID, blob)
}

func (c *countingRepo) SavePost(ctx context.Context, p *model.Post) error {
	if c.failSave != nil {
		return c.failSave
	}
	return c.Repository.SavePost(ctx, p)
}

type allowAll struct{}

func (allowAll) Evaluate(context.Context, model.Account, *model.Profile, string) model.TrustDecision {
	return model.TrustDecision{}
}

// mediaHost serves small jpegs for every path except /huge.jpg, which
// returns a 9MB body, and counts requests.
type mediaHost struct {
	*httptest.Server
	hits atomic.Int32
}

func newMediaHost(t *testing.T) *mediaHost {
	t.Helper()
	h := &mediaHost{}
	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		if r.URL.Path == "/huge.jpg" {
			_, _ = w.Write(bytes.Repeat([]byte{0xff}, 9*1024*1024))
			return
		}
		_, _ = w.Write([]byte("jpeg:" + r.URL.Path))
	}))
	t.Cleanup(h.Close)
	return h
}

type fixture struct {
	db    *sqlite.DB
	repo  *countingRepo
	host  *mediaHost
	rec   *Reconciler
	orch  *Orchestrator
	ctx   context.Context
	trust TrustEvaluator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Default().Media
	cfg.RPS = 0
	f := &fixture{db: db, repo: &countingRepo{Repository: db}, host: newMediaHost(t), ctx: context.Background()}
	f.trust = allowAll{}
	f.rec = NewReconciler(f.repo, f.trust, media.NewRetriever(cfg, account.UserAgent), account)
	f.orch = NewOrchestrator(f.repo, f.rec)
	return f
}

// usePolicy swaps the allow-all stub for the real trust policy.
func (f *fixture) usePolicy(blocklist trust.Blocklist) {
	f.rec.Trust = trust.NewPolicy(config.Default().Trust, blocklist)
}

func (f *fixture) run(t *testing.T, ds model.SyncDataset, track bool, at time.Time) *Result {
	t.Helper()
	res, err := f.orch.Run(f.ctx, "alice", ds, Options{TrackMissingAsDeleted: track, Source: "profile_sync", RunID: "run", SyncedAt: at})
	require.NoError(t, err)
	return res
}

func (f *fixture) post(t *testing.T, shortcode string) model.Post {
	t.Helper()
	p, err := f.db.GetProfile(f.ctx, "alice")
	require.NoError(t, err)
	posts, err := f.db.ListPosts(f.ctx, p.ID)
	require.NoError(t, err)
	for _, post := range posts {
		if post.Shortcode == shortcode {
			return post
		}
	}
	t.Fatalf("post %s not stored", shortcode)
	return model.Post{}
}

func (f *fixture) record(shortcode string) model.PostRecord {
	return model.PostRecord{
		Shortcode:     shortcode,
		TakenAt:       model.NewFlexTime(t0.Add(-time.Hour)),
		Caption:       "caption " + shortcode,
		Permalink:     "https://www.instagram.com/p/" + shortcode + "/",
		MediaURL:      f.host.URL + "/" + shortcode + ".jpg",
		LikesCount:    10,
		CommentsCount: 1,
		MediaType:     "image",
		MediaID:       "mid-" + shortcode,
		Comments: []model.CommentRecord{
			{Text: " nice ", AuthorUsername: "bob", CreatedAt: model.NewFlexTime(t0.Add(-30*time.Minute + 250*time.Millisecond))},
		},
	}
}

func dataset(records ...model.PostRecord) model.SyncDataset {
	return model.SyncDataset{Posts: records}
}

var errDiskFull = errors.New("disk full")
