package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrorsync/internal/config"
)

const sampleDataset = `{
  "profile": {"display_name": "Alice", "followers_count": 12, "is_business_account": "yes", "last_post_at": 1714564800},
  "posts": [
    {"shortcode": "A", "taken_at": "2024-05-01T10:00:00Z", "caption": "hi", "image_url": "https://cdn.example.com/a.jpg",
     "likes_count": 3, "comments_count": 1, "media_type": "image", "media_id": "m1",
     "comments": [{"text": "nice", "author_username": "bob", "created_at": "1714557600"}]}
  ]
}`

// helper to create a source pointed at a test server
func newTestSource(ts *httptest.Server) *HTTPSource {
	s := NewHTTPSource(ts.URL+"/", "secret")
	s.httpClient = ts.Client()
	s.maxAttempts = 3
	s.baseBackoff = 10 * time.Millisecond
	return s
}

func TestFileSourceReadsDataset(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alice.json"), []byte(sampleDataset), 0o644))

	ds, err := NewFileSource(dir).Fetch(context.Background(), "@alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", ds.Profile.DisplayName)
	require.NotNil(t, ds.Profile.IsBusinessAccount)
	assert.True(t, bool(*ds.Profile.IsBusinessAccount))
	require.Len(t, ds.Posts, 1)
	assert.Equal(t, "https://cdn.example.com/a.jpg", ds.Posts[0].SourceMediaURL())
	assert.Equal(t, "bob", ds.Posts[0].Comments[0].AuthorUsername)
	assert.Equal(t, int64(1714557600), ds.Posts[0].Comments[0].CreatedAt.Unix())
}

func TestFileSourceMissingAndInvalid(t *testing.T) {
	s := NewFileSource(t.TempDir())
	_, err := s.Fetch(context.Background(), "nobody")
	assert.True(t, errors.Is(err, ErrNoDataset))

	_, err = s.Fetch(context.Background(), "../etc/passwd")
	assert.Error(t, err)
}

func TestHTTPSourceRetriesAndAuthenticates(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if r.URL.Path != "/profiles/alice/dataset" || r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(sampleDataset))
	}))
	defer ts.Close()

	ds, err := newTestSource(ts).Fetch(context.Background(), "alice")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	assert.Len(t, ds.Posts, 1)
}

func TestHTTPSourceGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := newTestSource(ts).Fetch(context.Background(), "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Equal(t, 3, attempts)
}

func TestHTTPSourceNotFound(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()
	_, err := newTestSource(ts).Fetch(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrNoDataset)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryAfter("2", time.Millisecond))
	assert.Equal(t, time.Millisecond, retryAfter("", time.Millisecond))
	assert.Equal(t, time.Millisecond, retryAfter("soon", time.Millisecond))
}

func TestNewSelectsKind(t *testing.T) {
	s, err := New(config.SourceConfig{Kind: "file", Dir: "x"})
	require.NoError(t, err)
	assert.IsType(t, &FileSource{}, s)

	s, err = New(config.SourceConfig{Kind: "HTTP", BaseURL: "https://datasets.example.com"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPSource{}, s)

	_, err = New(config.SourceConfig{Kind: "http"})
	assert.Error(t, err)
	_, err = New(config.SourceConfig{Kind: "ftp"})
	assert.Error(t, err)
}
