package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mirrorsync/internal/metrics"
	"mirrorsync/internal/model"
)

const datasetEndpoint = "dataset"

// HTTPSource fetches datasets from GET <baseURL>/profiles/<username>/dataset.
type HTTPSource struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
}

func NewHTTPSource(baseURL, token string) *HTTPSource {
	return &HTTPSource{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		limiter:     newDefaultLimiter(),
		maxAttempts: getEnvInt("MIRRORSYNC_SOURCE_MAX_ATTEMPTS", 5),
		baseBackoff: time.Duration(getEnvInt("MIRRORSYNC_SOURCE_BASE_BACKOFF_MS", 500)) * time.Millisecond,
	}
}

func (s *HTTPSource) auth(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	req.Header.Set("Accept", "application/json")
}

func (s *HTTPSource) Fetch(ctx context.Context, username string) (model.SyncDataset, error) {
	var ds model.SyncDataset
	name := strings.TrimPrefix(strings.TrimSpace(username), "@")
	if name == "" {
		return ds, fmt.Errorf("invalid username %q", username)
	}
	u := fmt.Sprintf("%s/profiles/%s/dataset", s.baseURL, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ds, err
	}
	s.auth(req)
	if err := s.limiter.Wait(ctx); err != nil {
		return ds, err
	}
	resp, err := s.doWithRetry(ctx, req)
	if err != nil {
		return ds, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ds, fmt.Errorf("%s: %w", name, ErrNoDataset)
	}
	if resp.StatusCode >= 400 {
		return ds, fmt.Errorf("dataset source status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&ds); err != nil {
		return ds, fmt.Errorf("decode dataset %s: %w", name, err)
	}
	return ds, nil
}

// doWithRetry retries transport errors, 429 and 5xx with exponential
// backoff, honoring Retry-After.
func (s *HTTPSource) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	backoff := s.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			metrics.IncSourceRetry(datasetEndpoint)
		}
		resp, err := s.httpClient.Do(req.Clone(ctx))
		if err == nil {
			if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599) {
				ra := resp.Header.Get("Retry-After")
				_ = resp.Body.Close()
				lastErr = fmt.Errorf("status %d", resp.StatusCode)
				if attempt == s.maxAttempts {
					break
				}
				wait := retryAfter(ra, backoff)
				// jitter +/-20%
				jitter := time.Duration(float64(wait) * 0.2)
				if jitter > 0 {
					wait = wait - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter))
				}
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				backoff *= 2
				continue
			}
			return resp, nil
		}
		lastErr = err
		if attempt == s.maxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", s.maxAttempts, lastErr)
}

func retryAfter(header string, def time.Duration) time.Duration {
	if header == "" {
		return def
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return def
}

// newDefaultLimiter creates a rate limiter using env overrides if present.
func newDefaultLimiter() *rate.Limiter {
	rps := 1.0
	burst := 2
	if v := os.Getenv("MIRRORSYNC_SOURCE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 { rps = f }
	}
	if v := os.Getenv("MIRRORSYNC_SOURCE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 { burst = n }
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" { return def }
	if i, err := strconv.Atoi(v); err == nil && i > 0 { return i }
	return def
}
