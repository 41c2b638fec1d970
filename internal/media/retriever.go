// Package media downloads remote media under redirect, size and type limits.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mirrorsync/internal/config"
	"mirrorsync/internal/urlnorm"
)

const (
	MaxImageBytes       int64 = 6 * 1024 * 1024
	MaxVideoBytes       int64 = 80 * 1024 * 1024
	DefaultMaxRedirects       = 4
	ConnectTimeout            = 10 * time.Second
	ReadTimeout               = 30 * time.Second
	filenamePrefix            = "media_"
)

// DownloadError kinds.
const (
	KindInvalidScheme    = "invalid_scheme"
	KindInvalidRedirect  = "invalid_redirect"
	KindTooManyRedirects = "too_many_redirects"
	KindStatus           = "status"
	KindTooLarge         = "too_large"
	KindTransport        = "transport"
)

// DownloadError is returned for every failed retrieval.
type DownloadError struct {
	Kind   string
	URL    string
	Status int
	Err    error
}

func (e *DownloadError) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("download failed: status %d", e.Status)
	case KindTooManyRedirects:
		return "too many redirects"
	case KindInvalidRedirect:
		return "invalid redirect"
	case KindTooLarge:
		return "too large"
	case KindInvalidScheme:
		return "invalid media url"
	}
	if e.Err != nil {
		return "download failed: " + e.Err.Error()
	}
	return "download failed"
}

func (e *DownloadError) Unwrap() error { return e.Err }

// IsKind reports whether err is a DownloadError of the given kind.
func IsKind(err error, kind string) bool {
	var de *DownloadError
	return errors.As(err, &de) && de.Kind == kind
}

// Result is a successfully downloaded media body.
type Result struct {
	Data        []byte
	ContentType string
	Extension   string
	Filename    string
	// FinalURL is the URL that served the body after redirects.
	FinalURL string
}

// Retriever fetches media. It is safe for concurrent use.
type Retriever struct {
	httpClient   *http.Client
	userAgent    string
	referer      string
	maxRedirects int
	limiter      *rate.Limiter
}

// NewRetriever builds a retriever from media configuration and the
// account's effective user agent.
func NewRetriever(cfg config.MediaConfig, userAgent string) *Retriever {
	max := cfg.MaxRedirects
	if max <= 0 {
		max = DefaultMaxRedirects
	}
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: ConnectTimeout}).DialContext,
		TLSHandshakeTimeout:   ConnectTimeout,
		ResponseHeaderTimeout: ReadTimeout,
	}
	return &Retriever{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   ConnectTimeout + ReadTimeout,
			// redirects are followed by hand so the budget and target checks apply
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		userAgent:    userAgent,
		referer:      cfg.Referer,
		maxRedirects: max,
		limiter:      newLimiter(cfg.RPS, cfg.Burst),
	}
}

// Fetch downloads rawURL following at most the configured number of redirects.
func (r *Retriever) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	if !urlnorm.ValidHTTP(rawURL) {
		return nil, &DownloadError{Kind: KindInvalidScheme, URL: rawURL}
	}
	res, err := r.fetch(ctx, rawURL, r.maxRedirects)
	if err != nil {
		return nil, err
	}
	res.Filename = Filename(rawURL, res.Extension)
	return res, nil
}

func (r *Retriever) fetch(ctx context.Context, current string, budget int) (*Result, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, &DownloadError{Kind: KindTransport, URL: current, Err: err}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
	if err != nil {
		return nil, &DownloadError{Kind: KindInvalidScheme, URL: current, Err: err}
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", r.userAgent)
	if r.referer != "" {
		req.Header.Set("Referer", r.referer)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, &DownloadError{Kind: KindTransport, URL: current, Err: err}
	}
	defer resp.Body.Close()

	if isRedirect(resp.StatusCode) && resp.Header.Get("Location") != "" {
		if budget <= 0 {
			return nil, &DownloadError{Kind: KindTooManyRedirects, URL: current, Status: resp.StatusCode}
		}
		next, ok := urlnorm.ResolveRedirect(current, resp.Header.Get("Location"))
		if !ok {
			return nil, &DownloadError{Kind: KindInvalidRedirect, URL: current, Status: resp.StatusCode}
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return r.fetch(ctx, next, budget-1)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DownloadError{Kind: KindStatus, URL: current, Status: resp.StatusCode}
	}

	contentType := baseContentType(resp.Header.Get("Content-Type"))
	limit := SizeLimit(contentType)
	if resp.ContentLength > limit {
		return nil, &DownloadError{Kind: KindTooLarge, URL: current, Status: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &DownloadError{Kind: KindTransport, URL: current, Err: err}
	}
	if int64(len(data)) > limit {
		return nil, &DownloadError{Kind: KindTooLarge, URL: current, Status: resp.StatusCode}
	}
	return &Result{Data: data, ContentType: contentType, Extension: Extension(contentType), FinalURL: current}, nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func baseContentType(h string) string {
	ct, _, _ := strings.Cut(h, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}

// SizeLimit is the body cap for a content type.
func SizeLimit(contentType string) int64 {
	if strings.HasPrefix(contentType, "video/") {
		return MaxVideoBytes
	}
	return MaxImageBytes
}

// Extension maps a content type to a file extension; unknown types get "bin".
func Extension(contentType string) string {
	switch {
	case strings.Contains(contentType, "jpeg"):
		return "jpg"
	case strings.Contains(contentType, "png"):
		return "png"
	case strings.Contains(contentType, "webp"):
		return "webp"
	case strings.Contains(contentType, "gif"):
		return "gif"
	case strings.Contains(contentType, "mp4"):
		return "mp4"
	case strings.Contains(contentType, "quicktime"):
		return "mov"
	}
	return "bin"
}

// Filename is stable for a given source URL and extension.
func Filename(sourceURL, ext string) string {
	return filenamePrefix + urlnorm.Fingerprint(sourceURL)[:12] + "." + ext
}
