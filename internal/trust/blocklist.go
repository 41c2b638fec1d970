package trust

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"mirrorsync/internal/metrics"
	"mirrorsync/internal/model"
)

// HostBlocklist blocks media served from listed hosts or their subdomains.
type HostBlocklist struct {
	hosts []string
}

func NewHostBlocklist(hosts []string) *HostBlocklist {
	b := &HostBlocklist{}
	for _, h := range hosts {
		h = strings.Trim(strings.ToLower(strings.TrimSpace(h)), ".")
		if h != "" {
			b.hosts = append(b.hosts, h)
		}
	}
	return b
}

func (b *HostBlocklist) Check(_ context.Context, mediaURL string) (model.TrustDecision, error) {
	u, err := url.Parse(mediaURL)
	if err != nil {
		return model.TrustDecision{}, err
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return model.TrustDecision{}, fmt.Errorf("no host in %q", mediaURL)
	}
	for _, h := range b.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return model.TrustDecision{
				Blocked:    true,
				ReasonCode: "source_blocked",
				Marker:     h,
				Confidence: "high",
				Source:     "blocklist",
			}, nil
		}
	}
	return model.TrustDecision{}, nil
}

// CachedBlocklist memoizes another Blocklist per URL for a bounded time.
// Errors are never cached.
type CachedBlocklist struct {
	inner Blocklist
	cache *expirable.LRU[string, model.TrustDecision]
}

func NewCachedBlocklist(inner Blocklist, size int, ttl time.Duration) *CachedBlocklist {
	if size <= 0 {
		size = 256
	}
	return &CachedBlocklist{inner: inner, cache: expirable.NewLRU[string, model.TrustDecision](size, nil, ttl)}
}

func (c *CachedBlocklist) Check(ctx context.Context, mediaURL string) (model.TrustDecision, error) {
	if d, ok := c.cache.Get(mediaURL); ok {
		metrics.BlocklistCache.WithLabelValues("hit").Inc()
		return d, nil
	}
	metrics.BlocklistCache.WithLabelValues("miss").Inc()
	d, err := c.inner.Check(ctx, mediaURL)
	if err != nil {
		return d, err
	}
	c.cache.Add(mediaURL, d)
	return d, nil
}
