package media

import (
	"os"
	"strconv"

	"golang.org/x/time/rate"
)

// newLimiter creates the outbound media limiter; env overrides win over config.
// A non-positive rate disables limiting.
func newLimiter(rps float64, burst int) *rate.Limiter {
	if v := os.Getenv("MIRRORSYNC_MEDIA_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil { rps = f }
	}
	if v := os.Getenv("MIRRORSYNC_MEDIA_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 { burst = n }
	}
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
