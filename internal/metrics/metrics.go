package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SyncRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mirrorsync_sync_runs_total",
		Help: "Total sync cycles started",
	})
	SyncErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mirrorsync_sync_errors_total",
		Help: "Total sync cycles aborted by an error",
	})
	SyncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mirrorsync_sync_duration_seconds",
		Help:    "Sync cycle duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	PostChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirrorsync_posts_total",
		Help: "Reconciled posts by change classification",
	}, []string{"change"})
	MediaFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirrorsync_media_fetches_total",
		Help: "Media sync attempts by outcome",
	}, []string{"outcome"})
	MediaBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mirrorsync_media_bytes_total",
		Help: "Bytes of media downloaded",
	})
	TrustDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirrorsync_trust_decisions_total",
		Help: "Trust policy decisions by source and outcome",
	}, []string{"source", "blocked"})
	TrustFailOpen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mirrorsync_trust_fail_open_total",
		Help: "Trust evaluations that failed internally and allowed the fetch",
	})
	BlocklistCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirrorsync_blocklist_cache_total",
		Help: "Blocklist cache lookups by result",
	}, []string{"result"})
	SourceRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirrorsync_source_retries_total",
		Help: "Total dataset source retry attempts",
	}, []string{"endpoint"})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirrorsync_command_runs_total",
		Help: "CLI subcommand invocations",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirrorsync_command_errors_total",
		Help: "CLI subcommand failures",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(SyncRuns, SyncErrors, SyncDuration, PostChanges, MediaFetches, MediaBytes,
		TrustDecisions, TrustFailOpen, BlocklistCache, SourceRetries, CommandRuns, CommandErrors)
}

// ErrUnknownProfile is returned by a StatusFunc when nothing is recorded for a profile.
var ErrUnknownProfile = errors.New("unknown profile")

// StatusFunc returns a JSON-encodable description of the last run for a profile.
type StatusFunc func(r *http.Request, username string) (any, error)

// NewRouter exposes /metrics, /health and, when status is non-nil,
// /profiles/{username}/last-run.
func NewRouter(status StatusFunc) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	if status != nil {
		r.Get("/profiles/{username}/last-run", func(w http.ResponseWriter, r *http.Request) {
			v, err := status(r, chi.URLParam(r, "username"))
			switch {
			case errors.Is(err, ErrUnknownProfile):
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			case err != nil:
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(v)
		})
	}
	return r
}

// StartServer serves handler on addr (e.g., ":9090") in the background.
// An empty addr falls back to METRICS_ADDR; if that is empty too nothing starts.
func StartServer(addr string, handler http.Handler) *http.Server {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return nil
	}
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// ObserveSyncDuration records a cycle duration.
func ObserveSyncDuration(start time.Time) {
	SyncDuration.Observe(time.Since(start).Seconds())
}

// AddPostChanges counts n posts with the given change classification.
func AddPostChanges(change string, n int) {
	if n > 0 {
		PostChanges.WithLabelValues(change).Add(float64(n))
	}
}

func IncMediaFetch(outcome string)   { MediaFetches.WithLabelValues(outcome).Inc() }
func IncSourceRetry(endpoint string) { SourceRetries.WithLabelValues(endpoint).Inc() }
func IncCommandRun(cmd string)       { CommandRuns.WithLabelValues(cmd).Inc() }
func IncCommandError(cmd string)     { CommandErrors.WithLabelValues(cmd).Inc() }

func IncTrustDecision(source string, blocked bool) {
	b := "false"
	if blocked {
		b = "true"
	}
	TrustDecisions.WithLabelValues(source, b).Inc()
}
