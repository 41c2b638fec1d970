package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mirrorsync/internal/cmdlog"
	"mirrorsync/internal/config"
	"mirrorsync/internal/ingest"
	"mirrorsync/internal/jobs"
	"mirrorsync/internal/logging"
	"mirrorsync/internal/media"
	"mirrorsync/internal/metrics"
	"mirrorsync/internal/model"
	"mirrorsync/internal/schedule"
	"mirrorsync/internal/source"
	"mirrorsync/internal/store"
	"mirrorsync/internal/store/postgres"
	"mirrorsync/internal/store/sqlite"
	"mirrorsync/internal/theme"
	"mirrorsync/internal/trust"
	"mirrorsync/internal/util"
)

const defaultConfigPath = "./mirrorsync.yaml"

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	var err error
	switch cmd {
	case "init":
		err = cmdlog.Run("init", cmdInit)
	case "sync":
		err = cmdlog.Run("sync", cmdSync)
	case "loop":
		err = cmdlog.Run("loop", cmdLoop)
	case "status":
		err = cmdlog.Run("status", cmdStatus)
	case "serve":
		err = cmdlog.Run("serve", cmdServe)
	default:
		printHelp()
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func printHelp() {
	theme.PrintBanner()
	fmt.Println("Usage: mirrorsync <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init        Create a config file at ./mirrorsync.yaml")
	fmt.Println("  sync        Run one sync cycle for a profile")
	fmt.Println("  loop        Sync configured profiles periodically")
	fmt.Println("  status      Show the last recorded cycle of a profile")
	fmt.Println("  serve       Serve metrics and status over HTTP")
}

func cmdInit() error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", defaultConfigPath, "path to write config")
	_ = fs.Parse(os.Args[2:])
	if err := config.Save(*path, config.Default()); err != nil {
		return err
	}
	abs, _ := filepath.Abs(*path)
	theme.PrintBanner()
	fmt.Println("Config written to:", abs)
	return nil
}

func cmdSync() error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	profile := fs.String("profile", "", "profile username")
	datasetPath := fs.String("dataset", "", "read the dataset from this JSON file instead of the configured source")
	track := fs.String("track-deleted", "", "override sync.trackMissingAsDeleted (true/false)")
	_ = fs.Parse(os.Args[2:])
	if strings.TrimSpace(*profile) == "" {
		return errors.New("-profile is required")
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *track != "" {
		v, err := util.ParseBool(*track)
		if err != nil {
			return fmt.Errorf("-track-deleted: %w", err)
		}
		cfg.Sync.TrackMissingAsDeleted = v
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	repo, err := openRepository(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer repo.Close()
	runner, err := newRunner(cfg, repo)
	if err != nil {
		return err
	}

	var res *ingest.Result
	if *datasetPath != "" {
		ds, err := source.ReadFile(*datasetPath)
		if err != nil {
			return err
		}
		res, err = runner.RunDataset(ctx, *profile, ds)
		if err != nil {
			return err
		}
	} else {
		res, err = runner.RunSyncOnce(ctx, *profile)
		if err != nil {
			return err
		}
	}
	return printJSON(res)
}

func cmdLoop() error {
	fs := flag.NewFlagSet("loop", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	interval := fs.Duration("interval", 0, "override sync.interval")
	_ = fs.Parse(os.Args[2:])
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *interval > 0 {
		cfg.Sync.Interval = *interval
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	repo, err := openRepository(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer repo.Close()
	runner, err := newRunner(cfg, repo)
	if err != nil {
		return err
	}
	if srv := metrics.StartServer(cfg.Metrics.Addr, metrics.NewRouter(lastRunStatus(repo))); srv != nil {
		defer shutdown(srv)
	}
	logging.Info("sync_loop_start", map[string]any{"profiles": cfg.Sync.Profiles, "interval": cfg.Sync.Interval.String()})
	return runner.RunSyncLoop(ctx, cfg.Sync.Profiles, cfg.Sync.Interval)
}

func cmdStatus() error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	profile := fs.String("profile", "", "profile username")
	_ = fs.Parse(os.Args[2:])
	if strings.TrimSpace(*profile) == "" {
		return errors.New("-profile is required")
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	repo, err := openRepository(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer repo.Close()
	run, err := repo.LatestSyncRun(ctx, *profile)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Printf("no sync recorded for %s\n", *profile)
		return nil
	}
	if err != nil {
		return err
	}
	return printJSON(run)
}

func cmdServe() error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	addr := fs.String("addr", "", "listen address (defaults to metrics.addr or :9090)")
	_ = fs.Parse(os.Args[2:])
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *addr == "" {
		*addr = cfg.Metrics.Addr
	}
	if *addr == "" {
		*addr = ":9090"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	repo, err := openRepository(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer repo.Close()
	srv := metrics.StartServer(*addr, metrics.NewRouter(lastRunStatus(repo)))
	logging.Info("serve_start", map[string]any{"addr": *addr})
	<-ctx.Done()
	shutdown(srv)
	return nil
}

// loadConfig reads the YAML config; a missing file means defaults plus env.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
		cfg.ResolveEnv()
		err = nil
	}
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	logging.SetLevel(cfg.Log.Level)
	return cfg, nil
}

func openRepository(ctx context.Context, cfg config.StorageConfig) (store.Repository, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		db, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.New("storage.dsn (or MIRRORSYNC_POSTGRES_DSN) is required for postgres")
		}
		pg, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func newRunner(cfg config.Config, repo store.Repository) (*jobs.Runner, error) {
	src, err := source.New(cfg.Source)
	if err != nil {
		return nil, err
	}
	var blocklist trust.Blocklist
	if len(cfg.Trust.BlockedHosts) > 0 {
		blocklist = trust.NewCachedBlocklist(trust.NewHostBlocklist(cfg.Trust.BlockedHosts), cfg.Trust.CacheSize, cfg.Trust.CacheTTL)
	}
	account := model.Account{Username: cfg.Account.Username, UserAgent: cfg.Account.EffectiveUserAgent()}
	reconciler := ingest.NewReconciler(repo,
		trust.NewPolicy(cfg.Trust, blocklist),
		media.NewRetriever(cfg.Media, account.UserAgent),
		account)
	return &jobs.Runner{
		Repo:                  repo,
		Source:                src,
		Orchestrator:          ingest.NewOrchestrator(repo, reconciler),
		Locks:                 jobs.NewProfileLocks(),
		TrackMissingAsDeleted: cfg.Sync.TrackMissingAsDeleted,
		SourceTag:             cfg.Sync.SourceTag,
		QuietHours:            schedule.Valid(cfg.Sync.QuietHours),
	}, nil
}

func lastRunStatus(repo store.Repository) metrics.StatusFunc {
	return func(r *http.Request, username string) (any, error) {
		run, err := repo.LatestSyncRun(r.Context(), username)
		if errors.Is(err, store.ErrNotFound) {
			return nil, metrics.ErrUnknownProfile
		}
		return run, err
	}
}

func shutdown(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
