// Command codemetrics fetches coding-platform metrics for a user.
//
// Usage:
//
//	codemetrics codeforces tourist
//	codemetrics -user alice github=octocat leetcode=alice codechef=chef
//	codemetrics -user alice -snapshot
//	codemetrics -serve
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/codemetrics/internal/api"
	"github.com/codeGROOVE-dev/codemetrics/internal/config"
	"github.com/codeGROOVE-dev/codemetrics/pkg/auth"
	"github.com/codeGROOVE-dev/codemetrics/pkg/codechef"
	"github.com/codeGROOVE-dev/codemetrics/pkg/codeforces"
	"github.com/codeGROOVE-dev/codemetrics/pkg/fetch"
	"github.com/codeGROOVE-dev/codemetrics/pkg/freshness"
	"github.com/codeGROOVE-dev/codemetrics/pkg/github"
	"github.com/codeGROOVE-dev/codemetrics/pkg/leetcode"
	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
	"github.com/codeGROOVE-dev/codemetrics/pkg/store"
	"github.com/codeGROOVE-dev/codemetrics/pkg/telemetry"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	configPath := flag.String("config", "", "YAML config file (default $CODEMETRICS_CONFIG)")
	storeKind := flag.String("store", "", "store backend: memory, sqlite, disk, postgres, redis (overrides config)")
	dsn := flag.String("dsn", "", "store path or URL (overrides config)")
	user := flag.String("user", "local", "user ID records are stored under")
	browserCookies := flag.Bool("browser-cookies", false, "read CodeChef session cookies from local browsers")
	serve := flag.Bool("serve", false, "run the HTTP API instead of a one-shot fetch")
	snapshot := flag.Bool("snapshot", false, "print stored records for -user without fetching")
	contributions := flag.Bool("contributions", false, "print the GitHub contribution score for a handle")
	flag.Parse()

	if !*serve && !*snapshot && flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: codemetrics [options] <platform> <handle>")
		fmt.Fprintln(os.Stderr, "       codemetrics [options] <platform>=<handle> ...")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
		fmt.Fprintln(os.Stderr, "\nSupported platforms:")
		for _, p := range profile.Platforms {
			fmt.Fprintf(os.Stderr, "  - %s\n", p)
		}
		fmt.Fprintln(os.Stderr, "\nGitHub requires GITHUB_TOKEN. CodeChef reads CODECHEF_COOKIE when set.")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *storeKind != "" {
		cfg.Store = *storeKind
	} else if !*serve && cfg.Store == store.KindMemory {
		// A one-shot run with an in-memory store would never hit the cache.
		cfg.Store = store.KindSQLite
	}
	if *dsn != "" {
		cfg.DSN = *dsn
	}
	if *browserCookies {
		cfg.BrowserCookies = true
	}

	level, err := cfg.Level()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		level = slog.LevelDebug
	}
	var logger *slog.Logger
	if *serve {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1) //nolint:gocritic // exitAfterDefer is acceptable in main
	}
	defer func() {
		if err := a.store.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}()

	switch {
	case *serve:
		err = a.serve(ctx, cfg.Addr)
	case *snapshot:
		err = a.snapshot(ctx, *user)
	case *contributions:
		err = a.contributions(ctx, flag.Arg(0))
	default:
		err = a.fetch(ctx, *user, flag.Args())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	store     store.Store
	service   *freshness.Service
	telemetry *telemetry.Manager
	github    *github.Client
	logger    *slog.Logger
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	tm := telemetry.New(telemetry.WithNamespace(cfg.MetricsNamespace))
	fetcher := fetch.New(
		fetch.WithLogger(logger),
		fetch.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		fetch.WithObserver(tm.ObserveUpstream),
	)

	gh, err := github.New(ctx,
		github.WithToken(cfg.GitHubToken),
		github.WithLogger(logger),
		github.WithFetcher(fetcher),
		github.WithPolicy(cfg.Policy(profile.GitHub, github.DefaultPolicy)),
	)
	if err != nil {
		return nil, err
	}
	lc, err := leetcode.New(ctx,
		leetcode.WithLogger(logger),
		leetcode.WithFetcher(fetcher),
		leetcode.WithPolicy(cfg.Policy(profile.LeetCode, leetcode.DefaultPolicy)),
	)
	if err != nil {
		return nil, err
	}
	cf, err := codeforces.New(ctx,
		codeforces.WithLogger(logger),
		codeforces.WithFetcher(fetcher),
		codeforces.WithPolicy(cfg.Policy(profile.Codeforces, codeforces.DefaultPolicy)),
	)
	if err != nil {
		return nil, err
	}

	chefOpts := []codechef.Option{
		codechef.WithLogger(logger),
		codechef.WithFetcher(fetcher),
		codechef.WithPolicy(cfg.Policy(profile.CodeChef, codechef.DefaultPolicy)),
	}
	if cookies := codeChefCookies(ctx, cfg, logger); len(cookies) > 0 {
		chefOpts = append(chefOpts, codechef.WithCookies(cookies))
	}
	cc, err := codechef.New(ctx, chefOpts...)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	logger.Debug("store opened", "kind", cfg.Store)

	opts := []freshness.Option{freshness.WithLogger(logger), freshness.WithObserver(tm.ObserveCache)}
	for p, ttl := range cfg.TTLs() {
		opts = append(opts, freshness.WithTTL(p, ttl))
	}
	registry := profile.NewRegistry(gh, lc, cf, cc)
	logger.Debug("platforms registered", "platforms", registry.Platforms())
	svc := freshness.New(st, registry, opts...)

	return &app{store: st, service: svc, telemetry: tm, github: gh, logger: logger}, nil
}

// codeChefCookies consults the config, then the environment, then browsers when enabled.
func codeChefCookies(ctx context.Context, cfg *config.Config, logger *slog.Logger) map[string]string {
	sources := []auth.Source{
		auth.NewStaticSource(auth.ParseHeader(cfg.CodeChefCookie)),
		auth.EnvSource{},
	}
	if cfg.BrowserCookies {
		sources = append(sources, auth.NewBrowserSource(logger))
	}
	cookies, err := auth.ChainSources(ctx, string(profile.CodeChef), sources...)
	if err != nil {
		logger.Warn("failed to read CodeChef cookies", "error", err)
		return nil
	}
	if len(cookies) > 0 {
		logger.Debug("using CodeChef cookies", "keys", auth.Names(cookies))
	}
	return cookies
}

func (a *app) fetch(ctx context.Context, user string, args []string) error {
	handles, err := parseTargets(args)
	if err != nil {
		return err
	}

	if len(handles) == 1 {
		for p, h := range handles {
			r, err := a.service.FetchPlatformProfile(ctx, user, string(p), h)
			if err != nil {
				return err
			}
			return outputJSON(r)
		}
	}

	type entry struct {
		Profile *freshness.ProfileResponse `json:"profile,omitempty"`
		Error   string                     `json:"error,omitempty"`
		Kind    profile.ErrorKind          `json:"errorKind,omitempty"`
	}
	results := make(map[profile.Platform]entry, len(handles))
	for p, o := range a.service.FetchAll(ctx, user, handles) {
		if o.Err != nil {
			results[p] = entry{Error: o.Err.Error(), Kind: profile.Kind(o.Err)}
			continue
		}
		results[p] = entry{Profile: &freshness.ProfileResponse{
			Metrics:         o.Result.Metrics,
			Cached:          o.Result.Cached,
			CacheAgeSeconds: int64(o.Result.CacheAge / time.Second),
		}}
	}
	return outputJSON(results)
}

// parseTargets accepts either "<platform> <handle>" or "<platform>=<handle>" pairs.
func parseTargets(args []string) (map[profile.Platform]string, error) {
	if len(args) == 2 && !strings.Contains(args[0], "=") && !strings.Contains(args[1], "=") {
		args = []string{args[0] + "=" + args[1]}
	}
	out := make(map[profile.Platform]string, len(args))
	for _, arg := range args {
		name, handle, ok := strings.Cut(arg, "=")
		if !ok || handle == "" {
			return nil, fmt.Errorf("expected <platform>=<handle>, got %q", arg)
		}
		p, err := profile.ParsePlatform(name)
		if err != nil {
			return nil, err
		}
		out[p] = handle
	}
	if len(out) == 0 {
		return nil, errors.New("no platforms given")
	}
	return out, nil
}

func (a *app) snapshot(ctx context.Context, user string) error {
	records, err := a.service.Snapshot(ctx, user)
	if err != nil {
		return err
	}
	return outputJSON(records)
}

func (a *app) contributions(ctx context.Context, handle string) error {
	if handle == "" {
		return errors.New("-contributions requires a GitHub handle")
	}
	c, err := a.github.FetchContributions(ctx, handle)
	if err != nil {
		return err
	}
	return outputJSON(c)
}

func (a *app) serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewServer(a.service,
			api.WithLogger(a.logger),
			api.WithObserver(a.telemetry),
			api.WithMetricsHandler(a.telemetry.Handler()),
		).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
