package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	gateway "github.com/eugener/wvgate/internal"
	"github.com/eugener/wvgate/internal/app"
	"github.com/eugener/wvgate/internal/cache"
	"github.com/eugener/wvgate/internal/circuitbreaker"
	"github.com/eugener/wvgate/internal/config"
	"github.com/eugener/wvgate/internal/ratelimit"
	"github.com/eugener/wvgate/internal/server"
	"github.com/eugener/wvgate/internal/session"
	"github.com/eugener/wvgate/internal/telemetry"
	"github.com/eugener/wvgate/internal/upstream"
	"github.com/eugener/wvgate/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.SetDefault(newLogger(cfg))
	slog.Info("starting wvgate",
		"version", version,
		"addr", cfg.Server.Addr,
		"environment", cfg.Environment,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Tracing
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, "wvgate", version, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	// Metrics
	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
		upstreamObs    upstream.Observer
		cacheObs       app.CacheObserver
		loginObs       app.LoginObserver
	)
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		upstreamObs, cacheObs, loginObs = metrics, metrics, metrics
	}

	// Upstream client
	var workers []worker.Worker
	var resolver *dnscache.Resolver
	if cfg.Upstream.DNSRefresh > 0 {
		resolver = &dnscache.Resolver{}
		workers = append(workers, worker.NewDNSRefresher(resolver, cfg.Upstream.DNSRefresh))
	}
	opts := []upstream.Option{}
	if upstreamObs != nil {
		opts = append(opts, upstream.WithObserver(upstreamObs))
	}
	if b := cfg.Upstream.Breaker; b.Enabled {
		opts = append(opts, upstream.WithBreaker(circuitbreaker.New(circuitbreaker.Config{
			ErrorThreshold: b.ErrorThreshold,
			MinSamples:     b.MinSamples,
			Window:         b.Window,
			OpenTimeout:    b.OpenTimeout,
		})))
	}
	client := upstream.New(upstream.Config{
		AccountURL: cfg.Upstream.AccountURL,
		APIURL:     cfg.Upstream.APIURL,
		Timeout:    cfg.Upstream.Timeout,
		UserAgent:  "wvgate/" + version,
	}, &http.Client{Transport: upstream.NewTransport(resolver)}, opts...)

	// Session and cache
	sess := session.New(client, cfg.Upstream.LoginTimeout)
	auth := app.NewAuthService(sess, loginObs)

	var store cache.Cache
	var sizer server.CacheSizer
	if cfg.Cache.Enabled {
		mem, err := cache.NewMemory(cfg.Cache.MaxSize, cfg.Cache.DefaultTTL)
		if err != nil {
			return err
		}
		store, sizer = mem, mem
	}
	fetch := app.NewFetchService(store, sess, cfg.Cache.DefaultTTL, cacheObs)

	// Rate limiting
	var limiter *ratelimit.Registry
	if cfg.IsProduction() || cfg.RateLimit.Always {
		limiter = ratelimit.NewRegistry(ratelimit.Config{Window: cfg.RateLimit.Window, Max: cfg.RateLimit.Max})
		workers = append(workers, worker.NewRateWindowJanitor(limiter, limiter.Config().Window))
	}

	// Auto-login
	autoLogin := cfg.Weverse.AutoLogin && cfg.Weverse.HasCredentials()
	if autoLogin {
		creds := gateway.Credentials{Email: cfg.Weverse.Email, Password: cfg.Weverse.Password}
		workers = append(workers, worker.NewSessionKeeper(auth.LoginConfigured(creds), auth.IsAuthenticated))
	} else {
		slog.Warn("no auto-login credentials configured; POST /api/auth/login to authenticate")
	}

	// Create HTTP server
	handler := server.New(server.Deps{
		Auth:           auth,
		Fetch:          fetch,
		Upstream:       client,
		CacheSize:      sizer,
		RateLimiter:    limiter,
		Environment:    cfg.Environment,
		TrustProxy:     cfg.Server.TrustProxy,
		ReadyCheck:     readyCheck(autoLogin, auth),
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Background workers
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	workerDone := make(chan error, 1)
	go func() { workerDone <- worker.NewRunner(workers...).Run(workerCtx) }()

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("wvgate ready", "addr", cfg.Server.Addr)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	cancelWorkers()
	if err := <-workerDone; err != nil {
		slog.Warn("worker stopped with error", "error", err)
	}

	slog.Info("wvgate stopped")
	return nil
}

// newLogger returns the process logger: JSON in production, text elsewhere.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Log.SlogLevel(cfg.IsProduction())}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// readyCheck reports ready once a session is held. Without auto-login the
// gateway is ready immediately since a client is expected to log in.
func readyCheck(autoLogin bool, auth *app.AuthService) server.ReadyChecker {
	if !autoLogin {
		return nil
	}
	return func(context.Context) error {
		if !auth.IsAuthenticated() {
			return gateway.ErrUnauthenticated
		}
		return nil
	}
}
