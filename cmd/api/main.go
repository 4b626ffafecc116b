package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/toko-rates/internal/app"
	"github.com/noah-isme/toko-rates/internal/config"
	"github.com/noah-isme/toko-rates/internal/events"
	"github.com/noah-isme/toko-rates/internal/health"
	"github.com/noah-isme/toko-rates/internal/obs"
	"github.com/noah-isme/toko-rates/internal/quote"
	"github.com/noah-isme/toko-rates/internal/ratelimit"
	"github.com/noah-isme/toko-rates/internal/security"
)

func main() {
	cfg := config.MustLoad()

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.ServiceName).With().Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsEnabled {
		obs.MustRegisterDomainMetrics("rates", nil)
	}
	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   cfg.ServiceName,
		Endpoint:      cfg.OTLPEndpoint,
		SamplingRatio: cfg.TraceSampling,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		shutdownTracer = func(context.Context) error { return nil }
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.New(startCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	// Warm the snapshot so configuration errors surface at startup. Readiness stays false until a
	// load succeeds.
	if snap, err := deps.Snapshots.Reload(ctx); err != nil {
		logger.Error().Err(err).Msg("initial snapshot load failed")
	} else {
		logger.Info().Uint64("version", snap.Version).Int("services", len(snap.Services())).Msg("snapshot loaded")
	}

	if cfg.SnapshotRefresh > 0 {
		go deps.Snapshots.Run(ctx, cfg.SnapshotRefresh)
	}
	if sub := deps.Subscriber(); sub != nil {
		go func() {
			if err := sub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("change subscriber stopped")
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           newRouter(cfg, deps, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func newRouter(cfg *config.Config, deps *app.Dependencies, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.TracingMiddleware)
	if cfg.MetricsEnabled {
		r.Use(obs.HTTPObs{Metrics: obs.NewHTTPMetrics("rates", obs.ParseBucketsCSV(os.Getenv("OBS_METRICS_BUCKETS_MS")), nil)}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.IsProduction(), NoStore: true}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if !cfg.IsProduction() || os.Getenv("SECURE_PPROF_BASIC_AUTH_USER") != "" {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), os.Getenv("SECURE_PPROF_BASIC_AUTH_USER"), os.Getenv("SECURE_PPROF_BASIC_AUTH_PASS")))
	}

	healthHandler := health.Handler{Snapshot: deps.Snapshots, Checks: deps.HealthChecks()}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	quoteHandler := quote.NewHandler(quote.HandlerConfig{Engine: deps.Engine, Logger: logger})
	adminHandler := events.NewAdminHandler(deps.Bus, cfg.AdminToken, logger)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: 1 << 20}.Middleware)
		v.Group(func(public chi.Router) {
			if lim := quoteLimiter(cfg, deps.LimiterStore, logger); lim != nil {
				public.Use(lim)
			}
			quoteHandler.Routes(public)
		})
		adminHandler.Routes(v)
	})
	return r
}

func quoteLimiter(cfg *config.Config, store limiter.Store, logger zerolog.Logger) func(http.Handler) http.Handler {
	if store == nil || strings.TrimSpace(cfg.RateLimitQuotes) == "" || cfg.RateLimitQuotes == "0" {
		return nil
	}
	rate, err := limiter.NewRateFromFormatted(cfg.RateLimitQuotes)
	if err != nil {
		logger.Error().Err(err).Str("rate", cfg.RateLimitQuotes).Msg("invalid RATE_LIMIT_QUOTES, rate limiting disabled")
		return nil
	}
	return ratelimit.Handler{
		Limiter: limiter.New(store, rate),
		Key:     ratelimit.ClientIPKey,
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}.Middleware
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
