/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/playplan/internal/api"
	"github.com/friendsincode/playplan/internal/cache"
	"github.com/friendsincode/playplan/internal/config"
	"github.com/friendsincode/playplan/internal/db"
	"github.com/friendsincode/playplan/internal/eventbus"
	"github.com/friendsincode/playplan/internal/events"
	"github.com/friendsincode/playplan/internal/plans"
	"github.com/friendsincode/playplan/internal/playlist"
	"github.com/friendsincode/playplan/internal/ratelimit"
	"github.com/friendsincode/playplan/internal/storage"
	"github.com/friendsincode/playplan/internal/telemetry"
	"github.com/friendsincode/playplan/internal/version"
)

const sweepInterval = time.Minute

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db        *gorm.DB
	cache     *cache.Cache
	fallback  *cache.Memory
	playlists *playlist.CachedSource
	archive   storage.ObjectStore
	plans     *plans.Service
	limiter   *ratelimit.Limiter
	forwarder *eventbus.NATSForwarder
	api       *api.API
	bus       *events.Bus

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("playplan-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for WebSocket event streams
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Event streams are long lived; the middleware timeout covers everything else
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogger writes one structured line per request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			event := logger.Debug()
			if status >= 500 {
				event = logger.Error()
			} else if status >= 400 {
				event = logger.Info()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database

	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	cacheCfg.PlaylistTTL = s.cfg.PlaylistCacheTTL
	cacheCfg.PlanTTL = s.cfg.PlanCacheTTL
	s.fallback = cache.NewMemory(cacheCfg, nil, nil)
	entityCache, err := cache.New(cacheCfg, s.fallback, s.logger)
	if err != nil {
		return err
	}
	s.cache = entityCache
	s.DeferClose(func() error { return s.cache.Close() })

	client := playlist.NewClient(playlist.ClientConfig{
		BaseURL:  s.cfg.DataAPIBaseURL,
		APIKey:   s.cfg.DataAPIKey,
		Timeout:  s.cfg.DataAPITimeout,
		MaxItems: s.cfg.MaxPlaylistItems,
	}, s.logger)
	s.playlists = playlist.NewCachedSource(client, s.cache, s.logger)
	if s.cfg.DataAPIKey == "" {
		s.logger.Warn().Msg("no data API key configured; playlist lookups will fail upstream")
	}

	if s.cfg.S3Bucket != "" {
		store, err := storage.NewS3Store(context.Background(), storage.S3Config{
			Bucket:          s.cfg.S3Bucket,
			Region:          s.cfg.S3Region,
			Endpoint:        s.cfg.S3Endpoint,
			AccessKeyID:     s.cfg.S3AccessKeyID,
			SecretAccessKey: s.cfg.S3SecretAccessKey,
			UsePathStyle:    s.cfg.S3UsePathStyle,
		}, s.logger)
		if err != nil {
			return err
		}
		s.archive = store
	} else {
		s.archive = storage.NewMemoryStore()
	}

	if s.cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		natsCfg.Name = "playplan-" + version.Version
		forwarder, err := eventbus.NewNATSForwarder(natsCfg, s.bus, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("NATS unavailable, plan events stay local")
		} else {
			s.forwarder = forwarder
			s.DeferClose(func() error { return s.forwarder.Close() })
		}
	}

	s.plans = plans.NewService(s.db, s.playlists, s.cache, s.archive, s.bus, plans.Config{
		DefaultCapacityMinutes: s.cfg.DefaultCapacityMinutes,
		MaxPeriods:             s.cfg.MaxPeriods,
	}, s.logger)

	s.limiter = ratelimit.New(ratelimit.Config{
		RPS:   s.cfg.RateLimitRPS,
		Burst: s.cfg.RateLimitBurst,
	}, nil)

	opts := api.Options{AllowedOrigins: s.cfg.CORSAllowedOrigins}
	if s.limiter.Enabled() {
		opts.Limiter = s.limiter
	}
	s.api = api.New(s.plans, s.playlists, s.bus, opts, s.logger)

	return nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer is non-nil when metrics are served on a separate bind.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.forwarder != nil {
		if err := s.forwarder.Start(ctx, events.PlanEventTypes...); err != nil {
			s.logger.Error().Err(err).Msg("NATS forwarder failed to start")
		} else {
			s.logger.Info().Str("node_id", s.forwarder.NodeID()).Msg("forwarding plan events over NATS")
		}
	}

	// Sweep idle rate limit buckets and expired fallback cache entries
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				clients := s.limiter.Sweep()
				entries := s.fallback.Sweep()
				if clients > 0 || entries > 0 {
					s.logger.Debug().Int("clients", clients).Int("cache_entries", entries).Msg("swept idle state")
				}
			}
		}
	}()

	// Start database metrics updater
	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}

	// Start cache invalidation listener
	if s.cache != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}
}

// runCacheInvalidationListener drops cached plans when any node changes them.
// The local service already invalidates its own writes; this covers events
// relayed from other nodes.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	invalidating := []events.EventType{events.EventPlanReplanned, events.EventPlanDayCompleted, events.EventPlanDeleted}
	subs := make([]events.Subscriber, len(invalidating))
	for i, eventType := range invalidating {
		subs[i] = s.bus.Subscribe(eventType)
	}
	defer func() {
		for i, eventType := range invalidating {
			s.bus.Unsubscribe(eventType, subs[i])
		}
	}()

	s.logger.Info().Msg("cache invalidation listener started")

	for {
		var payload events.Payload
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return
		case payload = <-subs[0]:
		case payload = <-subs[1]:
		case payload = <-subs[2]:
		}
		if _, remote := payload[eventbus.OriginKey]; !remote {
			continue
		}
		if planID, ok := payload["plan_id"].(string); ok && planID != "" {
			s.logger.Debug().Str("plan_id", planID).Msg("invalidating plan cache (remote event)")
			if err := s.cache.InvalidatePlan(ctx, planID); err != nil {
				s.logger.Debug().Err(err).Msg("plan cache invalidation failed")
			}
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := `{"status":"ok","version":"` + version.Version + `"`
		if s.cache != nil && s.cache.IsAvailable() {
			response += `,"redis":true`
		} else {
			response += `,"redis":false`
		}
		if s.forwarder != nil {
			response += `,"nats":true,"node_id":"` + s.forwarder.NodeID() + `"`
		}
		response += `}`
		_, _ = w.Write([]byte(response))
	})

	if s.cfg.MetricsBind == "" {
		s.router.Handle("/metrics", telemetry.Handler())
	}

	s.api.Routes(s.router)
}

// Shutdown stops the HTTP listeners gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
