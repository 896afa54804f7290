// Command sidecar-demo wires every piece this module builds into one
// process: filter config loading, the issuer cache and fetch coordinator,
// the authn core, async audit publishing, and the HTTP+gRPC listener pair
// server.Server manages. It exists to exercise the full module map end to
// end; a real deployment runs one of these per Envoy/gRPC sidecar pairing,
// assembled the same way.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/kestrelproxy/jwtauth/app"
	"github.com/kestrelproxy/jwtauth/audit"
	"github.com/kestrelproxy/jwtauth/authn"
	"github.com/kestrelproxy/jwtauth/cache"
	"github.com/kestrelproxy/jwtauth/config"
	"github.com/kestrelproxy/jwtauth/configstore"
	"github.com/kestrelproxy/jwtauth/contextx"
	"github.com/kestrelproxy/jwtauth/database"
	"github.com/kestrelproxy/jwtauth/feature"
	"github.com/kestrelproxy/jwtauth/fetch"
	"github.com/kestrelproxy/jwtauth/filter"
	"github.com/kestrelproxy/jwtauth/issuercache"
	"github.com/kestrelproxy/jwtauth/log"
	"github.com/kestrelproxy/jwtauth/messaging"
	"github.com/kestrelproxy/jwtauth/server"
	"github.com/kestrelproxy/jwtauth/server/health"
	"github.com/kestrelproxy/jwtauth/server/middleware"
)

// settings is this binary's own process-level config. Each dependency
// below (database.Config, cache.Config, ...) loads itself independently
// through the same app.Loader, since every one of those Config types
// already carries its own fully-qualified envconfig tags; nesting them
// under one struct would double-prefix their env var names.
type settings struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"jwtauth-sidecar"`

	FilterConfigPath string `envconfig:"FILTER_CONFIG_PATH" default:"/etc/jwtauth/filter.yaml"`
	IssuersFromDB    bool   `envconfig:"ISSUERS_FROM_DB" default:"false"`

	RateLimitPerSec int `envconfig:"RATE_LIMIT_PER_SEC" default:"100"`
	RateLimitBurst  int `envconfig:"RATE_LIMIT_BURST" default:"200"`

	AuditTopic string `envconfig:"AUDIT_TOPIC" default:""`

	HTTPPort         string        `envconfig:"HTTP_PORT" default:"8080"`
	GRPCPort         string        `envconfig:"GRPC_PORT" default:"9090"`
	HTTPReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"5s"`
	HTTPWriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"10s"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func main() {
	ctx := context.Background()
	loader := app.NewConfigLoader()

	var cfg settings
	if err := loader.Load(ctx, &cfg, ""); err != nil {
		panic(fmt.Errorf("sidecar-demo: config: %w", err))
	}

	var logCfg log.Config
	if err := loader.Load(ctx, &logCfg, ""); err != nil {
		panic(fmt.Errorf("sidecar-demo: log config: %w", err))
	}
	logger := log.New(logCfg)
	feature.Init(nil)

	app.NewRunner(logger).Run(func(ctx context.Context) error {
		return run(ctx, loader, cfg, logger)
	})
}

func run(ctx context.Context, loader *app.Loader, cfg settings, logger *slog.Logger) error {
	// Postgres only backs the issuer registry; a file-configured sidecar
	// runs without it (and readiness then skips the db ping).
	var db *sql.DB
	if cfg.IssuersFromDB {
		var dbCfg database.Config
		if err := loader.Load(ctx, &dbCfg, ""); err != nil {
			return fmt.Errorf("sidecar-demo: db config: %w", err)
		}
		var err error
		db, err = database.NewPostgres(ctx, dbCfg, cfg.ServiceName)
		if err != nil {
			return fmt.Errorf("sidecar-demo: postgres: %w", err)
		}
		defer db.Close()
	}

	var redisCfg cache.Config
	if err := loader.Load(ctx, &redisCfg, ""); err != nil {
		return fmt.Errorf("sidecar-demo: redis config: %w", err)
	}
	redisClient, err := cache.NewRedis(ctx, redisCfg)
	if err != nil {
		return fmt.Errorf("sidecar-demo: redis: %w", err)
	}
	defer redisClient.Close()

	issuerConfigs, authnOpts, err := loadIssuers(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("sidecar-demo: load issuers: %w", err)
	}

	issuerCache, err := issuercache.New(issuerConfigs)
	if err != nil {
		return fmt.Errorf("sidecar-demo: issuer cache: %w", err)
	}

	coordinator := fetch.New(httpTransport(&http.Client{Timeout: fetch.DefaultTimeout}))
	authenticator := authn.New(issuerCache, coordinator, issuerConfigs, authnOpts)

	var auditCfg audit.Config
	if err := loader.Load(ctx, &auditCfg, ""); err != nil {
		return fmt.Errorf("sidecar-demo: audit config: %w", err)
	}
	auditSink, closeSink, err := buildAuditSink(ctx, loader, cfg, logger)
	if err != nil {
		return fmt.Errorf("sidecar-demo: audit sink: %w", err)
	}
	defer closeSink()

	auditLogger := audit.NewAsyncLogger(auditSink, auditCfg.BufferSize, auditCfg.BlockOnFull, logger)
	defer auditLogger.Close()

	filterMW := filter.New(authenticator, filter.WithAudit(auditLogger))

	router := buildRouter(cfg, auditCfg, logger, db, redisClient, auditLogger, filterMW)
	grpcSrv := buildGRPCServer(redisClient, cfg, filterMW)

	srvCfg := server.Config{
		EnableHTTP:       true,
		EnableGRPC:       true,
		HTTPPort:         cfg.HTTPPort,
		GRPCPort:         cfg.GRPCPort,
		HTTPReadTimeout:  cfg.HTTPReadTimeout,
		HTTPWriteTimeout: cfg.HTTPWriteTimeout,
		ShutdownTimeout:  cfg.ShutdownTimeout,
	}
	srv := server.New(srvCfg, logger, router, grpcSrv)
	return srv.Start(ctx)
}

// loadIssuers resolves the static issuer registry from Postgres
// (configstore's read-once-at-boot design) or from a local filter config
// file, never both; neither source is reloaded at runtime.
func loadIssuers(ctx context.Context, cfg settings, db *sql.DB) ([]*issuercache.IssuerConfig, authn.Options, error) {
	if cfg.IssuersFromDB {
		configs, err := configstore.LoadIssuers(ctx, db)
		return configs, authn.Options{}, err
	}

	fc, err := config.NewLoader[config.FilterConfig]("", cfg.FilterConfigPath).Load()
	if err != nil {
		return nil, authn.Options{}, fmt.Errorf("load filter config %s: %w", cfg.FilterConfigPath, err)
	}
	return fc.Build()
}

// httpTransport adapts a plain *http.Client into fetch.Transport. cluster
// identifies the Envoy upstream cluster the caller expects to answer uri;
// it travels as a header so a fronting proxy can route the request the
// same way it would route a cluster-addressed Envoy fetch, without this
// package depending on Envoy's xDS types.
func httpTransport(client *http.Client) fetch.Transport {
	return func(ctx context.Context, uri, cluster string) (int, []byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return 0, nil, err
		}
		if cluster != "" {
			req.Header.Set("X-Envoy-Upstream-Cluster", cluster)
		}
		resp, err := client.Do(req)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, nil, err
		}
		return resp.StatusCode, body, nil
	}
}

// buildAuditSink picks Kafka or stdout JSON based on the "audit_kafka"
// feature flag (feature.IsEnabled), the same flag-gated-rollout pattern
// feature.Manager documents. The returned closer tears down whatever
// client the sink opened.
func buildAuditSink(ctx context.Context, loader *app.Loader, cfg settings, logger *slog.Logger) (audit.Logger, func(), error) {
	if feature.IsEnabled(ctx, "audit_kafka") {
		var kafkaCfg messaging.Config
		if err := loader.Load(ctx, &kafkaCfg, ""); err != nil {
			return nil, nil, fmt.Errorf("kafka config: %w", err)
		}
		producer, err := messaging.NewProducer(kafkaCfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka producer: %w", err)
		}
		return audit.NewKafkaLogger(producer, cfg.AuditTopic), func() { _ = producer.Close() }, nil
	}
	return audit.NewJSONLogger(os.Stdout), func() {}, nil
}

func buildRouter(cfg settings, auditCfg audit.Config, logger *slog.Logger, db *sql.DB, redisClient *redis.Client, auditLogger audit.Logger, filterMW *filter.Middleware) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.OTelMiddleware(cfg.ServiceName))
	r.Use(middleware.TraceIDMiddleware)
	r.Use(middleware.PanicRecovery)
	r.Use(middleware.LoggerMiddleware)
	r.Use(middleware.MetricsMiddleware)

	checker := health.NewChecker(db, logger)
	checker.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(protected chi.Router) {
		protected.Use(filterMW.HTTPMiddleware)
		protected.Use(middleware.RateLimitMiddleware(redisClient, cfg.RateLimitPerSec, cfg.RateLimitBurst, time.Second))
		protected.Use(middleware.AuditMiddleware(auditLogger, auditCfg))
		protected.Get("/*", handleUpstream)
	})

	return r
}

// handleUpstream stands in for whatever handler a real Envoy ext_authz
// or reverse-proxy deployment forwards to once auth succeeds: it simply
// echoes back the attribute bundle filter.Middleware attached to the
// request context, proving the forwarding contract holds end to end.
func handleUpstream(w http.ResponseWriter, r *http.Request) {
	attrs := contextx.GetAuthAttributes(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"authenticated": attrs != nil,
		"attributes":    attrs,
	})
}

func buildGRPCServer(redisClient *redis.Client, cfg settings, filterMW *filter.Middleware) *grpc.Server {
	return grpc.NewServer(grpc.ChainUnaryInterceptor(
		middleware.GRPCTraceInterceptor,
		middleware.GRPCRecoveryInterceptor,
		filterMW.GRPCUnaryInterceptor,
		middleware.GRPCRateLimitInterceptor(redisClient, cfg.RateLimitPerSec, cfg.RateLimitBurst, time.Second),
	))
}
