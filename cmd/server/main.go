// server runs the gathering marketplace auth core: the gRPC server (health, auth interceptors,
// otelgrpc) and the ops HTTP listener with /metrics and /healthz.
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gathering-marketplace/backend/internal/audit"
	auditrepo "gathering-marketplace/backend/internal/audit/repository"
	"gathering-marketplace/backend/internal/config"
	"gathering-marketplace/backend/internal/db"
	"gathering-marketplace/backend/internal/health"
	identityrepo "gathering-marketplace/backend/internal/identity/repository"
	ledgerrepo "gathering-marketplace/backend/internal/ledger/repository"
	ledgerservice "gathering-marketplace/backend/internal/ledger/service"
	"gathering-marketplace/backend/internal/platform/cache"
	"gathering-marketplace/backend/internal/platform/ratelimit"
	"gathering-marketplace/backend/internal/policy/engine"
	"gathering-marketplace/backend/internal/role/catalog"
	rolerepo "gathering-marketplace/backend/internal/role/repository"
	"gathering-marketplace/backend/internal/role/resolver"
	"gathering-marketplace/backend/internal/security"
	"gathering-marketplace/backend/internal/server"
	sessionservice "gathering-marketplace/backend/internal/session/service"
	"gathering-marketplace/backend/internal/telemetry"
	otelsetup "gathering-marketplace/backend/internal/telemetry/otel"
	"gathering-marketplace/backend/internal/telemetry/producer"
)

const (
	serviceName          = "gathering-auth"
	healthWatchInterval  = 10 * time.Second
	limiterPruneInterval = time.Minute
	httpShutdownTimeout  = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if !cfg.AuthEnabled() {
		log.Fatal("config: JWT_ACCESS_* and JWT_REFRESH_* key pairs are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otelsetup.NewProviders(ctx, otelsetup.Config{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: serviceName,
		Insecure:    cfg.OTelInsecure,
	})
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	codec, err := newCodec(cfg)
	if err != nil {
		log.Fatalf("codec: %v", err)
	}

	roles, err := catalog.Load(cfg.RolesFile)
	if err != nil {
		log.Fatalf("roles: %v", err)
	}

	roleStore := rolerepo.NewPostgresRepository(conn)
	var definitions rolerepo.DefinitionRepository = roleStore
	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer client.Close()
		definitions = rolerepo.NewCachedDefinitions(roleStore, cache.NewRedis(client, "gathering:roles:"), cfg.RoleCacheTTLDuration())
		log.Printf("server: role definitions cached in redis")
	}
	roleResolver := resolver.New(roleStore, definitions, cfg.RoleCacheTTLDuration(),
		resolver.WithStoreTimeout(cfg.StoreTimeoutDuration()))

	ledger := ledgerservice.New(ledgerrepo.NewPostgresStore(conn), cfg.StoreTimeoutDuration(),
		ledgerservice.WithTTL(codec.RefreshTTL()))

	metrics := telemetry.NewMetrics()

	var kafka producer.Producer
	if p := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.AuthEventsKafkaTopic); p != nil {
		kafka = p
		log.Printf("server: publishing auth events to kafka topic %s", cfg.AuthEventsKafkaTopic)
	}
	events := telemetry.NewMulti(otelsetup.NewEventEmitter(providers.LoggerProvider), kafka)

	admission, err := newAdmission(ctx, cfg)
	if err != nil {
		log.Fatalf("policy: %v", err)
	}

	limiter := ratelimit.New(cfg.LoginRatePerMinute, cfg.LoginBurst)
	go limiter.Run(ctx, limiterPruneInterval, ratelimit.DefaultIdleTTL)

	orchestrator, err := sessionservice.New(sessionservice.Deps{
		Codec:         codec,
		Ledger:        ledger,
		Roles:         roleResolver,
		Identities:    identityrepo.NewPostgresRepository(conn),
		Hasher:        security.NewHasher(cfg.BcryptCost),
		Admission:     admission,
		Audit:         audit.NewLogger(auditrepo.NewPostgresRepository(conn), events),
		Limiter:       limiter,
		Events:        events,
		Metrics:       metrics,
		RevokeOnReuse: cfg.RevokeOnReuse,
		StoreTimeout:  cfg.StoreTimeoutDuration(),
	})
	if err != nil {
		log.Fatalf("session: %v", err)
	}

	grpcServer, healthServer := server.NewGRPCServer(server.Deps{
		Authorizer:  orchestrator,
		Metrics:     metrics,
		Permissions: roles.Methods,
		Reflection:  !cfg.IsProduction(),
	})
	checker := health.NewChecker(conn, admission, 2*time.Second)
	go checker.Watch(ctx, healthServer, healthWatchInterval)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	go func() {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	var opsServer *http.Server
	if cfg.HTTPAddr != "" {
		opsServer = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           opsRouter(metrics, checker),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Printf("ops HTTP listening on %s", cfg.HTTPAddr)
			if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("ops http: %v", err)
			}
		}()
	}

	<-ctx.Done()
	log.Println("shutting down gRPC server...")
	grpcServer.GracefulStop()
	if opsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		_ = opsServer.Shutdown(shutdownCtx)
		cancel()
	}

	// Async audit and event emits may still be in flight.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if kafka != nil {
		if err := kafka.Close(); err != nil {
			log.Printf("kafka: close: %v", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel: shutdown: %v", err)
	}
	log.Println("gRPC server stopped")
}

func newCodec(cfg *config.Config) (*security.Codec, error) {
	access, err := security.LoadKeyPair(cfg.JWTAccessPrivateKey, cfg.JWTAccessPublicKey)
	if err != nil {
		return nil, err
	}
	refresh, err := security.LoadKeyPair(cfg.JWTRefreshPrivateKey, cfg.JWTRefreshPublicKey)
	if err != nil {
		return nil, err
	}
	return security.NewCodec(access, refresh, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())
}

func newAdmission(ctx context.Context, cfg *config.Config) (*engine.OPAEvaluator, error) {
	policy := ""
	if cfg.AdmissionPolicyFile != "" {
		b, err := os.ReadFile(cfg.AdmissionPolicyFile)
		if err != nil {
			return nil, err
		}
		policy = string(b)
	}
	return engine.NewOPAEvaluator(ctx, policy, cfg.RequireVerifiedEmail)
}

func opsRouter(metrics *telemetry.Metrics, checker *health.Checker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Method(http.MethodGet, "/healthz", checker)
	return r
}
