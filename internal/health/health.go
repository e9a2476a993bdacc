package health

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger checks storage reachability (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the admission policy is loaded (e.g. *engine.OPAEvaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Checker reports readiness of the auth core's dependencies. Nil dependencies are skipped.
type Checker struct {
	db      Pinger
	policy  PolicyChecker
	timeout time.Duration
}

// NewChecker returns a Checker. timeout bounds each Check; zero means 2s.
func NewChecker(db Pinger, policy PolicyChecker, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{db: db, policy: policy, timeout: timeout}
}

// Check returns the first failing dependency's error, or nil when ready.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if c.db != nil {
		if err := c.db.PingContext(ctx); err != nil {
			return err
		}
	}
	if c.policy != nil {
		if err := c.policy.HealthCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Status maps Check onto the gRPC health vocabulary.
func (c *Checker) Status(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	if err := c.Check(ctx); err != nil {
		log.Printf("health: not serving: %v", err)
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// Watch re-evaluates readiness every interval and publishes it on srv for the overall ("")
// service until ctx is done.
func (c *Checker) Watch(ctx context.Context, srv *health.Server, interval time.Duration) {
	srv.SetServingStatus("", c.Status(ctx))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			srv.Shutdown()
			return
		case <-ticker.C:
			srv.SetServingStatus("", c.Status(ctx))
		}
	}
}

// ServeHTTP answers /healthz: 200 {"status":"SERVING"} or 503 {"status":"NOT_SERVING"}.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := c.Status(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if st != healthpb.HealthCheckResponse_SERVING {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": st.String()})
}
