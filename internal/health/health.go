// Package health runs named readiness checks for the server's dependencies
// (ledger store, chain oracle, URL classifiers).
package health

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Status is the result of one check.
type Status struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail,omitempty"`
	// Err is the failure behind an unhealthy status. It is logged by the
	// registry and never serialized.
	Err error `json:"-"`
}

// Details reported for failed pings.
const (
	DetailUnavailable = "unavailable"
	DetailTimeout     = "timeout"
)

// Checker reports the health of one dependency.
type Checker func(ctx context.Context) Status

// Registry holds checkers in registration order.
type Registry struct {
	mu       sync.RWMutex
	checkers []Checker
	logger   *slog.Logger
}

// NewRegistry creates an empty registry that logs failed checks to logger.
// A nil logger uses slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a checker.
func (r *Registry) Register(check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, check)
	r.mu.Unlock()
}

// Ping wraps a ping function as a checker bounded by timeout. An optional
// dependency reports its status but never makes the registry unhealthy.
func Ping(name string, optional bool, timeout time.Duration, ping func(context.Context) error) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		st := Status{Name: name, Healthy: true, Optional: optional}
		if err := ping(ctx); err != nil {
			st.Healthy = false
			st.Err = err
			st.Detail = DetailUnavailable
			if errors.Is(err, context.DeadlineExceeded) {
				st.Detail = DetailTimeout
			}
		}
		return st
	}
}

// Static reports a fixed status, e.g. for a disabled optional dependency.
func Static(name, detail string) Checker {
	return func(context.Context) Status {
		return Status{Name: name, Healthy: true, Optional: true, Detail: detail}
	}
}

// CheckAll runs every checker. The registry is healthy when no required
// check failed.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	checkers := make([]Checker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	healthy := true
	statuses := make([]Status, len(checkers))
	for i, check := range checkers {
		statuses[i] = check(ctx)
		if statuses[i].Healthy {
			continue
		}
		r.logger.Warn("health check failed",
			"check", statuses[i].Name,
			"optional", statuses[i].Optional,
			"error", statuses[i].Err,
		)
		if !statuses[i].Optional {
			healthy = false
		}
	}
	return healthy, statuses
}

// ReadyHandler serves the aggregate status: 200 when healthy, 503
// otherwise.
func (r *Registry) ReadyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		healthy, statuses := r.CheckAll(c.Request.Context())
		code, status := http.StatusOK, "ok"
		if !healthy {
			code, status = http.StatusServiceUnavailable, "unavailable"
		}
		c.JSON(code, gin.H{"status": status, "checks": statuses})
	}
}
