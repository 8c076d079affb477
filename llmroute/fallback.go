package llmroute

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/forge-labs/capforge/aiclient"
	"github.com/forge-labs/capforge/internal/circuitbreaker"
	"github.com/forge-labs/capforge/internal/logging"
	"github.com/forge-labs/capforge/internal/metrics"
)

// Fallback tries each backend in order, skipping one whose circuit breaker
// is open and moving to the next on failure.
type Fallback struct {
	backends   []string
	lookup     BackendLookup
	breakers   map[string]*circuitbreaker.CircuitBreaker
	maxRetries int
}

// NewFallback creates a Fallback strategy over backends, each guarded by
// its own circuit breaker with default thresholds.
func NewFallback(backends []string, lookup BackendLookup) *Fallback {
	breakers := make(map[string]*circuitbreaker.CircuitBreaker, len(backends))
	for _, b := range backends {
		breakers[b] = circuitbreaker.New(0, 0, 0)
	}
	return &Fallback{backends: backends, lookup: lookup, breakers: breakers, maxRetries: 1}
}

// WithMaxRetries sets the number of attempts per backend before moving on.
func (f *Fallback) WithMaxRetries(n int) *Fallback {
	f.maxRetries = n
	return f
}

func (f *Fallback) Complete(ctx context.Context, req aiclient.Request) (*aiclient.Response, error) {
	if len(f.backends) == 0 {
		return nil, fmt.Errorf("llmroute: no backends configured for fallback")
	}

	var lastErr error
	for _, name := range f.backends {
		breaker := f.breakers[name]
		if breaker != nil && !breaker.Allow() {
			logging.Logger.Warn("skipping backend, circuit open", "backend", name)
			metrics.LLMBackendCircuitState.WithLabelValues(name).Set(1)
			metrics.LLMBackendErrorsTotal.WithLabelValues(name, "circuit_open").Inc()
			continue
		}

		c, ok := f.lookup(name)
		if !ok {
			logging.Logger.Warn("backend not found, skipping", "backend", name)
			lastErr = fmt.Errorf("backend not found: %s", name)
			continue
		}

		for attempt := 0; attempt < f.maxRetries; attempt++ {
			if attempt > 0 {
				backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 100 * time.Millisecond
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(backoff):
				}
			}

			resp, err := c.Complete(ctx, req)
			if err == nil {
				if breaker != nil {
					breaker.RecordSuccess()
					metrics.LLMBackendCircuitState.WithLabelValues(name).Set(float64(breaker.State()))
				}
				return resp, nil
			}
			lastErr = fmt.Errorf("backend %s attempt %d: %w", name, attempt+1, err)
			metrics.LLMBackendErrorsTotal.WithLabelValues(name, "transport_error").Inc()
		}
		if breaker != nil {
			breaker.RecordFailure()
			metrics.LLMBackendCircuitState.WithLabelValues(name).Set(float64(breaker.State()))
		}
	}

	return nil, fmt.Errorf("llmroute: all backends failed: %w", lastErr)
}
