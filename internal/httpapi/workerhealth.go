package httpapi

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/pioreactor/pio/internal/infra/healing"
)

// workerHealth guards forwardToWorker against a unit that is down or
// flaky: a per-unit circuit breaker short-circuits repeated dial
// failures, and a quarantine manager backs off a unit whose unit_api
// keeps returning errors, escalating to a longer ban the way
// internal/infra/healing describes for any unit (spec.md §4.J "forwards
// to unit").
type workerHealth struct {
	mu         sync.Mutex
	breakers   map[string]*healing.CircuitBreaker
	quarantine *healing.QuarantineManager
}

func newWorkerHealth() *workerHealth {
	return &workerHealth{
		breakers:   make(map[string]*healing.CircuitBreaker),
		quarantine: healing.NewQuarantineManager(healing.DefaultQuarantineConfig()),
	}
}

func (h *workerHealth) breaker(unit string) *healing.CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	cb, ok := h.breakers[unit]
	if !ok {
		cb = healing.NewCircuitBreaker(unit, healing.DefaultCircuitBreakerConfig())
		h.breakers[unit] = cb
	}
	return cb
}

// allow reports whether a forwarded request to unit should proceed.
func (h *workerHealth) allow(unit string) error {
	if h.quarantine.IsQuarantined(unit) {
		return fmt.Errorf("unit %s is quarantined", unit)
	}
	return h.breaker(unit).Allow()
}

// recordResult updates the circuit breaker and quarantine state for unit
// after a forwarded request completes. A dial/transport error (err !=
// nil) or a 5xx/offline response counts as a failure.
func (h *workerHealth) recordResult(unit string, status int, err error) {
	cb := h.breaker(unit)
	if err != nil || status >= http.StatusInternalServerError {
		cb.RecordFailure()
		h.quarantine.RecordFailure(unit)
		return
	}
	cb.RecordSuccess()
}
