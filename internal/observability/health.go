package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthChecker tracks liveness and the readiness of named dependencies
// (database, price feed). The service is ready once every registered
// dependency has reported healthy.
type HealthChecker struct {
	mu        sync.RWMutex
	deps      map[string]bool
	startTime time.Time
}

func NewHealthChecker(deps ...string) *HealthChecker {
	h := &HealthChecker{
		deps:      make(map[string]bool, len(deps)),
		startTime: time.Now(),
	}
	for _, d := range deps {
		h.deps[d] = false
	}
	return h
}

// SetDependency records the state of one dependency, registering it if new.
func (h *HealthChecker) SetDependency(name string, healthy bool) {
	h.mu.Lock()
	h.deps[name] = healthy
	h.mu.Unlock()
}

// IsReady reports whether every dependency is healthy.
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ok := range h.deps {
		if !ok {
			return false
		}
	}
	return true
}

// Pending returns the dependencies not yet healthy, sorted.
func (h *HealthChecker) Pending() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var pending []string
	for name, ok := range h.deps {
		if !ok {
			pending = append(pending, name)
		}
	}
	sort.Strings(pending)
	return pending
}

// LivenessHandler always returns 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns 200 when ready, 503 with the pending
// dependencies otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	pending := h.Pending()
	if len(pending) == 0 {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "not_ready",
		"pending": pending,
	})
}
