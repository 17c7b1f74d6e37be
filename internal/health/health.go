package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/breeze-rmm/notify-bridge/internal/logging"
)

var log = logging.L("health")

// Status represents the health status of a component.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
	Unknown   Status = "unknown"
)

// Component names reported by the daemon.
const (
	ComponentNotifier = "notifier"
	ComponentListener = "listener"
	ComponentPipeline = "pipeline"
)

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case Healthy, Degraded, Unhealthy, Unknown:
		return true
	}
	return false
}

// Check stores the latest health result for a named component.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Monitor tracks health checks for multiple components.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewMonitor creates a new health monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		checks: make(map[string]Check),
	}
}

// Update records the health status for a named component. Unknown values
// are recorded as Unhealthy.
func (m *Monitor) Update(name string, status Status, message string) {
	if !status.IsValid() {
		status = Unhealthy
	}

	m.mu.Lock()
	prev, existed := m.checks[name]
	m.checks[name] = Check{
		Name:      name,
		Status:    status,
		Message:   message,
		UpdatedAt: time.Now(),
	}
	m.mu.Unlock()

	if status != Healthy && (!existed || prev.Status != status) {
		log.Warn("health check degraded", "check", name, "status", string(status), "message", message)
	}
}

// Get returns the health check for a named component.
func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Overall returns the worst status across all registered checks.
// If no checks are registered, returns Unknown.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overallLocked()
}

func (m *Monitor) overallLocked() Status {
	if len(m.checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range m.checks {
		if worse(c.Status, worst) {
			worst = c.Status
		}
	}
	return worst
}

// All returns a snapshot of all current health checks.
func (m *Monitor) All() []Check {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		result = append(result, c)
	}
	return result
}

// Summary returns a JSON-friendly map of the overall and per-component
// status, taken under one lock.
func (m *Monitor) Summary() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make(map[string]string, len(m.checks))
	for _, c := range m.checks {
		components[c.Name] = string(c.Status)
	}

	return map[string]any{
		"status":     string(m.overallLocked()),
		"components": components,
	}
}

// Handler serves Summary as JSON. Unhealthy answers 503.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		summary := m.Summary()
		w.Header().Set("Content-Type", "application/json")
		if summary["status"] == string(Unhealthy) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(summary)
	})
}

// worse returns true if a is worse than b.
func worse(a, b Status) bool {
	return statusRank(a) > statusRank(b)
}

func statusRank(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	case Unknown:
		return 3
	default:
		return 0
	}
}
