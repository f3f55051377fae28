// Package monitoring aggregates system health and serves the console API.
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/trminhdn/signalflow/internal/core/domain"
	"github.com/trminhdn/signalflow/internal/infra/analysis"
	"github.com/trminhdn/signalflow/internal/ratelimit"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// GateSnapshot is the dispatch gate's current pacing state.
type GateSnapshot struct {
	MinInterval  time.Duration `json:"min_interval"`
	LastDispatch time.Time     `json:"last_dispatch,omitempty"`
}

// ComponentHealth reports reachability of an optional dependency.
type ComponentHealth struct {
	Configured bool   `json:"configured"`
	Reachable  bool   `json:"reachable"`
	Error      string `json:"error,omitempty"`
}

// Report contains the full system health report.
type Report struct {
	Status        SystemStatus              `json:"status"`
	Upstream      analysis.Stats            `json:"upstream"`
	Gate          GateSnapshot              `json:"gate"`
	Orchestrator  domain.OrchestratorStatus `json:"orchestrator"`
	QueueInFlight int                       `json:"queue_in_flight"`
	Budget        *ratelimit.UsageStats     `json:"budget,omitempty"`
	Storage       ComponentHealth           `json:"storage"`
	Cache         ComponentHealth           `json:"cache"`
	CheckedAt     time.Time                 `json:"checked_at"`
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthCheckerFunc adapts a function to HealthChecker.
type HealthCheckerFunc func(ctx context.Context) error

func (f HealthCheckerFunc) Health(ctx context.Context) error { return f(ctx) }

// StatusSource is the orchestrator's pacing snapshot.
type StatusSource interface {
	Status() domain.OrchestratorStatus
}

// MonitorConfig wires the monitor's sources. Budget, Storage and
// Cache are optional.
type MonitorConfig struct {
	Upstream     *analysis.Monitor
	Gate         *ratelimit.Gate
	Queue        *ratelimit.Queue
	Orchestrator StatusSource
	Budget       *ratelimit.Budget
	Storage      HealthChecker
	Cache        HealthChecker
}

// Monitor aggregates health status from the system's components.
type Monitor struct {
	cfg MonitorConfig

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *Report
}

// NewMonitor creates a new health monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	return &Monitor{cfg: cfg}
}

// CheckHealth builds the system report. Results are memoized for 10
// seconds so console polling doesn't hammer the dependencies.
func (m *Monitor) CheckHealth(ctx context.Context) *Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport != nil {
		return m.lastReport
	}

	report := &Report{
		Upstream:      m.cfg.Upstream.GetStats(),
		Orchestrator:  m.cfg.Orchestrator.Status(),
		QueueInFlight: m.cfg.Queue.InFlight(),
		Storage:       checkComponent(ctx, m.cfg.Storage),
		Cache:         checkComponent(ctx, m.cfg.Cache),
		CheckedAt:     time.Now(),
	}
	report.Gate = GateSnapshot{
		MinInterval:  m.cfg.Gate.MinInterval(),
		LastDispatch: m.cfg.Gate.LastDispatch(),
	}
	if m.cfg.Budget != nil {
		usage := m.cfg.Budget.Usage()
		report.Budget = &usage
	}
	report.Status = m.aggregate(report)

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

// aggregate derives the overall status, worst case wins.
func (m *Monitor) aggregate(r *Report) SystemStatus {
	if r.Storage.Configured && !r.Storage.Reachable {
		return StatusCritical
	}
	if r.Upstream.Status == "blocked" {
		return StatusCritical
	}

	if r.Upstream.Status == "throttled" || r.Upstream.Status == "degraded" {
		return StatusDegraded
	}
	if r.Cache.Configured && !r.Cache.Reachable {
		return StatusDegraded
	}
	if r.Orchestrator.CooldownRemaining > 0 {
		return StatusDegraded
	}
	if r.Budget != nil && r.Budget.DailyQuota > 0 && r.Budget.UsagePercentage >= 90 {
		return StatusDegraded
	}

	return StatusHealthy
}

func checkComponent(ctx context.Context, hc HealthChecker) ComponentHealth {
	if hc == nil {
		return ComponentHealth{}
	}
	health := ComponentHealth{Configured: true}
	if err := hc.Health(ctx); err != nil {
		health.Error = err.Error()
	} else {
		health.Reachable = true
	}
	return health
}
