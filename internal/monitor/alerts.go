package monitor

import (
	"sync"
	"time"
)

// Severity ranks an alert for operational response.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Snapshot aggregates the rolling window of recent runs that alert
// conditions are evaluated against.
type Snapshot struct {
	TotalRuns      int           `json:"total_runs"`
	SuccessfulRuns int           `json:"successful_runs"`
	FailedRuns     int           `json:"failed_runs"`
	AvgDuration    time.Duration `json:"avg_duration"`
}

// SuccessRate returns the fraction of successful runs in the window.
func (s Snapshot) SuccessRate() float64 {
	if s.TotalRuns == 0 {
		return 1.0
	}
	return float64(s.SuccessfulRuns) / float64(s.TotalRuns)
}

// ErrorRate returns the fraction of failed runs in the window.
func (s Snapshot) ErrorRate() float64 {
	if s.TotalRuns == 0 {
		return 0.0
	}
	return float64(s.FailedRuns) / float64(s.TotalRuns)
}

// Rule is a configurable alert condition.
type Rule struct {
	Name      string
	Condition func(Snapshot) bool
	Severity  Severity
	Message   string
	Cooldown  time.Duration
	Enabled   bool
}

// Alert is an active or resolved alert with its trigger context.
type Alert struct {
	RuleName    string     `json:"rule_name"`
	Severity    Severity   `json:"severity"`
	Message     string     `json:"message"`
	TriggeredAt time.Time  `json:"triggered_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	Context     Snapshot   `json:"context"`
}

// Active reports whether the alert has not resolved yet.
func (a *Alert) Active() bool {
	return a.ResolvedAt == nil
}

// Duration returns how long the alert has been (or was) active.
func (a *Alert) Duration() time.Duration {
	end := time.Now()
	if a.ResolvedAt != nil {
		end = *a.ResolvedAt
	}
	return end.Sub(a.TriggeredAt)
}

const (
	defaultWindowSize  = 100
	maxResolvedHistory = 1000
)

// AlertManager evaluates rules against a rolling window of run results.
// A rule fires once, stays active until its condition clears, and will
// not re-fire within its cooldown.
type AlertManager struct {
	mu            sync.Mutex
	rules         map[string]*Rule
	active        map[string]*Alert
	resolved      []Alert
	lastTriggered map[string]time.Time

	window     []runSample
	windowSize int

	now func() time.Time
}

type runSample struct {
	success bool
	elapsed time.Duration
}

// NewAlertManager creates a manager with the default production rules.
func NewAlertManager() *AlertManager {
	m := &AlertManager{
		rules:         make(map[string]*Rule),
		active:        make(map[string]*Alert),
		lastTriggered: make(map[string]time.Time),
		windowSize:    defaultWindowSize,
		now:           time.Now,
	}

	m.AddRule(Rule{
		Name:      "low_success_rate",
		Condition: func(s Snapshot) bool { return s.TotalRuns > 0 && s.SuccessRate() < 0.8 },
		Severity:  SeverityWarning,
		Message:   "Success rate below 80%",
		Cooldown:  5 * time.Minute,
		Enabled:   true,
	})
	m.AddRule(Rule{
		Name:      "critical_success_rate",
		Condition: func(s Snapshot) bool { return s.TotalRuns > 0 && s.SuccessRate() < 0.5 },
		Severity:  SeverityCritical,
		Message:   "Success rate below 50% - immediate attention required",
		Cooldown:  time.Minute,
		Enabled:   true,
	})
	m.AddRule(Rule{
		Name:      "high_error_rate",
		Condition: func(s Snapshot) bool { return s.TotalRuns > 0 && s.ErrorRate() > 0.2 },
		Severity:  SeverityWarning,
		Message:   "Error rate above 20%",
		Cooldown:  3 * time.Minute,
		Enabled:   true,
	})
	m.AddRule(Rule{
		Name:      "critical_error_rate",
		Condition: func(s Snapshot) bool { return s.TotalRuns > 0 && s.ErrorRate() > 0.5 },
		Severity:  SeverityCritical,
		Message:   "Error rate above 50% - service degradation",
		Cooldown:  30 * time.Second,
		Enabled:   true,
	})
	m.AddRule(Rule{
		Name:      "slow_runs",
		Condition: func(s Snapshot) bool { return s.TotalRuns > 0 && s.AvgDuration > 30*time.Minute },
		Severity:  SeverityWarning,
		Message:   "Runs taking longer than 30 minutes",
		Cooldown:  10 * time.Minute,
		Enabled:   true,
	})

	return m
}

// AddRule adds or replaces a rule.
func (m *AlertManager) AddRule(rule Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.Name] = &rule
}

// ObserveRun records one finished run into the window and re-evaluates
// every rule. It returns the alerts this observation triggered.
func (m *AlertManager) ObserveRun(success bool, elapsed time.Duration) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.window = append(m.window, runSample{success: success, elapsed: elapsed})
	if len(m.window) > m.windowSize {
		m.window = m.window[len(m.window)-m.windowSize:]
	}

	triggered, _ := m.evaluateLocked()
	return triggered
}

// Evaluate re-checks every rule against the current window and returns
// newly triggered and newly resolved alerts.
func (m *AlertManager) Evaluate() (triggered, resolved []Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evaluateLocked()
}

func (m *AlertManager) evaluateLocked() (triggered, resolved []Alert) {
	snap := m.snapshotLocked()
	now := m.now()

	for name, rule := range m.rules {
		if !rule.Enabled {
			continue
		}

		firing := rule.Condition(snap)
		_, isActive := m.active[name]

		switch {
		case firing && !isActive:
			if last, ok := m.lastTriggered[name]; ok && now.Sub(last) < rule.Cooldown {
				continue
			}
			alert := &Alert{
				RuleName:    name,
				Severity:    rule.Severity,
				Message:     rule.Message,
				TriggeredAt: now,
				Context:     snap,
			}
			m.active[name] = alert
			m.lastTriggered[name] = now
			triggered = append(triggered, *alert)

		case !firing && isActive:
			alert := m.active[name]
			resolvedAt := now
			alert.ResolvedAt = &resolvedAt
			delete(m.active, name)

			m.resolved = append(m.resolved, *alert)
			if len(m.resolved) > maxResolvedHistory {
				m.resolved = m.resolved[len(m.resolved)-maxResolvedHistory:]
			}
			resolved = append(resolved, *alert)
		}
	}

	return triggered, resolved
}

// ActiveAlerts returns the currently firing alerts.
func (m *AlertManager) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	alerts := make([]Alert, 0, len(m.active))
	for _, a := range m.active {
		alerts = append(alerts, *a)
	}
	return alerts
}

// RecentResolved returns up to limit most recently resolved alerts.
func (m *AlertManager) RecentResolved(limit int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.resolved) {
		limit = len(m.resolved)
	}
	out := make([]Alert, limit)
	copy(out, m.resolved[len(m.resolved)-limit:])
	return out
}

// Snapshot returns the current window aggregate.
func (m *AlertManager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *AlertManager) snapshotLocked() Snapshot {
	snap := Snapshot{TotalRuns: len(m.window)}

	var total time.Duration
	for _, s := range m.window {
		if s.success {
			snap.SuccessfulRuns++
		} else {
			snap.FailedRuns++
		}
		total += s.elapsed
	}
	if snap.TotalRuns > 0 {
		snap.AvgDuration = total / time.Duration(snap.TotalRuns)
	}

	return snap
}
