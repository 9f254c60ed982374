package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ResourceSnapshot captures the host's resource state at a point in time.
type ResourceSnapshot struct {
	Timestamp      time.Time     `json:"timestamp"`
	OpenFDs        int           `json:"open_fds"`
	MaxFDs         int           `json:"max_fds"`
	FDUsagePercent float64       `json:"fd_usage_percent"`
	Goroutines     int           `json:"goroutines"`
	HeapAllocMB    float64       `json:"heap_alloc_mb"`
	ProcessUptime  time.Duration `json:"process_uptime"`
	CommandsRun    int64         `json:"commands_run"`
	CommandsActive int           `json:"commands_active"`
}

// ResourceTrend summarizes growth across the recorded history.
type ResourceTrend struct {
	Window              time.Duration `json:"window"`
	FDGrowthRate        float64       `json:"fd_growth_per_hour"`
	GoroutineGrowthRate float64       `json:"goroutine_growth_per_hour"`
	IsHealthy           bool          `json:"healthy"`
	Warnings            []string      `json:"warnings,omitempty"`
}

// HealthWarning represents a single threshold violation.
type HealthWarning struct {
	Level   string  `json:"level"` // "warning" or "critical"
	Type    string  `json:"type"`  // "fd" or "goroutine"
	Message string  `json:"message"`
	Value   float64 `json:"value"`
	Limit   float64 `json:"limit"`
}

// MonitorConfig configures a ResourceMonitor.
type MonitorConfig struct {
	Interval           time.Duration
	HistorySize        int
	FDThresholdPercent int
	GoroutineThreshold int
	// FDLeakPerHour is the descriptor growth rate above which the trend is
	// reported as a potential leak.
	FDLeakPerHour float64
}

// ResourceMonitor samples descriptor, goroutine and heap usage over time.
type ResourceMonitor struct {
	cfg    MonitorConfig
	logger *slog.Logger

	countFDs func() (open, limit int)

	mu      sync.RWMutex
	history []ResourceSnapshot

	commandsRun    atomic.Int64
	commandsActive atomic.Int32

	started time.Time
}

// NewResourceMonitor creates a monitor. Zero config values fall back to a 30s
// interval, 120 samples, and 10 descriptors/hour leak rate.
func NewResourceMonitor(cfg MonitorConfig, logger *slog.Logger) *ResourceMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 120
	}
	if cfg.FDLeakPerHour <= 0 {
		cfg.FDLeakPerHour = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ResourceMonitor{
		cfg:      cfg,
		logger:   logger,
		countFDs: CountFDs,
		history:  make([]ResourceSnapshot, 0, cfg.HistorySize),
		started:  time.Now(),
	}
}

// Run samples until ctx is done. It always returns nil so it can sit in an
// errgroup next to the servers.
func (m *ResourceMonitor) Run(ctx context.Context) error {
	m.recordSnapshot(m.TakeSnapshot())

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.recordSnapshot(m.TakeSnapshot())
			for _, w := range m.CheckHealth() {
				m.logger.Warn("resource warning",
					"type", w.Type,
					"level", w.Level,
					"value", w.Value,
					"limit", w.Limit,
					"message", w.Message,
				)
			}
			if trend := m.GetTrend(); !trend.IsHealthy {
				m.logger.Warn("resource trend", "warnings", trend.Warnings)
			}
		}
	}
}

// TakeSnapshot captures current resource state without recording it.
func (m *ResourceMonitor) TakeSnapshot() ResourceSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	openFDs, maxFDs := m.countFDs()
	fdPercent := 0.0
	if maxFDs > 0 {
		fdPercent = float64(openFDs) / float64(maxFDs) * 100
	}

	return ResourceSnapshot{
		Timestamp:      time.Now(),
		OpenFDs:        openFDs,
		MaxFDs:         maxFDs,
		FDUsagePercent: fdPercent,
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocMB:    float64(memStats.HeapAlloc) / 1024 / 1024,
		ProcessUptime:  time.Since(m.started),
		CommandsRun:    m.commandsRun.Load(),
		CommandsActive: int(m.commandsActive.Load()),
	}
}

func (m *ResourceMonitor) recordSnapshot(s ResourceSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, s)
	if len(m.history) > m.cfg.HistorySize {
		m.history = m.history[len(m.history)-m.cfg.HistorySize:]
	}
}

// GetHistory returns a copy of the recorded snapshots, oldest first.
func (m *ResourceMonitor) GetHistory() []ResourceSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]ResourceSnapshot, len(m.history))
	copy(result, m.history)
	return result
}

// GetLatest returns the most recent recorded snapshot.
func (m *ResourceMonitor) GetLatest() (ResourceSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) == 0 {
		return ResourceSnapshot{}, false
	}
	return m.history[len(m.history)-1], true
}

// GetTrend compares the oldest and newest recorded snapshots.
func (m *ResourceMonitor) GetTrend() ResourceTrend {
	history := m.GetHistory()
	if len(history) < 2 {
		return ResourceTrend{IsHealthy: true}
	}

	first := history[0]
	last := history[len(history)-1]
	window := last.Timestamp.Sub(first.Timestamp)
	hours := window.Hours()
	if hours < 0.01 {
		return ResourceTrend{Window: window, IsHealthy: true}
	}

	trend := ResourceTrend{
		Window:              window,
		FDGrowthRate:        float64(last.OpenFDs-first.OpenFDs) / hours,
		GoroutineGrowthRate: float64(last.Goroutines-first.Goroutines) / hours,
		IsHealthy:           true,
	}

	if trend.FDGrowthRate > m.cfg.FDLeakPerHour {
		trend.IsHealthy = false
		trend.Warnings = append(trend.Warnings,
			fmt.Sprintf("FD count growing at %.1f/hour (potential leak)", trend.FDGrowthRate))
	}
	if trend.GoroutineGrowthRate > 100 {
		trend.IsHealthy = false
		trend.Warnings = append(trend.Warnings,
			fmt.Sprintf("goroutine count growing at %.1f/hour", trend.GoroutineGrowthRate))
	}

	return trend
}

// IncrementCommandCount is called when a subprocess starts.
func (m *ResourceMonitor) IncrementCommandCount() {
	m.commandsRun.Add(1)
	m.commandsActive.Add(1)
}

// DecrementActiveCommands is called when a subprocess is cleaned up.
func (m *ResourceMonitor) DecrementActiveCommands() {
	m.commandsActive.Add(-1)
}

// CheckHealth returns warnings for thresholds the latest snapshot exceeds.
func (m *ResourceMonitor) CheckHealth() []HealthWarning {
	snapshot, ok := m.GetLatest()
	if !ok {
		snapshot = m.TakeSnapshot()
	}

	var warnings []HealthWarning

	if m.cfg.FDThresholdPercent > 0 && snapshot.FDUsagePercent > float64(m.cfg.FDThresholdPercent) {
		level := "warning"
		if snapshot.FDUsagePercent > 90 {
			level = "critical"
		}
		warnings = append(warnings, HealthWarning{
			Level: level,
			Type:  "fd",
			Message: fmt.Sprintf("FD usage at %.1f%% (threshold: %d%%)",
				snapshot.FDUsagePercent, m.cfg.FDThresholdPercent),
			Value: snapshot.FDUsagePercent,
			Limit: float64(m.cfg.FDThresholdPercent),
		})
	}

	if m.cfg.GoroutineThreshold > 0 && snapshot.Goroutines > m.cfg.GoroutineThreshold {
		level := "warning"
		if snapshot.Goroutines > m.cfg.GoroutineThreshold*2 {
			level = "critical"
		}
		warnings = append(warnings, HealthWarning{
			Level: level,
			Type:  "goroutine",
			Message: fmt.Sprintf("goroutine count at %d (threshold: %d)",
				snapshot.Goroutines, m.cfg.GoroutineThreshold),
			Value: float64(snapshot.Goroutines),
			Limit: float64(m.cfg.GoroutineThreshold),
		})
	}

	return warnings
}

// Uptime returns the time since the monitor was created.
func (m *ResourceMonitor) Uptime() time.Duration {
	return time.Since(m.started)
}
