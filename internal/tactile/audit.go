package tactile

import (
	"sync"
	"time"

	"atmoscope/internal/logging"

	"go.uber.org/zap"
)

// AuditLogger fans execution events out to metrics, the structured log,
// and any registered callbacks.
type AuditLogger struct {
	mu sync.RWMutex

	// callbacks are functions to call for each event
	callbacks []func(AuditEvent)

	// metrics tracks execution statistics
	metrics *ExecutionMetrics
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger() *AuditLogger {
	return &AuditLogger{metrics: NewExecutionMetrics()}
}

// AddCallback adds a callback function for audit events.
func (l *AuditLogger) AddCallback(callback func(AuditEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, callback)
}

// Log records an audit event. It has the signature of
// ExecutorConfig.AuditCallback.
func (l *AuditLogger) Log(event AuditEvent) {
	l.mu.RLock()
	callbacks := l.callbacks
	l.mu.RUnlock()

	l.metrics.RecordEvent(event)

	fields := []zap.Field{
		zap.String("event", string(event.Type)),
		zap.String("binary", event.Command.Binary),
		zap.String("req", event.Command.RequestID),
	}
	if r := event.Result; r != nil {
		fields = append(fields,
			zap.Int("exit_code", r.ExitCode),
			zap.Duration("duration", r.Duration),
			zap.Bool("killed", r.Killed),
		)
		if r.KillReason != "" {
			fields = append(fields, zap.String("kill_reason", r.KillReason))
		}
	}
	logging.Get(logging.CategoryTactile).Zap().Info("audit", fields...)

	for _, cb := range callbacks {
		cb(event)
	}
}

// GetMetrics returns the current execution metrics.
func (l *AuditLogger) GetMetrics() ExecutionMetricsSnapshot {
	return l.metrics.Snapshot()
}

// ExecutionMetrics tracks execution statistics.
type ExecutionMetrics struct {
	mu sync.RWMutex

	totalExecutions      int64
	successfulExecutions int64
	failedExecutions     int64
	killedExecutions     int64

	totalDurationMs int64
	totalCPUTimeMs  int64

	lastEventTime time.Time
}

// NewExecutionMetrics creates a new metrics tracker.
func NewExecutionMetrics() *ExecutionMetrics {
	return &ExecutionMetrics{}
}

// RecordEvent updates metrics based on an audit event.
func (m *ExecutionMetrics) RecordEvent(event AuditEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastEventTime = event.Timestamp

	switch event.Type {
	case AuditEventStart:
		m.totalExecutions++

	case AuditEventComplete:
		if event.Result != nil {
			if event.Result.ExitCode == 0 {
				m.successfulExecutions++
			} else {
				m.failedExecutions++
			}
			m.totalDurationMs += event.Result.Duration.Milliseconds()
			if event.Result.ResourceUsage != nil {
				m.totalCPUTimeMs += event.Result.ResourceUsage.TotalCPUTimeMs()
			}
		}

	case AuditEventKilled:
		m.killedExecutions++
		if event.Result != nil {
			m.totalDurationMs += event.Result.Duration.Milliseconds()
		}

	case AuditEventError:
		m.failedExecutions++
	}
}

// ExecutionMetricsSnapshot is a point-in-time snapshot of metrics.
type ExecutionMetricsSnapshot struct {
	TotalExecutions      int64     `json:"total_executions"`
	SuccessfulExecutions int64     `json:"successful_executions"`
	FailedExecutions     int64     `json:"failed_executions"`
	KilledExecutions     int64     `json:"killed_executions"`
	TotalDurationMs      int64     `json:"total_duration_ms"`
	TotalCPUTimeMs       int64     `json:"total_cpu_time_ms"`
	LastEventTime        time.Time `json:"last_event_time"`
	SuccessRate          float64   `json:"success_rate"`
	AvgDurationMs        float64   `json:"avg_duration_ms"`
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *ExecutionMetrics) Snapshot() ExecutionMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	successRate := float64(0)
	avgDuration := float64(0)
	completed := m.successfulExecutions + m.failedExecutions + m.killedExecutions
	if completed > 0 {
		successRate = float64(m.successfulExecutions) / float64(completed)
		avgDuration = float64(m.totalDurationMs) / float64(completed)
	}

	return ExecutionMetricsSnapshot{
		TotalExecutions:      m.totalExecutions,
		SuccessfulExecutions: m.successfulExecutions,
		FailedExecutions:     m.failedExecutions,
		KilledExecutions:     m.killedExecutions,
		TotalDurationMs:      m.totalDurationMs,
		TotalCPUTimeMs:       m.totalCPUTimeMs,
		LastEventTime:        m.lastEventTime,
		SuccessRate:          successRate,
		AvgDurationMs:        avgDuration,
	}
}
