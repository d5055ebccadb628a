package toolexec

import "sync"

// Metrics tracks executor-wide counters across all tool calls.
type Metrics struct {
	mu              sync.Mutex
	totalExecutions int64
	totalRetries    int64
	totalFailures   int64
	totalTimeouts   int64
	totalPanics     int64
}

// Snapshot is a point-in-time, copy-safe read of Metrics.
type Snapshot struct {
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

func (m *Metrics) recordSuccess(retries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalExecutions++
	m.totalRetries += int64(retries)
}

func (m *Metrics) recordFailure(timedOut, panicked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalExecutions++
	m.totalFailures++
	if timedOut {
		m.totalTimeouts++
	}
	if panicked {
		m.totalPanics++
	}
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		TotalExecutions: m.totalExecutions,
		TotalRetries:    m.totalRetries,
		TotalFailures:   m.totalFailures,
		TotalTimeouts:   m.totalTimeouts,
		TotalPanics:     m.totalPanics,
	}
}
