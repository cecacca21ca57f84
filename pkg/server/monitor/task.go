package monitor

import (
	"sync"
	"time"
)

// TaskMonitor tracks the health of one recurring background task, such as
// value log GC or the startup replay of archived runs.
type TaskMonitor struct {
	name       string
	staleAfter time.Duration
	maxErrors  int

	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
}

// NewTaskMonitor creates a monitor that reports unhealthy when the task has
// not succeeded within staleAfter or has failed more than maxErrors times in
// a row. A zero staleAfter disables the staleness check.
func NewTaskMonitor(name string, staleAfter time.Duration, maxErrors int) *TaskMonitor {
	return &TaskMonitor{name: name, staleAfter: staleAfter, maxErrors: maxErrors}
}

// Name returns the task name
func (m *TaskMonitor) Name() string {
	return m.name
}

// RecordSuccess records a successful run.
func (m *TaskMonitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.lastSuccess = now
	m.lastAttempt = now
	m.consecutiveErrors = 0
	m.lastError = ""
}

// RecordFailure records a failed run.
func (m *TaskMonitor) RecordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAttempt = time.Now()
	m.consecutiveErrors++
	if err != nil {
		m.lastError = err.Error()
	}
}

// IsHealthy reports whether the task has succeeded at least once, recently
// enough, and is not failing repeatedly.
func (m *TaskMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthyLocked()
}

func (m *TaskMonitor) healthyLocked() bool {
	if m.lastSuccess.IsZero() {
		return false
	}
	if m.staleAfter > 0 && time.Since(m.lastSuccess) > m.staleAfter {
		return false
	}
	return m.consecutiveErrors <= m.maxErrors
}

// TaskStatus is the health check view of a task.
type TaskStatus struct {
	Name              string `json:"name"`
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns the current task status.
func (m *TaskMonitor) Status() TaskStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := TaskStatus{
		Name:    m.name,
		Healthy: m.healthyLocked(),
	}
	if !m.lastSuccess.IsZero() {
		status.LastSuccess = m.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(m.lastSuccess).Round(time.Second).String()
	}
	if !m.lastAttempt.IsZero() {
		status.LastAttempt = m.lastAttempt.Format(time.RFC3339)
	}
	if m.consecutiveErrors > 0 {
		status.ConsecutiveErrors = m.consecutiveErrors
		status.LastError = m.lastError
	}
	return status
}
