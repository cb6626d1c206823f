package cache

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/docketworks/docketsync/pkg/logger"
)

// ActivityState classifies what an external observer can infer from the
// artifact's modification timestamp.
type ActivityState string

const (
	// ActivityIdle means no recent artifact changes were observed
	ActivityIdle ActivityState = "idle"

	// ActivitySyncing means the artifact changed within the recent
	// window, implying another process is actively writing it
	ActivitySyncing ActivityState = "syncing"

	// ActivityCompleted means previously observed activity stopped and
	// the cooldown window elapsed, implying the sync finished
	ActivityCompleted ActivityState = "completed"
)

const (
	// DefaultPollInterval is how often the monitor samples the artifact
	DefaultPollInterval = 2 * time.Second

	// DefaultCooldown is how long the artifact must stay unchanged
	// after observed activity before a sync is considered finished
	DefaultCooldown = 10 * time.Second
)

// ActivityMonitor watches the artifact's modification timestamp so a
// passive instance can show "syncing" without holding the lock itself.
// It is an explicitly constructed, explicitly started service: callers
// own its lifecycle.
type ActivityMonitor struct {
	location     string
	pollInterval time.Duration
	cooldown     time.Duration

	mu           sync.Mutex
	lastModTime  time.Time
	lastChangeAt time.Time
	sawActivity  bool
	state        ActivityState

	cancel context.CancelFunc
	done   chan struct{}
}

// NewActivityMonitor creates a monitor for the resolved artifact path.
// Zero intervals fall back to the defaults.
func NewActivityMonitor(location string, pollInterval, cooldown time.Duration) *ActivityMonitor {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &ActivityMonitor{
		location:     location,
		pollInterval: pollInterval,
		cooldown:     cooldown,
		state:        ActivityIdle,
	}
}

// State returns the most recently observed activity state.
func (m *ActivityMonitor) State() ActivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Probe samples the artifact once and updates the activity state.
// Usable standalone or driven by Start's polling loop.
func (m *ActivityMonitor) Probe() ActivityState {
	info, err := os.Stat(m.location)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if err != nil {
		// Missing artifact carries no activity signal.
		m.state = ActivityIdle
		return m.state
	}

	mod := info.ModTime()
	if !mod.Equal(m.lastModTime) {
		if !m.lastModTime.IsZero() {
			m.sawActivity = true
			m.lastChangeAt = now
			m.state = ActivitySyncing
		}
		m.lastModTime = mod
		return m.state
	}

	if m.sawActivity && m.state == ActivitySyncing && now.Sub(m.lastChangeAt) >= m.cooldown {
		m.state = ActivityCompleted
		m.sawActivity = false
	}
	return m.state
}

// Start begins polling in the background until Stop is called or the
// context is cancelled. Calling Start on a running monitor is a no-op.
func (m *ActivityMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Probe()
			}
		}
	}()
	logger.Debugf("Activity monitor started for %s", m.location)
}

// Stop halts polling and waits for the loop to exit. Idempotent.
func (m *ActivityMonitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
