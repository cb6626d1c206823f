// Package lockdir implements cross-process mutual exclusion for sync
// runs over a shared cache location. The lock marker is a directory,
// created atomically, holding a small progress file other processes can
// read. Ownership spans OS processes, so everything here is
// message-passing via durable storage: acquire = atomic create,
// heartbeat = periodic overwrite, release = delete, takeover =
// staleness check.
package lockdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docketworks/docketsync/pkg/logger"
)

const (
	// LockDirName is the fixed lock marker name, created next to the
	// cache artifact
	LockDirName = ".docketsync.lock"

	// ProgressFileName is the progress record inside the lock marker
	ProgressFileName = "progress.json"

	// DefaultStaleness is how old a progress record may be before the
	// lock is considered abandoned and reclaimable
	DefaultStaleness = 15 * time.Minute

	// DefaultOpTimeout bounds every filesystem operation so a hung
	// network mount degrades to an error instead of a hang
	DefaultOpTimeout = 2 * time.Second

	// progressWriteInterval throttles heartbeat writes
	progressWriteInterval = 500 * time.Millisecond
)

// ErrTimeout marks a filesystem operation that exceeded the enforced
// deadline. A timed-out operation is always treated as failure.
var ErrTimeout = errors.New("filesystem operation timed out")

// Progress is the heartbeat record the lock holder overwrites while a
// sync run is underway. Progress values are non-decreasing for the
// lifetime of one held lock.
type Progress struct {
	// StartedAt is when the lock was acquired; preserved across
	// heartbeat overwrites
	StartedAt time.Time `json:"startedAt"`

	// Progress is the fractional completion in [0,1]
	Progress float64 `json:"progress"`

	// Phase is a short human-readable phase label
	Phase string `json:"phase"`

	// HostDeviceName identifies the machine performing the sync
	HostDeviceName string `json:"hostDeviceName"`
}

// Coordinator mediates the directory lock for one process. A single
// coordinator may acquire locks for many locations over its lifetime,
// but holds at most the state of its most recent acquisition per
// location.
type Coordinator struct {
	staleness time.Duration
	opTimeout time.Duration

	mu sync.Mutex
	// per-location ownership and heartbeat throttling state
	owned map[string]*ownership
}

type ownership struct {
	hostID    string
	startedAt time.Time
	lastWrite time.Time
	lastPhase string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStaleness overrides the staleness threshold.
func WithStaleness(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.staleness = d
		}
	}
}

// WithOpTimeout overrides the per-operation filesystem deadline.
func WithOpTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.opTimeout = d
		}
	}
}

// New creates a lock coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		staleness: DefaultStaleness,
		opTimeout: DefaultOpTimeout,
		owned:     make(map[string]*ownership),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Path returns the lock marker directory for a resolved cache artifact
// path. Deterministic: every process derives the same marker.
func Path(location string) string {
	return filepath.Join(filepath.Dir(location), LockDirName)
}

func progressPath(location string) string {
	return filepath.Join(Path(location), ProgressFileName)
}

// TryAcquire attempts to take the lock for a cache location. It returns
// true only when this process created the marker. When the marker
// already exists and its progress record is older than the staleness
// threshold, the stale marker is removed and false is returned; the
// caller may retry.
func (c *Coordinator) TryAcquire(location, hostID string) (bool, error) {
	lockPath := Path(location)

	err := c.withTimeout(func() error {
		if err := os.MkdirAll(filepath.Dir(lockPath), 0750); err != nil {
			return err
		}
		return os.Mkdir(lockPath, 0750)
	})
	if err == nil {
		started := time.Now()
		record := Progress{
			StartedAt:      started,
			Progress:       0,
			Phase:          "starting",
			HostDeviceName: hostID,
		}
		if err := c.writeProgress(location, &record); err != nil {
			// Without a readable progress record other processes
			// cannot judge staleness; give the lock back.
			_ = c.withTimeout(func() error { return os.RemoveAll(lockPath) })
			return false, fmt.Errorf("failed to write initial progress: %w", err)
		}
		c.mu.Lock()
		c.owned[location] = &ownership{hostID: hostID, startedAt: started, lastWrite: started, lastPhase: record.Phase}
		c.mu.Unlock()
		return true, nil
	}

	if errors.Is(err, ErrTimeout) {
		return false, err
	}
	if !os.IsExist(err) {
		return false, fmt.Errorf("failed to create lock marker: %w", err)
	}

	// Marker exists: someone else is (or was) syncing.
	record, stale, readErr := c.ReadProgress(location)
	if readErr != nil || record == nil {
		// No readable progress record; judge staleness from the
		// marker's own age.
		stale = c.markerStale(lockPath)
	}
	if stale {
		logger.Warnf("Removing stale sync lock at %s", lockPath)
		if err := c.withTimeout(func() error { return os.RemoveAll(lockPath) }); err != nil {
			return false, fmt.Errorf("failed to remove stale lock marker: %w", err)
		}
	}
	return false, nil
}

// markerStale reports whether the lock directory itself is older than
// the staleness threshold. Used only when the progress record is
// unreadable.
func (c *Coordinator) markerStale(lockPath string) bool {
	var stale bool
	err := c.withTimeout(func() error {
		info, err := os.Stat(lockPath)
		if err != nil {
			return err
		}
		stale = time.Since(info.ModTime()) > c.staleness
		return nil
	})
	return err == nil && stale
}

// ReportProgress overwrites the heartbeat record, preserving the start
// time of the acquisition. Writes are throttled: a report is skipped
// when less than half a second has elapsed since the last write and the
// phase is unchanged. Reports against a lock this coordinator no longer
// owns (taken over after staleness) are no-ops.
func (c *Coordinator) ReportProgress(location string, fraction float64, phase, hostID string) error {
	c.mu.Lock()
	own, ok := c.owned[location]
	if !ok || own.hostID != hostID {
		c.mu.Unlock()
		return nil
	}
	now := time.Now()
	if now.Sub(own.lastWrite) < progressWriteInterval && phase == own.lastPhase {
		c.mu.Unlock()
		return nil
	}
	startedAt := own.startedAt
	c.mu.Unlock()

	// Confirm the marker still carries our record before overwriting;
	// a staleness takeover may have replaced it.
	current, _, err := c.ReadProgress(location)
	if err != nil || current == nil || current.HostDeviceName != hostID {
		logger.Debugf("Skipping progress report for %s: lock no longer owned", location)
		return nil
	}

	record := Progress{
		StartedAt:      startedAt,
		Progress:       clamp01(fraction),
		Phase:          phase,
		HostDeviceName: hostID,
	}
	if err := c.writeProgress(location, &record); err != nil {
		return err
	}

	c.mu.Lock()
	if own, ok := c.owned[location]; ok {
		own.lastWrite = now
		own.lastPhase = phase
	}
	c.mu.Unlock()
	return nil
}

// ReadProgress returns the current heartbeat record for passive
// observers, or nil when no lock is present. stale is true when the
// record's start time is older than the staleness threshold.
func (c *Coordinator) ReadProgress(location string) (record *Progress, stale bool, err error) {
	var data []byte
	err = c.withTimeout(func() error {
		var readErr error
		data, readErr = os.ReadFile(progressPath(location))
		return readErr
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read progress record: %w", err)
	}

	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false, fmt.Errorf("failed to decode progress record: %w", err)
	}
	return &p, time.Since(p.StartedAt) > c.staleness, nil
}

// Release removes the lock marker. Idempotent: releasing an absent lock
// succeeds. A lock that has been taken over by another host is left
// alone so the new owner is not orphaned.
func (c *Coordinator) Release(location string) error {
	c.mu.Lock()
	own := c.owned[location]
	delete(c.owned, location)
	c.mu.Unlock()

	if own != nil {
		current, _, err := c.ReadProgress(location)
		if err == nil && current != nil && current.HostDeviceName != own.hostID {
			logger.Warnf("Not releasing lock at %s: now owned by %s", Path(location), current.HostDeviceName)
			return nil
		}
	}

	err := c.withTimeout(func() error { return os.RemoveAll(Path(location)) })
	if err != nil {
		return fmt.Errorf("failed to remove lock marker: %w", err)
	}
	return nil
}

// IsLockPresent reports whether a lock marker currently exists for the
// location. A timed-out check counts as absent for display purposes.
func (c *Coordinator) IsLockPresent(location string) bool {
	var present bool
	err := c.withTimeout(func() error {
		info, err := os.Stat(Path(location))
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		present = info.IsDir()
		return nil
	})
	return err == nil && present
}

// writeProgress writes the record via tmp-and-rename inside the marker.
func (c *Coordinator) writeProgress(location string, record *Progress) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal progress record: %w", err)
	}
	path := progressPath(location)
	return c.withTimeout(func() error {
		tempPath := path + ".tmp"
		if err := os.WriteFile(tempPath, data, 0600); err != nil {
			return err
		}
		if err := os.Rename(tempPath, path); err != nil {
			_ = os.Remove(tempPath)
			return err
		}
		return nil
	})
}

// withTimeout runs a filesystem operation with an enforced deadline so
// an unreachable mount cannot hang the caller. The goroutine is
// abandoned on timeout; its eventual result is discarded.
func (c *Coordinator) withTimeout(op func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- op()
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(c.opTimeout):
		return ErrTimeout
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
