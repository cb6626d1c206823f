package lockdir

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLocation(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "docket-cache.json")
}

func TestTryAcquireAndRelease(t *testing.T) {
	t.Parallel()

	location := testLocation(t)
	coordinator := New()

	acquired, err := coordinator.TryAcquire(location, "host-a")
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, coordinator.IsLockPresent(location))

	record, stale, err := coordinator.ReadProgress(location)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.False(t, stale)
	assert.Equal(t, "host-a", record.HostDeviceName)
	assert.Equal(t, 0.0, record.Progress)

	require.NoError(t, coordinator.Release(location))
	assert.False(t, coordinator.IsLockPresent(location))

	// Releasing again is a no-op.
	require.NoError(t, coordinator.Release(location))
}

func TestMutualExclusion(t *testing.T) {
	t.Parallel()

	location := testLocation(t)
	first := New()
	second := New()

	acquired, err := first.TryAcquire(location, "host-a")
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = second.TryAcquire(location, "host-b")
	require.NoError(t, err)
	assert.False(t, acquired)

	// After release by the holder, the other process succeeds.
	require.NoError(t, first.Release(location))
	acquired, err = second.TryAcquire(location, "host-b")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestStaleLockTakeover(t *testing.T) {
	t.Parallel()

	location := testLocation(t)
	holder := New(WithStaleness(50 * time.Millisecond))
	claimant := New(WithStaleness(50 * time.Millisecond))

	acquired, err := holder.TryAcquire(location, "host-a")
	require.NoError(t, err)
	require.True(t, acquired)

	time.Sleep(80 * time.Millisecond)

	// First attempt detects staleness and removes the marker.
	acquired, err = claimant.TryAcquire(location, "host-b")
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.False(t, claimant.IsLockPresent(location))

	// Second attempt succeeds.
	acquired, err = claimant.TryAcquire(location, "host-b")
	require.NoError(t, err)
	assert.True(t, acquired)

	// The original holder's heartbeat and release are no-ops against
	// the lock it lost.
	require.NoError(t, holder.ReportProgress(location, 0.5, "fetching", "host-a"))
	record, _, err := claimant.ReadProgress(location)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "host-b", record.HostDeviceName)

	require.NoError(t, holder.Release(location))
	assert.True(t, claimant.IsLockPresent(location))
}

func TestReportProgressThrottle(t *testing.T) {
	t.Parallel()

	location := testLocation(t)
	coordinator := New()

	acquired, err := coordinator.TryAcquire(location, "host-a")
	require.NoError(t, err)
	require.True(t, acquired)
	defer func() { _ = coordinator.Release(location) }()

	// Same phase inside the throttle window: skipped.
	require.NoError(t, coordinator.ReportProgress(location, 0.1, "starting", "host-a"))
	record, _, err := coordinator.ReadProgress(location)
	require.NoError(t, err)
	assert.Equal(t, 0.0, record.Progress)

	// Phase change bypasses the throttle.
	require.NoError(t, coordinator.ReportProgress(location, 0.2, "fetching", "host-a"))
	record, _, err = coordinator.ReadProgress(location)
	require.NoError(t, err)
	assert.Equal(t, 0.2, record.Progress)
	assert.Equal(t, "fetching", record.Phase)
}

func TestReportProgressPreservesStartTime(t *testing.T) {
	t.Parallel()

	location := testLocation(t)
	coordinator := New()

	acquired, err := coordinator.TryAcquire(location, "host-a")
	require.NoError(t, err)
	require.True(t, acquired)
	defer func() { _ = coordinator.Release(location) }()

	before, _, err := coordinator.ReadProgress(location)
	require.NoError(t, err)

	require.NoError(t, coordinator.ReportProgress(location, 0.4, "fetching", "host-a"))
	after, _, err := coordinator.ReadProgress(location)
	require.NoError(t, err)
	assert.Equal(t, before.StartedAt, after.StartedAt)
}

func TestReadProgressNoLock(t *testing.T) {
	t.Parallel()

	coordinator := New()
	record, stale, err := coordinator.ReadProgress(testLocation(t))
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.False(t, stale)
}

func TestProgressClamped(t *testing.T) {
	t.Parallel()

	location := testLocation(t)
	coordinator := New()

	acquired, err := coordinator.TryAcquire(location, "host-a")
	require.NoError(t, err)
	require.True(t, acquired)
	defer func() { _ = coordinator.Release(location) }()

	require.NoError(t, coordinator.ReportProgress(location, 1.7, "done", "host-a"))
	record, _, err := coordinator.ReadProgress(location)
	require.NoError(t, err)
	assert.Equal(t, 1.0, record.Progress)
}

func TestWithTimeoutBoundsSlowOperations(t *testing.T) {
	t.Parallel()

	coordinator := New(WithOpTimeout(20 * time.Millisecond))

	// A hung operation degrades to ErrTimeout; its eventual result is
	// discarded even when it would have succeeded.
	err := coordinator.withTimeout(func() error {
		time.Sleep(300 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, coordinator.withTimeout(func() error { return nil }))
}

func TestTryAcquireTimeoutIsFailure(t *testing.T) {
	t.Parallel()

	coordinator := New(WithOpTimeout(time.Nanosecond))

	// A nanosecond deadline loses the race against the filesystem; the
	// loop tolerates the odd attempt where an op sneaks in under it.
	for attempt := 0; attempt < 20; attempt++ {
		location := testLocation(t)
		acquired, err := coordinator.TryAcquire(location, "host-a")
		if err == nil && acquired {
			require.NoError(t, New().Release(location))
			continue
		}
		assert.False(t, acquired, "a timed-out acquire must never report success")
		require.ErrorIs(t, err, ErrTimeout)
		// The timed-out mkdir keeps running on an abandoned goroutine
		// and can land while TempDir cleanup is removing the directory;
		// give it time to finish so cleanup does not race with it.
		time.Sleep(100 * time.Millisecond)
		return
	}
	t.Fatal("acquire never timed out with a nanosecond deadline")
}

func TestMarkerStaleWithoutProgressFile(t *testing.T) {
	t.Parallel()

	location := testLocation(t)
	coordinator := New(WithStaleness(50 * time.Millisecond))

	// A bare marker with no progress record, as left by a process that
	// died between mkdir and the first write.
	lockPath := Path(location)
	require.NoError(t, os.MkdirAll(lockPath, 0750))

	time.Sleep(80 * time.Millisecond)

	acquired, err := coordinator.TryAcquire(location, "host-b")
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.False(t, coordinator.IsLockPresent(location))
}
