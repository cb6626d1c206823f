// Package syncer composes the remote fetcher, the lock coordinator and
// the cache store into one sync session: acquire the lock, drive the
// fetch with progress heartbeats, persist the merged snapshot, release
// the lock on every exit path.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/docketworks/docketsync/pkg/cache"
	"github.com/docketworks/docketsync/pkg/config"
	"github.com/docketworks/docketsync/pkg/docket"
	"github.com/docketworks/docketsync/pkg/lockdir"
	"github.com/docketworks/docketsync/pkg/logger"
	"github.com/docketworks/docketsync/pkg/remote"
)

// Status classifies how a session run ended without being an error.
type Status string

const (
	// StatusSynced means this process performed the sync and persisted
	// a new snapshot
	StatusSynced Status = "synced"

	// StatusLockHeld means another process holds the sync lock; the
	// caller should fall back to read-only use of the cache
	StatusLockHeld Status = "lock-held"
)

// RunOptions controls one session run.
type RunOptions struct {
	// ForceDiscovery scans all collections regardless of smart-sync
	// hints
	ForceDiscovery bool

	// ModifiedSince enables the incremental fetch path
	ModifiedSince *time.Time

	// RepairCorrupted opts in to replacing a corrupted previous
	// snapshot with the freshly fetched one. Without it a corrupted
	// cache aborts the run so no data is silently discarded.
	RepairCorrupted bool
}

// Result is the outcome of one session run.
type Result struct {
	Status Status

	// RecordCount is the size of the persisted snapshot
	RecordCount int

	// Discovery reports whether the fetch scanned all collections
	Discovery bool

	// CollectionsQueried is how many collections were queried
	CollectionsQueried int

	// DocketCollectionIDs are the collections found to contain
	// dockets; the caller should persist them as smart-sync hints
	DocketCollectionIDs []string

	// ActiveProgress is the other holder's heartbeat when Status is
	// StatusLockHeld
	ActiveProgress *lockdir.Progress

	// ActiveStale is true when that heartbeat is older than the
	// staleness window
	ActiveStale bool
}

// Session is an explicitly constructed sync service instance for one
// cache location and one workspace.
type Session struct {
	settings    config.Settings
	location    string
	client      *remote.Client
	coordinator *lockdir.Coordinator
	store       *cache.Store
}

// New builds a session from validated settings.
func New(settings config.Settings) (*Session, error) {
	settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	clientOpts := []remote.ClientOption{
		remote.WithRetryPolicy(settings.MaxAttempts, settings.RetryBaseDelay),
	}
	if settings.BaseURL != "" {
		clientOpts = append(clientOpts, remote.WithBaseURL(settings.BaseURL))
	}
	if settings.RefreshToken != "" {
		clientOpts = append(clientOpts, remote.WithRefreshToken(settings.RefreshToken))
	}

	return &Session{
		settings:    settings,
		location:    cache.ResolveArtifactPath(settings.CacheLocation),
		client:      remote.NewClient(settings.AccessToken, clientOpts...),
		coordinator: lockdir.New(lockdir.WithStaleness(settings.StalenessWindow)),
		store:       cache.NewStore(),
	}, nil
}

// Location returns the resolved cache artifact path.
func (s *Session) Location() string {
	return s.location
}

// Store returns the snapshot store for read-only fallback use.
func (s *Session) Store() *cache.Store {
	return s.store
}

// Coordinator returns the lock coordinator for passive observation.
func (s *Session) Coordinator() *lockdir.Coordinator {
	return s.coordinator
}

// Run performs one sync. Lock contention is not an error: it yields
// StatusLockHeld with the active holder's progress so the caller can
// display it and read the existing cache instead.
func (s *Session) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	host := s.settings.HostName

	acquired, err := s.coordinator.TryAcquire(s.location, host)
	if err != nil {
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}
	if !acquired {
		record, stale, readErr := s.coordinator.ReadProgress(s.location)
		if readErr != nil {
			logger.Warnf("Could not read active sync progress: %v", readErr)
		}
		return &Result{Status: StatusLockHeld, ActiveProgress: record, ActiveStale: stale}, nil
	}
	defer func() {
		if err := s.coordinator.Release(s.location); err != nil {
			logger.Errorf("Failed to release sync lock: %v", err)
		}
	}()

	previous, err := s.store.Load(s.location)
	if err != nil {
		if (errors.Is(err, cache.ErrCorrupted) || errors.Is(err, cache.ErrForeignFile)) && opts.RepairCorrupted {
			logger.Warnf("Replacing unusable cache artifact: %v", err)
			previous = &docket.Snapshot{}
		} else {
			return nil, fmt.Errorf("cannot read previous snapshot: %w", err)
		}
	}

	progress := func(fraction float64, phase string) {
		if err := s.coordinator.ReportProgress(s.location, fraction, phase, host); err != nil {
			logger.Debugf("Progress heartbeat failed: %v", err)
		}
	}

	outcome, err := s.client.FetchAll(ctx, s.settings.WorkspaceID, remote.Options{
		KnownCollectionIDs: s.settings.KnownCollectionIDs,
		ForceDiscovery:     opts.ForceDiscovery,
		ModifiedSince:      opts.ModifiedSince,
		Concurrency:        s.settings.Concurrency,
	}, progress)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	records := outcome.Records
	if !outcome.Discovery {
		// Partial runs merge over the previous snapshot so dockets the
		// remote was not asked about survive. Only a full discovery
		// scan may drop records the service stopped returning.
		records = mergeRecords(previous.Dockets, outcome.Records)
	}

	snapshot := &docket.Snapshot{Dockets: records, LastSync: time.Now().UTC()}
	if err := s.store.Save(snapshot, s.location); err != nil {
		return nil, fmt.Errorf("failed to persist snapshot: %w", err)
	}

	logger.Infof("Sync complete: %d dockets (%d collections queried, discovery=%v)",
		len(records), outcome.CollectionsQueried, outcome.Discovery)

	return &Result{
		Status:              StatusSynced,
		RecordCount:         len(records),
		Discovery:           outcome.Discovery,
		CollectionsQueried:  outcome.CollectionsQueried,
		DocketCollectionIDs: outcome.DocketCollectionIDs,
	}, nil
}

// mergeRecords overlays freshly fetched records on the previous
// snapshot by identity key; fetched records win.
func mergeRecords(previous, fetched []docket.Record) []docket.Record {
	merged := make(map[string]docket.Record, len(previous)+len(fetched))
	for _, r := range previous {
		merged[r.IdentityKey()] = r
	}
	for _, r := range fetched {
		merged[r.IdentityKey()] = r
	}

	out := make([]docket.Record, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].IdentityKey() < out[j].IdentityKey()
	})
	return out
}
