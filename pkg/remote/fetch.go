package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/docketworks/docketsync/pkg/docket"
	"github.com/docketworks/docketsync/pkg/logger"
)

const (
	// DefaultFetchConcurrency bounds the fan-out across collections
	DefaultFetchConcurrency = 8

	// retryPassDelay is the pause before the serial retry pass over
	// failed collections
	retryPassDelay = 2 * time.Second
)

// Options controls one fetch run.
type Options struct {
	// KnownCollectionIDs restricts the fan-out to previously known
	// docket-bearing collections (smart sync) unless ForceDiscovery
	KnownCollectionIDs []string

	// ForceDiscovery scans every listed collection regardless of hints
	ForceDiscovery bool

	// ModifiedSince enables the incremental path: only items modified
	// after this cutoff are fetched
	ModifiedSince *time.Time

	// Concurrency bounds the worker pool; 0 means
	// DefaultFetchConcurrency
	Concurrency int
}

// ProgressFunc receives monotonically non-decreasing values in [0,1]
// and a short phase label. It may be called from any worker and must
// not block.
type ProgressFunc func(fraction float64, phase string)

// SyncOutcome is the result of one fetch run.
type SyncOutcome struct {
	// Records is the merged docket list, unordered by contract
	Records []docket.Record

	// DocketCollectionIDs are the collections that actually contained
	// dockets; recorded for future smart syncs
	DocketCollectionIDs []string

	// Discovery reports whether the full collection set was scanned
	Discovery bool

	// CollectionsQueried is how many collections were queried, each
	// counted once even when retried
	CollectionsQueried int
}

// FetchAll runs the full fetch orchestration for a workspace: try the
// fast search path for incremental syncs, otherwise fan out item
// listing across the working set of collections with adaptive
// throttling, retry failed collections once serially, and merge
// everything into docket records.
func (c *Client) FetchAll(ctx context.Context, scope string, opts Options, progress ProgressFunc) (*SyncOutcome, error) {
	report := monotonicProgress(progress)
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}

	if opts.ModifiedSince != nil {
		outcome, ok := c.fetchViaSearch(ctx, scope, *opts.ModifiedSince, report)
		if ok {
			return outcome, nil
		}
	}

	report(0.05, "listing collections")
	collections, err := c.ListCollections(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	working, discovery := selectWorkingSet(collections, opts.KnownCollectionIDs, opts.ForceDiscovery)
	logger.Infof("Fetching %d of %d collections (discovery=%v)", len(working), len(collections), discovery)

	total := len(working)
	if total == 0 {
		report(1, "done")
		return &SyncOutcome{Discovery: discovery}, nil
	}

	colByID := make(map[string]*Collection, total)
	for i := range working {
		colByID[working[i].ID] = &working[i]
	}

	tracker := newLatencyTracker()
	acc := &fetchAccumulator{}

	report(0.1, "fetching items")
	group, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(concurrency))
	for i := range working {
		col := working[i]
		group.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			if delay := tracker.Delay(); delay > 0 {
				if err := sleepCtx(gctx, delay); err != nil {
					return err
				}
			}

			start := time.Now()
			items, err := c.ListItems(gctx, col.ID, opts.ModifiedSince)
			elapsed := time.Since(start)
			tracker.Record(elapsed)

			if err != nil {
				logger.Warnf("Collection %s fetch failed, queued for retry: %v", col.ID, err)
				acc.addFailure(col.ID)
			} else {
				if elapsed > latencyThreshold {
					logger.Debugf("Collection %s responded slowly: %s", col.ID, elapsed)
				}
				acc.addItems(items)
			}
			report(0.1+0.7*float64(acc.completedCount())/float64(total), "fetching items")
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	// Failed collections get one serial retry after a short pause;
	// collections that fail again are dropped from this run only.
	if failures := acc.takeFailures(); len(failures) > 0 {
		report(0.82, "retrying failed collections")
		if err := sleepCtx(ctx, retryPassDelay); err != nil {
			return nil, err
		}
		for _, id := range failures {
			items, err := c.ListItems(ctx, id, opts.ModifiedSince)
			if err != nil {
				logger.Errorf("Collection %s failed again on serial retry: %v", id, err)
				continue
			}
			acc.addRetriedItems(items)
		}
	}

	report(0.9, "merging records")
	records, docketCollectionIDs := assembleRecords(ctx, c, acc.allItems(), colByID)
	report(1, "done")

	return &SyncOutcome{
		Records:             records,
		DocketCollectionIDs: docketCollectionIDs,
		Discovery:           discovery,
		CollectionsQueried:  total,
	}, nil
}

// fetchViaSearch attempts the workspace-wide search path. ok is false
// when the caller should fall back to per-collection listing.
func (c *Client) fetchViaSearch(ctx context.Context, scope string, since time.Time, report ProgressFunc) (*SyncOutcome, bool) {
	report(0.05, "searching recent changes")
	items, err := c.SearchItems(ctx, scope, since)
	if err != nil {
		if errors.Is(err, ErrFeatureUnavailable) {
			logger.Infof("Workspace search not available on this plan, falling back to collection scan")
		} else {
			logger.Warnf("Workspace search failed, falling back to collection scan: %v", err)
		}
		return nil, false
	}

	report(0.85, "merging records")
	records, docketCollectionIDs := assembleRecords(ctx, c, items, nil)

	queried := make(map[string]bool)
	for i := range items {
		if items[i].CollectionID != "" {
			queried[items[i].CollectionID] = true
		}
	}

	report(1, "done")
	return &SyncOutcome{
		Records:             records,
		DocketCollectionIDs: docketCollectionIDs,
		Discovery:           false,
		CollectionsQueried:  len(queried),
	}, true
}

// selectWorkingSet picks the collections to query: the intersection of
// known docket-bearing ids and the listed collections for smart sync,
// or the full listing for discovery.
func selectWorkingSet(collections []Collection, knownIDs []string, forceDiscovery bool) ([]Collection, bool) {
	if forceDiscovery || len(knownIDs) == 0 {
		return collections, true
	}

	known := make(map[string]bool, len(knownIDs))
	for _, id := range knownIDs {
		known[id] = true
	}

	var working []Collection
	for _, col := range collections {
		if known[col.ID] {
			working = append(working, col)
		}
	}
	return working, false
}

// monotonicProgress wraps a progress callback so reported fractions
// never decrease and always stay in [0,1], regardless of worker
// completion order. The callback runs inside the critical section so
// deliveries cannot reorder between clamping and invocation; the
// ProgressFunc contract already requires fn not to block.
func monotonicProgress(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return func(float64, string) {}
	}
	var mu sync.Mutex
	last := 0.0
	return func(fraction float64, phase string) {
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}
		mu.Lock()
		defer mu.Unlock()
		if fraction < last {
			fraction = last
		} else {
			last = fraction
		}
		fn(fraction, phase)
	}
}
