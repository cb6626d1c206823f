package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService is a minimal in-memory remote service for fetch tests.
type fakeService struct {
	mu            sync.Mutex
	collections   []Collection
	itemsByCol    map[string][]string // raw item JSON per collection
	failFirst     map[string]int      // collection id -> number of failing responses
	searchStatus  int
	searchItems   []string
	itemCalls     map[string]int
	searchCalls   int
	listColsCalls int
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/workspaces/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.URL.Path == "/workspaces/ws-1/items/search" {
			f.searchCalls++
			if f.searchStatus != 0 && f.searchStatus != http.StatusOK {
				w.WriteHeader(f.searchStatus)
				return
			}
			writeItemsPage(w, f.searchItems)
			return
		}
		f.listColsCalls++
		_ = json.NewEncoder(w).Encode(collectionsPage{Collections: f.collections, LastPage: true})
	})

	mux.HandleFunc("/collections/", func(w http.ResponseWriter, r *http.Request) {
		var colID string
		_, err := fmt.Sscanf(r.URL.Path, "/collections/%s", &colID)
		require.NoError(t, err)
		colID = colID[:len(colID)-len("/items")]

		f.mu.Lock()
		defer f.mu.Unlock()
		f.itemCalls[colID]++
		if f.failFirst[colID] > 0 {
			f.failFirst[colID]--
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeItemsPage(w, f.itemsByCol[colID])
	})

	return mux
}

func writeItemsPage(w http.ResponseWriter, raws []string) {
	page := itemsPage{LastPage: true}
	for _, raw := range raws {
		page.Items = append(page.Items, json.RawMessage(raw))
	}
	_ = json.NewEncoder(w).Encode(page)
}

func newFakeService() *fakeService {
	return &fakeService{
		itemsByCol: make(map[string][]string),
		failFirst:  make(map[string]int),
		itemCalls:  make(map[string]int),
	}
}

func item(id, name, colID, parentID string) string {
	return fmt.Sprintf(
		`{"id":%q,"name":%q,"collectionId":%q,"parentId":%q,"dateCreated":"1767225600000","dateUpdated":"1768435200000"}`,
		id, name, colID, parentID)
}

func TestFetchAllSmartSyncQueriesOnlyKnownCollections(t *testing.T) {
	t.Parallel()

	service := newFakeService()
	service.collections = []Collection{{ID: "col-a"}, {ID: "col-b"}, {ID: "col-c"}}
	service.itemsByCol["col-a"] = []string{item("it-1", "25461 Harbour Upgrade", "col-a", "")}
	service.itemsByCol["col-b"] = []string{item("it-2", "25499 Jetty Repairs", "col-b", "")}
	service.itemsByCol["col-c"] = []string{item("it-3", "30000 Fitout", "col-c", "")}

	server := httptest.NewServer(service.handler(t))
	defer server.Close()

	client := NewClient("token-1", WithBaseURL(server.URL))
	outcome, err := client.FetchAll(context.Background(), "ws-1", Options{
		KnownCollectionIDs: []string{"col-a", "col-b", "col-gone"},
	}, nil)
	require.NoError(t, err)

	assert.False(t, outcome.Discovery)
	assert.Equal(t, 2, outcome.CollectionsQueried)
	assert.Len(t, outcome.Records, 2)
	assert.Equal(t, 0, service.itemCalls["col-c"], "smart sync must not touch unknown collections")
	assert.Equal(t, []string{"col-a", "col-b"}, outcome.DocketCollectionIDs)
}

func TestFetchAllForceDiscoveryQueriesEverything(t *testing.T) {
	t.Parallel()

	service := newFakeService()
	service.collections = []Collection{{ID: "col-a"}, {ID: "col-b"}, {ID: "col-c"}}
	service.itemsByCol["col-a"] = []string{item("it-1", "25461 Harbour Upgrade", "col-a", "")}
	service.itemsByCol["col-c"] = []string{item("it-3", "30000 Fitout", "col-c", "")}

	server := httptest.NewServer(service.handler(t))
	defer server.Close()

	client := NewClient("token-1", WithBaseURL(server.URL))
	outcome, err := client.FetchAll(context.Background(), "ws-1", Options{
		KnownCollectionIDs: []string{"col-a"},
		ForceDiscovery:     true,
	}, nil)
	require.NoError(t, err)

	assert.True(t, outcome.Discovery)
	assert.Equal(t, 3, outcome.CollectionsQueried)
	assert.Equal(t, 1, service.itemCalls["col-b"])
	// col-b contained no dockets and is not recorded for smart sync.
	assert.Equal(t, []string{"col-a", "col-c"}, outcome.DocketCollectionIDs)
}

func TestFetchAllSerialRetryRecoversFailedCollection(t *testing.T) {
	t.Parallel()

	service := newFakeService()
	service.collections = []Collection{{ID: "col-a"}, {ID: "col-b"}}
	service.itemsByCol["col-a"] = []string{item("it-1", "25461 Harbour Upgrade", "col-a", "")}
	service.itemsByCol["col-b"] = []string{item("it-2", "25499 Jetty Repairs", "col-b", "")}
	// Two transient failures: the whole first ListItems call fails,
	// then the serial retry pass succeeds.
	service.failFirst["col-b"] = 2

	server := httptest.NewServer(service.handler(t))
	defer server.Close()

	client := NewClient("token-1",
		WithBaseURL(server.URL),
		WithRetryPolicy(2, time.Millisecond))

	outcome, err := client.FetchAll(context.Background(), "ws-1", Options{}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.CollectionsQueried, "retried collection is counted once")
	require.Len(t, outcome.Records, 2)
	numbers := []string{outcome.Records[0].Number, outcome.Records[1].Number}
	assert.Contains(t, numbers, "25499")
}

func TestFetchAllAttachesOrphansAsSubtasks(t *testing.T) {
	t.Parallel()

	service := newFakeService()
	service.collections = []Collection{{ID: "col-a", Name: "Harbour"}}
	service.itemsByCol["col-a"] = []string{
		item("it-1", "25461 Harbour Upgrade", "col-a", ""),
		item("it-2", "Order bollards", "col-a", "it-1"),
		item("it-3", "No parent and no number", "col-a", ""),
	}

	server := httptest.NewServer(service.handler(t))
	defer server.Close()

	client := NewClient("token-1", WithBaseURL(server.URL))
	outcome, err := client.FetchAll(context.Background(), "ws-1", Options{}, nil)
	require.NoError(t, err)

	require.Len(t, outcome.Records, 1)
	record := outcome.Records[0]
	assert.Equal(t, "25461", record.Number)
	assert.Equal(t, "Harbour Upgrade", record.JobName)
	require.Len(t, record.Subtasks, 1)
	assert.Equal(t, "Order bollards", record.Subtasks[0].Name)
	require.NotNil(t, record.Project)
	assert.Equal(t, "Harbour", record.Project.Name)
}

func TestFetchAllUsesSearchPathForIncrementalSync(t *testing.T) {
	t.Parallel()

	service := newFakeService()
	service.searchItems = []string{item("it-1", "25461 Harbour Upgrade", "col-a", "")}

	server := httptest.NewServer(service.handler(t))
	defer server.Close()

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	client := NewClient("token-1", WithBaseURL(server.URL))
	outcome, err := client.FetchAll(context.Background(), "ws-1", Options{ModifiedSince: &since}, nil)
	require.NoError(t, err)

	assert.False(t, outcome.Discovery)
	assert.Equal(t, 1, outcome.CollectionsQueried)
	assert.Len(t, outcome.Records, 1)
	assert.Equal(t, 0, service.listColsCalls, "search path must skip collection listing")
}

func TestFetchAllFallsBackWhenSearchUnavailable(t *testing.T) {
	t.Parallel()

	service := newFakeService()
	service.searchStatus = http.StatusForbidden
	service.collections = []Collection{{ID: "col-a"}}
	service.itemsByCol["col-a"] = []string{item("it-1", "25461 Harbour Upgrade", "col-a", "")}

	server := httptest.NewServer(service.handler(t))
	defer server.Close()

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	client := NewClient("token-1", WithBaseURL(server.URL))
	outcome, err := client.FetchAll(context.Background(), "ws-1", Options{ModifiedSince: &since}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, service.searchCalls)
	assert.Equal(t, 1, service.listColsCalls)
	assert.Len(t, outcome.Records, 1)
}

func TestFetchAllProgressIsMonotone(t *testing.T) {
	t.Parallel()

	service := newFakeService()
	service.collections = []Collection{{ID: "col-a"}, {ID: "col-b"}, {ID: "col-c"}}
	for _, id := range []string{"col-a", "col-b", "col-c"} {
		service.itemsByCol[id] = []string{item("it-"+id, "25461 "+id, id, "")}
	}

	server := httptest.NewServer(service.handler(t))
	defer server.Close()

	var mu sync.Mutex
	var fractions []float64
	progress := func(fraction float64, _ string) {
		mu.Lock()
		fractions = append(fractions, fraction)
		mu.Unlock()
	}

	client := NewClient("token-1", WithBaseURL(server.URL))
	_, err := client.FetchAll(context.Background(), "ws-1", Options{Concurrency: 2}, progress)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, fractions)
	for i := 1; i < len(fractions); i++ {
		assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
	}
	assert.Equal(t, 1.0, fractions[len(fractions)-1])
}

func TestLatencyTrackerHysteresis(t *testing.T) {
	t.Parallel()

	tracker := newLatencyTracker()
	assert.Equal(t, time.Duration(0), tracker.Delay())

	for i := 0; i < latencyWindow; i++ {
		tracker.Record(3 * time.Second)
	}
	assert.Equal(t, throttleDelay, tracker.Delay(), "throttle engages above threshold")

	// Fast responses pull the rolling average back down; the throttle
	// releases only below the hysteresis floor.
	for i := 0; i < latencyWindow; i++ {
		tracker.Record(100 * time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), tracker.Delay())
}

func TestSelectWorkingSet(t *testing.T) {
	t.Parallel()

	collections := []Collection{{ID: "a"}, {ID: "b"}}

	working, discovery := selectWorkingSet(collections, nil, false)
	assert.True(t, discovery)
	assert.Len(t, working, 2)

	working, discovery = selectWorkingSet(collections, []string{"b", "z"}, false)
	assert.False(t, discovery)
	require.Len(t, working, 1)
	assert.Equal(t, "b", working[0].ID)

	working, discovery = selectWorkingSet(collections, []string{"b"}, true)
	assert.True(t, discovery)
	assert.Len(t, working, 2)
}

func TestCustomFieldValues(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"id": "it-1",
		"customFields": [
			{"name": "Client", "value": "Port Authority"},
			{"name": "Stage", "value": {"name": "Construction"}},
			{"name": "Crew", "value": [{"name": "North"}, {"name": "South"}]},
			{"name": "Budget", "value": 125000},
			{"name": "Empty"}
		]
	}`)

	values := customFieldValues(raw)
	assert.Equal(t, "Port Authority", values["Client"])
	assert.Equal(t, "Construction", values["Stage"])
	assert.Equal(t, "North, South", values["Crew"])
	assert.Equal(t, "125000", values["Budget"])
	_, present := values["Empty"]
	assert.False(t, present)
}

func TestMonotonicProgressClamps(t *testing.T) {
	t.Parallel()

	var got []float64
	report := monotonicProgress(func(fraction float64, _ string) {
		got = append(got, fraction)
	})

	report(-0.5, "a")
	report(0.4, "b")
	report(0.2, "c")
	report(1.8, "d")

	assert.Equal(t, []float64{0, 0.4, 0.4, 1}, got)
}

func TestMonotonicProgressConcurrentDeliveryOrder(t *testing.T) {
	t.Parallel()

	// The consumer must observe a non-decreasing sequence even when many
	// workers report interleaved fractions; delivery happens inside the
	// wrapper's critical section so clamping and invocation cannot
	// reorder between goroutines.
	var delivered []float64
	report := monotonicProgress(func(fraction float64, _ string) {
		delivered = append(delivered, fraction)
	})

	const workers = 8
	const reportsPerWorker = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < reportsPerWorker; i++ {
				report(float64(w*reportsPerWorker+i)/float64(workers*reportsPerWorker), "fetching items")
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, delivered, workers*reportsPerWorker)
	for i := 1; i < len(delivered); i++ {
		require.GreaterOrEqual(t, delivered[i], delivered[i-1],
			"delivery at index %d regressed", i)
	}
}
