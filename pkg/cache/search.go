package cache

import (
	"sort"
	"strings"

	"github.com/docketworks/docketsync/pkg/docket"
)

// SortOrder selects the ordering of search results.
type SortOrder string

const (
	// SortRecentlyCreated orders most-recently-created first
	SortRecentlyCreated SortOrder = "recently-created"

	// SortNumberAsc orders by docket number ascending
	SortNumberAsc SortOrder = "number-asc"

	// SortNumberDesc orders by docket number descending
	SortNumberDesc SortOrder = "number-desc"

	// SortJobNameAsc orders by job name ascending
	SortJobNameAsc SortOrder = "job-asc"

	// SortJobNameDesc orders by job name descending
	SortJobNameDesc SortOrder = "job-desc"
)

// Search filters records by a case-insensitive substring match against
// display name, job name and number. Queries that are all digits
// additionally match numeric prefixes of the docket number. Results are
// ordered by the requested sort order with the identity key as a
// deterministic tie breaker.
func Search(records []docket.Record, query string, order SortOrder) []docket.Record {
	query = strings.TrimSpace(query)
	lower := strings.ToLower(query)
	numeric := query != "" && isAllDigits(query)

	var matched []docket.Record
	for _, r := range records {
		if query == "" || matches(&r, lower, numeric, query) {
			matched = append(matched, r)
		}
	}

	sortRecords(matched, order)
	return matched
}

func matches(r *docket.Record, lowerQuery string, numeric bool, rawQuery string) bool {
	if strings.Contains(strings.ToLower(r.DisplayName), lowerQuery) {
		return true
	}
	if strings.Contains(strings.ToLower(r.JobName), lowerQuery) {
		return true
	}
	if strings.Contains(strings.ToLower(r.Number), lowerQuery) {
		return true
	}
	if numeric && strings.HasPrefix(r.Number, rawQuery) {
		return true
	}
	return false
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func sortRecords(records []docket.Record, order SortOrder) {
	less := func(a, b *docket.Record) bool {
		switch order {
		case SortNumberAsc:
			if a.Number != b.Number {
				return a.Number < b.Number
			}
		case SortNumberDesc:
			if a.Number != b.Number {
				return a.Number > b.Number
			}
		case SortJobNameAsc:
			if !strings.EqualFold(a.JobName, b.JobName) {
				return strings.ToLower(a.JobName) < strings.ToLower(b.JobName)
			}
		case SortJobNameDesc:
			if !strings.EqualFold(a.JobName, b.JobName) {
				return strings.ToLower(a.JobName) > strings.ToLower(b.JobName)
			}
		default: // SortRecentlyCreated
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		}
		return a.IdentityKey() < b.IdentityKey()
	}
	sort.SliceStable(records, func(i, j int) bool {
		return less(&records[i], &records[j])
	})
}
