package cache

import (
	"fmt"

	"github.com/docketworks/docketsync/pkg/docket"
)

// ValidationResult reports the health of a snapshot. Issues are soft
// data-quality findings; only Corrupted marks the snapshot unusable.
type ValidationResult struct {
	// Healthy is true when the snapshot is structurally usable
	Healthy bool

	// Corrupted carries the reason when the snapshot is unusable
	Corrupted string

	// Issues lists non-fatal data-quality problems
	Issues []string
}

// ValidateIntegrity inspects a loaded snapshot for structural problems
// and soft data-quality issues (duplicate identity keys, records with
// missing required fields). Soft issues never make a snapshot unhealthy.
func ValidateIntegrity(snapshot *docket.Snapshot) ValidationResult {
	if snapshot == nil {
		return ValidationResult{Corrupted: "snapshot is nil"}
	}

	result := ValidationResult{Healthy: true}

	seen := make(map[string]int, len(snapshot.Dockets))
	for i := range snapshot.Dockets {
		r := &snapshot.Dockets[i]
		if r.Number == "" {
			result.Issues = append(result.Issues,
				fmt.Sprintf("record %d (%q) has no docket number", i, r.DisplayName))
		}
		if r.DisplayName == "" {
			result.Issues = append(result.Issues,
				fmt.Sprintf("record %d (number %s) has no display name", i, r.Number))
		}
		key := r.IdentityKey()
		if prev, dup := seen[key]; dup {
			result.Issues = append(result.Issues,
				fmt.Sprintf("records %d and %d share identity %s %q", prev, i, r.Number, r.JobName))
		} else {
			seen[key] = i
		}
	}

	return result
}
