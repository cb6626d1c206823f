// Package docket defines the canonical business records produced by the
// synchronization engine and shared through the cache artifact.
package docket

import "time"

// Subtask is a lightweight child entry attached to a docket record.
type Subtask struct {
	// Name is the display text of the subtask
	Name string `json:"name"`

	// UpdatedAt is the last modification time reported by the remote service
	UpdatedAt time.Time `json:"updatedAt,omitempty"`

	// Category is an optional free-form tag (e.g. the remote status group)
	Category string `json:"category,omitempty"`
}

// ProjectMetadata describes the remote collection a docket was found in.
// It is owned by the fetch pipeline and only ever replaced wholesale;
// consumers treat it as read-only.
type ProjectMetadata struct {
	// CollectionID is the remote collection identifier
	CollectionID string `json:"collectionId"`

	// Name is the collection display name
	Name string `json:"name,omitempty"`

	// CreatedBy is the display name of the collection creator
	CreatedBy string `json:"createdBy,omitempty"`

	// Owner is the display name of the current collection owner
	Owner string `json:"owner,omitempty"`

	// Notes holds free-text collection notes
	Notes string `json:"notes,omitempty"`

	// Color is the remote color tag
	Color string `json:"color,omitempty"`

	// DueDate is the collection due date as reported by the remote service
	DueDate string `json:"dueDate,omitempty"`

	// TeamName is the workspace/team display name
	TeamName string `json:"teamName,omitempty"`

	// CustomFields maps custom-field names to their display values
	CustomFields map[string]string `json:"customFields,omitempty"`
}

// Record is a single docket: one job, identified by a short formatted
// number plus a job name. Records with the same number but different job
// names are distinct dockets (co-located sibling jobs).
type Record struct {
	// Number is the business identifier: five digits plus an optional
	// short letter suffix (see ParseNumber)
	Number string `json:"number"`

	// JobName is the job/title portion of the display text
	JobName string `json:"jobName"`

	// DisplayName is the full display text the record was parsed from
	DisplayName string `json:"displayName"`

	// CreatedAt is the remote creation time
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is the remote last-modification time
	UpdatedAt time.Time `json:"updatedAt"`

	// DueDate is the optional due date
	DueDate *time.Time `json:"dueDate,omitempty"`

	// Completed reports whether the remote item is closed
	Completed bool `json:"completed,omitempty"`

	// Project is the metadata of the collection this docket came from
	Project *ProjectMetadata `json:"project,omitempty"`

	// Subtasks are orphan child items attached to this docket
	Subtasks []Subtask `json:"subtasks,omitempty"`
}

// IdentityKey returns the identity of a record: the (number, job name)
// pair. Two records with equal keys refer to the same docket.
func (r *Record) IdentityKey() string {
	return r.Number + "\x1f" + r.JobName
}

// Snapshot is the complete, atomically replaced contents of the shared
// cache at one point in time.
type Snapshot struct {
	// Dockets is the full record list
	Dockets []Record `json:"dockets"`

	// LastSync is the completion time of the sync run that produced
	// this snapshot
	LastSync time.Time `json:"lastSync"`
}
