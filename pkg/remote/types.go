// Package remote turns the paginated, rate-limited project-management
// API into a flat set of docket records. It owns credential lifecycle,
// backoff and retry, pagination, and the bounded-concurrency fan-out
// across remote collections.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrAuth marks a request that failed authentication after any
	// available refresh was attempted. Fatal to the run.
	ErrAuth = errors.New("authentication failed")

	// ErrFeatureUnavailable marks a remote business error: the
	// endpoint exists but the workspace plan does not include it.
	// Callers fall back to the slower path instead of retrying.
	ErrFeatureUnavailable = errors.New("feature not available for this workspace")

	// ErrRateLimited marks a request that was still rate-limited after
	// its single wait-and-retry.
	ErrRateLimited = errors.New("rate limited")
)

// HTTPError represents a non-success HTTP response.
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
}

// Error returns the error message
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, url, message string) error {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Message:    message,
	}
}

// Member is a remote user reference.
type Member struct {
	Username string `json:"username"`
}

// Collection is a remote project/list that may contain docket items.
type Collection struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Archived bool   `json:"archived"`
	Color    string `json:"color,omitempty"`
	Notes    string `json:"notes,omitempty"`
	DueDate  string `json:"dueDate,omitempty"`
	TeamName string `json:"teamName,omitempty"`
	Creator  Member `json:"creator,omitempty"`
	Owner    Member `json:"owner,omitempty"`
}

// ItemStatus is the remote status of an item. Type "closed" means the
// item is complete.
type ItemStatus struct {
	Status string `json:"status"`
	Type   string `json:"type"`
}

// Item is a single remote task. Timestamps are unix-millisecond strings
// as delivered by the service. Raw preserves the original document for
// custom-field extraction.
type Item struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	CollectionID string     `json:"collectionId"`
	ParentID     string     `json:"parentId,omitempty"`
	Status       ItemStatus `json:"status"`
	DateCreated  string     `json:"dateCreated"`
	DateUpdated  string     `json:"dateUpdated"`
	DueDate      string     `json:"dueDate,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Completed reports whether the remote item is closed.
func (i *Item) Completed() bool {
	return i.Status.Type == "closed"
}

type collectionsPage struct {
	Collections []Collection `json:"collections"`
	LastPage    bool         `json:"lastPage"`
}

type itemsPage struct {
	Items    []json.RawMessage `json:"items"`
	LastPage bool              `json:"lastPage"`
}

// parseMillis converts a unix-millisecond string timestamp. The zero
// time is returned for empty or malformed values.
func parseMillis(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func parseItems(raws []json.RawMessage) ([]Item, error) {
	items := make([]Item, 0, len(raws))
	for _, raw := range raws {
		var it Item
		if err := json.Unmarshal(raw, &it); err != nil {
			return nil, fmt.Errorf("failed to decode item: %w", err)
		}
		it.Raw = raw
		items = append(items, it)
	}
	return items, nil
}
