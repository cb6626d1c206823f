// Package config defines the explicit configuration consumed by the
// synchronization engine. The engine never reads files or environment
// variables itself; the surrounding application builds a Settings value
// and hands it over.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultConcurrency is the default bound on the fetch fan-out
	DefaultConcurrency = 8

	// DefaultStalenessWindow is how old a lock's start time may be
	// before another process is allowed to reclaim it
	DefaultStalenessWindow = 15 * time.Minute

	// DefaultMaxAttempts is the total attempt budget for transient
	// network failures on a single request
	DefaultMaxAttempts = 3

	// DefaultRetryBaseDelay is the linear backoff unit between
	// transient retries (delay = base x attempt)
	DefaultRetryBaseDelay = 500 * time.Millisecond
)

// Settings carries everything the engine needs for one cache location
// and one remote workspace.
type Settings struct {
	// CacheLocation is the user-supplied shared-cache hint: a
	// directory, the cache file itself, or some other path near it
	CacheLocation string

	// AccessToken is the bearer credential for the remote service
	AccessToken string

	// RefreshToken optionally allows one token refresh on a 401
	RefreshToken string

	// WorkspaceID is the remote workspace/scope identifier
	WorkspaceID string

	// BaseURL overrides the remote service endpoint (tests, proxies)
	BaseURL string

	// KnownCollectionIDs is the smart-sync hint: collection ids that
	// contained dockets on a previous discovery run
	KnownCollectionIDs []string

	// Concurrency bounds the fetch fan-out; 0 means DefaultConcurrency
	Concurrency int

	// StalenessWindow overrides the lock staleness threshold; 0 means
	// DefaultStalenessWindow
	StalenessWindow time.Duration

	// MaxAttempts overrides the transient retry budget; 0 means
	// DefaultMaxAttempts
	MaxAttempts int

	// RetryBaseDelay overrides the linear backoff unit; 0 means
	// DefaultRetryBaseDelay
	RetryBaseDelay time.Duration

	// HostName identifies this machine in progress records; defaults
	// to the OS hostname
	HostName string
}

// ApplyDefaults fills unset fields with their defaults.
func (s *Settings) ApplyDefaults() {
	if s.Concurrency <= 0 {
		s.Concurrency = DefaultConcurrency
	}
	if s.StalenessWindow <= 0 {
		s.StalenessWindow = DefaultStalenessWindow
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = DefaultMaxAttempts
	}
	if s.RetryBaseDelay <= 0 {
		s.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if s.HostName == "" {
		if hn, err := os.Hostname(); err == nil && hn != "" {
			s.HostName = hn
		} else {
			s.HostName = "host-" + uuid.NewString()[:8]
		}
	}
}

// Validate reports the first configuration problem, if any.
func (s *Settings) Validate() error {
	if s.CacheLocation == "" {
		return fmt.Errorf("cache location cannot be empty")
	}
	if s.AccessToken == "" {
		return fmt.Errorf("access token cannot be empty")
	}
	if s.WorkspaceID == "" {
		return fmt.Errorf("workspace id cannot be empty")
	}
	return nil
}
