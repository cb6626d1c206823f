// Package cache provides durable, shared, multi-reader storage of the
// current docket snapshot. The artifact is a single JSON file replaced
// atomically on write, so readers always observe either the previous or
// the new complete snapshot.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docketworks/docketsync/pkg/docket"
	"github.com/docketworks/docketsync/pkg/logger"
)

const (
	// ArtifactName is the canonical cache file name
	ArtifactName = "docket-cache.json"
)

var (
	// ErrCorrupted marks a cache artifact that exists but cannot be
	// decoded (empty file, malformed JSON). Distinct from an absent
	// file, which loads as an empty snapshot.
	ErrCorrupted = errors.New("cache artifact is corrupted")

	// ErrForeignFile marks a file that holds valid JSON in some other
	// schema. It is never silently overwritten or misread.
	ErrForeignFile = errors.New("file is not a docket cache artifact")
)

// ResolveArtifactPath normalizes a user-supplied location hint into the
// concrete cache file path. The hint may be the containing directory,
// the canonical file itself, or some other file whose parent directory
// should hold the cache. Idempotent and side-effect free.
func ResolveArtifactPath(hint string) string {
	hint = strings.TrimSpace(hint)
	hint = strings.TrimPrefix(hint, "file://")
	hint = filepath.Clean(hint)

	if info, err := os.Stat(hint); err == nil && info.IsDir() {
		return filepath.Join(hint, ArtifactName)
	}

	if filepath.Base(hint) == ArtifactName {
		return hint
	}

	// A path with an extension is taken as a file reference; anything
	// else is assumed to be a not-yet-created directory.
	if filepath.Ext(hint) != "" {
		return filepath.Join(filepath.Dir(hint), ArtifactName)
	}
	return filepath.Join(hint, ArtifactName)
}

// Store reads and writes the shared snapshot artifact.
type Store struct{}

// NewStore creates a snapshot store.
func NewStore() *Store {
	return &Store{}
}

// Load reads and decodes the artifact at the resolved location. An
// absent file is not an error: it loads as an empty snapshot. A present
// but empty or undecodable file returns ErrCorrupted; a file holding a
// different schema returns ErrForeignFile.
func (*Store) Load(location string) (*docket.Snapshot, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		if os.IsNotExist(err) {
			return &docket.Snapshot{}, nil
		}
		return nil, fmt.Errorf("failed to read cache artifact %s: %w", location, err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrCorrupted)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if _, ok := probe["dockets"]; !ok {
		return nil, fmt.Errorf("%w: missing dockets field", ErrForeignFile)
	}

	var snapshot docket.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	return &snapshot, nil
}

// Save serializes a full snapshot and writes it via an atomic
// tmp-and-rename replace. When the rename fails (some network
// filesystems refuse it) it falls back to a direct write; that is a
// best-effort durability trade-off, not a guarantee.
func (*Store) Save(snapshot *docket.Snapshot, location string) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	dir := filepath.Dir(location)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tempPath := location + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary cache file: %w", err)
	}

	if err := os.Rename(tempPath, location); err != nil {
		_ = os.Remove(tempPath)
		logger.Warnf("Atomic replace failed for %s, falling back to direct write: %v", location, err)
		if err := os.WriteFile(location, data, 0600); err != nil {
			return fmt.Errorf("failed to write cache file: %w", err)
		}
	}

	return nil
}
