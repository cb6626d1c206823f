package app

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/viper"

	"github.com/docketworks/docketsync/pkg/config"
	"github.com/docketworks/docketsync/pkg/logger"
)

// hintsFileName is the sidecar file next to the cache artifact where
// discovered docket collection ids are persisted between runs.
const hintsFileName = ".docketsync-hints.json"

type syncHints struct {
	DocketCollectionIDs []string `json:"docketCollectionIds"`
}

// settingsFromViper assembles engine settings from flags and the
// DOCKETSYNC_* environment.
func settingsFromViper() config.Settings {
	return config.Settings{
		CacheLocation: viper.GetString("cache-location"),
		AccessToken:   viper.GetString("access-token"),
		RefreshToken:  viper.GetString("refresh-token"),
		WorkspaceID:   viper.GetString("workspace"),
		BaseURL:       viper.GetString("base-url"),
		Concurrency:   viper.GetInt("concurrency"),
	}
}

func hintsPath(artifactPath string) string {
	return filepath.Join(filepath.Dir(artifactPath), hintsFileName)
}

// loadHints returns the previously discovered docket collection ids, or
// nil when no usable hints exist. Unreadable hints only cost us a full
// discovery scan, so they are not an error.
func loadHints(artifactPath string) []string {
	data, err := os.ReadFile(hintsPath(artifactPath))
	if err != nil {
		return nil
	}
	var hints syncHints
	if err := json.Unmarshal(data, &hints); err != nil {
		logger.Debugf("Ignoring unreadable sync hints: %v", err)
		return nil
	}
	return hints.DocketCollectionIDs
}

// updateHints persists the docket-bearing collection ids discovered by
// a run. A discovery run scanned everything, so its result replaces the
// hints wholesale. A smart or incremental run only saw a subset:
// collections that failed or had no recent changes are absent from the
// result, so the new ids are unioned with the existing hints instead of
// shrinking them.
func updateHints(artifactPath string, discovered []string, discovery bool) {
	if discovery {
		saveHints(artifactPath, discovered)
		return
	}
	if merged := unionIDs(loadHints(artifactPath), discovered); len(merged) > 0 {
		saveHints(artifactPath, merged)
	}
}

func unionIDs(existing, discovered []string) []string {
	seen := make(map[string]bool, len(existing)+len(discovered))
	var out []string
	for _, id := range existing {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range discovered {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func saveHints(artifactPath string, collectionIDs []string) {
	data, err := json.MarshalIndent(syncHints{DocketCollectionIDs: collectionIDs}, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(hintsPath(artifactPath), data, 0600); err != nil {
		logger.Warnf("Could not persist sync hints: %v", err)
	}
}
