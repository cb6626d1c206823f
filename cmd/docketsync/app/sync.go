package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/docketworks/docketsync/pkg/cache"
	"github.com/docketworks/docketsync/pkg/syncer"
)

var (
	syncForceDiscovery bool
	syncSinceWindow    time.Duration
	syncRepair         bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the shared docket cache with the remote workspace",
	Long: `Acquires the shared sync lock, fetches docket records from the remote
workspace and publishes a fresh snapshot to the cache location. If
another instance already holds the lock, its progress is reported
instead and the cache is left untouched.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncForceDiscovery, "force-discovery", false,
		"Scan all collections instead of the previously discovered set")
	syncCmd.Flags().DurationVar(&syncSinceWindow, "since", 0,
		"Only fetch items modified within this window (e.g. 24h)")
	syncCmd.Flags().BoolVar(&syncRepair, "repair", false,
		"Replace a corrupted cache file with the freshly fetched snapshot")
}

func runSync(cmd *cobra.Command, _ []string) error {
	settings := settingsFromViper()
	if !syncForceDiscovery {
		settings.KnownCollectionIDs = loadHints(cache.ResolveArtifactPath(settings.CacheLocation))
	}

	session, err := syncer.New(settings)
	if err != nil {
		return err
	}

	opts := syncer.RunOptions{
		ForceDiscovery:  syncForceDiscovery,
		RepairCorrupted: syncRepair,
	}
	if syncSinceWindow > 0 {
		since := time.Now().Add(-syncSinceWindow)
		opts.ModifiedSince = &since
	}

	result, err := session.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}

	if result.Status == syncer.StatusLockHeld {
		if result.ActiveProgress != nil {
			fmt.Printf("Sync already in progress on %s (%.0f%%, %s)\n",
				result.ActiveProgress.HostDeviceName,
				result.ActiveProgress.Progress*100,
				result.ActiveProgress.Phase)
			if result.ActiveStale {
				fmt.Println("Warning: the active sync has not reported progress recently.")
			}
		} else {
			fmt.Println("Sync already in progress elsewhere.")
		}
		return nil
	}

	updateHints(session.Location(), result.DocketCollectionIDs, result.Discovery)

	mode := "smart"
	if result.Discovery {
		mode = "discovery"
	}
	fmt.Printf("Synced %d dockets (%s scan, %d collections queried)\n",
		result.RecordCount, mode, result.CollectionsQueried)
	return nil
}
