package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/docketworks/docketsync/pkg/cache"
	"github.com/docketworks/docketsync/pkg/lockdir"
)

var statusWatch time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report cache health and any sync in progress",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().DurationVar(&statusWatch, "watch", 0,
		"Also watch the cache file for external write activity for this long")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	location := cache.ResolveArtifactPath(viper.GetString("cache-location"))
	fmt.Printf("Cache artifact: %s\n", location)

	coordinator := lockdir.New()
	if coordinator.IsLockPresent(location) {
		record, stale, err := coordinator.ReadProgress(location)
		switch {
		case err != nil:
			fmt.Printf("Sync lock:      held (progress unreadable: %v)\n", err)
		case record == nil:
			fmt.Println("Sync lock:      held (no progress reported yet)")
		default:
			fmt.Printf("Sync lock:      held by %s (%.0f%%, %s)\n",
				record.HostDeviceName, record.Progress*100, record.Phase)
			if stale {
				fmt.Println("                stale: no recent heartbeat, eligible for takeover")
			}
		}
	} else {
		fmt.Println("Sync lock:      free")
	}

	store := cache.NewStore()
	snapshot, err := store.Load(location)
	switch {
	case errors.Is(err, cache.ErrCorrupted):
		fmt.Println("Cache health:   corrupted (run sync --repair to rebuild)")
	case errors.Is(err, cache.ErrForeignFile):
		fmt.Println("Cache health:   not a docket cache file")
	case err != nil:
		return fmt.Errorf("cannot read cache: %w", err)
	default:
		validation := cache.ValidateIntegrity(snapshot)
		health := "healthy"
		if !validation.Healthy {
			health = "degraded"
		}
		fmt.Printf("Cache health:   %s, %d dockets\n", health, len(snapshot.Dockets))
		for _, issue := range validation.Issues {
			fmt.Printf("                issue: %s\n", issue)
		}
		if snapshot.LastSync.IsZero() {
			fmt.Println("Last sync:      never")
		} else {
			fmt.Printf("Last sync:      %s\n", snapshot.LastSync.Local().Format(time.RFC822))
		}
	}

	if statusWatch > 0 {
		watchActivity(cmd, location)
	}
	return nil
}

// watchActivity polls the artifact's modification time so a passive
// instance can tell whether some other process is writing it right now.
func watchActivity(cmd *cobra.Command, location string) {
	monitor := cache.NewActivityMonitor(location, 0, 0)
	monitor.Start(cmd.Context())
	defer monitor.Stop()

	fmt.Printf("Watching for external sync activity for %s...\n", statusWatch)
	deadline := time.NewTimer(statusWatch)
	defer deadline.Stop()

	ticker := time.NewTicker(cache.DefaultPollInterval)
	defer ticker.Stop()

	last := cache.ActivityState("")
	for {
		select {
		case <-cmd.Context().Done():
			return
		case <-deadline.C:
			fmt.Printf("Activity:       %s\n", monitor.State())
			return
		case <-ticker.C:
			if state := monitor.State(); state != last {
				fmt.Printf("Activity:       %s\n", state)
				last = state
			}
		}
	}
}
