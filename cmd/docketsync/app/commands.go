// Package app provides the entry point for the docketsync command.
package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/docketworks/docketsync/pkg/logger"
)

// Version is stamped at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:               "docketsync",
	DisableAutoGenTag: true,
	Short:             "Shared docket-cache synchronization engine",
	Long: `docketsync pulls project records from the remote workspace, reconciles
them into docket records and publishes them to a cache file shared by
multiple application instances over a network filesystem.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// NewRootCmd creates the root command for docketsync.
func NewRootCmd() *cobra.Command {
	flags := rootCmd.PersistentFlags()
	flags.Bool("debug", false, "Enable debug logging")
	flags.String("cache-location", "", "Shared cache location (directory or file path)")
	flags.String("access-token", "", "Remote service access token")
	flags.String("refresh-token", "", "Remote service refresh token")
	flags.String("workspace", "", "Remote workspace identifier")
	flags.String("base-url", "", "Override the remote service endpoint")
	flags.Int("concurrency", 0, "Bound on concurrent collection fetches")

	for _, name := range []string{
		"debug", "cache-location", "access-token", "refresh-token",
		"workspace", "base-url", "concurrency",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			logger.Errorf("Error binding %s flag: %v", name, err)
		}
	}
	viper.SetEnvPrefix("DOCKETSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("docketsync %s\n", Version)
	},
}
