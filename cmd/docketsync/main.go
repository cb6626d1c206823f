// Package main is the entry point for the docketsync command.
package main

import (
	"os"

	"github.com/docketworks/docketsync/cmd/docketsync/app"
	"github.com/docketworks/docketsync/pkg/logger"
)

func main() {
	defer logger.Sync()

	if err := app.NewRootCmd().Execute(); err != nil {
		logger.Errorf("%v", err)
		logger.Sync()
		os.Exit(1)
	}
}
