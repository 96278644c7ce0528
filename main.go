package main

import (
	"fmt"
	"os"

	"github.com/acrenier/imagerie/cmd"
	"github.com/acrenier/imagerie/internal/conf"
	"github.com/acrenier/imagerie/internal/logging"
	"github.com/acrenier/imagerie/internal/network"
)

func main() {
	logging.Init()
	network.RegisterBuiltins()

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
