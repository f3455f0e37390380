package main

import (
	"fmt"
	"os"

	"github.com/tenantdesk/accesskit/pkg/cli"
)

func main() {
	logLevel := os.Getenv("ACCESSKIT_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	cli.SetupLogger(logLevel)

	rootCmd := cli.NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
