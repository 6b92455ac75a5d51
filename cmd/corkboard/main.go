package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "corkboard",
	Short: "Corkboard - collaborative kanban boards with live sync",
	Long: `Corkboard serves team kanban boards over HTTP and streams every
change to connected clients as server-sent events.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("corkboard %s (commit %s)\n", Version, Commit))
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CORKBOARD_CONFIG"), "path to a YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
