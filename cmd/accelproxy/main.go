// Command accelproxy runs the registry/GitHub accelerator proxy: the
// OCI registry passthrough, the GitHub/HuggingFace redirect-following
// downloader, the Docker Hub search/tags passthrough, and the thin
// static web surface in front of all three.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "accelproxy",
	Short: "Registry and GitHub download accelerator proxy",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to config.toml")
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "override the [server] host:port from config.toml")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "override LOG_LEVEL (trace|debug|info|warn|error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
