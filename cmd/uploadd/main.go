package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "uploadd",
		Short: "Standalone multipart upload daemon",
		Long: `uploadd serves a browser file upload endpoint with live progress.

Clients allocate an upload slot, POST a multipart body to the returned
upload URL, and follow progress over a WebSocket or by polling. Uploads
land in a spool directory that is swept when the daemon shuts down.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
