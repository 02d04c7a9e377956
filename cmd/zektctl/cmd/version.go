package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/austindbirch/zekt_action/internal/delivery"
)

var (
	// These will be set by ldflags during build
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  `Print the version information for zektctl.`,
	Run: func(cmd *cobra.Command, args []string) {
		if outputJSON {
			version := map[string]string{
				"version":   delivery.Version,
				"userAgent": delivery.UserAgent(),
				"gitCommit": GitCommit,
				"buildTime": BuildTime,
				"goVersion": runtime.Version(),
				"goos":      runtime.GOOS,
				"goarch":    runtime.GOARCH,
			}
			printOutput(cmd.OutOrStdout(), version)
			return
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "zektctl version %s\n", delivery.Version)
		fmt.Fprintf(w, "Git commit: %s\n", GitCommit)
		fmt.Fprintf(w, "Built: %s\n", BuildTime)
		fmt.Fprintf(w, "Go version: %s\n", runtime.Version())
		fmt.Fprintf(w, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
