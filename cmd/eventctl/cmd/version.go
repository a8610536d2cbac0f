package cmd

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/austindbirch/event_relay/internal/events"
)

var (
	// These will be set by ldflags during build
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

type versionInfo struct {
	Version     string `json:"version"`
	GitCommit   string `json:"gitCommit"`
	BuildTime   string `json:"buildTime"`
	EventSchema string `json:"eventSchema"`
	GoVersion   string `json:"goVersion"`
	GOOS        string `json:"goos"`
	GOARCH      string `json:"goarch"`
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  `Print the version information for eventctl.`,
	Run: func(cmd *cobra.Command, args []string) {
		v := versionInfo{
			Version:     Version,
			GitCommit:   GitCommit,
			BuildTime:   BuildTime,
			EventSchema: events.CurrentEventSchema,
			GoVersion:   runtime.Version(),
			GOOS:        runtime.GOOS,
			GOARCH:      runtime.GOARCH,
		}
		printOutput(cmd.OutOrStdout(), v, func(w io.Writer) {
			fmt.Fprintf(w, "eventctl version %s\n", v.Version)
			fmt.Fprintf(w, "Git commit: %s\n", v.GitCommit)
			fmt.Fprintf(w, "Built: %s\n", v.BuildTime)
			fmt.Fprintf(w, "Event schema: %s\n", v.EventSchema)
			fmt.Fprintf(w, "Go version: %s\n", v.GoVersion)
			fmt.Fprintf(w, "OS/Arch: %s/%s\n", v.GOOS, v.GOARCH)
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
