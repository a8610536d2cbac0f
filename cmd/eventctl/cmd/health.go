package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/event_relay/internal/health"
)

func relayHealthURL(addr string) string {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/") + "/healthz"
}

func fetchHealth(ctx context.Context, url string) (health.Status, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return health.Status{}, 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return health.Status{}, 0, err
	}
	defer resp.Body.Close()

	var st health.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return health.Status{}, resp.StatusCode, fmt.Errorf("decode health response: %w", err)
	}
	return st, resp.StatusCode, nil
}

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the relay",
	Long:  `Check the relay's /healthz endpoint: database reachability and whether delivery was halted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, code, err := fetchHealth(cmd.Context(), relayHealthURL(viper.GetString("relay")))
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}

		printOutput(cmd.OutOrStdout(), st, func(w io.Writer) {
			if st.OK {
				fmt.Fprintln(w, "✓ Relay is healthy")
				return
			}
			fmt.Fprintf(w, "✗ Relay is unhealthy (HTTP %d): %s\n", code, st.Message)
			if st.Halted {
				fmt.Fprintf(w, "  Delivery halted: %s\n", st.Reason)
			}
		})
		if !st.OK {
			return fmt.Errorf("relay unhealthy")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
