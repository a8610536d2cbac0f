package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/event_relay/internal/events"
	"github.com/austindbirch/event_relay/internal/logging"
)

type sendResult struct {
	Kind         string `json:"kind"`
	Success      bool   `json:"success"`
	MustShutDown bool   `json:"must_shut_down"`
	Failure      string `json:"failure"`
	StatusCode   int    `json:"status_code,omitempty"`
	Attempts     int    `json:"attempts"`
	PayloadID    string `json:"payload_id,omitempty"`
	ServerTime   string `json:"server_time,omitempty"`
	EventCount   int    `json:"event_count"`
}

func newSendResult(kind events.Kind, count int, res events.Result) sendResult {
	out := sendResult{
		Kind:         kind.String(),
		Success:      res.Success,
		MustShutDown: res.MustShutDown,
		Failure:      res.Failure.String(),
		StatusCode:   res.StatusCode,
		Attempts:     res.Attempts,
		PayloadID:    res.PayloadID,
		EventCount:   count,
	}
	if res.HasServerTime() {
		out.ServerTime = formatTime(res.ServerTime)
	}
	return out
}

func (r sendResult) print(w io.Writer) {
	if r.Success {
		fmt.Fprintf(w, "✓ Delivered %d %s event(s) in %d attempt(s) (HTTP %d)\n", r.EventCount, r.Kind, r.Attempts, r.StatusCode)
	} else {
		fmt.Fprintf(w, "✗ Delivery failed: %s after %d attempt(s)", r.Failure, r.Attempts)
		if r.StatusCode != 0 {
			fmt.Fprintf(w, " (HTTP %d)", r.StatusCode)
		}
		fmt.Fprintln(w)
		if r.MustShutDown {
			fmt.Fprintln(w, "  The collection service rejected this SDK key or payload; stop sending events.")
		}
	}
	if r.PayloadID != "" {
		fmt.Fprintf(w, "  Payload ID: %s\n", r.PayloadID)
	}
	if r.ServerTime != "" {
		fmt.Fprintf(w, "  Server time: %s\n", r.ServerTime)
	}
}

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send [analytics|diagnostic]",
	Short: "Post one payload directly to the collection service",
	Long: `Post one serialized payload to the collection service, retrying a
recoverable failure once.

Examples:
  eventctl send analytics --data '[{"kind":"identify","context":{"key":"u1"}}]'
  eventctl send diagnostic --file diag.json --base-uri http://localhost:8081`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"analytics", "diagnostic"},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := events.ParseKind(args[0])
		if err != nil {
			return err
		}
		payload, err := readPayload(cmd)
		if err != nil {
			return err
		}
		count := eventCount(cmd, kind, payload)

		logger := logging.Discard()
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			logger = logging.NewWithWriter("eventctl", cmd.ErrOrStderr())
		}
		sender, err := events.NewSenderFromConfig(transportConfig(),
			events.WithRetryDelay(viper.GetDuration("retry-delay")),
			events.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		defer sender.Close()

		res := sender.SendEventData(cmd.Context(), kind, payload, count, viper.GetString("base-uri"))
		out := newSendResult(kind, count, res)
		printOutput(cmd.OutOrStdout(), out, out.print)

		if !res.Success {
			return fmt.Errorf("delivery failed: %s", res.Failure)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	addPayloadFlags(sendCmd)
	sendCmd.Flags().BoolP("verbose", "v", false, "log delivery attempts to stderr")
}

func addPayloadFlags(c *cobra.Command) {
	c.Flags().String("data", "", "payload JSON")
	c.Flags().StringP("file", "f", "", "read payload JSON from file (- for stdin)")
	c.Flags().Int("count", 0, "number of events in the payload (default: array length for analytics, else 1)")
}
