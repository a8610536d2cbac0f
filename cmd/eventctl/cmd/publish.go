package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/nsqio/go-nsq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/event_relay/internal/events"
	"github.com/austindbirch/event_relay/internal/relay"
)

// Publisher is satisfied by *nsq.Producer
type Publisher interface {
	Publish(topic string, body []byte) error
	Stop()
}

// newPublisher is replaced in tests
var newPublisher = func(addr string) (Publisher, error) {
	p, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, err
	}
	p.SetLoggerLevel(nsq.LogLevelError)
	return p, nil
}

type publishResult struct {
	Topic      string `json:"topic"`
	Kind       string `json:"kind"`
	EventCount int    `json:"event_count"`
	Bytes      int    `json:"bytes"`
	BaseURI    string `json:"base_uri,omitempty"`
}

func (r publishResult) print(w io.Writer) {
	fmt.Fprintf(w, "Queued %d %s event(s) on %s (%d bytes)\n", r.EventCount, r.Kind, r.Topic, r.Bytes)
	if r.BaseURI != "" {
		fmt.Fprintf(w, "  Base URI: %s\n", r.BaseURI)
	}
}

// publishCmd represents the publish command
var publishCmd = &cobra.Command{
	Use:   "publish [analytics|diagnostic]",
	Short: "Queue a batch for the relay",
	Long: `Queue one serialized payload on the relay's NSQ topic.

Example:
  eventctl publish analytics --data '[{"kind":"custom","key":"checkout"}]' --nsqd localhost:4150`,
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
		topic, _ := cmd.Flags().GetString("topic")
		target, _ := cmd.Flags().GetString("target")

		task := relay.NewTask(cmd.Context(), kind, payload, eventCount(cmd, kind, payload), target)
		body, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("encode task: %w", err)
		}

		producer, err := newPublisher(viper.GetString("nsqd"))
		if err != nil {
			return fmt.Errorf("nsq producer creation failed: %w", err)
		}
		defer producer.Stop()

		if err := producer.Publish(topic, body); err != nil {
			return fmt.Errorf("publish to %s: %w", topic, err)
		}

		out := publishResult{
			Topic:      topic,
			Kind:       kind.String(),
			EventCount: task.EventCount,
			Bytes:      len(payload),
			BaseURI:    target,
		}
		printOutput(cmd.OutOrStdout(), out, out.print)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
	addPayloadFlags(publishCmd)
	publishCmd.Flags().String("topic", "event_batches", "NSQ topic the relay consumes")
	publishCmd.Flags().String("target", "", "base URI override carried in the task (default: the relay's own)")
}
