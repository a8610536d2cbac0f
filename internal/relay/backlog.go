package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/austindbirch/event_relay/internal/logging"
	"github.com/austindbirch/event_relay/internal/metrics"
)

// nsqStats is the subset of nsqd's /stats?format=json we read
type nsqStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Channels  []struct {
			ChannelName   string `json:"channel_name"`
			Depth         int64  `json:"depth"`
			InFlightCount int64  `json:"in_flight_count"`
		} `json:"channels"`
	} `json:"topics"`
}

// BacklogMonitor polls nsqd and publishes the relay channel depth.
type BacklogMonitor struct {
	client   *http.Client
	statsURL string
	topic    string
	channel  string
	interval time.Duration
	logger   *logging.Logger
}

func NewBacklogMonitor(nsqdHTTPAddr, topic, channel string, interval time.Duration, logger *logging.Logger) *BacklogMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BacklogMonitor{
		client:   &http.Client{Timeout: 5 * time.Second},
		statsURL: fmt.Sprintf("http://%s/stats?format=json&topic=%s", nsqdHTTPAddr, topic),
		topic:    topic,
		channel:  channel,
		interval: interval,
		logger:   logger,
	}
}

// Run polls until ctx is done.
func (b *BacklogMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		if err := b.Poll(ctx); err != nil {
			b.logger.Plain().WithError(err).Error("Failed to get NSQ stats")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll fetches stats once. The backlog gauge counts queued plus in-flight
// messages on the relay channel.
func (b *BacklogMonitor) Poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.statsURL, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("get nsqd stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get nsqd stats: unexpected status %d", resp.StatusCode)
	}

	var stats nsqStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("decode nsqd stats: %w", err)
	}

	for _, topic := range stats.Topics {
		if topic.TopicName != b.topic {
			continue
		}
		for _, ch := range topic.Channels {
			if ch.ChannelName == b.channel {
				metrics.UpdateRelayBacklog(float64(ch.Depth + ch.InFlightCount))
			}
			metrics.UpdateNSQTopicDepth(topic.TopicName, ch.ChannelName, float64(ch.Depth))
		}
	}
	return nil
}
