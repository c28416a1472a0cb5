// Package notify holds the alert delivery channels used by the
// AlertDispatcher. Each channel implements ports.Notifier.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"solana-forensics/config"
	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"

	"github.com/IBM/sarama"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Channel names accepted in notify.channels.
const (
	ChannelLog     = "log"
	ChannelWebhook = "webhook"
	ChannelKafka   = "kafka"
	ChannelRedis   = "redis"
)

// Envelope is the JSON document every remote channel sends.
type Envelope struct {
	Type      string        `json:"type"`
	Timestamp int64         `json:"ts"`
	Alert     *domain.Alert `json:"alert"`
}

func encodeAlert(alert *domain.Alert, now time.Time) ([]byte, error) {
	b, err := json.Marshal(Envelope{Type: "alert", Timestamp: now.UnixMilli(), Alert: alert})
	if err != nil {
		return nil, fmt.Errorf("encode alert envelope: %w", err)
	}
	return b, nil
}

// Deps carries the shared clients channels may need. Nil clients make the
// corresponding channel unavailable.
type Deps struct {
	Redis      *goredis.Client
	HTTPClient HTTPClient
	Kafka      sarama.SyncProducer
	Log        zerolog.Logger
}

// Build creates the configured channels in priority order. An unknown
// channel name or a channel whose dependency is missing is an error.
func Build(cfg config.NotifyConfig, kafka config.KafkaConfig, deps Deps) ([]ports.Notifier, error) {
	out := make([]ports.Notifier, 0, len(cfg.Channels))
	for _, name := range cfg.Channels {
		switch name {
		case ChannelLog:
			out = append(out, NewLogNotifier(deps.Log))
		case ChannelWebhook:
			if cfg.WebhookURL == "" {
				return nil, fmt.Errorf("notify channel %q: webhook_url is empty", name)
			}
			out = append(out, NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookSecret, deps.HTTPClient, deps.Log))
		case ChannelKafka:
			if deps.Kafka == nil {
				return nil, fmt.Errorf("notify channel %q: kafka producer not configured", name)
			}
			out = append(out, NewKafkaNotifier(deps.Kafka, kafka.Topic))
		case ChannelRedis:
			if deps.Redis == nil {
				return nil, fmt.Errorf("notify channel %q: redis not enabled", name)
			}
			out = append(out, NewRedisPublisher(deps.Redis, cfg.RedisChannel))
		default:
			return nil, fmt.Errorf("unknown notify channel %q", name)
		}
	}
	return out, nil
}
