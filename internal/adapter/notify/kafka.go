package notify

import (
	"context"
	"fmt"
	"time"

	"solana-forensics/config"
	"solana-forensics/internal/core/domain"

	"github.com/IBM/sarama"
)

// NewKafkaProducer builds a sync producer for the alert topic.
func NewKafkaProducer(cfg config.KafkaConfig) (sarama.SyncProducer, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 3

	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return p, nil
}

// KafkaNotifier publishes alert envelopes keyed by wallet address so all
// alerts for one wallet land on the same partition.
type KafkaNotifier struct {
	topic    string
	producer sarama.SyncProducer
	now      func() time.Time
}

func NewKafkaNotifier(producer sarama.SyncProducer, topic string) *KafkaNotifier {
	return &KafkaNotifier{topic: topic, producer: producer, now: time.Now}
}

func (n *KafkaNotifier) Name() string { return ChannelKafka }

// Notify sends synchronously. SyncProducer has no context support, so ctx
// is only checked before sending.
func (n *KafkaNotifier) Notify(ctx context.Context, a *domain.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := encodeAlert(a, n.now())
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(a.WalletAddress),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("severity"), Value: []byte(a.Severity)},
			{Key: []byte("alert-id"), Value: []byte(a.ID)},
		},
	}
	if _, _, err := n.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka send: %w", err)
	}
	return nil
}
