package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"solana-forensics/config"
	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ ports.Notifier = (*LogNotifier)(nil)
	_ ports.Notifier = (*WebhookNotifier)(nil)
	_ ports.Notifier = (*KafkaNotifier)(nil)
	_ ports.Notifier = (*RedisPublisher)(nil)
)

func testAlert() *domain.Alert {
	return &domain.Alert{
		ID:            "alert_1",
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Severity:      domain.SeverityCritical,
		Type:          "large_transfer",
		Title:         "Large transfer: 250 SOL",
		TransactionID: "5sig",
		WalletAddress: "A",
		Status:        domain.AlertStatusNew,
	}
}

func decodeEnvelope(t *testing.T, raw []byte) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestBuild_PriorityOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	channels, err := Build(config.NotifyConfig{
		Channels:     []string{"log", "redis", "kafka", "webhook"},
		WebhookURL:   "http://example.invalid/hook",
		RedisChannel: "alerts",
	}, config.KafkaConfig{Topic: "forensic-alerts"}, Deps{Redis: rdb, Kafka: producer, Log: zerolog.Nop()})
	require.NoError(t, err)

	var names []string
	for _, c := range channels {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"log", "redis", "kafka", "webhook"}, names)
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.NotifyConfig
		wantErr string
	}{
		{"unknown channel", config.NotifyConfig{Channels: []string{"sms"}}, "unknown notify channel"},
		{"webhook without url", config.NotifyConfig{Channels: []string{"webhook"}}, "webhook_url"},
		{"kafka without producer", config.NotifyConfig{Channels: []string{"kafka"}}, "kafka producer"},
		{"redis disabled", config.NotifyConfig{Channels: []string{"redis"}}, "redis not enabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.cfg, config.KafkaConfig{}, Deps{Log: zerolog.Nop()})
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(zerolog.New(&buf))

	require.NoError(t, n.Notify(context.Background(), testAlert()))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "log", line["channel"])
	assert.Equal(t, "alert_1", line["alert_id"])
	assert.Equal(t, "Large transfer: 250 SOL", line["message"])
}

func TestWebhookNotifier_SignedDelivery(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts := r.Header.Get("X-Timestamp")
		assert.True(t, VerifySignature("s3cret", ts, body, r.Header.Get("X-Signature")))
		assert.Equal(t, "alert_1", r.Header.Get("X-Alert-ID"))
		got.Store(body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "s3cret", srv.Client(), zerolog.Nop())
	require.NoError(t, n.Notify(context.Background(), testAlert()))

	env := decodeEnvelope(t, got.Load().([]byte))
	assert.Equal(t, "alert", env.Type)
	assert.Equal(t, "alert_1", env.Alert.ID)
}

func TestWebhookNotifier_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "", srv.Client(), zerolog.Nop())
	require.NoError(t, n.Notify(context.Background(), testAlert()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebhookNotifier_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "", srv.Client(), zerolog.Nop())
	err := n.Notify(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Equal(t, int32(len(webhookRetryIntervals)+1), calls.Load())
}

func TestWebhookNotifier_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	n := NewWebhookNotifier(srv.URL, "", srv.Client(), zerolog.Nop())
	err := n.Notify(ctx, testAlert())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSign_Deterministic(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := Sign("k", "1700000000", body)
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, Sign("k", "1700000000", body))
	assert.NotEqual(t, sig, Sign("k", "1700000001", body))
	assert.False(t, VerifySignature("other", "1700000000", body, sig))
}

func TestKafkaNotifier(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "forensic-alerts" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "A" {
			return errors.New("message must be keyed by wallet")
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(value, &env); err != nil {
			return err
		}
		if env.Alert == nil || env.Alert.ID != "alert_1" {
			return errors.New("envelope does not carry the alert")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	n := NewKafkaNotifier(producer, "forensic-alerts")
	assert.NoError(t, n.Notify(context.Background(), testAlert()))

	err := n.Notify(context.Background(), testAlert())
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestKafkaNotifier_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewKafkaNotifier(producer, "t").Notify(ctx, testAlert())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "forensics:alerts")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := NewRedisPublisher(rdb, "forensics:alerts")
	require.NoError(t, p.Notify(ctx, testAlert()))

	select {
	case msg := <-sub.Channel():
		env := decodeEnvelope(t, []byte(msg.Payload))
		assert.Equal(t, "alert_1", env.Alert.ID)
	case <-time.After(time.Second):
		t.Fatal("no message published")
	}
}

func TestRedisPublisher_ConnectionError(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	err := NewRedisPublisher(rdb, "c").Notify(context.Background(), testAlert())
	assert.ErrorContains(t, err, "redis publish")
}
