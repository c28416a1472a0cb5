package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"

	"github.com/rs/zerolog"
)

const defaultChannelTimeout = 5 * time.Second

// AlertDispatcher fans an alert out to notification channels. Channels are
// listed in priority order; the first one is the primary channel.
type AlertDispatcher struct {
	channels []ports.Notifier
	timeout  time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewAlertDispatcher creates a dispatcher. A non-positive timeout uses the default.
func NewAlertDispatcher(channels []ports.Notifier, timeout time.Duration, log zerolog.Logger) *AlertDispatcher {
	if timeout <= 0 {
		timeout = defaultChannelTimeout
	}
	return &AlertDispatcher{
		channels: channels,
		timeout:  timeout,
		log:      log,
		now:      time.Now,
	}
}

// ChannelCount is how many of n channels an alert of the given severity uses.
func ChannelCount(sev domain.Severity, n int) int {
	if n == 0 {
		return 0
	}
	switch sev {
	case domain.SeverityEmergency:
		return n
	case domain.SeverityCritical:
		return max(n-1, 1)
	case domain.SeverityWarning:
		return (n + 1) / 2
	default:
		return 1
	}
}

// Select returns the channels used for sev.
func (d *AlertDispatcher) Select(sev domain.Severity) []ports.Notifier {
	return d.channels[:ChannelCount(sev, len(d.channels))]
}

// Dispatch notifies every selected channel concurrently and returns one log
// per attempt in channel order. Each channel gets its own deadline, so a
// slow channel delays only its own result.
func (d *AlertDispatcher) Dispatch(ctx context.Context, alert *domain.Alert) []domain.NotificationLog {
	selected := d.Select(alert.Severity)
	logs := make([]domain.NotificationLog, len(selected))

	var wg sync.WaitGroup
	for i, ch := range selected {
		wg.Add(1)
		go func(i int, ch ports.Notifier) {
			defer wg.Done()
			logs[i] = d.attempt(ctx, ch, alert)
		}(i, ch)
	}
	wg.Wait()
	return logs
}

func (d *AlertDispatcher) attempt(ctx context.Context, ch ports.Notifier, alert *domain.Alert) (entry domain.NotificationLog) {
	start := d.now()
	entry = domain.NotificationLog{Channel: ch.Name(), Timestamp: domain.Stamp(start)}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("notifier panic: %v", r)
			}
		}()
		done <- ch.Notify(ctx, alert)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("channel %s: %w", ch.Name(), ctx.Err())
	}
	entry.Duration = d.now().Sub(start)

	if err != nil {
		entry.Status = domain.DeliveryFailed
		entry.Error = err.Error()
		d.log.Warn().Err(err).Str("alert_id", alert.ID).Str("channel", entry.Channel).Msg("alert notification failed")
		return entry
	}
	entry.Status = domain.DeliverySent
	d.log.Debug().Str("alert_id", alert.ID).Str("channel", entry.Channel).Dur("took", entry.Duration).Msg("alert notification sent")
	return entry
}

// Channels returns the configured channel names in priority order.
func (d *AlertDispatcher) Channels() []string {
	names := make([]string, len(d.channels))
	for i, ch := range d.channels {
		names[i] = ch.Name()
	}
	return names
}
