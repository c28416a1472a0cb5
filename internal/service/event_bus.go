package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"solana-forensics/internal/core/domain"

	"github.com/rs/zerolog"
)

// EventKind distinguishes what a bus event carries.
type EventKind string

const (
	EventEvidence EventKind = "evidence"
	EventAlert    EventKind = "alert"
)

// Event is one detection output travelling from the monitor to its consumers.
type Event struct {
	Kind     EventKind
	Evidence *domain.Evidence
	Alert    *domain.Alert
}

// DefaultPublishWait bounds how long Publish waits on a full subscriber.
const DefaultPublishWait = 2 * time.Second

var (
	ErrNoSubscriber    = errors.New("no subscriber for event kind")
	ErrBusClosed       = errors.New("event bus closed")
	ErrDeliveryTimeout = errors.New("subscriber did not accept event in time")
)

type subscriber struct {
	name  string
	kinds []EventKind
	ch    chan Event
}

func (s subscriber) accepts(k EventKind) bool {
	return len(s.kinds) == 0 || slices.Contains(s.kinds, k)
}

// EventBus delivers events over buffered channels to the subscribers of
// their kind. A full subscriber applies backpressure for up to the publish
// wait; Publish reports any subscriber still full after that so the caller
// can handle the event itself.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscriber
	closed bool
	wait   time.Duration
	log    zerolog.Logger
}

// BusOption configures an EventBus.
type BusOption func(*EventBus)

// WithPublishWait sets how long Publish blocks on a full subscriber.
func WithPublishWait(d time.Duration) BusOption {
	return func(b *EventBus) { b.wait = d }
}

// NewEventBus creates an empty bus.
func NewEventBus(log zerolog.Logger, opts ...BusOption) *EventBus {
	b := &EventBus{wait: DefaultPublishWait, log: log}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a named consumer with the given buffer size. It
// receives only the listed kinds, or every kind when none are given.
func (b *EventBus) Subscribe(name string, buffer int, kinds ...EventKind) <-chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, subscriber{name: name, kinds: kinds, ch: ch})
	return ch
}

// Publish hands ev to every subscriber of its kind. It returns nil only
// when at least one subscriber exists and all of them accepted the event.
func (b *EventBus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	var (
		matched int
		missed  []string
		ctxErr  error
	)
	for _, s := range b.subs {
		if !s.accepts(ev.Kind) {
			continue
		}
		matched++
		if err := b.send(ctx, s, ev); err != nil {
			missed = append(missed, s.name)
			if !errors.Is(err, ErrDeliveryTimeout) {
				ctxErr = err
			}
		}
	}
	switch {
	case matched == 0:
		return fmt.Errorf("%s: %w", ev.Kind, ErrNoSubscriber)
	case len(missed) == 0:
		return nil
	}
	b.log.Warn().Strs("subscribers", missed).Str("kind", string(ev.Kind)).Msg("subscriber buffer full, event not delivered")
	if ctxErr != nil {
		return fmt.Errorf("deliver %s to %v: %w", ev.Kind, missed, ctxErr)
	}
	return fmt.Errorf("deliver %s to %v: %w", ev.Kind, missed, ErrDeliveryTimeout)
}

func (b *EventBus) send(ctx context.Context, s subscriber, ev Event) error {
	select {
	case s.ch <- ev:
		return nil
	default:
	}
	timer := time.NewTimer(b.wait)
	defer timer.Stop()
	select {
	case s.ch <- ev:
		return nil
	case <-timer.C:
		return ErrDeliveryTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes every subscriber channel. Later publishes fail with ErrBusClosed.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
}

// Consume feeds events to handle until ctx is done or the channel closes.
func Consume(ctx context.Context, events <-chan Event, handle func(context.Context, Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			handle(ctx, ev)
		}
	}
}

// IngestEvidence is the bus handler storing evidence events in the ledger.
func (l *EvidenceLedger) IngestEvidence(ctx context.Context, ev Event) {
	if ev.Kind != EventEvidence || ev.Evidence == nil {
		return
	}
	if err := l.Store(ctx, *ev.Evidence); err != nil {
		l.log.Error().Err(err).Str("evidence_id", ev.Evidence.ID).Msg("failed to ingest evidence")
	}
}

// IngestAlert is the bus handler recording and dispatching alert events.
func (s *AlertService) IngestAlert(ctx context.Context, ev Event) {
	if ev.Kind != EventAlert || ev.Alert == nil {
		return
	}
	if _, err := s.Record(ctx, *ev.Alert); err != nil {
		s.log.Error().Err(err).Str("alert_id", ev.Alert.ID).Msg("failed to ingest alert")
	}
}
