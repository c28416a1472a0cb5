package solana

import (
	"context"
	"sync"
	"time"

	"solana-forensics/config"
	"solana-forensics/internal/core/domain"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// HandleFunc receives every newly observed transaction of a watched address.
type HandleFunc func(ctx context.Context, address string, tx domain.Transaction) error

// SignatureSource is the part of RPCClient the poller needs.
type SignatureSource interface {
	GetSignaturesForAddress(ctx context.Context, address string, opts SignaturesOpts) ([]SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*domain.Transaction, error)
}

// Poller periodically asks the node for new signatures of each watched
// address and hands the transactions to the monitor. Trigger forces an
// immediate round, which is how push notifications reach it.
type Poller struct {
	source    SignatureSource
	addresses []string
	handle    HandleFunc
	detection *config.DetectionStore
	log       zerolog.Logger
	trigger   chan struct{}

	mu            sync.Mutex
	lastSignature map[string]string
}

// NewPoller creates a poller. The interval is read from the detection
// store before every wait so reloads take effect on the next tick.
func NewPoller(source SignatureSource, addresses []string, handle HandleFunc, detection *config.DetectionStore, log zerolog.Logger) *Poller {
	return &Poller{
		source:        source,
		addresses:     addresses,
		handle:        handle,
		detection:     detection,
		log:           log,
		trigger:       make(chan struct{}, 1),
		lastSignature: make(map[string]string),
	}
}

// Trigger requests a poll round without blocking. Requests arriving while
// one is already pending are coalesced.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info().Strs("addresses", p.addresses).Msg("starting poller")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-p.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		p.PollOnce(ctx)
		timer.Reset(p.interval())
	}
}

func (p *Poller) interval() time.Duration {
	if d := p.detection.Load().PollInterval; d > 0 {
		return d
	}
	return 10 * time.Second
}

// PollOnce runs one round over every watched address concurrently.
func (p *Poller) PollOnce(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, addr := range p.addresses {
		g.Go(func() error {
			if err := p.pollAddress(gctx, addr); err != nil && gctx.Err() == nil {
				p.log.Warn().Err(err).Str("address", addr).Msg("poll failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Poller) pollAddress(ctx context.Context, addr string) error {
	p.mu.Lock()
	until := p.lastSignature[addr]
	p.mu.Unlock()

	sigs, err := p.source.GetSignaturesForAddress(ctx, addr, SignaturesOpts{Until: until})
	if err != nil {
		return err
	}
	if len(sigs) == 0 {
		return nil
	}

	// Newest first from the node; process oldest first.
	for i := len(sigs) - 1; i >= 0; i-- {
		s := sigs[i]
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.Err != nil {
			p.log.Debug().Str("signature", s.Signature).Msg("skipping failed transaction")
			p.advance(addr, s.Signature)
			continue
		}
		tx, err := p.source.GetTransaction(ctx, s.Signature)
		if err != nil {
			return err
		}
		if tx != nil {
			if err := p.handle(ctx, addr, *tx); err != nil {
				p.log.Warn().Err(err).Str("signature", s.Signature).Str("address", addr).Msg("handle transaction failed")
			}
		}
		p.advance(addr, s.Signature)
	}
	return nil
}

func (p *Poller) advance(addr, sig string) {
	p.mu.Lock()
	p.lastSignature[addr] = sig
	p.mu.Unlock()
}

// LastSignature returns the newest processed signature for addr.
func (p *Poller) LastSignature(addr string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSignature[addr]
}
