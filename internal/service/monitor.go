package service

import (
	"context"
	"errors"
	"fmt"

	"solana-forensics/config"
	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"

	"github.com/rs/zerolog"
)

// Monitor turns observed transactions into detections. The poller and the
// account subscription both call HandleTransaction, possibly concurrently.
type Monitor struct {
	engine    *RuleEngine
	traces    *TraceService
	cache     ports.RecentTxCache
	bus       *EventBus
	audit     ports.AuditLogger
	detection *config.DetectionStore
	log       zerolog.Logger

	ledger *EvidenceLedger
	alerts *AlertService
}

// NewMonitor wires the detection pipeline. traces and audit may be nil.
func NewMonitor(engine *RuleEngine, traces *TraceService, cache ports.RecentTxCache, bus *EventBus, audit ports.AuditLogger, detection *config.DetectionStore, log zerolog.Logger) *Monitor {
	return &Monitor{
		engine:    engine,
		traces:    traces,
		cache:     cache,
		bus:       bus,
		audit:     audit,
		detection: detection,
		log:       log,
	}
}

// WithSinks sets where detections go when the bus cannot take them: no bus,
// no subscriber for the kind, or a subscriber still full after the wait.
func (m *Monitor) WithSinks(ledger *EvidenceLedger, alerts *AlertService) *Monitor {
	m.ledger = ledger
	m.alerts = alerts
	return m
}

// HandleTransaction evaluates tx in the context of address's recent
// history. A transaction already seen for address is skipped and returns
// nil, nil.
func (m *Monitor) HandleTransaction(ctx context.Context, address string, tx domain.Transaction) (*EvaluationResult, error) {
	recent, err := m.cache.Snapshot(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("snapshot recent transactions: %w", err)
	}
	added, err := m.cache.Add(ctx, address, tx)
	if err != nil {
		return nil, fmt.Errorf("cache transaction: %w", err)
	}
	if !added {
		m.log.Debug().Str("signature", tx.Signature).Str("address", address).Msg("transaction already processed")
		return nil, nil
	}

	wctx := domain.WalletContext{
		Address: address,
		Recent:  recent,
		Balance: latestBalance(address, tx, recent),
	}
	res := m.engine.EvaluateDetailed(tx, wctx)
	m.publish(ctx, &res)

	for _, f := range res.Failures {
		m.mirror(ctx, domain.AuditErrorOccurred, "rule", f.RuleID, domain.AuditDetails{
			Description: fmt.Sprintf("rule %s failed on %s: %s", f.RuleID, tx.Signature, f.Err),
			RiskLevel:   domain.RiskMedium,
		})
	}

	if m.traces != nil {
		for _, d := range res.Detections {
			if !d.Rule.HasAction(domain.ActionTrace) {
				continue
			}
			if _, err := m.traces.TraceTransaction(ctx, tx, domain.TraceModeAuto, 0, "system"); err != nil {
				m.log.Warn().Err(err).Str("signature", tx.Signature).Str("rule_id", d.Rule.ID).Msg("triggered trace failed")
			}
			// One trace per transaction covers every rule asking for it.
			break
		}
	}

	if len(res.Detections) > 0 {
		m.log.Info().
			Str("signature", tx.Signature).
			Str("address", address).
			Int("detections", len(res.Detections)).
			Int("alerts", len(res.Alerts())).
			Msg("transaction flagged")
	}
	return &res, nil
}

// Evaluate runs the rules against tx and address's cached history without
// recording or publishing anything.
func (m *Monitor) Evaluate(ctx context.Context, address string, tx domain.Transaction) (EvaluationResult, error) {
	recent, err := m.cache.Snapshot(ctx, address)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("snapshot recent transactions: %w", err)
	}
	return m.engine.EvaluateDetailed(tx, domain.WalletContext{
		Address: address,
		Recent:  recent,
		Balance: latestBalance(address, tx, recent),
	}), nil
}

func (m *Monitor) publish(ctx context.Context, res *EvaluationResult) {
	for i := range res.Detections {
		d := &res.Detections[i]
		ev := d.Evidence
		m.deliver(ctx, Event{Kind: EventEvidence, Evidence: &ev})
		if d.Alert != nil {
			a := *d.Alert
			m.deliver(ctx, Event{Kind: EventAlert, Alert: &a})
		}
	}
}

// deliver hands ev to the bus and falls back to the sinks inline. A
// detection neither path could take is recorded as an error in the audit log.
func (m *Monitor) deliver(ctx context.Context, ev Event) {
	if m.bus != nil {
		err := m.bus.Publish(ctx, ev)
		if err == nil {
			return
		}
		m.log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("bus delivery failed, handling detection inline")
	}
	if err := m.handleInline(ctx, ev); err != nil {
		resource, id := eventRef(ev)
		m.log.Error().Err(err).Str("kind", string(ev.Kind)).Str("id", id).Msg("detection lost")
		m.mirror(ctx, domain.AuditErrorOccurred, resource, id, domain.AuditDetails{
			Description: fmt.Sprintf("%s %s was not recorded: %s", resource, id, err),
			RiskLevel:   domain.RiskHigh,
		})
	}
}

var errNoSink = errors.New("no sink configured")

func (m *Monitor) handleInline(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventEvidence:
		if m.ledger == nil {
			return errNoSink
		}
		return m.ledger.Store(ctx, *ev.Evidence)
	case EventAlert:
		if m.alerts == nil {
			return errNoSink
		}
		_, err := m.alerts.Record(ctx, *ev.Alert)
		return err
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

func eventRef(ev Event) (resource, id string) {
	switch {
	case ev.Evidence != nil:
		return "evidence", ev.Evidence.ID
	case ev.Alert != nil:
		return "alert", ev.Alert.ID
	default:
		return string(ev.Kind), ""
	}
}

// ApplyDetection reacts to a hot-swapped detection config.
func (m *Monitor) ApplyDetection(ctx context.Context, old, next *config.Detection) {
	if old == nil || old.RecentCacheSize != next.RecentCacheSize {
		m.cache.Resize(next.RecentCacheSize)
	}
	before, _ := domain.NormalizePayload(old)
	after, _ := domain.NormalizePayload(next)
	m.mirror(ctx, domain.AuditConfigChanged, "config", "detection", domain.AuditDetails{
		Description: "detection thresholds reloaded",
		Before:      before,
		After:       after,
		RiskLevel:   domain.RiskMedium,
	})
	m.log.Info().
		Int64("large_transfer", next.LargeTransfer).
		Int("recent_cache_size", next.RecentCacheSize).
		Dur("poll_interval", next.PollInterval).
		Msg("detection config applied")
}

func (m *Monitor) mirror(ctx context.Context, action domain.AuditAction, resource, id string, details domain.AuditDetails) {
	if m.audit == nil {
		return
	}
	if _, err := m.audit.LogEvent(ctx, action, resource, id, "system", details); err != nil {
		m.log.Warn().Err(err).Str("action", string(action)).Msg("failed to audit monitor event")
	}
}

// latestBalance is the post-balance of address in tx, or failing that in
// the newest cached transaction touching it.
func latestBalance(address string, tx domain.Transaction, recent []domain.Transaction) int64 {
	for _, bc := range tx.BalanceChanges {
		if bc.Account == address {
			return bc.PostBalance
		}
	}
	for i := len(recent) - 1; i >= 0; i-- {
		for _, bc := range recent[i].BalanceChanges {
			if bc.Account == address {
				return bc.PostBalance
			}
		}
	}
	return 0
}
