package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"
	"solana-forensics/pkg/apperror"

	"github.com/rs/zerolog"
)

// AlertService owns alert triage state: it records raised alerts, has them
// dispatched, and applies status transitions.
type AlertService struct {
	mu     sync.RWMutex
	alerts map[string]*domain.Alert

	repo       ports.AlertRepository
	dispatcher *AlertDispatcher
	audit      ports.AuditLogger
	log        zerolog.Logger
	now        func() time.Time
}

// NewAlertService creates an alert service. repo, dispatcher and audit may be nil.
func NewAlertService(repo ports.AlertRepository, dispatcher *AlertDispatcher, audit ports.AuditLogger, log zerolog.Logger) *AlertService {
	return &AlertService{
		alerts:     make(map[string]*domain.Alert),
		repo:       repo,
		dispatcher: dispatcher,
		audit:      audit,
		log:        log,
		now:        time.Now,
	}
}

// Record stores a newly raised alert and dispatches it. Recording an id
// that is already known returns the stored alert unchanged.
func (s *AlertService) Record(ctx context.Context, alert domain.Alert) (*domain.Alert, error) {
	if alert.Status == "" {
		alert.Status = domain.AlertStatusNew
	}

	s.mu.Lock()
	if existing, ok := s.alerts[alert.ID]; ok {
		out := cloneAlert(existing)
		s.mu.Unlock()
		return &out, nil
	}
	stored := cloneAlert(&alert)
	s.alerts[alert.ID] = &stored
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.Create(ctx, &alert); err != nil {
			s.mu.Lock()
			delete(s.alerts, alert.ID)
			s.mu.Unlock()
			return nil, apperror.ErrDatabaseError(err)
		}
	}

	s.log.Info().
		Str("alert_id", alert.ID).
		Str("severity", string(alert.Severity)).
		Str("type", alert.Type).
		Str("wallet", alert.WalletAddress).
		Msg("alert raised")

	s.mirror(ctx, domain.AuditAlertCreated, alert.ID, "system", domain.AuditDetails{
		Description: alert.Title,
		After:       map[string]interface{}{"severity": alert.Severity, "transactionId": alert.TransactionID},
		RiskLevel:   riskForSeverity(alert.Severity),
	})

	if s.dispatcher != nil {
		logs := s.dispatcher.Dispatch(ctx, &alert)
		if len(logs) > 0 {
			s.recordNotifications(ctx, alert.ID, logs)
		}
	}
	return s.Get(ctx, alert.ID)
}

func (s *AlertService) recordNotifications(ctx context.Context, id string, logs []domain.NotificationLog) {
	s.mu.Lock()
	if a, ok := s.alerts[id]; ok {
		a.Notifications = append(a.Notifications, logs...)
	}
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.AppendNotifications(ctx, id, logs); err != nil {
			s.log.Warn().Err(err).Str("alert_id", id).Msg("failed to persist notification logs")
		}
	}

	var sent, failed []string
	for _, l := range logs {
		if l.Status == domain.DeliverySent {
			sent = append(sent, l.Channel)
		} else {
			failed = append(failed, l.Channel)
		}
	}
	details := domain.AuditDetails{
		Description: fmt.Sprintf("notified via [%s]", strings.Join(sent, ", ")),
		After:       map[string]interface{}{"sent": sent, "failed": failed},
	}
	if len(failed) > 0 {
		details.Description += fmt.Sprintf(", failed [%s]", strings.Join(failed, ", "))
		details.RiskLevel = domain.RiskMedium
	}
	s.mirror(ctx, domain.AuditAlertNotified, id, "system", details)
}

// Get returns a copy of one alert.
func (s *AlertService) Get(ctx context.Context, id string) (*domain.Alert, error) {
	s.mu.RLock()
	a, ok := s.alerts[id]
	if ok {
		out := cloneAlert(a)
		s.mu.RUnlock()
		return &out, nil
	}
	s.mu.RUnlock()

	if s.repo == nil {
		return nil, apperror.ErrAlertNotFound(id)
	}
	stored, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if stored == nil {
		return nil, apperror.ErrAlertNotFound(id)
	}
	return stored, nil
}

// List returns alerts matching f, newest first.
func (s *AlertService) List(ctx context.Context, f ports.AlertFilter) ([]domain.Alert, int, error) {
	if s.repo != nil {
		items, total, err := s.repo.List(ctx, f)
		if err != nil {
			return nil, 0, apperror.ErrDatabaseError(err)
		}
		return items, total, nil
	}

	s.mu.RLock()
	var out []domain.Alert
	for _, a := range s.alerts {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if f.WalletAddress != "" && a.WalletAddress != f.WalletAddress {
			continue
		}
		out = append(out, cloneAlert(a))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return paginate(out, f.Offset, f.Limit), len(out), nil
}

// UpdateStatus moves an alert to status. Resolving or dismissing stamps a
// resolution with actor and note.
func (s *AlertService) UpdateStatus(ctx context.Context, id string, status domain.AlertStatus, actor, note string) (*domain.Alert, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	a, ok := s.alerts[id]
	if !ok {
		a = current
		s.alerts[id] = a
	}
	from := a.Status
	if !from.CanTransition(status) {
		s.mu.Unlock()
		return nil, apperror.ErrInvalidStatusTransition(string(from), string(status))
	}
	var res *domain.Resolution
	if status.IsTerminal() {
		res = &domain.Resolution{By: actor, At: domain.Stamp(s.now()), Note: note}
	}
	if s.repo != nil {
		if err := s.repo.UpdateStatus(ctx, id, status, res); err != nil {
			s.mu.Unlock()
			return nil, apperror.ErrDatabaseError(err)
		}
	}
	a.Status = status
	if res != nil {
		a.Resolution = res
	}
	out := cloneAlert(a)
	s.mu.Unlock()

	s.log.Info().Str("alert_id", id).Str("from", string(from)).Str("to", string(status)).Str("actor", actor).Msg("alert status changed")
	s.mirror(ctx, statusAuditAction(status), id, actor, domain.AuditDetails{
		Description: note,
		Before:      map[string]interface{}{"status": from},
		After:       map[string]interface{}{"status": status},
	})
	return &out, nil
}

func (s *AlertService) mirror(ctx context.Context, action domain.AuditAction, id, actor string, details domain.AuditDetails) {
	if s.audit == nil {
		return
	}
	if _, err := s.audit.LogEvent(ctx, action, "alert", id, actor, details); err != nil {
		s.log.Warn().Err(err).Str("alert_id", id).Str("action", string(action)).Msg("failed to audit alert event")
	}
}

func statusAuditAction(s domain.AlertStatus) domain.AuditAction {
	switch s {
	case domain.AlertStatusAcknowledged:
		return domain.AuditAlertAcknowledged
	case domain.AlertStatusInvestigating:
		return domain.AuditAlertInvestigating
	case domain.AlertStatusResolved:
		return domain.AuditAlertResolved
	default:
		return domain.AuditAlertDismissed
	}
}

func riskForSeverity(s domain.Severity) domain.RiskLevel {
	switch s {
	case domain.SeverityEmergency:
		return domain.RiskCritical
	case domain.SeverityCritical:
		return domain.RiskHigh
	case domain.SeverityWarning:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func cloneAlert(a *domain.Alert) domain.Alert {
	out := *a
	out.Notifications = append([]domain.NotificationLog(nil), a.Notifications...)
	if a.Resolution != nil {
		r := *a.Resolution
		out.Resolution = &r
	}
	return out
}
