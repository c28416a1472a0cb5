package domain

import "time"

// AlertStatus is the triage state of an alert.
type AlertStatus string

const (
	AlertStatusNew           AlertStatus = "new"
	AlertStatusAcknowledged  AlertStatus = "acknowledged"
	AlertStatusInvestigating AlertStatus = "investigating"
	AlertStatusResolved      AlertStatus = "resolved"
	AlertStatusDismissed     AlertStatus = "dismissed"
)

// IsTerminal returns true if no further transitions are allowed.
func (s AlertStatus) IsTerminal() bool {
	return s == AlertStatusResolved || s == AlertStatusDismissed
}

// CanTransition reports whether an alert may move from s to next. Status only
// moves forward; resolved and dismissed are final.
func (s AlertStatus) CanTransition(next AlertStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case AlertStatusAcknowledged:
		return s == AlertStatusNew
	case AlertStatusInvestigating:
		return s == AlertStatusNew || s == AlertStatusAcknowledged
	case AlertStatusResolved, AlertStatusDismissed:
		return true
	default:
		return false
	}
}

// DeliveryStatus is the outcome of one notification channel attempt.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// NotificationLog records a single channel attempt.
type NotificationLog struct {
	Channel   string         `json:"channel"`
	Timestamp time.Time      `json:"timestamp"`
	Status    DeliveryStatus `json:"status"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"durationNs"`
}

// Resolution closes an alert.
type Resolution struct {
	By   string    `json:"by"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// Alert is raised when a rule with an alert action triggers. Apart from
// Status, Resolution and Notifications it is never edited after creation.
type Alert struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Severity      Severity          `json:"severity"`
	Type          string            `json:"type"`
	RuleID        string            `json:"ruleId,omitempty"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	TransactionID string            `json:"transactionId"`
	WalletAddress string            `json:"walletAddress"`
	Evidence      *Evidence         `json:"evidence,omitempty"`
	Status        AlertStatus       `json:"status"`
	Resolution    *Resolution       `json:"resolution,omitempty"`
	Notifications []NotificationLog `json:"notifications,omitempty"`
}
