package domain

import (
	"fmt"
	"time"
)

// AuditAction is the closed set of lifecycle events recorded in the audit log.
type AuditAction string

const (
	AuditEvidenceCreated     AuditAction = "evidence_created"
	AuditEvidenceAccessed    AuditAction = "evidence_accessed"
	AuditEvidenceModified    AuditAction = "evidence_modified"
	AuditEvidenceTransferred AuditAction = "evidence_transferred"
	AuditAlertCreated        AuditAction = "alert_created"
	AuditAlertAcknowledged   AuditAction = "alert_acknowledged"
	AuditAlertInvestigating  AuditAction = "alert_investigating"
	AuditAlertResolved       AuditAction = "alert_resolved"
	AuditAlertDismissed      AuditAction = "alert_dismissed"
	AuditAlertNotified       AuditAction = "alert_notified"
	AuditTraceStarted        AuditAction = "trace_started"
	AuditTraceCompleted      AuditAction = "trace_completed"
	AuditTraceFailed         AuditAction = "trace_failed"
	AuditRuleCreated         AuditAction = "rule_created"
	AuditRuleUpdated         AuditAction = "rule_updated"
	AuditRuleDeleted         AuditAction = "rule_deleted"
	AuditConfigChanged       AuditAction = "config_changed"
	AuditUserLogin           AuditAction = "user_login"
	AuditDataAccess          AuditAction = "data_access"
	AuditDataExport          AuditAction = "data_export"
	AuditSecurityViolation   AuditAction = "security_violation"
	AuditErrorOccurred       AuditAction = "error_occurred"
	AuditReportGenerated     AuditAction = "report_generated"
	AuditRetentionPruned     AuditAction = "retention_pruned"
)

var auditActions = map[AuditAction]struct{}{
	AuditEvidenceCreated: {}, AuditEvidenceAccessed: {}, AuditEvidenceModified: {},
	AuditEvidenceTransferred: {}, AuditAlertCreated: {}, AuditAlertAcknowledged: {},
	AuditAlertInvestigating: {}, AuditAlertResolved: {}, AuditAlertDismissed: {},
	AuditAlertNotified: {}, AuditTraceStarted: {}, AuditTraceCompleted: {},
	AuditTraceFailed: {}, AuditRuleCreated: {}, AuditRuleUpdated: {}, AuditRuleDeleted: {},
	AuditConfigChanged: {}, AuditUserLogin: {}, AuditDataAccess: {}, AuditDataExport: {},
	AuditSecurityViolation: {}, AuditErrorOccurred: {}, AuditReportGenerated: {},
	AuditRetentionPruned: {},
}

// Valid reports whether a belongs to the audit action enumeration.
func (a AuditAction) Valid() bool {
	_, ok := auditActions[a]
	return ok
}

// IsAccessEvent reports whether a records someone reading data.
func (a AuditAction) IsAccessEvent() bool {
	return a == AuditEvidenceAccessed || a == AuditDataAccess
}

// RiskLevel grades an audit event.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// AuditDetails is the free-form part of an audit entry.
type AuditDetails struct {
	Description    string                 `json:"description"`
	Before         map[string]interface{} `json:"before,omitempty"`
	After          map[string]interface{} `json:"after,omitempty"`
	RiskLevel      RiskLevel              `json:"riskLevel"`
	Unusual        bool                   `json:"unusual,omitempty"`
	RelatedEntryID string                 `json:"relatedEntryId,omitempty"`
	IPAddress      string                 `json:"ipAddress,omitempty"`
}

// AuditLogEntry is one append-only audit record.
type AuditLogEntry struct {
	ID         string       `json:"id"`
	Action     AuditAction  `json:"action"`
	Resource   string       `json:"resource"`
	ResourceID string       `json:"resourceId"`
	Actor      string       `json:"actor"`
	Timestamp  time.Time    `json:"timestamp"`
	Details    AuditDetails `json:"details"`
	Hash       string       `json:"hash"`
}

type auditCanonical struct {
	ID         string       `json:"id"`
	Action     AuditAction  `json:"action"`
	Resource   string       `json:"resource"`
	ResourceID string       `json:"resourceId"`
	Actor      string       `json:"actor"`
	Timestamp  string       `json:"timestamp"`
	Details    AuditDetails `json:"details"`
}

// NewAuditLogEntry builds and hashes an entry. Before/After snapshots are
// normalized so the hash survives a storage round trip.
func NewAuditLogEntry(action AuditAction, resource, resourceID, actor string, details AuditDetails, now time.Time) (AuditLogEntry, error) {
	if !action.Valid() {
		return AuditLogEntry{}, fmt.Errorf("unknown audit action %q", action)
	}
	var err error
	if details.Before != nil {
		if details.Before, err = NormalizePayload(details.Before); err != nil {
			return AuditLogEntry{}, fmt.Errorf("normalize before: %w", err)
		}
	}
	if details.After != nil {
		if details.After, err = NormalizePayload(details.After); err != nil {
			return AuditLogEntry{}, fmt.Errorf("normalize after: %w", err)
		}
	}
	if details.RiskLevel == "" {
		details.RiskLevel = RiskLow
	}
	if actor == "" {
		actor = "system"
	}

	e := AuditLogEntry{
		ID:         NewID("audit"),
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Actor:      actor,
		Timestamp:  Stamp(now),
		Details:    details,
	}
	if e.Hash, err = e.ComputeHash(); err != nil {
		return AuditLogEntry{}, err
	}
	return e, nil
}

// ComputeHash returns the SHA-256 over the canonical fields.
func (e *AuditLogEntry) ComputeHash() (string, error) {
	return hashJSON(auditCanonical{
		ID:         e.ID,
		Action:     e.Action,
		Resource:   e.Resource,
		ResourceID: e.ResourceID,
		Actor:      e.Actor,
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
		Details:    e.Details,
	})
}

// VerifyIntegrity recomputes the hash and compares it with the stored one.
func (e *AuditLogEntry) VerifyIntegrity() bool {
	h, err := e.ComputeHash()
	return err == nil && h == e.Hash
}

// NeedsViolationFollowUp reports whether the entry must be shadowed by a
// security_violation entry. Follow-ups themselves never qualify.
func (e *AuditLogEntry) NeedsViolationFollowUp() bool {
	if e.Details.RelatedEntryID != "" {
		return false
	}
	return e.Action == AuditSecurityViolation ||
		e.Details.RiskLevel == RiskCritical ||
		e.Details.Unusual
}

// AuditReport aggregates the audit log over a period.
type AuditReport struct {
	ID                 string              `json:"id"`
	PeriodStart        time.Time           `json:"periodStart"`
	PeriodEnd          time.Time           `json:"periodEnd"`
	GeneratedAt        time.Time           `json:"generatedAt"`
	GeneratedBy        string              `json:"generatedBy"`
	TotalEvents        int                 `json:"totalEvents"`
	ByAction           map[AuditAction]int `json:"byAction"`
	ByActor            map[string]int      `json:"byActor"`
	ByRiskLevel        map[RiskLevel]int   `json:"byRiskLevel"`
	CriticalEvents     int                 `json:"criticalEvents"`
	HighRiskEvents     int                 `json:"highRiskEvents"`
	SecurityViolations int                 `json:"securityViolations"`
	TamperedEntries    int                 `json:"tamperedEntries"`
	ComplianceScore    int                 `json:"complianceScore"`
	Issues             []string            `json:"issues"`
}

// ComplianceScore is 100 - 5*critical - 10*violations - 2*high, floored at 0.
func ComplianceScore(critical, violations, high int) int {
	score := 100 - 5*critical - 10*violations - 2*high
	if score < 0 {
		return 0
	}
	return score
}
