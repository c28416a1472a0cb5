package dto

import (
	"time"

	"solana-forensics/internal/core/domain"
)

// LoginRequest is the request body for investigator login.
type LoginRequest struct {
	InvestigatorID string `json:"investigator_id" binding:"required,safe_id,max=64"`
	APIKey         string `json:"api_key" binding:"required,min=16,max=256"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// ListQuery is the shared pagination query string.
type ListQuery struct {
	Offset int `form:"offset" binding:"min=0"`
	Limit  int `form:"limit" binding:"min=0,max=500"`
}

// AlertListQuery filters GET /alerts.
type AlertListQuery struct {
	ListQuery
	Status   string `form:"status" binding:"omitempty,oneof=new acknowledged investigating resolved dismissed"`
	Severity string `form:"severity" binding:"omitempty,oneof=info warning critical emergency"`
	Wallet   string `form:"wallet" binding:"omitempty,solana_address"`
}

// AlertStatusRequest moves an alert through its lifecycle.
type AlertStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=acknowledged investigating resolved dismissed"`
	Note   string `json:"note" binding:"max=2000"`
}

// EvidenceListQuery filters GET /evidence.
type EvidenceListQuery struct {
	ListQuery
	TransactionID string     `form:"transaction_id" binding:"omitempty,solana_signature"`
	CaseID        string     `form:"case_id" binding:"omitempty,safe_id"`
	Type          string     `form:"type" binding:"omitempty,oneof=transaction pattern flow_analysis manual"`
	From          *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To            *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

// MetadataRequest updates mutable evidence metadata. Absent fields are left
// untouched.
type MetadataRequest struct {
	CaseID   *string  `json:"case_id" binding:"omitempty,safe_id,max=64"`
	Priority *string  `json:"priority" binding:"omitempty,oneof=low medium high critical"`
	Tags     []string `json:"tags" binding:"omitempty,max=32,dive,safe_id,max=64"`
	Notes    *string  `json:"notes" binding:"omitempty,max=4000"`
}

// TraceRequest starts a flow trace.
type TraceRequest struct {
	Signature string `json:"signature" binding:"required,solana_signature"`
	Mode      string `json:"mode" binding:"omitempty,oneof=auto chain multihop"`
	MaxDepth  int    `json:"max_depth" binding:"min=0,max=10"`
	CaseID    string `json:"case_id" binding:"omitempty,safe_id,max=64"`
}

// AuditQuery filters GET /audit and POST /exports/audit.
type AuditQuery struct {
	ListQuery
	From      *time.Time `form:"from" json:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To        *time.Time `form:"to" json:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Actor     string     `form:"actor" json:"actor" binding:"omitempty,max=64"`
	Action    string     `form:"action" json:"action" binding:"omitempty,audit_action"`
	Resource  string     `form:"resource" json:"resource" binding:"omitempty,max=64"`
	RiskLevel string     `form:"risk_level" json:"risk_level" binding:"omitempty,oneof=low medium high critical"`
}

// ReportQuery selects the period for GET /audit/report.
type ReportQuery struct {
	From time.Time `form:"from" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	To   time.Time `form:"to" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
}

// ExportEvidenceRequest is the body of POST /exports/evidence.
type ExportEvidenceRequest struct {
	IDs            []string `json:"ids" binding:"required,min=1,max=500,dive,safe_id"`
	IncludeCustody bool     `json:"include_custody"`
}

// RuleRequest is the body of POST /rules and PUT /rules/:id.
type RuleRequest struct {
	ID          string             `json:"id" binding:"required,safe_id,max=64"`
	Name        string             `json:"name" binding:"required,max=200"`
	Type        string             `json:"type" binding:"required,safe_id,max=64"`
	Description string             `json:"description" binding:"max=2000"`
	Enabled     *bool              `json:"enabled"`
	Severity    string             `json:"severity" binding:"required,oneof=info warning critical emergency"`
	Conditions  []domain.Condition `json:"conditions" binding:"required,min=1,max=16"`
	Actions     []domain.Action    `json:"actions" binding:"required,min=1"`
	Tags        []string           `json:"tags" binding:"omitempty,dive,safe_id"`
}

// ToRule converts the request into a domain rule. Rules are enabled unless
// stated otherwise.
func (r RuleRequest) ToRule() domain.ValidationRule {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return domain.ValidationRule{
		ID:          r.ID,
		Name:        r.Name,
		Type:        r.Type,
		Description: r.Description,
		Enabled:     enabled,
		Severity:    domain.Severity(r.Severity),
		Conditions:  r.Conditions,
		Actions:     r.Actions,
		Metadata:    domain.RuleMetadata{Tags: r.Tags},
	}
}

// RuleEnabledRequest toggles a rule.
type RuleEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// EvaluateRequest runs a transaction through the detection pipeline on
// behalf of a watched address.
type EvaluateRequest struct {
	Address     string             `json:"address" binding:"required,solana_address"`
	Transaction domain.Transaction `json:"transaction"`
}
