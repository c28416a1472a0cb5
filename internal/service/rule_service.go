package service

import (
	"context"

	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"

	"github.com/rs/zerolog"
)

// RuleService is the administrative surface over the RuleEngine. Every
// change is mirrored into the audit log with before/after snapshots.
type RuleService struct {
	engine *RuleEngine
	audit  ports.AuditLogger
	log    zerolog.Logger
}

// NewRuleService creates a rule service. audit may be nil.
func NewRuleService(engine *RuleEngine, audit ports.AuditLogger, log zerolog.Logger) *RuleService {
	return &RuleService{engine: engine, audit: audit, log: log}
}

func (s *RuleService) List() []domain.ValidationRule {
	return s.engine.Rules()
}

func (s *RuleService) Get(id string) (domain.ValidationRule, error) {
	return s.engine.Rule(id)
}

// Create registers a new rule authored by actor.
func (s *RuleService) Create(ctx context.Context, rule domain.ValidationRule, actor string) (domain.ValidationRule, error) {
	rule.Metadata.Creator = actor
	rule.Metadata.Version = 1
	if err := s.engine.RegisterRule(rule); err != nil {
		return domain.ValidationRule{}, err
	}
	s.mirror(ctx, domain.AuditRuleCreated, rule.ID, actor, "rule created", nil, ruleSnapshot(rule))
	return rule, nil
}

// Update replaces an existing rule. The creator is preserved.
func (s *RuleService) Update(ctx context.Context, rule domain.ValidationRule, actor string) (domain.ValidationRule, error) {
	before, err := s.engine.Rule(rule.ID)
	if err != nil {
		return domain.ValidationRule{}, err
	}
	rule.Metadata.Creator = before.Metadata.Creator
	after, err := s.engine.UpdateRule(rule)
	if err != nil {
		return domain.ValidationRule{}, err
	}
	s.mirror(ctx, domain.AuditRuleUpdated, rule.ID, actor, "rule updated", ruleSnapshot(before), ruleSnapshot(after))
	return after, nil
}

func (s *RuleService) SetEnabled(ctx context.Context, id string, enabled bool, actor string) (domain.ValidationRule, error) {
	before, err := s.engine.Rule(id)
	if err != nil {
		return domain.ValidationRule{}, err
	}
	after, err := s.engine.SetEnabled(id, enabled)
	if err != nil {
		return domain.ValidationRule{}, err
	}
	desc := "rule disabled"
	if enabled {
		desc = "rule enabled"
	}
	s.mirror(ctx, domain.AuditRuleUpdated, id, actor, desc,
		map[string]interface{}{"enabled": before.Enabled},
		map[string]interface{}{"enabled": after.Enabled})
	return after, nil
}

func (s *RuleService) Delete(ctx context.Context, id, actor string) error {
	before, err := s.engine.Rule(id)
	if err != nil {
		return err
	}
	if err := s.engine.RemoveRule(id); err != nil {
		return err
	}
	s.mirror(ctx, domain.AuditRuleDeleted, id, actor, "rule deleted", ruleSnapshot(before), nil)
	return nil
}

func (s *RuleService) mirror(ctx context.Context, action domain.AuditAction, id, actor, desc string, before, after map[string]interface{}) {
	if s.audit == nil {
		return
	}
	_, err := s.audit.LogEvent(ctx, action, "rule", id, actor, domain.AuditDetails{
		Description: desc,
		Before:      before,
		After:       after,
		RiskLevel:   domain.RiskMedium,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("rule_id", id).Str("action", string(action)).Msg("failed to audit rule change")
	}
}

func ruleSnapshot(r domain.ValidationRule) map[string]interface{} {
	conds := make([]interface{}, len(r.Conditions))
	for i, c := range r.Conditions {
		conds[i] = map[string]interface{}{"field": c.Field, "operator": string(c.Operator), "value": c.Value}
	}
	return map[string]interface{}{
		"name":       r.Name,
		"type":       r.Type,
		"enabled":    r.Enabled,
		"severity":   string(r.Severity),
		"conditions": conds,
		"version":    r.Metadata.Version,
	}
}
