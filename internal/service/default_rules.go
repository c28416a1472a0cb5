package service

import "solana-forensics/internal/core/domain"

// Rule types of the built-in detectors. They double as alert types.
const (
	RuleTypeLargeTransfer    = "large_transfer"
	RuleTypeVelocity         = "velocity"
	RuleTypeFanOut           = "fan_out"
	RuleTypeCircularFlow     = "circular_flow"
	RuleTypeWalletClustering = "wallet_clustering"
)

// DefaultRules returns the built-in rule set. Thresholds are references to
// the live detection configuration.
func DefaultRules() []domain.ValidationRule {
	meta := domain.RuleMetadata{Creator: "system", Version: 1}
	return []domain.ValidationRule{
		{
			ID:          "rule_large_transfer",
			Name:        "Large transfer",
			Type:        RuleTypeLargeTransfer,
			Description: "Balance movement above the large-transfer threshold",
			Enabled:     true,
			Severity:    domain.SeverityCritical,
			Conditions: []domain.Condition{
				{Field: FieldBalanceChange, Operator: domain.OpGT, Value: "${large_transfer}"},
			},
			Actions: []domain.Action{
				{Type: domain.ActionAlert},
				{Type: domain.ActionLog},
				{Type: domain.ActionTrace},
			},
			Metadata: meta,
		},
		{
			ID:          "rule_velocity",
			Name:        "High transaction velocity",
			Type:        RuleTypeVelocity,
			Description: "Too many recent transactions on a watched wallet",
			Enabled:     true,
			Severity:    domain.SeverityWarning,
			Conditions: []domain.Condition{
				{Field: FieldTransactionCount, Operator: domain.OpGTE, Value: "${velocity_max_transactions}"},
			},
			Actions:  []domain.Action{{Type: domain.ActionAlert}, {Type: domain.ActionLog}},
			Metadata: meta,
		},
		{
			ID:          "rule_fan_out",
			Name:        "Fan-out distribution",
			Type:        RuleTypeFanOut,
			Description: "One sender paying many distinct receivers in a short window",
			Enabled:     true,
			Severity:    domain.SeverityWarning,
			Conditions: []domain.Condition{
				{Field: FieldFanOutRecipients, Operator: domain.OpGTE, Value: "${fan_out_min_recipients}"},
			},
			Actions:  []domain.Action{{Type: domain.ActionAlert}, {Type: domain.ActionLog}, {Type: domain.ActionTrace}},
			Metadata: meta,
		},
		{
			ID:          "rule_circular_flow",
			Name:        "Circular transfer",
			Type:        RuleTypeCircularFlow,
			Description: "Funds routed back to the originating sender",
			Enabled:     true,
			Severity:    domain.SeverityCritical,
			Conditions: []domain.Condition{
				{Field: FieldCircularPattern, Operator: domain.OpEQ, Value: true},
			},
			Actions:  []domain.Action{{Type: domain.ActionAlert}, {Type: domain.ActionLog}, {Type: domain.ActionTrace}},
			Metadata: meta,
		},
		{
			ID:          "rule_wallet_clustering",
			Name:        "Wallet clustering",
			Type:        RuleTypeWalletClustering,
			Description: "Repeated interaction among the same accounts",
			Enabled:     true,
			Severity:    domain.SeverityInfo,
			Conditions: []domain.Condition{
				{Field: FieldClusterActivity, Operator: domain.OpGTE, Value: "${cluster_min_interactions}"},
			},
			Actions:  []domain.Action{{Type: domain.ActionLog}},
			Metadata: meta,
		},
	}
}

// RegisterDefaultRules registers DefaultRules on engine.
func RegisterDefaultRules(engine *RuleEngine) error {
	for _, r := range DefaultRules() {
		if err := engine.RegisterRule(r); err != nil {
			return err
		}
	}
	return nil
}
