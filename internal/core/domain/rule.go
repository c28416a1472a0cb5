package domain

import "fmt"

// Severity ranks how urgently a finding needs attention.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// Rank orders severities from 0 (info) to 3 (emergency); unknown values rank -1.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	case SeverityEmergency:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return s.Rank() >= 0 }

// Operator is the closed set of comparisons a Condition may use.
type Operator string

const (
	OpGT       Operator = "gt"
	OpLT       Operator = "lt"
	OpEQ       Operator = "eq"
	OpGTE      Operator = "gte"
	OpLTE      Operator = "lte"
	OpNE       Operator = "ne"
	OpContains Operator = "contains"
	OpRegex    Operator = "regex"
)

// ParseOperator converts a wire string into an Operator.
func ParseOperator(s string) (Operator, error) {
	switch op := Operator(s); op {
	case OpGT, OpLT, OpEQ, OpGTE, OpLTE, OpNE, OpContains, OpRegex:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operator %q", s)
	}
}

// Condition compares one extracted field against a configured value.
type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

// ActionType is what happens when a rule triggers.
type ActionType string

const (
	ActionAlert  ActionType = "alert"
	ActionLog    ActionType = "log"
	ActionNotify ActionType = "notify"
	ActionTrace  ActionType = "trace"
	ActionBlock  ActionType = "block"
)

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	switch a {
	case ActionAlert, ActionLog, ActionNotify, ActionTrace, ActionBlock:
		return true
	}
	return false
}

// Action is a rule side effect with free-form parameters.
type Action struct {
	Type       ActionType        `json:"type"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// RuleMetadata records authorship of a rule.
type RuleMetadata struct {
	Creator string   `json:"creator"`
	Version int      `json:"version"`
	Tags    []string `json:"tags,omitempty"`
}

// ValidationRule is a data-driven detector: all conditions must match for it
// to trigger. Type names the finding (e.g. "large_transfer") and becomes the
// alert type.
type ValidationRule struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	Description string       `json:"description,omitempty"`
	Enabled     bool         `json:"enabled"`
	Severity    Severity     `json:"severity"`
	Conditions  []Condition  `json:"conditions"`
	Actions     []Action     `json:"actions"`
	Metadata    RuleMetadata `json:"metadata"`
}

// HasAction reports whether the rule carries an action of type t.
func (r *ValidationRule) HasAction(t ActionType) bool {
	for _, a := range r.Actions {
		if a.Type == t {
			return true
		}
	}
	return false
}
