package service

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"solana-forensics/config"
	"solana-forensics/internal/core/domain"
	"solana-forensics/pkg/apperror"

	"github.com/rs/zerolog"
)

// thresholdRefs lets a condition value name a live detection threshold as
// "${name}", so default rules follow hot-swapped configuration.
var thresholdRefs = map[string]func(d *config.Detection) float64{
	"large_transfer":            func(d *config.Detection) float64 { return float64(d.LargeTransfer) },
	"min_transfer":              func(d *config.Detection) float64 { return float64(d.MinTransfer) },
	"high_value":                func(d *config.Detection) float64 { return float64(d.HighValue) },
	"medium_value":              func(d *config.Detection) float64 { return float64(d.MediumValue) },
	"fan_out_min_recipients":    func(d *config.Detection) float64 { return float64(d.FanOutMinRecipients) },
	"cluster_min_interactions":  func(d *config.Detection) float64 { return float64(d.ClusterMinInteractions) },
	"velocity_max_transactions": func(d *config.Detection) float64 { return float64(d.VelocityMaxTransactions) },
}

type compiledCondition struct {
	src  domain.Condition
	spec FieldSpec
	num  float64
	ref  func(d *config.Detection) float64
	str  string
	b    bool
	re   *regexp.Regexp
}

type compiledRule struct {
	rule  domain.ValidationRule
	conds []compiledCondition
}

// Detection is one triggered rule with the records it produced.
type Detection struct {
	Rule     domain.ValidationRule `json:"rule"`
	Evidence domain.Evidence       `json:"evidence"`
	Alert    *domain.Alert         `json:"alert,omitempty"`
	Matched  []MatchedCondition    `json:"matched"`
}

// MatchedCondition records the value a condition was satisfied with.
type MatchedCondition struct {
	Field    string          `json:"field"`
	Operator domain.Operator `json:"operator"`
	Expected interface{}     `json:"expected"`
	Actual   interface{}     `json:"actual"`
}

// RuleFailure is an evaluation error isolated to one rule.
type RuleFailure struct {
	RuleID string `json:"ruleId"`
	Field  string `json:"field,omitempty"`
	Err    string `json:"error"`
}

// EvaluationResult is the outcome of evaluating every enabled rule.
type EvaluationResult struct {
	Detections []Detection   `json:"detections"`
	Failures   []RuleFailure `json:"failures,omitempty"`
}

// Alerts returns the alerts produced by the evaluation.
func (r *EvaluationResult) Alerts() []domain.Alert {
	var out []domain.Alert
	for _, d := range r.Detections {
		if d.Alert != nil {
			out = append(out, *d.Alert)
		}
	}
	return out
}

// Evidence returns the evidence records produced by the evaluation.
func (r *EvaluationResult) Evidence() []domain.Evidence {
	out := make([]domain.Evidence, 0, len(r.Detections))
	for _, d := range r.Detections {
		out = append(out, d.Evidence)
	}
	return out
}

// RuleEngine evaluates registered validation rules against transactions.
type RuleEngine struct {
	mu        sync.RWMutex
	rules     []*compiledRule
	registry  *FieldRegistry
	detection *config.DetectionStore
	log       zerolog.Logger
	now       func() time.Time
}

// NewRuleEngine creates a rule engine with no rules registered.
func NewRuleEngine(registry *FieldRegistry, detection *config.DetectionStore, log zerolog.Logger) *RuleEngine {
	return &RuleEngine{
		registry:  registry,
		detection: detection,
		log:       log,
		now:       time.Now,
	}
}

// RegisterRule validates and appends a rule. Registration order is
// evaluation order.
func (e *RuleEngine) RegisterRule(rule domain.ValidationRule) error {
	cr, err := e.compile(rule)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.indexOf(rule.ID) >= 0 {
		return apperror.ErrDuplicateRule(rule.ID)
	}
	e.rules = append(e.rules, cr)
	e.log.Info().Str("rule_id", rule.ID).Str("type", rule.Type).Msg("rule registered")
	return nil
}

// UpdateRule replaces a registered rule in place and bumps its version.
func (e *RuleEngine) UpdateRule(rule domain.ValidationRule) (domain.ValidationRule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexOf(rule.ID)
	if i < 0 {
		return domain.ValidationRule{}, apperror.ErrRuleNotFound(rule.ID)
	}
	rule.Metadata.Version = e.rules[i].rule.Metadata.Version + 1
	cr, err := e.compile(rule)
	if err != nil {
		return domain.ValidationRule{}, err
	}
	e.rules[i] = cr
	return cr.rule, nil
}

// SetEnabled toggles a rule without recompiling it.
func (e *RuleEngine) SetEnabled(id string, enabled bool) (domain.ValidationRule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexOf(id)
	if i < 0 {
		return domain.ValidationRule{}, apperror.ErrRuleNotFound(id)
	}
	next := *e.rules[i]
	next.rule.Enabled = enabled
	e.rules[i] = &next
	return next.rule, nil
}

// RemoveRule deletes a rule.
func (e *RuleEngine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexOf(id)
	if i < 0 {
		return apperror.ErrRuleNotFound(id)
	}
	e.rules = append(e.rules[:i:i], e.rules[i+1:]...)
	return nil
}

// Rule returns a registered rule by id.
func (e *RuleEngine) Rule(id string) (domain.ValidationRule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	i := e.indexOf(id)
	if i < 0 {
		return domain.ValidationRule{}, apperror.ErrRuleNotFound(id)
	}
	return e.rules[i].rule, nil
}

// Rules lists registered rules in evaluation order.
func (e *RuleEngine) Rules() []domain.ValidationRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.ValidationRule, len(e.rules))
	for i, cr := range e.rules {
		out[i] = cr.rule
	}
	return out
}

func (e *RuleEngine) indexOf(id string) int {
	for i, cr := range e.rules {
		if cr.rule.ID == id {
			return i
		}
	}
	return -1
}

// Evaluate runs every enabled rule and returns the alerts and evidence
// produced. Per-rule failures are logged and otherwise ignored.
func (e *RuleEngine) Evaluate(tx domain.Transaction, wctx domain.WalletContext) ([]domain.Alert, []domain.Evidence) {
	res := e.EvaluateDetailed(tx, wctx)
	return res.Alerts(), res.Evidence()
}

// EvaluateDetailed is Evaluate with the triggered rules and per-rule
// failures exposed.
func (e *RuleEngine) EvaluateDetailed(tx domain.Transaction, wctx domain.WalletContext) EvaluationResult {
	e.mu.RLock()
	rules := make([]*compiledRule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	in := FieldInput{
		Tx:        &tx,
		Wallet:    &wctx,
		Recent:    withoutSignature(wctx.Recent, tx.Signature),
		Detection: e.detection.Load(),
	}

	var res EvaluationResult
	for _, cr := range rules {
		if !cr.rule.Enabled {
			continue
		}
		matched, ok, failure := e.match(cr, in)
		if failure != nil {
			e.log.Warn().
				Str("rule_id", failure.RuleID).
				Str("field", failure.Field).
				Str("signature", tx.Signature).
				Str("error", failure.Err).
				Msg("rule evaluation failed, skipping rule")
			res.Failures = append(res.Failures, *failure)
			continue
		}
		if !ok {
			continue
		}

		det, err := e.detect(cr.rule, matched, &tx, &wctx)
		if err != nil {
			res.Failures = append(res.Failures, RuleFailure{RuleID: cr.rule.ID, Err: err.Error()})
			continue
		}
		if cr.rule.HasAction(domain.ActionLog) {
			e.log.Info().
				Str("rule_id", cr.rule.ID).
				Str("severity", string(cr.rule.Severity)).
				Str("signature", tx.Signature).
				Str("wallet", wctx.Address).
				Str("evidence_id", det.Evidence.ID).
				Msg("rule triggered")
		}
		res.Detections = append(res.Detections, det)
	}
	return res
}

// match reports whether every condition of cr holds. A rule with no
// conditions never matches.
func (e *RuleEngine) match(cr *compiledRule, in FieldInput) ([]MatchedCondition, bool, *RuleFailure) {
	if len(cr.conds) == 0 {
		return nil, false, nil
	}
	matched := make([]MatchedCondition, 0, len(cr.conds))
	for i := range cr.conds {
		c := &cr.conds[i]
		v, err := extract(c.spec, in)
		if err != nil {
			return nil, false, &RuleFailure{RuleID: cr.rule.ID, Field: c.src.Field, Err: err.Error()}
		}
		ok, expected, err := c.test(v, in.Detection)
		if err != nil {
			return nil, false, &RuleFailure{RuleID: cr.rule.ID, Field: c.src.Field, Err: err.Error()}
		}
		if !ok {
			return nil, false, nil
		}
		matched = append(matched, MatchedCondition{
			Field:    c.src.Field,
			Operator: c.src.Operator,
			Expected: expected,
			Actual:   v.Raw(),
		})
	}
	return matched, true, nil
}

// extract runs a field extractor, turning a panic into an error so one bad
// extractor only fails its own rule.
func extract(spec FieldSpec, in FieldInput) (v Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extractor %s panicked: %v", spec.Name, r)
		}
	}()
	return spec.Extract(in)
}

func (e *RuleEngine) detect(rule domain.ValidationRule, matched []MatchedCondition, tx *domain.Transaction, wctx *domain.WalletContext) (Detection, error) {
	now := e.now()
	evidence, err := domain.NewEvidence(domain.NewEvidenceParams{
		TransactionID: tx.Signature,
		Type:          domain.EvidenceTypePattern,
		Description:   fmt.Sprintf("Rule %q triggered on transaction %s", rule.Name, tx.Signature),
		Payload: map[string]interface{}{
			"ruleId":        rule.ID,
			"ruleName":      rule.Name,
			"ruleType":      rule.Type,
			"severity":      rule.Severity,
			"matched":       matched,
			"walletAddress": wctx.Address,
			"walletBalance": wctx.Balance,
			"transaction":   tx,
		},
		Priority: priorityFor(rule.Severity),
		Tags:     append([]string{rule.Type}, rule.Metadata.Tags...),
	}, now)
	if err != nil {
		return Detection{}, fmt.Errorf("build evidence: %w", err)
	}

	det := Detection{Rule: rule, Evidence: evidence, Matched: matched}
	if rule.HasAction(domain.ActionAlert) {
		ev := evidence.Clone()
		det.Alert = &domain.Alert{
			ID:            domain.NewID("alert"),
			Timestamp:     domain.Stamp(now),
			Severity:      rule.Severity,
			Type:          alertType(rule),
			RuleID:        rule.ID,
			Title:         rule.Name,
			Description:   alertDescription(rule, tx, wctx),
			TransactionID: tx.Signature,
			WalletAddress: wctx.Address,
			Evidence:      &ev,
			Status:        domain.AlertStatusNew,
		}
	}
	return det, nil
}

func alertType(rule domain.ValidationRule) string {
	if rule.Type != "" {
		return rule.Type
	}
	return rule.ID
}

func alertDescription(rule domain.ValidationRule, tx *domain.Transaction, wctx *domain.WalletContext) string {
	desc := fmt.Sprintf("%s on %s: largest movement %s in %s",
		rule.Name, wctx.Address, domain.FormatSOL(tx.MaxAbsDelta()), tx.Signature)
	if rule.Description != "" {
		desc = rule.Description + ". " + desc
	}
	return desc
}

func priorityFor(s domain.Severity) domain.Priority {
	switch s {
	case domain.SeverityEmergency:
		return domain.PriorityCritical
	case domain.SeverityCritical:
		return domain.PriorityHigh
	case domain.SeverityWarning:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

func withoutSignature(txs []domain.Transaction, sig string) []domain.Transaction {
	out := make([]domain.Transaction, 0, len(txs))
	for _, t := range txs {
		if t.Signature != sig {
			out = append(out, t)
		}
	}
	return out
}

// compile checks a rule against the field registry and pre-parses its
// condition values.
func (e *RuleEngine) compile(rule domain.ValidationRule) (*compiledRule, error) {
	if rule.ID == "" {
		return nil, apperror.Validation("rule id is required")
	}
	if rule.Name == "" {
		rule.Name = rule.ID
	}
	if !rule.Severity.Valid() {
		return nil, apperror.Validation(fmt.Sprintf("invalid severity %q", rule.Severity))
	}
	for _, a := range rule.Actions {
		if !a.Type.Valid() {
			return nil, apperror.Validation(fmt.Sprintf("invalid action %q", a.Type))
		}
	}

	cr := &compiledRule{rule: rule, conds: make([]compiledCondition, 0, len(rule.Conditions))}
	for _, c := range rule.Conditions {
		cc, err := e.compileCondition(c)
		if err != nil {
			return nil, err
		}
		cr.conds = append(cr.conds, cc)
	}
	return cr, nil
}

func (e *RuleEngine) compileCondition(c domain.Condition) (compiledCondition, error) {
	spec, ok := e.registry.Lookup(c.Field)
	if !ok {
		return compiledCondition{}, apperror.ErrUnknownField(c.Field)
	}
	if _, err := domain.ParseOperator(string(c.Operator)); err != nil {
		return compiledCondition{}, apperror.ErrInvalidOperator(string(c.Operator))
	}
	cc := compiledCondition{src: c, spec: spec}

	switch c.Operator {
	case domain.OpRegex:
		if spec.Kind != KindString {
			return cc, apperror.ErrInvalidCondition(fmt.Sprintf("regex needs a string field, %s is %s", c.Field, spec.Kind), nil)
		}
		pattern, ok := c.Value.(string)
		if !ok {
			return cc, apperror.ErrInvalidCondition("regex value must be a string", nil)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return cc, apperror.ErrInvalidCondition("malformed regex", err)
		}
		cc.re = re
		return cc, nil
	case domain.OpContains:
		if spec.Kind != KindString {
			return cc, apperror.ErrInvalidCondition(fmt.Sprintf("contains needs a string field, %s is %s", c.Field, spec.Kind), nil)
		}
	case domain.OpGT, domain.OpLT, domain.OpGTE, domain.OpLTE:
		if spec.Kind != KindNumber {
			return cc, apperror.ErrInvalidCondition(fmt.Sprintf("%s needs a numeric field, %s is %s", c.Operator, c.Field, spec.Kind), nil)
		}
	}

	switch spec.Kind {
	case KindNumber:
		if s, ok := c.Value.(string); ok && strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
			name := strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}")
			ref, ok := thresholdRefs[name]
			if !ok {
				return cc, apperror.ErrInvalidCondition(fmt.Sprintf("unknown threshold %q", name), nil)
			}
			cc.ref = ref
			return cc, nil
		}
		n, err := toFloat(c.Value)
		if err != nil {
			return cc, apperror.ErrInvalidCondition(fmt.Sprintf("value for %s", c.Field), err)
		}
		cc.num = n
	case KindString:
		s, ok := c.Value.(string)
		if !ok {
			return cc, apperror.ErrInvalidCondition(fmt.Sprintf("value for %s must be a string", c.Field), nil)
		}
		cc.str = s
	case KindBool:
		b, ok := c.Value.(bool)
		if !ok {
			return cc, apperror.ErrInvalidCondition(fmt.Sprintf("value for %s must be a boolean", c.Field), nil)
		}
		cc.b = b
	}
	return cc, nil
}

// test applies the operator to v and returns the resolved expected value.
func (c *compiledCondition) test(v Value, d *config.Detection) (bool, interface{}, error) {
	if v.Kind != c.spec.Kind {
		return false, nil, fmt.Errorf("field %s produced %s, want %s", c.src.Field, v.Kind, c.spec.Kind)
	}
	switch v.Kind {
	case KindNumber:
		want := c.num
		if c.ref != nil {
			want = c.ref(d)
		}
		switch c.src.Operator {
		case domain.OpGT:
			return v.Num > want, want, nil
		case domain.OpLT:
			return v.Num < want, want, nil
		case domain.OpGTE:
			return v.Num >= want, want, nil
		case domain.OpLTE:
			return v.Num <= want, want, nil
		case domain.OpEQ:
			return v.Num == want, want, nil
		case domain.OpNE:
			return v.Num != want, want, nil
		}
	case KindString:
		switch c.src.Operator {
		case domain.OpEQ:
			return v.Str == c.str, c.str, nil
		case domain.OpNE:
			return v.Str != c.str, c.str, nil
		case domain.OpContains:
			return strings.Contains(v.Str, c.str), c.str, nil
		case domain.OpRegex:
			return c.re.MatchString(v.Str), c.re.String(), nil
		}
	case KindBool:
		switch c.src.Operator {
		case domain.OpEQ:
			return v.Bool == c.b, c.b, nil
		case domain.OpNE:
			return v.Bool != c.b, c.b, nil
		}
	}
	return false, nil, fmt.Errorf("operator %s not applicable to %s", c.src.Operator, v.Kind)
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}
