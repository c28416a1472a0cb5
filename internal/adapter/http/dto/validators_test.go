package dto

import (
	"testing"

	"solana-forensics/internal/core/domain"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
)

const (
	testAddress   = "11111111111111111111111111111111"
	testSignature = "2Ana1pUpv2ZbMVkwF5FXapYeBEjdxDatLn7nvJkhgTSXbs59SyZSx866bXirPgj8QQVB57uxHJBG1YFvkRbFj4T"
)

// --- SanitizeStruct tests ---

func TestSanitizeStruct_TrimsWhitespace(t *testing.T) {
	req := AlertStatusRequest{Status: " resolved ", Note: "  false positive  "}
	SanitizeStruct(&req)

	assert.Equal(t, "resolved", req.Status)
	assert.Equal(t, "false positive", req.Note)
}

func TestSanitizeStruct_EscapesHTML(t *testing.T) {
	req := AlertStatusRequest{Status: "dismissed", Note: "see <script>alert('x')</script>"}
	SanitizeStruct(&req)

	assert.Contains(t, req.Note, "&lt;script&gt;")
	assert.NotContains(t, req.Note, "<script>")
}

func TestSanitizeStruct_HandlesPointerString(t *testing.T) {
	notes := "  seized <b>wallet</b>  "
	req := MetadataRequest{Notes: &notes}
	SanitizeStruct(&req)

	assert.Equal(t, "seized &lt;b&gt;wallet&lt;/b&gt;", *req.Notes)
	assert.Nil(t, req.CaseID)
}

func TestSanitizeStruct_NonPointerIsNoOp(t *testing.T) {
	s := "hello"
	SanitizeStruct(s) // should not panic
}

// --- Custom Validator tests ---

func TestSafeID(t *testing.T) {
	for _, tc := range []string{"case-001", "CASE_002", "a.b.c", "evidence_1700000000000_ab12cd34"} {
		assert.True(t, safeStringRe.MatchString(tc), "expected valid: %s", tc)
	}
	for _, tc := range []string{"case 001", "case<001>", "case;DROP", "", "case\n001"} {
		assert.False(t, safeStringRe.MatchString(tc), "expected invalid: %s", tc)
	}
}

func TestTraceRequest_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   TraceRequest
		valid bool
	}{
		{"valid", TraceRequest{Signature: testSignature, Mode: "chain", MaxDepth: 3}, true},
		{"auto mode by default", TraceRequest{Signature: testSignature}, true},
		{"missing signature", TraceRequest{}, false},
		{"address is not a signature", TraceRequest{Signature: testAddress}, false},
		{"unknown mode", TraceRequest{Signature: testSignature, Mode: "bfs"}, false},
		{"depth too large", TraceRequest{Signature: testSignature, MaxDepth: 50}, false},
		{"unsafe case id", TraceRequest{Signature: testSignature, CaseID: "a b"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := binding.Validator.ValidateStruct(tt.req)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestEvaluateRequest_Validation(t *testing.T) {
	assert.NoError(t, binding.Validator.ValidateStruct(EvaluateRequest{Address: testAddress}))
	assert.Error(t, binding.Validator.ValidateStruct(EvaluateRequest{Address: "not-base58-0OIl"}))
}

func TestAuditQuery_Validation(t *testing.T) {
	assert.NoError(t, binding.Validator.ValidateStruct(AuditQuery{Action: "evidence_accessed", RiskLevel: "high"}))
	assert.Error(t, binding.Validator.ValidateStruct(AuditQuery{Action: "payment"}))
	assert.Error(t, binding.Validator.ValidateStruct(AuditQuery{RiskLevel: "extreme"}))
}

func TestMetadataRequest_Validation(t *testing.T) {
	priority := "urgent"
	assert.Error(t, binding.Validator.ValidateStruct(MetadataRequest{Priority: &priority}))
	assert.Error(t, binding.Validator.ValidateStruct(MetadataRequest{Tags: []string{"ok", "not ok"}}))
	assert.NoError(t, binding.Validator.ValidateStruct(MetadataRequest{Tags: []string{"mixer", "case-7"}}))
}

func TestRuleRequest_ToRule(t *testing.T) {
	disabled := false
	req := RuleRequest{
		ID:         "whale",
		Name:       "Whale",
		Type:       "large_transfer",
		Severity:   "critical",
		Conditions: []domain.Condition{{Field: "balanceChange", Operator: domain.OpGT, Value: 1000}},
		Actions:    []domain.Action{{Type: domain.ActionAlert}},
		Tags:       []string{"custom"},
	}
	assert.NoError(t, binding.Validator.ValidateStruct(req))

	r := req.ToRule()
	assert.True(t, r.Enabled)
	assert.Equal(t, domain.SeverityCritical, r.Severity)
	assert.Equal(t, []string{"custom"}, r.Metadata.Tags)

	req.Enabled = &disabled
	assert.False(t, req.ToRule().Enabled)
}
