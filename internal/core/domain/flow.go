package domain

import (
	"math"
	"time"
)

// TraceMode selects how a flow is reconstructed.
type TraceMode string

const (
	TraceModeAuto     TraceMode = "auto"
	TraceModeChain    TraceMode = "chain"
	TraceModeMultihop TraceMode = "multihop"
)

// NodeType classifies an address in a flow graph.
type NodeType string

const (
	NodeWallet  NodeType = "wallet"
	NodeProgram NodeType = "program"
	NodeToken   NodeType = "token"
	NodeUnknown NodeType = "unknown"
)

// Suspicious pattern names reported in FlowAnalysis.
const (
	PatternCircular      = "circular_flow"
	PatternFanOut        = "fan_out"
	PatternRapidMovement = "rapid_movement"
	PatternMixer         = "mixer_interaction"
)

// NodeMetadata carries labels and sighting times for a node.
type NodeMetadata struct {
	Known     bool       `json:"known"`
	Exchange  bool       `json:"exchange"`
	Mixer     bool       `json:"mixer"`
	FirstSeen *time.Time `json:"firstSeen,omitempty"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	Labels    []string   `json:"labels,omitempty"`
}

// FlowNode is an address in a traced flow.
type FlowNode struct {
	Address   string       `json:"address"`
	Type      NodeType     `json:"type"`
	RiskScore float64      `json:"riskScore"`
	Metadata  NodeMetadata `json:"metadata"`
}

// FlowEdge is a value movement between two nodes.
type FlowEdge struct {
	From          string     `json:"from"`
	To            string     `json:"to"`
	Amount        int64      `json:"amount"`
	Token         string     `json:"token"`
	TransactionID string     `json:"transactionId"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
	RiskScore     float64    `json:"riskScore"`
}

// Risk factor weights. They sum to 1.
const (
	WeightMixer      = 0.30
	WeightNewWallets = 0.20
	WeightVelocity   = 0.20
	WeightAmount     = 0.15
	WeightPatterns   = 0.15
)

// RiskFactors are the named sub-scores, each in [0,100].
type RiskFactors struct {
	Mixer      float64 `json:"mixer"`
	NewWallets float64 `json:"newWallets"`
	Velocity   float64 `json:"velocity"`
	Amount     float64 `json:"amount"`
	Patterns   float64 `json:"patterns"`
}

// Overall combines the factors with the fixed weights, rounded to two decimals.
func (f RiskFactors) Overall() float64 {
	v := WeightMixer*f.Mixer +
		WeightNewWallets*f.NewWallets +
		WeightVelocity*f.Velocity +
		WeightAmount*f.Amount +
		WeightPatterns*f.Patterns
	return math.Round(v*100) / 100
}

// RiskAssessment scores a traced flow.
type RiskAssessment struct {
	Overall    float64     `json:"overall"`
	Factors    RiskFactors `json:"factors"`
	Confidence float64     `json:"confidence"`
}

// ConfidenceFor maps the number of distinct suspicious patterns to a confidence.
func ConfidenceFor(patterns int) float64 {
	switch {
	case patterns <= 0:
		return 40
	case patterns == 1:
		return 60
	case patterns == 2:
		return 80
	default:
		return 95
	}
}

// FlowAnalysis summarizes a traced flow.
type FlowAnalysis struct {
	TotalValue         int64          `json:"totalValue"`
	HopCount           int            `json:"hopCount"`
	SuspiciousPatterns []string       `json:"suspiciousPatterns"`
	RiskAssessment     RiskAssessment `json:"riskAssessment"`
	Recommendations    []string       `json:"recommendations"`
}

// TransactionFlow is the reconstructed movement of funds from a root
// transaction. Warnings lists partial failures hit while tracing.
type TransactionFlow struct {
	ID                string       `json:"id"`
	RootTransactionID string       `json:"rootTransactionId"`
	Mode              TraceMode    `json:"mode"`
	Depth             int          `json:"depth"`
	Nodes             []FlowNode   `json:"nodes"`
	Edges             []FlowEdge   `json:"edges"`
	Analysis          FlowAnalysis `json:"analysis"`
	Warnings          []string     `json:"warnings,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
}
