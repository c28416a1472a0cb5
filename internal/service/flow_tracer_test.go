package service

import (
	"context"
	"errors"
	"testing"

	"solana-forensics/config"
	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports/mocks"
	"solana-forensics/pkg/apperror"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func setupTracer(t *testing.T, d config.Detection) (*FlowTracer, *mocks.MockLedgerClient) {
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockLedgerClient(ctrl)
	return NewFlowTracer(ledger, config.NewDetectionStore(d), zerolog.Nop()), ledger
}

func TestSelectMode(t *testing.T) {
	system := solana.SystemProgramID.String()
	simple := xfer("s", "A", "B", 1, nil)

	many := simple
	many.Instructions = []domain.Instruction{
		{ProgramID: system, Accounts: []string{"A", "B"}},
		{ProgramID: system, Accounts: []string{"A", "C"}},
		{ProgramID: system, Accounts: []string{"A", "D"}},
	}

	wide := simple
	wide.Instructions = []domain.Instruction{{ProgramID: system, Accounts: []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11"}}}

	token := simple
	token.Instructions = []domain.Instruction{{ProgramID: solana.TokenProgramID.String(), Accounts: []string{"A", "B"}}}

	assert.Equal(t, domain.TraceModeChain, SelectMode(&simple))
	assert.Equal(t, domain.TraceModeMultihop, SelectMode(&many))
	assert.Equal(t, domain.TraceModeMultihop, SelectMode(&wide))
	assert.Equal(t, domain.TraceModeMultihop, SelectMode(&token))
}

func TestFlowTracer_ChainWithPartialFailure(t *testing.T) {
	tracer, ledger := setupTracer(t, testDetection())
	ctx := context.Background()

	root := xfer("r", "A", "B", 500, at(0))
	hop := xfer("h2", "B", "C", 400, at(30))

	ledger.EXPECT().GetRelatedTransactions(gomock.Any(), "B", root.Slot).Return([]domain.Transaction{hop}, nil)
	ledger.EXPECT().GetRelatedTransactions(gomock.Any(), "C", hop.Slot).Return(nil, errors.New("rpc 429"))

	flow, err := tracer.Trace(ctx, root, domain.TraceModeAuto, 3)
	require.NoError(t, err)

	assert.Equal(t, domain.TraceModeChain, flow.Mode)
	assert.Equal(t, "r", flow.RootTransactionID)
	assert.Equal(t, 2, flow.Depth)
	require.Len(t, flow.Edges, 2)
	assert.Equal(t, "A", flow.Edges[0].From)
	assert.Equal(t, "B", flow.Edges[0].To)
	assert.Equal(t, int64(500), flow.Edges[0].Amount)
	assert.Equal(t, "C", flow.Edges[1].To)
	assert.Equal(t, int64(900), flow.Analysis.TotalValue)
	assert.Equal(t, 2, flow.Analysis.HopCount)
	require.Len(t, flow.Warnings, 1)
	assert.Contains(t, flow.Warnings[0], "rpc 429")

	ra := flow.Analysis.RiskAssessment
	assert.Equal(t, []string{domain.PatternRapidMovement}, flow.Analysis.SuspiciousPatterns)
	assert.Equal(t, 70.0, ra.Factors.Velocity)
	assert.Equal(t, 30.0, ra.Factors.Amount)
	assert.Equal(t, 0.0, ra.Factors.NewWallets)
	assert.Equal(t, 18.5, ra.Overall)
	assert.Equal(t, 60.0, ra.Confidence)
	assert.NotEmpty(t, flow.Analysis.Recommendations)
}

func TestFlowTracer_ChainCycleGuard(t *testing.T) {
	tracer, ledger := setupTracer(t, testDetection())

	root := xfer("r", "A", "B", 500, at(0))
	back := xfer("h2", "B", "A", 450, at(600))

	ledger.EXPECT().GetRelatedTransactions(gomock.Any(), "B", gomock.Any()).Return([]domain.Transaction{back}, nil).Times(1)
	ledger.EXPECT().GetRelatedTransactions(gomock.Any(), "A", gomock.Any()).Return([]domain.Transaction{root, back}, nil).Times(1)

	flow, err := tracer.Trace(context.Background(), root, domain.TraceModeChain, 10)
	require.NoError(t, err)

	assert.Len(t, flow.Edges, 2)
	assert.Contains(t, flow.Analysis.SuspiciousPatterns, domain.PatternCircular)
	assert.NotContains(t, flow.Analysis.SuspiciousPatterns, domain.PatternRapidMovement)
	assert.Equal(t, 40.0, flow.Analysis.RiskAssessment.Factors.Patterns)
	for _, n := range flow.Nodes {
		if n.Address == "A" || n.Address == "B" {
			assert.Equal(t, 60.0, n.RiskScore)
		}
	}
}

func TestFlowTracer_DepthOneFetchesNothing(t *testing.T) {
	tracer, _ := setupTracer(t, testDetection())

	flow, err := tracer.Trace(context.Background(), xfer("r", "A", "B", 500, at(0)), domain.TraceModeChain, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, flow.Depth)
	assert.Len(t, flow.Edges, 1)
}

func TestFlowTracer_MinTransferFilter(t *testing.T) {
	d := testDetection()
	d.MinTransfer = 1000
	tracer, _ := setupTracer(t, d)

	flow, err := tracer.Trace(context.Background(), xfer("r", "A", "B", 500, at(0)), domain.TraceModeChain, 3)
	require.NoError(t, err)
	assert.Empty(t, flow.Edges, "dust transfer produces no edge and no recursion")
}

func TestFlowTracer_CancelledContext(t *testing.T) {
	tracer, _ := setupTracer(t, testDetection())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	flow, err := tracer.Trace(ctx, xfer("r", "A", "B", 500, at(0)), domain.TraceModeChain, 3)
	require.NoError(t, err)
	require.Len(t, flow.Warnings, 1)
	assert.Contains(t, flow.Warnings[0], "trace stopped")
}

func TestFlowTracer_MultihopRisk(t *testing.T) {
	d := testDetection()
	d.KnownAddresses = []config.KnownAddress{{Address: "M", Label: "Tornado pool", Kind: "mixer"}}
	tracer, _ := setupTracer(t, d)

	system := solana.SystemProgramID.String()
	tx := domain.Transaction{
		Signature: "multi",
		BlockTime: at(0),
		Status:    domain.TxStatusSuccess,
		BalanceChanges: []domain.BalanceChange{
			{Account: "S", Delta: -1500},
			{Account: "M", Delta: 500},
			{Account: "R1", Delta: 500},
			{Account: "R2", Delta: 500},
		},
		Instructions: []domain.Instruction{
			{ProgramID: system, Accounts: []string{"S", "M"}},
			{ProgramID: system, Accounts: []string{"S", "R1"}},
			{ProgramID: system, Accounts: []string{"S", "R2"}},
		},
	}

	flow, err := tracer.Trace(context.Background(), tx, domain.TraceModeAuto, 0)
	require.NoError(t, err)

	assert.Equal(t, domain.TraceModeMultihop, flow.Mode)
	assert.Equal(t, 1, flow.Depth)
	assert.Len(t, flow.Edges, 3)
	assert.Equal(t, int64(1500), flow.Analysis.TotalValue)
	assert.Equal(t, []string{domain.PatternFanOut, domain.PatternRapidMovement, domain.PatternMixer}, flow.Analysis.SuspiciousPatterns)

	ra := flow.Analysis.RiskAssessment
	assert.Equal(t, domain.RiskFactors{Mixer: 90, NewWallets: 50, Velocity: 70, Amount: 60, Patterns: 40}, ra.Factors)
	assert.Equal(t, 66.0, ra.Overall)
	assert.Equal(t, 95.0, ra.Confidence)

	byAddr := map[string]domain.FlowNode{}
	for _, n := range flow.Nodes {
		byAddr[n.Address] = n
	}
	assert.Equal(t, domain.NodeProgram, byAddr[system].Type)
	assert.Equal(t, domain.NodeWallet, byAddr["R1"].Type)
	assert.True(t, byAddr["M"].Metadata.Mixer)
	assert.Equal(t, []string{"Tornado pool"}, byAddr["M"].Metadata.Labels)
	assert.Equal(t, 90.0, byAddr["M"].RiskScore)
	assert.Equal(t, 50.0, byAddr["S"].RiskScore)
}

func TestFlowTracer_MultihopAmountResolution(t *testing.T) {
	tracer, _ := setupTracer(t, testDetection())
	tokenProg := solana.TokenProgramID.String()

	tx := domain.Transaction{
		Signature: "swap",
		BalanceChanges: []domain.BalanceChange{
			{Account: "W", Delta: -300},
			{Account: "Pool", Delta: 0},
		},
		Instructions: []domain.Instruction{
			{ProgramID: tokenProg, Accounts: []string{"W", "Pool"}},
			{ProgramID: tokenProg, Accounts: []string{"TokA", "TokB"}},
			{ProgramID: tokenProg, Accounts: []string{"Only"}},
		},
	}

	flow, err := tracer.Trace(context.Background(), tx, domain.TraceModeMultihop, 0)
	require.NoError(t, err)
	require.Len(t, flow.Edges, 2)
	assert.Equal(t, int64(300), flow.Edges[0].Amount, "falls back to the sender's outflow")
	assert.Equal(t, int64(0), flow.Edges[1].Amount)

	types := map[string]domain.NodeType{}
	for _, n := range flow.Nodes {
		types[n.Address] = n.Type
	}
	assert.Equal(t, domain.NodeWallet, types["W"])
	assert.Equal(t, domain.NodeToken, types["TokA"])
	assert.Equal(t, domain.NodeProgram, types[tokenProg])
}

func TestFlowTracer_TraceBySignature(t *testing.T) {
	tracer, ledger := setupTracer(t, testDetection())
	ctx := context.Background()

	ledger.EXPECT().GetTransaction(ctx, "missing").Return(nil, nil)
	_, err := tracer.TraceBySignature(ctx, "missing", domain.TraceModeAuto, 2)
	assert.True(t, apperror.IsNotFound(err))
	assert.True(t, apperror.HasCode(err, "TRC_001"))

	ledger.EXPECT().GetTransaction(ctx, "boom").Return(nil, errors.New("dial tcp"))
	_, err = tracer.TraceBySignature(ctx, "boom", domain.TraceModeAuto, 2)
	assert.True(t, apperror.HasCode(err, "TRC_003"))

	root := xfer("ok", "A", "B", 5, at(0))
	ledger.EXPECT().GetTransaction(ctx, "ok").Return(&root, nil)
	flow, err := tracer.TraceBySignature(ctx, "ok", domain.TraceModeChain, 1)
	require.NoError(t, err)
	assert.Equal(t, "ok", flow.RootTransactionID)
}

func TestFlowTracer_InvalidMode(t *testing.T) {
	tracer, _ := setupTracer(t, testDetection())
	_, err := tracer.Trace(context.Background(), xfer("r", "A", "B", 5, nil), "deep", 2)
	assert.True(t, apperror.HasCode(err, "TRC_002"))
}

func TestFlowBuilder_CircularNeedsDirectedCycle(t *testing.T) {
	d := testDetection()
	tx := xfer("s", "A", "B", 10, at(0))

	// C is reached twice but funds never return to where they came from.
	diamond := newFlowBuilder(&d)
	diamond.addEdge("A", "B", 10, &tx)
	diamond.addEdge("A", "C", 10, &tx)
	diamond.addEdge("B", "C", 10, &tx)
	patterns, onCycle, _ := diamond.detectPatterns()
	assert.NotContains(t, patterns, domain.PatternCircular)
	assert.Empty(t, onCycle)

	loop := newFlowBuilder(&d)
	loop.addEdge("A", "B", 10, &tx)
	loop.addEdge("B", "C", 10, &tx)
	loop.addEdge("C", "A", 10, &tx)
	loop.addEdge("C", "D", 10, &tx)
	patterns, onCycle, _ = loop.detectPatterns()
	assert.Contains(t, patterns, domain.PatternCircular)
	assert.Equal(t, map[string]bool{"A": true, "B": true, "C": true}, onCycle)
}
