package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"solana-forensics/config"
	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"
	"solana-forensics/pkg/apperror"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
)

const (
	nativeToken = "SOL"

	complexInstructionCount = 2
	complexAccountCount     = 10

	scoreMixer      = 90
	scoreVelocity   = 70
	scoreHighAmount = 60
	scoreMidAmount  = 30
	scorePatterns   = 40
	scoreNewWallets = 50
)

var (
	baseTransferProgram = solana.SystemProgramID.String()
	tokenProgram        = solana.TokenProgramID.String()
)

// FlowTracer reconstructs fund movement from a root transaction and scores
// the resulting graph.
type FlowTracer struct {
	ledger    ports.LedgerClient
	detection *config.DetectionStore
	log       zerolog.Logger
	now       func() time.Time
}

// NewFlowTracer creates a tracer backed by the given ledger collaborator.
func NewFlowTracer(ledger ports.LedgerClient, detection *config.DetectionStore, log zerolog.Logger) *FlowTracer {
	return &FlowTracer{
		ledger:    ledger,
		detection: detection,
		log:       log,
		now:       time.Now,
	}
}

// TraceBySignature fetches the root transaction and traces it.
func (t *FlowTracer) TraceBySignature(ctx context.Context, signature string, mode domain.TraceMode, maxDepth int) (*domain.TransactionFlow, error) {
	root, err := t.ledger.GetTransaction(ctx, signature)
	if err != nil {
		return nil, apperror.ErrLedgerUnavailable(err)
	}
	if root == nil {
		return nil, apperror.ErrTransactionNotFound(signature)
	}
	return t.Trace(ctx, *root, mode, maxDepth)
}

// Trace builds the flow graph for root. A non-positive maxDepth falls back
// to the configured default. Fetch failures during chain tracing end up in
// the flow's Warnings rather than in the returned error.
func (t *FlowTracer) Trace(ctx context.Context, root domain.Transaction, mode domain.TraceMode, maxDepth int) (*domain.TransactionFlow, error) {
	d := t.detection.Load()
	if maxDepth <= 0 {
		maxDepth = d.TraceMaxDepth
	}

	switch mode {
	case domain.TraceModeAuto, "":
		mode = SelectMode(&root)
	case domain.TraceModeChain, domain.TraceModeMultihop:
	default:
		return nil, apperror.ErrInvalidTraceMode(string(mode))
	}

	b := newFlowBuilder(d)
	switch mode {
	case domain.TraceModeChain:
		t.traceChain(ctx, b, root, 1, maxDepth)
	case domain.TraceModeMultihop:
		b.traceMultihop(root)
	}

	flow := b.finish(root.Signature, mode, t.now())
	t.log.Info().
		Str("flow_id", flow.ID).
		Str("root", root.Signature).
		Str("mode", string(mode)).
		Int("nodes", len(flow.Nodes)).
		Int("edges", len(flow.Edges)).
		Int("warnings", len(flow.Warnings)).
		Float64("risk", flow.Analysis.RiskAssessment.Overall).
		Msg("flow traced")
	return flow, nil
}

// SelectMode picks multihop for complex transactions and chain otherwise.
func SelectMode(tx *domain.Transaction) domain.TraceMode {
	if len(tx.Instructions) > complexInstructionCount || len(tx.Accounts()) > complexAccountCount {
		return domain.TraceModeMultihop
	}
	for _, ix := range tx.Instructions {
		if ix.ProgramID != baseTransferProgram {
			return domain.TraceModeMultihop
		}
	}
	return domain.TraceModeChain
}

func (t *FlowTracer) traceChain(ctx context.Context, b *flowBuilder, tx domain.Transaction, depth, maxDepth int) {
	if b.visited[tx.Signature] {
		return
	}
	b.visited[tx.Signature] = true
	if depth > b.depth {
		b.depth = depth
	}
	b.observe(&tx)

	var receivers []string
	for _, n := range tx.BalanceChanges {
		if n.Delta >= 0 {
			continue
		}
		for _, p := range tx.BalanceChanges {
			if p.Delta <= 0 || p.Account == n.Account {
				continue
			}
			amount := min(-n.Delta, p.Delta)
			if amount > b.d.MinTransfer {
				b.addEdge(n.Account, p.Account, amount, &tx)
			}
		}
	}
	for _, p := range tx.BalanceChanges {
		if p.Delta > b.d.MinTransfer {
			receivers = append(receivers, p.Account)
		}
	}

	if depth >= maxDepth {
		return
	}
	for _, account := range receivers {
		if b.expanded[account] {
			continue
		}
		b.expanded[account] = true
		if err := ctx.Err(); err != nil {
			b.warn(fmt.Sprintf("trace stopped before %s: %v", account, err))
			return
		}
		related, err := t.ledger.GetRelatedTransactions(ctx, account, tx.Slot)
		if err != nil {
			t.log.Warn().Err(err).Str("account", account).Str("signature", tx.Signature).Msg("related transaction fetch failed")
			b.warn(fmt.Sprintf("related transactions for %s unavailable: %v", account, err))
			continue
		}
		for _, next := range related {
			t.traceChain(ctx, b, next, depth+1, maxDepth)
		}
	}
}

type flowBuilder struct {
	d        *config.Detection
	mixer    *regexp.Regexp
	nodes    map[string]*domain.FlowNode
	order    []string
	edges    []domain.FlowEdge
	programs map[string]bool
	tokens   map[string]bool
	funded   map[string]bool
	visited  map[string]bool
	expanded map[string]bool
	warnings []string
	depth    int
}

func newFlowBuilder(d *config.Detection) *flowBuilder {
	// Validated when the detection snapshot was published.
	mixer, _ := regexp.Compile(d.MixerPattern)
	return &flowBuilder{
		d:        d,
		mixer:    mixer,
		nodes:    make(map[string]*domain.FlowNode),
		programs: make(map[string]bool),
		tokens:   make(map[string]bool),
		funded:   make(map[string]bool),
		visited:  make(map[string]bool),
		expanded: make(map[string]bool),
	}
}

func (b *flowBuilder) warn(msg string) {
	b.warnings = append(b.warnings, msg)
}

func (b *flowBuilder) traceMultihop(tx domain.Transaction) {
	b.visited[tx.Signature] = true
	b.depth = 1
	b.observe(&tx)
	for _, ix := range tx.Instructions {
		if len(ix.Accounts) < 2 {
			continue
		}
		from, to := ix.Accounts[0], ix.Accounts[1]
		if from == to {
			continue
		}
		var amount int64
		if d, ok := tx.DeltaFor(to); ok && d > 0 {
			amount = d
		} else if d, ok := tx.DeltaFor(from); ok && d < 0 {
			amount = -d
		}
		b.addEdge(from, to, amount, &tx)
	}
}

// observe records every account of tx as a node and notes sighting times.
func (b *flowBuilder) observe(tx *domain.Transaction) {
	for _, ix := range tx.Instructions {
		b.programs[ix.ProgramID] = true
		if ix.ProgramID == tokenProgram {
			for _, a := range ix.Accounts {
				b.tokens[a] = true
			}
		}
	}
	for _, bc := range tx.BalanceChanges {
		if bc.Delta != 0 {
			b.funded[bc.Account] = true
		}
	}
	for _, a := range tx.Accounts() {
		b.node(a, tx.BlockTime)
	}
	for _, ix := range tx.Instructions {
		b.node(ix.ProgramID, tx.BlockTime)
	}
}

func (b *flowBuilder) node(addr string, seen *time.Time) *domain.FlowNode {
	n, ok := b.nodes[addr]
	if !ok {
		n = &domain.FlowNode{Address: addr, Type: domain.NodeUnknown}
		if k, known := b.d.Known(addr); known {
			n.Metadata.Known = true
			n.Metadata.Exchange = k.Kind == "exchange"
			n.Metadata.Mixer = k.Kind == "mixer"
			if k.Label != "" {
				n.Metadata.Labels = append(n.Metadata.Labels, k.Label)
			}
		}
		b.nodes[addr] = n
		b.order = append(b.order, addr)
	}
	if seen != nil {
		s := *seen
		if n.Metadata.FirstSeen == nil || s.Before(*n.Metadata.FirstSeen) {
			n.Metadata.FirstSeen = &s
		}
		if n.Metadata.LastSeen == nil || s.After(*n.Metadata.LastSeen) {
			n.Metadata.LastSeen = &s
		}
	}
	return n
}

func (b *flowBuilder) addEdge(from, to string, amount int64, tx *domain.Transaction) {
	b.node(from, tx.BlockTime)
	b.node(to, tx.BlockTime)
	b.edges = append(b.edges, domain.FlowEdge{
		From:          from,
		To:            to,
		Amount:        amount,
		Token:         nativeToken,
		TransactionID: tx.Signature,
		Timestamp:     tx.BlockTime,
	})
}

func (b *flowBuilder) finish(root string, mode domain.TraceMode, now time.Time) *domain.TransactionFlow {
	for _, addr := range b.order {
		n := b.nodes[addr]
		switch {
		case b.programs[addr]:
			n.Type = domain.NodeProgram
		case b.tokens[addr] && !b.funded[addr]:
			n.Type = domain.NodeToken
		case b.funded[addr] || b.appearsInEdge(addr):
			n.Type = domain.NodeWallet
		}
	}

	patterns, cycleNodes, fanOutSenders := b.detectPatterns()
	factors := b.riskFactors(patterns)

	nodes := make([]domain.FlowNode, 0, len(b.order))
	risk := make(map[string]float64, len(b.order))
	for _, addr := range b.order {
		n := b.nodes[addr]
		switch {
		case b.isMixer(n):
			n.RiskScore = scoreMixer
		case cycleNodes[addr]:
			n.RiskScore = 60
		case fanOutSenders[addr]:
			n.RiskScore = 50
		}
		risk[addr] = n.RiskScore
		nodes = append(nodes, *n)
	}

	var total int64
	edges := make([]domain.FlowEdge, len(b.edges))
	for i, e := range b.edges {
		e.RiskScore = max(risk[e.From], risk[e.To])
		edges[i] = e
		total += e.Amount
	}

	assessment := domain.RiskAssessment{
		Overall:    factors.Overall(),
		Factors:    factors,
		Confidence: domain.ConfidenceFor(len(patterns)),
	}
	if patterns == nil {
		patterns = []string{}
	}

	return &domain.TransactionFlow{
		ID:                domain.NewID("flow"),
		RootTransactionID: root,
		Mode:              mode,
		Depth:             b.depth,
		Nodes:             nodes,
		Edges:             edges,
		Analysis: domain.FlowAnalysis{
			TotalValue:         total,
			HopCount:           len(edges),
			SuspiciousPatterns: patterns,
			RiskAssessment:     assessment,
			Recommendations:    recommendations(patterns, assessment),
		},
		Warnings:  b.warnings,
		CreatedAt: domain.Stamp(now),
	}
}

func (b *flowBuilder) appearsInEdge(addr string) bool {
	for _, e := range b.edges {
		if e.From == addr || e.To == addr {
			return true
		}
	}
	return false
}

func (b *flowBuilder) isMixer(n *domain.FlowNode) bool {
	if n.Metadata.Mixer {
		return true
	}
	if b.mixer == nil {
		return false
	}
	for _, l := range n.Metadata.Labels {
		if b.mixer.MatchString(l) {
			return true
		}
	}
	return false
}

// detectPatterns runs the graph detectors and returns the pattern names in
// a fixed order.
func (b *flowBuilder) detectPatterns() ([]string, map[string]bool, map[string]bool) {
	var patterns []string

	cycleNodes := b.cycleNodes()
	if len(cycleNodes) > 0 {
		patterns = append(patterns, domain.PatternCircular)
	}

	fanOutSenders := make(map[string]bool)
	receivers := make(map[string]map[string]struct{})
	for _, e := range b.edges {
		if receivers[e.From] == nil {
			receivers[e.From] = make(map[string]struct{})
		}
		receivers[e.From][e.To] = struct{}{}
	}
	for sender, rs := range receivers {
		if len(rs) >= b.d.FanOutMinRecipients {
			fanOutSenders[sender] = true
		}
	}
	if len(fanOutSenders) > 0 {
		patterns = append(patterns, domain.PatternFanOut)
	}

	if b.rapidMovement() {
		patterns = append(patterns, domain.PatternRapidMovement)
	}

	for _, addr := range b.order {
		if b.isMixer(b.nodes[addr]) {
			patterns = append(patterns, domain.PatternMixer)
			break
		}
	}
	return patterns, cycleNodes, fanOutSenders
}

// cycleNodes returns the nodes lying on any directed cycle of the edge graph.
func (b *flowBuilder) cycleNodes() map[string]bool {
	adj := make(map[string][]string)
	for _, e := range b.edges {
		adj[e.From] = append(adj[e.From], e.To)
	}
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int)
	onCycle := make(map[string]bool)
	var stack []string

	var visit func(n string)
	visit = func(n string) {
		color[n] = grey
		stack = append(stack, n)
		for _, m := range adj[n] {
			switch color[m] {
			case white:
				visit(m)
			case grey:
				for i := len(stack) - 1; i >= 0; i-- {
					onCycle[stack[i]] = true
					if stack[i] == m {
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
	}

	starts := make([]string, 0, len(adj))
	for n := range adj {
		starts = append(starts, n)
	}
	sort.Strings(starts)
	for _, n := range starts {
		if color[n] == white {
			visit(n)
		}
	}
	return onCycle
}

func (b *flowBuilder) rapidMovement() bool {
	var first, last *time.Time
	timed := 0
	for _, n := range b.nodes {
		if n.Metadata.FirstSeen == nil {
			continue
		}
		timed++
		if first == nil || n.Metadata.FirstSeen.Before(*first) {
			first = n.Metadata.FirstSeen
		}
		if last == nil || n.Metadata.LastSeen.After(*last) {
			last = n.Metadata.LastSeen
		}
	}
	return timed >= 2 && last.Sub(*first) < b.d.RapidMovementWindow
}

func (b *flowBuilder) riskFactors(patterns []string) domain.RiskFactors {
	var f domain.RiskFactors
	has := func(p string) bool {
		for _, x := range patterns {
			if x == p {
				return true
			}
		}
		return false
	}
	if has(domain.PatternMixer) {
		f.Mixer = scoreMixer
	}
	if has(domain.PatternRapidMovement) {
		f.Velocity = scoreVelocity
	}
	if has(domain.PatternCircular) || has(domain.PatternFanOut) {
		f.Patterns = scorePatterns
	}

	var total int64
	for _, e := range b.edges {
		total += e.Amount
	}
	switch {
	case total >= b.d.HighValue:
		f.Amount = scoreHighAmount
	case total >= b.d.MediumValue:
		f.Amount = scoreMidAmount
	}

	if b.freshReceiverShare() > 0.5 {
		f.NewWallets = scoreNewWallets
	}
	return f
}

// freshReceiverShare is the fraction of distinct receivers that are unlabeled
// wallets seen in exactly one edge and never sending. Fewer than two
// receivers yields 0.
func (b *flowBuilder) freshReceiverShare() float64 {
	appearances := make(map[string]int)
	senders := make(map[string]bool)
	receivers := make(map[string]bool)
	for _, e := range b.edges {
		appearances[e.From]++
		appearances[e.To]++
		senders[e.From] = true
		receivers[e.To] = true
	}
	if len(receivers) < 2 {
		return 0
	}
	fresh := 0
	for r := range receivers {
		n := b.nodes[r]
		if !senders[r] && appearances[r] == 1 && !n.Metadata.Known && n.Type == domain.NodeWallet {
			fresh++
		}
	}
	return float64(fresh) / float64(len(receivers))
}

func recommendations(patterns []string, ra domain.RiskAssessment) []string {
	var out []string
	for _, p := range patterns {
		switch p {
		case domain.PatternCircular:
			out = append(out, "Review circular flow for wash trading between the cycle participants")
		case domain.PatternFanOut:
			out = append(out, "Investigate fan-out recipients for layering activity")
		case domain.PatternRapidMovement:
			out = append(out, "Funds moved rapidly across hops; consider placing the receivers on a watch list")
		case domain.PatternMixer:
			out = append(out, "Mixer interaction detected; escalate to compliance")
		}
	}
	switch {
	case ra.Overall >= 70:
		out = append(out, "High overall risk: open a case and preserve all related evidence")
	case ra.Overall >= 40:
		out = append(out, "Moderate risk: continue monitoring involved wallets")
	}
	if len(out) == 0 {
		out = append(out, "No suspicious patterns found; no action required")
	}
	return out
}
