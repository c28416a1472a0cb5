package service

import (
	"errors"
	"fmt"
	"sync"

	"solana-forensics/config"
	"solana-forensics/internal/core/domain"
)

// ValueKind is the type tag of an extracted field value.
type ValueKind int

const (
	KindNumber ValueKind = iota
	KindString
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is a tagged field value produced by an extractor.
type Value struct {
	Kind ValueKind
	Num  float64
	Str  string
	Bool bool
}

func numberValue(f float64) Value { return Value{Kind: KindNumber, Num: f} }
func stringValue(s string) Value  { return Value{Kind: KindString, Str: s} }
func boolValue(b bool) Value      { return Value{Kind: KindBool, Bool: b} }

// Raw returns the underlying Go value, used in evidence payloads.
func (v Value) Raw() interface{} {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	default:
		return v.Bool
	}
}

// FieldInput is what an extractor sees. Recent never contains Tx itself.
type FieldInput struct {
	Tx        *domain.Transaction
	Wallet    *domain.WalletContext
	Recent    []domain.Transaction
	Detection *config.Detection
}

// FieldExtractor derives one named value from a transaction and its context.
type FieldExtractor func(in FieldInput) (Value, error)

// FieldSpec registers an extractor under a name with its result kind.
type FieldSpec struct {
	Name    string
	Kind    ValueKind
	Extract FieldExtractor
}

// FieldRegistry maps rule field names to extractors. Rules are checked
// against it when they are registered.
type FieldRegistry struct {
	mu     sync.RWMutex
	fields map[string]FieldSpec
}

// NewFieldRegistry creates an empty registry.
func NewFieldRegistry() *FieldRegistry {
	return &FieldRegistry{fields: make(map[string]FieldSpec)}
}

// Register adds a field. Names are unique.
func (r *FieldRegistry) Register(spec FieldSpec) error {
	if spec.Name == "" || spec.Extract == nil {
		return errors.New("field spec needs a name and an extractor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.fields[spec.Name]; exists {
		return fmt.Errorf("field %q already registered", spec.Name)
	}
	r.fields[spec.Name] = spec
	return nil
}

// Lookup returns the spec registered under name.
func (r *FieldRegistry) Lookup(name string) (FieldSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.fields[name]
	return spec, ok
}

// Names lists the registered field names.
func (r *FieldRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.fields))
	for n := range r.fields {
		out = append(out, n)
	}
	return out
}

// Built-in field names.
const (
	FieldBalanceChange    = "balanceChange"
	FieldFee              = "fee"
	FieldStatus           = "status"
	FieldSlot             = "slot"
	FieldBlockTime        = "blockTime"
	FieldTransactionCount = "transactionCount"
	FieldCircularPattern  = "circularPattern"
	FieldFanOutRecipients = "fanOutRecipients"
	FieldClusterActivity  = "clusterActivity"
)

var errNoBlockTime = errors.New("transaction has no block time")

// DefaultFieldRegistry returns a registry holding every built-in detector.
func DefaultFieldRegistry() *FieldRegistry {
	r := NewFieldRegistry()
	for _, spec := range []FieldSpec{
		{FieldBalanceChange, KindNumber, func(in FieldInput) (Value, error) {
			return numberValue(float64(in.Tx.MaxAbsDelta())), nil
		}},
		{FieldFee, KindNumber, func(in FieldInput) (Value, error) {
			return numberValue(float64(in.Tx.Fee)), nil
		}},
		{FieldStatus, KindString, func(in FieldInput) (Value, error) {
			return stringValue(string(in.Tx.Status)), nil
		}},
		{FieldSlot, KindNumber, func(in FieldInput) (Value, error) {
			return numberValue(float64(in.Tx.Slot)), nil
		}},
		{FieldBlockTime, KindNumber, func(in FieldInput) (Value, error) {
			if in.Tx.BlockTime == nil {
				return Value{}, errNoBlockTime
			}
			return numberValue(float64(in.Tx.BlockTime.Unix())), nil
		}},
		{FieldTransactionCount, KindNumber, func(in FieldInput) (Value, error) {
			return numberValue(float64(len(in.Recent))), nil
		}},
		{FieldCircularPattern, KindBool, func(in FieldInput) (Value, error) {
			return boolValue(circularPattern(in.Recent, in.Tx)), nil
		}},
		{FieldFanOutRecipients, KindNumber, func(in FieldInput) (Value, error) {
			return numberValue(float64(fanOutRecipients(in.Recent, in.Tx, in.Detection))), nil
		}},
		{FieldClusterActivity, KindNumber, func(in FieldInput) (Value, error) {
			return numberValue(float64(clusterActivity(in.Recent, in.Tx, in.Detection))), nil
		}},
	} {
		// Built-in names are distinct, so Register cannot fail here.
		_ = r.Register(spec)
	}
	return r
}

type transferEdge struct{ from, to string }

// circularPattern flags a chain of transfers that closes back on the first
// observed sender. Only cycles through that first sender are recognized.
func circularPattern(recent []domain.Transaction, tx *domain.Transaction) bool {
	var edges []transferEdge
	add := func(t *domain.Transaction) {
		if s, r, ok := t.Transfer(); ok {
			edges = append(edges, transferEdge{s, r})
		}
	}
	for i := range recent {
		add(&recent[i])
	}
	add(tx)

	if len(edges) < 3 {
		return false
	}
	first := edges[0].from
	for i := 2; i < len(edges); i++ {
		if edges[i].from == first || edges[i].to == first {
			return true
		}
	}
	return edges[len(edges)-1].to == first
}

// fanOutRecipients counts distinct receivers paid by the current sender
// within the fan-out window. Transactions without a block time count.
func fanOutRecipients(recent []domain.Transaction, tx *domain.Transaction, d *config.Detection) int {
	sender, ok := tx.Sender()
	if !ok {
		return 0
	}
	receivers := make(map[string]struct{})
	collect := func(t *domain.Transaction) {
		s, ok := t.Sender()
		if !ok || s != sender {
			return
		}
		if !domain.WithinWindow(t.BlockTime, tx.BlockTime, d.FanOutWindow) {
			return
		}
		for _, r := range t.Receivers() {
			if r != sender {
				receivers[r] = struct{}{}
			}
		}
	}
	for i := range recent {
		collect(&recent[i])
	}
	collect(tx)
	return len(receivers)
}

// clusterActivity counts recent transactions inside the cluster window that
// share at least one account with the current transaction.
func clusterActivity(recent []domain.Transaction, tx *domain.Transaction, d *config.Detection) int {
	accounts := make(map[string]struct{})
	for _, a := range tx.Accounts() {
		accounts[a] = struct{}{}
	}
	count := 0
	for i := range recent {
		t := &recent[i]
		if !domain.WithinWindow(t.BlockTime, tx.BlockTime, d.ClusterWindow) {
			continue
		}
		for _, a := range t.Accounts() {
			if _, ok := accounts[a]; ok {
				count++
				break
			}
		}
	}
	return count
}
