package domain

import "time"

// TxStatus is the confirmation outcome of a ledger transaction.
type TxStatus string

const (
	TxStatusSuccess TxStatus = "success"
	TxStatusFailed  TxStatus = "failed"
	TxStatusTimeout TxStatus = "timeout"
	TxStatusUnknown TxStatus = "unknown"
)

// BalanceChange is the lamport movement of one account within a transaction.
type BalanceChange struct {
	Account     string `json:"account"`
	PreBalance  int64  `json:"preBalance"`
	PostBalance int64  `json:"postBalance"`
	Delta       int64  `json:"delta"`
}

// Instruction is a single program invocation inside a transaction.
type Instruction struct {
	ProgramID string   `json:"programId"`
	Accounts  []string `json:"accounts"`
	Data      string   `json:"data,omitempty"`
}

// Transaction is an observed, confirmed ledger transaction. It is never
// mutated after ingestion.
type Transaction struct {
	Signature      string          `json:"signature"`
	Slot           uint64          `json:"slot"`
	BlockTime      *time.Time      `json:"blockTime,omitempty"`
	Fee            int64           `json:"fee"`
	Status         TxStatus        `json:"status"`
	BalanceChanges []BalanceChange `json:"balanceChanges"`
	Instructions   []Instruction   `json:"instructions"`
}

// Accounts returns every distinct account touched by the transaction, in
// order of first appearance across balance changes and then instructions.
func (t *Transaction) Accounts() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(a string) {
		if a == "" {
			return
		}
		if _, ok := seen[a]; ok {
			return
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	for _, bc := range t.BalanceChanges {
		add(bc.Account)
	}
	for _, ix := range t.Instructions {
		for _, a := range ix.Accounts {
			add(a)
		}
	}
	return out
}

// Transfer returns the sender and receiver when exactly one account lost
// funds and exactly one account gained funds.
func (t *Transaction) Transfer() (sender, receiver string, ok bool) {
	var senders, receivers int
	for _, bc := range t.BalanceChanges {
		switch {
		case bc.Delta < 0:
			senders++
			sender = bc.Account
		case bc.Delta > 0:
			receivers++
			receiver = bc.Account
		}
	}
	if senders != 1 || receivers != 1 {
		return "", "", false
	}
	return sender, receiver, true
}

// Sender returns the single account that lost funds, if exactly one did.
func (t *Transaction) Sender() (string, bool) {
	var sender string
	n := 0
	for _, bc := range t.BalanceChanges {
		if bc.Delta < 0 {
			sender = bc.Account
			n++
		}
	}
	return sender, n == 1
}

// Receivers returns every account that gained funds, in balance-change order.
func (t *Transaction) Receivers() []string {
	var out []string
	for _, bc := range t.BalanceChanges {
		if bc.Delta > 0 {
			out = append(out, bc.Account)
		}
	}
	return out
}

// MaxAbsDelta returns the largest absolute balance movement.
func (t *Transaction) MaxAbsDelta() int64 {
	var max int64
	for _, bc := range t.BalanceChanges {
		d := bc.Delta
		if d < 0 {
			d = -d
		}
		if d > max {
			max = d
		}
	}
	return max
}

// DeltaFor returns the balance change of account and whether it was present.
func (t *Transaction) DeltaFor(account string) (int64, bool) {
	for _, bc := range t.BalanceChanges {
		if bc.Account == account {
			return bc.Delta, true
		}
	}
	return 0, false
}

// Involves reports whether account appears anywhere in the transaction.
func (t *Transaction) Involves(account string) bool {
	for _, a := range t.Accounts() {
		if a == account {
			return true
		}
	}
	return false
}

// WithinWindow reports whether the two block times are at most window apart.
// A missing time on either side counts as within the window.
func WithinWindow(a, b *time.Time, window time.Duration) bool {
	if a == nil || b == nil {
		return true
	}
	d := a.Sub(*b)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// WalletContext is what the detection engine knows about a watched address
// when a new transaction arrives. Recent is ordered oldest first.
type WalletContext struct {
	Address string        `json:"address"`
	Recent  []Transaction `json:"recentTransactions"`
	Balance int64         `json:"balance"`
}
