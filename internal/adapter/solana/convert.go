package solana

import (
	"time"

	"solana-forensics/internal/core/domain"
)

type getTransactionResult struct {
	Slot        uint64     `json:"slot"`
	BlockTime   *int64     `json:"blockTime"`
	Meta        *txMeta    `json:"meta"`
	Transaction txEnvelope `json:"transaction"`
}

type txMeta struct {
	Err             interface{}      `json:"err"`
	Fee             int64            `json:"fee"`
	PreBalances     []int64          `json:"preBalances"`
	PostBalances    []int64          `json:"postBalances"`
	LoadedAddresses *loadedAddresses `json:"loadedAddresses"`
}

type loadedAddresses struct {
	Writable []string `json:"writable"`
	Readonly []string `json:"readonly"`
}

type txEnvelope struct {
	Signatures []string  `json:"signatures"`
	Message    txMessage `json:"message"`
}

type txMessage struct {
	AccountKeys  []string        `json:"accountKeys"`
	Instructions []txInstruction `json:"instructions"`
}

type txInstruction struct {
	ProgramIDIndex int    `json:"programIdIndex"`
	Accounts       []int  `json:"accounts"`
	Data           string `json:"data"`
}

// accountKeys returns static keys followed by lookup-table addresses, the
// order balance arrays and instruction indexes refer to.
func (r *getTransactionResult) accountKeys() []string {
	keys := append([]string(nil), r.Transaction.Message.AccountKeys...)
	if r.Meta != nil && r.Meta.LoadedAddresses != nil {
		keys = append(keys, r.Meta.LoadedAddresses.Writable...)
		keys = append(keys, r.Meta.LoadedAddresses.Readonly...)
	}
	return keys
}

func (r *getTransactionResult) toDomain(signature string) domain.Transaction {
	tx := domain.Transaction{
		Signature: signature,
		Slot:      r.Slot,
		Status:    domain.TxStatusUnknown,
	}
	if r.BlockTime != nil {
		bt := time.Unix(*r.BlockTime, 0).UTC()
		tx.BlockTime = &bt
	}

	keys := r.accountKeys()
	key := func(i int) string {
		if i < 0 || i >= len(keys) {
			return ""
		}
		return keys[i]
	}

	if m := r.Meta; m != nil {
		tx.Fee = m.Fee
		if m.Err == nil {
			tx.Status = domain.TxStatusSuccess
		} else {
			tx.Status = domain.TxStatusFailed
		}
		n := len(m.PreBalances)
		if len(m.PostBalances) < n {
			n = len(m.PostBalances)
		}
		for i := 0; i < n; i++ {
			acct := key(i)
			if acct == "" {
				continue
			}
			tx.BalanceChanges = append(tx.BalanceChanges, domain.BalanceChange{
				Account:     acct,
				PreBalance:  m.PreBalances[i],
				PostBalance: m.PostBalances[i],
				Delta:       m.PostBalances[i] - m.PreBalances[i],
			})
		}
	}

	for _, ix := range r.Transaction.Message.Instructions {
		in := domain.Instruction{
			ProgramID: key(ix.ProgramIDIndex),
			Data:      ix.Data,
		}
		for _, a := range ix.Accounts {
			if k := key(a); k != "" {
				in.Accounts = append(in.Accounts, k)
			}
		}
		tx.Instructions = append(tx.Instructions, in)
	}
	return tx
}
