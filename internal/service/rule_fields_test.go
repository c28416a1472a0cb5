package service

import (
	"testing"

	"solana-forensics/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularPattern(t *testing.T) {
	tests := []struct {
		name   string
		recent []domain.Transaction
		tx     domain.Transaction
		want   bool
	}{
		{
			name: "closes back to first sender",
			recent: []domain.Transaction{
				xfer("1", "A", "B", 100, at(0)),
				xfer("2", "B", "C", 95, at(1)),
				xfer("3", "C", "D", 90, at(2)),
			},
			tx:   xfer("4", "D", "A", 80, at(3)),
			want: true,
		},
		{
			name: "open chain",
			recent: []domain.Transaction{
				xfer("1", "A", "B", 100, at(0)),
				xfer("2", "B", "C", 95, at(1)),
			},
			tx:   xfer("3", "C", "D", 90, at(2)),
			want: false,
		},
		{
			name: "first sender reappears as sender at index two",
			recent: []domain.Transaction{
				xfer("1", "A", "B", 100, at(0)),
				xfer("2", "B", "C", 95, at(1)),
			},
			tx:   xfer("3", "A", "E", 90, at(2)),
			want: true,
		},
		{
			name: "return at index one is too short",
			recent: []domain.Transaction{
				xfer("1", "A", "B", 100, at(0)),
			},
			tx:   xfer("2", "B", "A", 90, at(1)),
			want: false,
		},
		{
			name: "cycle among intermediates only",
			recent: []domain.Transaction{
				xfer("1", "A", "B", 100, at(0)),
				xfer("2", "B", "C", 95, at(1)),
				xfer("3", "C", "D", 90, at(2)),
			},
			tx:   xfer("4", "D", "B", 80, at(3)),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := tt.tx
			assert.Equal(t, tt.want, circularPattern(tt.recent, &tx))
		})
	}
}

func TestCircularPattern_SkipsNonTransfers(t *testing.T) {
	split := domain.Transaction{Signature: "split", BalanceChanges: []domain.BalanceChange{
		{Account: "A", Delta: -10}, {Account: "B", Delta: 5}, {Account: "C", Delta: 5},
	}}
	recent := []domain.Transaction{split, xfer("1", "A", "B", 1, nil), xfer("2", "B", "C", 1, nil)}
	tx := xfer("3", "C", "A", 1, nil)
	assert.True(t, circularPattern(recent, &tx))
}

func TestFanOutRecipients_Boundary(t *testing.T) {
	d := testDetection()
	recent := []domain.Transaction{
		xfer("1", "S", "R1", 10, at(0)),
	}
	tx := xfer("2", "S", "R2", 10, at(30))
	assert.Equal(t, 2, fanOutRecipients(recent, &tx, &d))

	recent = append(recent, tx)
	third := xfer("3", "S", "R3", 10, at(45))
	assert.Equal(t, 3, fanOutRecipients(recent, &third, &d))
}

func TestFanOutRecipients_Window(t *testing.T) {
	d := testDetection()
	recent := []domain.Transaction{
		xfer("old", "S", "R1", 10, at(0)),
		xfer("untimed", "S", "R2", 10, nil),
		xfer("other", "X", "R3", 10, at(100)),
		xfer("dup", "S", "R4", 10, at(100)),
		xfer("dup2", "S", "R4", 10, at(101)),
	}
	tx := xfer("now", "S", "R5", 10, at(120))
	// R1 is outside the 60s window; R2 has no time and is kept; R3 has another sender.
	assert.Equal(t, 3, fanOutRecipients(recent, &tx, &d))
}

func TestFanOutRecipients_MultiReceiverTransaction(t *testing.T) {
	d := testDetection()
	tx := domain.Transaction{Signature: "batch", BalanceChanges: []domain.BalanceChange{
		{Account: "S", Delta: -30}, {Account: "R1", Delta: 10}, {Account: "R2", Delta: 10}, {Account: "R3", Delta: 10},
	}}
	assert.Equal(t, 3, fanOutRecipients(nil, &tx, &d))

	noSender := domain.Transaction{BalanceChanges: []domain.BalanceChange{{Account: "R", Delta: 5}}}
	assert.Equal(t, 0, fanOutRecipients(nil, &noSender, &d))
}

func TestClusterActivity(t *testing.T) {
	d := testDetection()
	recent := []domain.Transaction{
		xfer("1", "A", "B", 1, at(0)),
		xfer("2", "B", "C", 1, at(10)),
		xfer("3", "X", "Y", 1, at(20)),
		xfer("4", "C", "D", 1, at(-400)),
		xfer("5", "D", "B", 1, nil),
	}
	tx := xfer("6", "B", "Z", 1, at(30))
	// 1, 2 and 5 share B; 4 is outside the 5 minute window; 3 shares nothing.
	assert.Equal(t, 3, clusterActivity(recent, &tx, &d))
}

func TestFieldRegistry(t *testing.T) {
	r := DefaultFieldRegistry()
	for _, name := range []string{
		FieldBalanceChange, FieldFee, FieldStatus, FieldSlot, FieldBlockTime,
		FieldTransactionCount, FieldCircularPattern, FieldFanOutRecipients, FieldClusterActivity,
	} {
		_, ok := r.Lookup(name)
		assert.True(t, ok, name)
	}
	assert.Len(t, r.Names(), 9)

	err := r.Register(FieldSpec{Name: FieldFee, Kind: KindNumber, Extract: func(FieldInput) (Value, error) { return Value{}, nil }})
	assert.Error(t, err)
	assert.Error(t, r.Register(FieldSpec{Name: "x"}))
}

func TestBuiltinExtractors(t *testing.T) {
	r := DefaultFieldRegistry()
	d := testDetection()
	tx := xfer("sig", "A", "B", 250, at(0))
	tx.Slot = 77
	in := FieldInput{Tx: &tx, Wallet: &domain.WalletContext{}, Recent: []domain.Transaction{xfer("o", "A", "B", 1, at(0))}, Detection: &d}

	get := func(name string) Value {
		spec, ok := r.Lookup(name)
		require.True(t, ok)
		v, err := spec.Extract(in)
		require.NoError(t, err)
		return v
	}

	assert.Equal(t, 250.0, get(FieldBalanceChange).Num)
	assert.Equal(t, 5000.0, get(FieldFee).Num)
	assert.Equal(t, "success", get(FieldStatus).Str)
	assert.Equal(t, 77.0, get(FieldSlot).Num)
	assert.Equal(t, float64(at(0).Unix()), get(FieldBlockTime).Num)
	assert.Equal(t, 1.0, get(FieldTransactionCount).Num)
	assert.False(t, get(FieldCircularPattern).Bool)

	tx.BlockTime = nil
	spec, _ := r.Lookup(FieldBlockTime)
	_, err := spec.Extract(in)
	assert.ErrorIs(t, err, errNoBlockTime)
}
