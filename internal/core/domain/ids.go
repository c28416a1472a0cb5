package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// NewID returns an identifier of the form prefix_<unix millis>_<8 hex chars>.
// Uniqueness comes from the random suffix, so concurrent producers need no
// shared counter.
func NewID(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), uuid.NewString()[:8])
}

// FormatSOL renders a lamport amount as a SOL string, e.g. "1.5 SOL".
func FormatSOL(lamports int64) string {
	return decimal.New(lamports, -9).String() + " SOL"
}

// Stamp normalizes a wall-clock time to the precision persisted by storage.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
