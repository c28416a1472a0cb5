package solana

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

const signatureLen = 64

// ValidateAddress checks that s is a base58 encoded 32-byte public key.
func ValidateAddress(s string) error {
	if _, err := solana.PublicKeyFromBase58(s); err != nil {
		return fmt.Errorf("invalid address %q: %w", s, err)
	}
	return nil
}

// ValidateSignature checks that s is a base58 encoded 64-byte signature.
func ValidateSignature(s string) error {
	raw, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("invalid signature %q: %w", s, err)
	}
	if len(raw) != signatureLen {
		return fmt.Errorf("invalid signature %q: decoded length %d, want %d", s, len(raw), signatureLen)
	}
	return nil
}

// ValidateAddresses validates every address and reports the first bad one.
func ValidateAddresses(addrs []string) error {
	for _, a := range addrs {
		if err := ValidateAddress(a); err != nil {
			return err
		}
	}
	return nil
}
