package domain

import "time"

// ExportKind distinguishes evidence bundles from audit bundles.
type ExportKind string

const (
	ExportEvidence ExportKind = "evidence"
	ExportAudit    ExportKind = "audit"
)

// ExportBundle is a self-verifying package handed to legal or compliance
// reviewers. Hash covers the bundle with Hash itself empty.
type ExportBundle struct {
	ID              string                           `json:"id"`
	Kind            ExportKind                       `json:"kind"`
	Evidence        []Evidence                       `json:"evidence,omitempty"`
	AuditLogs       []AuditLogEntry                  `json:"auditLogs,omitempty"`
	ChainOfCustody  map[string][]ChainOfCustodyEntry `json:"chainOfCustody,omitempty"`
	ExportTimestamp time.Time                        `json:"exportTimestamp"`
	ExportedBy      string                           `json:"exportedBy"`
	Hash            string                           `json:"hash"`
}

// ComputeHash hashes the bundle contents excluding Hash.
func (b ExportBundle) ComputeHash() (string, error) {
	b.Hash = ""
	return hashJSON(b)
}

// Seal sets the bundle hash.
func (b *ExportBundle) Seal() error {
	h, err := b.ComputeHash()
	if err != nil {
		return err
	}
	b.Hash = h
	return nil
}

// Verify reports whether the bundle still matches its hash.
func (b ExportBundle) Verify() bool {
	h, err := b.ComputeHash()
	return err == nil && h == b.Hash
}
