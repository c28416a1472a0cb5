package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// EvidenceType classifies what an evidence record captures.
type EvidenceType string

const (
	EvidenceTypeTransaction EvidenceType = "transaction"
	EvidenceTypePattern     EvidenceType = "pattern"
	EvidenceTypeFlow        EvidenceType = "flow_analysis"
	EvidenceTypeManual      EvidenceType = "manual"
)

// CustodyAction is a chain-of-custody event.
type CustodyAction string

const (
	CustodyCreated     CustodyAction = "created"
	CustodyAccessed    CustodyAction = "accessed"
	CustodyModified    CustodyAction = "modified"
	CustodyTransferred CustodyAction = "transferred"
)

// Valid reports whether a is a known custody action.
func (a CustodyAction) Valid() bool {
	switch a {
	case CustodyCreated, CustodyAccessed, CustodyModified, CustodyTransferred:
		return true
	}
	return false
}

// Priority of an evidence record within a case.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ChainOfCustodyEntry is one link of the custody chain. Hash covers the
// previous link's hash plus this entry's fields.
type ChainOfCustodyEntry struct {
	Timestamp   time.Time     `json:"timestamp"`
	Action      CustodyAction `json:"action"`
	Actor       string        `json:"actor"`
	Description string        `json:"description"`
	Hash        string        `json:"hash"`
}

// EvidenceMetadata is the mutable part of an evidence record. Changes to it
// are always accompanied by a custody entry.
type EvidenceMetadata struct {
	CaseID       string   `json:"caseId,omitempty"`
	Investigator string   `json:"investigator,omitempty"`
	Priority     Priority `json:"priority,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Notes        string   `json:"notes,omitempty"`
}

// Evidence is a hashed forensic record. ID, TransactionID, Timestamp, Type,
// Description and Payload are covered by Hash and never change.
type Evidence struct {
	ID             string                 `json:"id"`
	TransactionID  string                 `json:"transactionId"`
	Timestamp      time.Time              `json:"timestamp"`
	Type           EvidenceType           `json:"evidenceType"`
	Description    string                 `json:"description"`
	Payload        map[string]interface{} `json:"payload"`
	Hash           string                 `json:"hash"`
	ChainOfCustody []ChainOfCustodyEntry  `json:"chainOfCustody"`
	Metadata       EvidenceMetadata       `json:"metadata"`
}

type evidenceCanonical struct {
	ID            string                 `json:"id"`
	TransactionID string                 `json:"transactionId"`
	Timestamp     string                 `json:"timestamp"`
	EvidenceType  EvidenceType           `json:"evidenceType"`
	Description   string                 `json:"description"`
	Payload       map[string]interface{} `json:"payload"`
}

type custodyCanonical struct {
	Previous    string        `json:"previous"`
	Timestamp   string        `json:"timestamp"`
	Action      CustodyAction `json:"action"`
	Actor       string        `json:"actor"`
	Description string        `json:"description"`
}

// NewEvidenceParams describes a record to be created.
type NewEvidenceParams struct {
	TransactionID string
	Type          EvidenceType
	Description   string
	Payload       interface{}
	Investigator  string
	CaseID        string
	Priority      Priority
	Tags          []string
}

// NewEvidence builds an evidence record with its hash and the initial
// "created" custody entry already in place.
func NewEvidence(p NewEvidenceParams, now time.Time) (Evidence, error) {
	payload, err := NormalizePayload(p.Payload)
	if err != nil {
		return Evidence{}, fmt.Errorf("normalize payload: %w", err)
	}
	actor := p.Investigator
	if actor == "" {
		actor = "system"
	}
	priority := p.Priority
	if priority == "" {
		priority = PriorityMedium
	}

	e := Evidence{
		ID:            NewID("evidence"),
		TransactionID: p.TransactionID,
		Timestamp:     Stamp(now),
		Type:          p.Type,
		Description:   p.Description,
		Payload:       payload,
		Metadata: EvidenceMetadata{
			CaseID:       p.CaseID,
			Investigator: p.Investigator,
			Priority:     priority,
			Tags:         p.Tags,
		},
	}
	if e.Hash, err = e.ComputeHash(); err != nil {
		return Evidence{}, err
	}
	if err := e.AppendCustody(CustodyCreated, actor, "evidence record created", now); err != nil {
		return Evidence{}, err
	}
	return e, nil
}

// ComputeHash returns the SHA-256 over the canonical fields.
func (e *Evidence) ComputeHash() (string, error) {
	return hashJSON(evidenceCanonical{
		ID:            e.ID,
		TransactionID: e.TransactionID,
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
		EvidenceType:  e.Type,
		Description:   e.Description,
		Payload:       e.Payload,
	})
}

// VerifyIntegrity recomputes the hash and compares it with the stored one.
func (e *Evidence) VerifyIntegrity() bool {
	h, err := e.ComputeHash()
	return err == nil && h == e.Hash
}

// AppendCustody chains a new custody entry onto the record.
func (e *Evidence) AppendCustody(action CustodyAction, actor, description string, now time.Time) error {
	prev := e.Hash
	if n := len(e.ChainOfCustody); n > 0 {
		prev = e.ChainOfCustody[n-1].Hash
	}
	entry := ChainOfCustodyEntry{
		Timestamp:   Stamp(now),
		Action:      action,
		Actor:       actor,
		Description: description,
	}
	h, err := custodyHash(prev, entry)
	if err != nil {
		return err
	}
	entry.Hash = h
	e.ChainOfCustody = append(e.ChainOfCustody, entry)
	return nil
}

// CustodyReport is the result of walking a custody chain.
type CustodyReport struct {
	Valid       bool   `json:"valid"`
	Entries     int    `json:"entries"`
	BrokenIndex int    `json:"brokenIndex"` // -1 when valid
	Reason      string `json:"reason,omitempty"`
}

// VerifyCustody walks the custody chain and reports the first broken link.
func (e *Evidence) VerifyCustody() CustodyReport {
	r := CustodyReport{Valid: true, Entries: len(e.ChainOfCustody), BrokenIndex: -1}
	fail := func(i int, reason string) CustodyReport {
		r.Valid, r.BrokenIndex, r.Reason = false, i, reason
		return r
	}
	if len(e.ChainOfCustody) == 0 {
		return fail(0, "custody chain is empty")
	}
	if e.ChainOfCustody[0].Action != CustodyCreated {
		return fail(0, "first custody entry is not created")
	}
	prev := e.Hash
	for i, entry := range e.ChainOfCustody {
		h, err := custodyHash(prev, entry)
		if err != nil || h != entry.Hash {
			return fail(i, "custody hash mismatch")
		}
		if i > 0 && entry.Timestamp.Before(e.ChainOfCustody[i-1].Timestamp) {
			return fail(i, "custody entries out of order")
		}
		prev = entry.Hash
	}
	return r
}

// Clone returns a deep copy safe to hand to callers outside the ledger lock.
func (e Evidence) Clone() Evidence {
	out := e
	out.ChainOfCustody = append([]ChainOfCustodyEntry(nil), e.ChainOfCustody...)
	out.Metadata.Tags = append([]string(nil), e.Metadata.Tags...)
	return out
}

func custodyHash(prev string, entry ChainOfCustodyEntry) (string, error) {
	return hashJSON(custodyCanonical{
		Previous:    prev,
		Timestamp:   entry.Timestamp.UTC().Format(time.RFC3339Nano),
		Action:      entry.Action,
		Actor:       entry.Actor,
		Description: entry.Description,
	})
}

// NormalizePayload converts an arbitrary value into the generic JSON form it
// takes after a storage round trip, so hashes survive persistence.
func NormalizePayload(v interface{}) (map[string]interface{}, error) {
	if v == nil {
		return map[string]interface{}{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return DecodePayload(raw)
}

// DecodePayload decodes stored JSON keeping numbers as json.Number.
func DecodePayload(raw []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return out, nil
}

func hashJSON(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical encode: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
