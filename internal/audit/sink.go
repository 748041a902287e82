// Package audit records security verdicts as tamper-evident evidence.
//
// Sinks accept one event per verdict after the response has already been
// returned. The default sink is a local append-only ledger in which every
// line carries the hash of the line before it.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
)

// Sink persists a security event and reports where it landed.
type Sink interface {
	LogSecurityEvent(ctx context.Context, agentAddress, eventType string, severity uint8, evidenceHash [32]byte) Receipt
}

// Receipt is the outcome of a single LogSecurityEvent call.
type Receipt struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Event is what the orchestrator hands to the dispatcher for one verdict.
type Event struct {
	RequestID  string
	AgentID    string
	Action     string
	RiskScore  float64
	Evidence   any
	PolicyHash string
	Prompt     string
}

// EventType maps a verdict action to its ledger event type.
func EventType(action string) string {
	return "security_" + action
}

// Severity converts a risk score in [0,1] to a 0..100 severity.
func Severity(risk float64) uint8 {
	if math.IsNaN(risk) || risk <= 0 {
		return 0
	}
	if risk >= 1 {
		return 100
	}
	return uint8(math.Round(risk * 100))
}

// EvidenceHash is the SHA-256 of the evidence's JSON encoding. Struct field
// order is fixed and map keys are sorted by encoding/json, so equal evidence
// always hashes the same.
func EvidenceHash(evidence any) [32]byte {
	data, err := json.Marshal(evidence)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", evidence))
	}
	return sha256.Sum256(data)
}
