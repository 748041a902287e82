package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gzhole/promptshield/internal/redact"
)

// GenesisHash is the prev_hash of the first record in a ledger.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// ExcerptLen bounds the redacted prompt stored with each record.
const ExcerptLen = 120

// maxLine bounds a single serialized record. Longer records are refused.
const maxLine = 1 << 20

// maxFieldLen bounds caller-supplied identifiers stored verbatim. Longer
// values are replaced by their digest.
const maxFieldLen = 256

// Record is one line of the ledger. Fields are plain values so that
// json.Marshal output, and therefore the chain, is reproducible.
type Record struct {
	EventID      string   `json:"event_id"`
	Timestamp    string   `json:"ts"`
	RequestID    string   `json:"request_id,omitempty"`
	Agent        string   `json:"agent"`
	EventType    string   `json:"event_type"`
	Severity     uint8    `json:"severity"`
	EvidenceHash string   `json:"evidence_hash"`
	PolicyHash   string   `json:"policy_hash,omitempty"`
	Excerpt      string   `json:"excerpt,omitempty"`
	Redactions   []string `json:"redactions,omitempty"`
	PrevHash     string   `json:"prev_hash"`
}

// Ledger is an append-only JSONL file chained by SHA-256.
type Ledger struct {
	mu       sync.Mutex
	file     *os.File
	prevHash string
	now      func() time.Time
}

// Open opens or creates the ledger at path. An existing chain is continued
// from its last line.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	prevHash, err := lastHash(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	return &Ledger{file: f, prevHash: prevHash, now: time.Now}, nil
}

func lastHash(path string) (string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("read ledger: %w", err)
	}
	defer f.Close()

	var last []byte
	err = eachLine(f, func(_ int, line []byte) error {
		last = append(last[:0], line...)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan ledger: %w", err)
	}
	if last == nil {
		return GenesisHash, nil
	}
	return HashLine(last), nil
}

// LogSecurityEvent implements Sink with the bare contract fields.
func (l *Ledger) LogSecurityEvent(_ context.Context, agentAddress, eventType string, severity uint8, evidenceHash [32]byte) Receipt {
	return l.append(Record{
		Agent:        boundField(agentAddress),
		EventType:    eventType,
		Severity:     severity,
		EvidenceHash: hex.EncodeToString(evidenceHash[:]),
	})
}

// Record appends a full event, including the policy hash, a redacted
// prompt excerpt, and the names of the secret rules that fired on the prompt.
func (l *Ledger) Record(_ context.Context, ev Event) Receipt {
	h := EvidenceHash(ev.Evidence)
	return l.append(Record{
		RequestID:    boundField(ev.RequestID),
		Agent:        boundField(ev.AgentID),
		EventType:    EventType(ev.Action),
		Severity:     Severity(ev.RiskScore),
		EvidenceHash: hex.EncodeToString(h[:]),
		PolicyHash:   ev.PolicyHash,
		Excerpt:      redact.Excerpt(ev.Prompt, ExcerptLen),
		Redactions:   redact.Matches(ev.Prompt),
	})
}

func (l *Ledger) append(rec Record) Receipt {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return Receipt{Error: "ledger closed"}
	}

	rec.EventID = uuid.NewString()
	rec.Timestamp = l.now().UTC().Format(time.RFC3339Nano)
	rec.PrevHash = l.prevHash

	line, err := json.Marshal(rec)
	if err != nil {
		return Receipt{Error: fmt.Sprintf("marshal record: %v", err)}
	}
	if len(line) > maxLine {
		return Receipt{Error: fmt.Sprintf("record too large: %d bytes", len(line))}
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return Receipt{Error: fmt.Sprintf("write record: %v", err)}
	}
	if err := l.file.Sync(); err != nil {
		return Receipt{Error: fmt.Sprintf("sync ledger: %v", err)}
	}

	l.prevHash = HashLine(line)
	return Receipt{Success: true, TxHash: l.prevHash}
}

// Close flushes and closes the file. Later appends fail with a receipt error.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// boundField keeps short values as-is and replaces long ones with
// "sha256:<hex>" so that a single request cannot bloat the ledger.
func boundField(v string) string {
	if len(v) <= maxFieldLen {
		return v
	}
	h := sha256.Sum256([]byte(v))
	return "sha256:" + hex.EncodeToString(h[:])
}

// HashLine returns the chain hash of one serialized record, without its
// trailing newline.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
