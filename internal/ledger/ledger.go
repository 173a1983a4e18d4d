// Package ledger implements the forensic ledger: an append-only,
// hash-chained JSONL audit trail of every routing decision the gateway
// makes.
package ledger

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// GenesisHash is the previous_hash value of the first entry in a fresh ledger.
// GenesisHash is 64 hex zero characters, the previous_hash of the first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one forensic ledger record.
type Entry struct {
	EventID           string  `json:"event_id"`
	Timestamp         string  `json:"timestamp"`
	SessionID         string  `json:"session_id"`
	EventType         string  `json:"event_type"`
	Trigger           string  `json:"trigger"`
	Action            string  `json:"action"`
	Outcome           Outcome `json:"outcome"`
	AccumulatedRisk   float64 `json:"accumulated_risk"`
	RiskHistoryLength int     `json:"risk_history_length"`
	PreviousHash      string  `json:"previous_hash"`
	Hash              string  `json:"hash"`
}

// Outcome carries the routed disposition and free-form reason for an entry.
type Outcome struct {
	RoutedTo string `json:"routed_to"`
	Reason   string `json:"reason,omitempty"`
	RuleID   string `json:"rule_id,omitempty"`
}

// Ledger is a single-writer, fsync'd, hash-chained append log.
type Ledger struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	lastHash string
	logger   *slog.Logger
}

// Open opens (creating if necessary) the ledger file at path and recovers
// last_hash from its final line. A missing or empty file starts a fresh
// chain at GenesisHash.
func Open(path string) (*Ledger, error) {
	lastHash, err := recoverLastHash(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: recover last hash: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}

	l := &Ledger{
		file:     f,
		writer:   bufio.NewWriter(f),
		lastHash: lastHash,
		logger:   slog.Default().With("component", "ledger"),
	}
	l.logger.Info("ledger opened", "path", path, "last_hash", lastHash)
	return l, nil
}

func recoverLastHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return GenesisHash, nil
		}
		return "", err
	}
	defer f.Close()

	var lastLine string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			lastLine = line
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if lastLine == "" {
		return GenesisHash, nil
	}

	var entry Entry
	if err := json.Unmarshal([]byte(lastLine), &entry); err != nil {
		return "", fmt.Errorf("ledger: corrupt final line: %w", err)
	}
	return entry.Hash, nil
}

// LogEvent appends one hash-chained entry. Write failures are logged and
// swallowed — per the error-handling design, availability takes priority
// over audit completeness, and the caller never retries.
func (l *Ledger) LogEvent(sessionID, eventType, trigger, action string, outcome Outcome, accumulatedRisk float64, riskHistoryLength int) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		EventID:           uuid.NewString(),
		Timestamp:         time.Now().UTC().Format(time.RFC3339Nano),
		SessionID:         sessionID,
		EventType:         eventType,
		Trigger:           trigger,
		Action:            action,
		Outcome:           outcome,
		AccumulatedRisk:   accumulatedRisk,
		RiskHistoryLength: riskHistoryLength,
		PreviousHash:      l.lastHash,
	}

	canonical, err := canonicalJSON(entry)
	if err != nil {
		l.logger.Error("ledger: canonicalize entry failed", "error", err)
		return ""
	}
	sum := sha256.Sum256(append(canonical, []byte(entry.PreviousHash)...))
	entry.Hash = hex.EncodeToString(sum[:])

	line, err := json.Marshal(entry)
	if err != nil {
		l.logger.Error("ledger: marshal entry failed", "error", err)
		return ""
	}
	line = append(line, '\n')

	if _, err := l.writer.Write(line); err != nil {
		l.logger.Error("ledger: write failed", "error", err)
		return ""
	}
	if err := l.writer.Flush(); err != nil {
		l.logger.Error("ledger: flush failed", "error", err)
		return ""
	}
	if err := l.file.Sync(); err != nil {
		l.logger.Error("ledger: fsync failed", "error", err)
		return ""
	}

	l.lastHash = entry.Hash
	return entry.EventID
}

// LastHash returns the current chain tip.
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHash
}

// Close flushes and closes the underlying file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}

// canonicalJSON renders an Entry (minus its own Hash field) as JSON with
// sorted keys and no insignificant whitespace, matching the spec's
// canonical_json contract.
func canonicalJSON(e Entry) ([]byte, error) {
	core := map[string]any{
		"event_id":            e.EventID,
		"timestamp":           e.Timestamp,
		"session_id":          e.SessionID,
		"event_type":          e.EventType,
		"trigger":             e.Trigger,
		"action":              e.Action,
		"outcome":             e.Outcome,
		"accumulated_risk":    e.AccumulatedRisk,
		"risk_history_length": e.RiskHistoryLength,
		"previous_hash":       e.PreviousHash,
	}
	return marshalSorted(core)
}

// marshalSorted marshals a map with its keys sorted, recursively, so the
// byte representation is stable regardless of Go's randomized map
// iteration order.
func marshalSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf []byte
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case Outcome:
		m := map[string]any{"routed_to": val.RoutedTo}
		if val.Reason != "" {
			m["reason"] = val.Reason
		}
		if val.RuleID != "" {
			m["rule_id"] = val.RuleID
		}
		return marshalSorted(m)
	default:
		return json.Marshal(val)
	}
}

// VerifyChain checks that every entry after the first correctly references
// the previous one's hash and that every hash is correctly computed. It is
// used by tests and by an operator-facing integrity check, not by the hot
// path.
func VerifyChain(entries []Entry) error {
	prev := GenesisHash
	for i, e := range entries {
		if e.PreviousHash != prev {
			return fmt.Errorf("entry %d: previous_hash mismatch: got %s want %s", i, e.PreviousHash, prev)
		}
		canonical, err := canonicalJSON(e)
		if err != nil {
			return fmt.Errorf("entry %d: canonicalize: %w", i, err)
		}
		sum := sha256.Sum256(append(canonical, []byte(e.PreviousHash)...))
		want := hex.EncodeToString(sum[:])
		if e.Hash != want {
			return fmt.Errorf("entry %d: hash mismatch: got %s want %s", i, e.Hash, want)
		}
		prev = e.Hash
	}
	return nil
}
