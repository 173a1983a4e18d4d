// Package session holds per-session state: tool-call history, the
// time-decayed risk accumulator, and the monotonic taint flag. One Store
// owns all sessions for the process lifetime; per-session mutation is
// serialized via a map of session_id to mutex.
package session

import (
	"math"
	"regexp"
	"strings"
	"sync"
	"time"
)

// TaintState is a session's current trust classification. The zero value
// is Green.
type TaintState int

const (
	// Green means the session has not read anything untrusted.
	Green TaintState = iota
	// Red means the session has latched untrusted; this is permanent.
	Red
)

func (t TaintState) String() string {
	if t == Red {
		return "RED"
	}
	return "GREEN"
}

// HistoryEntry records one tool invocation.
type HistoryEntry struct {
	Tool      string
	Args      map[string]any
	Timestamp time.Time
}

// RiskEvent records one risk-judge score with the time it was added.
type RiskEvent struct {
	RiskScore float64
	Timestamp time.Time
}

// Session is the full per-session state described by the data model.
type Session struct {
	SessionID       string
	CreatedAt       time.Time
	History         []HistoryEntry
	RiskHistory     []RiskEvent
	AccumulatedRisk float64
	LastRiskUpdate  time.Time
	TaintState      TaintState
	TaintSource     string
}

// AccumulationConfig is the §4.4 risk-decay configuration.
type AccumulationConfig struct {
	Enabled       bool
	Method        string // "additive_decay" or "windowed_sum"
	DecayRate     float64
	WindowMinutes int
}

// TaintConfig is the §4.5 classification configuration.
type TaintConfig struct {
	UntrustedPatterns []*regexp.Regexp
	TrustedPatterns   []*regexp.Regexp
	DefaultTrust      TaintState
}

// CompileTaintConfig compiles the raw string pattern lists from
// configuration into a TaintConfig.
func CompileTaintConfig(untrusted, trusted []string, defaultTrust string) TaintConfig {
	cfg := TaintConfig{DefaultTrust: Green}
	if strings.EqualFold(defaultTrust, "red") {
		cfg.DefaultTrust = Red
	}
	for _, p := range untrusted {
		cfg.UntrustedPatterns = append(cfg.UntrustedPatterns, regexp.MustCompile(p))
	}
	for _, p := range trusted {
		cfg.TrustedPatterns = append(cfg.TrustedPatterns, regexp.MustCompile(p))
	}
	return cfg
}

// Classify applies the §4.5 classification order to a lowercased source
// string: untrusted patterns first, then trusted patterns, then default.
func (c TaintConfig) Classify(source string) TaintState {
	lower := strings.ToLower(source)
	for _, p := range c.UntrustedPatterns {
		if p.MatchString(lower) {
			return Red
		}
	}
	for _, p := range c.TrustedPatterns {
		if p.MatchString(lower) {
			return Green
		}
	}
	return c.DefaultTrust
}

// DefaultSessionID is the process-wide sentinel used when no session_id is
// supplied anywhere in the request.
const DefaultSessionID = "__default_session__"

// Store owns every session for the process lifetime, guarded by a map of
// per-session mutexes so concurrent interceptions on different sessions
// never block one another while same-session operations stay serialized.
type Store struct {
	mapMu    sync.Mutex
	locks    map[string]*sync.Mutex
	sessions map[string]*Session

	accumCfg AccumulationConfig
	taintCfg TaintConfig
}

// NewStore builds an empty Store with the given risk-accumulation and
// taint-classification configuration.
func NewStore(accumCfg AccumulationConfig, taintCfg TaintConfig) *Store {
	return &Store{
		locks:    make(map[string]*sync.Mutex),
		sessions: make(map[string]*Session),
		accumCfg: accumCfg,
		taintCfg: taintCfg,
	}
}

// lockFor returns the mutex for a session, creating both the mutex and the
// session entry on first use.
func (s *Store) lockFor(sessionID string) *sync.Mutex {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	if _, ok := s.sessions[sessionID]; !ok {
		s.sessions[sessionID] = &Session{
			SessionID:      sessionID,
			CreatedAt:      time.Now().UTC(),
			TaintState:     Green,
			LastRiskUpdate: time.Now().UTC(),
		}
	}
	return l
}

// AppendToolCall pushes a history entry with the current timestamp.
func (s *Store) AppendToolCall(sessionID, tool string, args map[string]any) {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	sess := s.sessions[sessionID]
	sess.History = append(sess.History, HistoryEntry{
		Tool:      tool,
		Args:      args,
		Timestamp: time.Now().UTC(),
	})
}

// UpdateTaint classifies source and, if it is untrusted and the session is
// still Green, latches the session Red. The transition is one-way for the
// life of the session.
func (s *Store) UpdateTaint(sessionID, source string) {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	sess := s.sessions[sessionID]
	if sess.TaintState == Red {
		return
	}
	if s.taintCfg.Classify(source) == Red {
		sess.TaintState = Red
		sess.TaintSource = source
	}
}

// IsTainted reports whether the session has latched Red.
func (s *Store) IsTainted(sessionID string) bool {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()
	return s.sessions[sessionID].TaintState == Red
}

// TaintSource returns the source that first tainted the session, if any.
func (s *Store) TaintSource(sessionID string) string {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()
	return s.sessions[sessionID].TaintSource
}

// applyDecay applies steps 1-3 of §4.4 to a session already under lock. It
// does not append a new event.
func (s *Store) applyDecay(sess *Session, now time.Time) {
	if !s.accumCfg.Enabled {
		return
	}

	switch s.accumCfg.Method {
	case "windowed_sum":
		windowStart := now.Add(-time.Duration(s.accumCfg.WindowMinutes) * time.Minute)
		kept := sess.RiskHistory[:0:0]
		var sum float64
		for _, e := range sess.RiskHistory {
			if e.Timestamp.After(windowStart) {
				kept = append(kept, e)
				sum += e.RiskScore
			}
		}
		sess.RiskHistory = kept
		sess.AccumulatedRisk = sum
	default: // "additive_decay"
		elapsedMinutes := now.Sub(sess.LastRiskUpdate).Minutes()
		if elapsedMinutes > 0 {
			sess.AccumulatedRisk *= math.Exp(-s.accumCfg.DecayRate * elapsedMinutes)
		}
	}
}

// AccumulateRisk applies §4.4's decay-then-add procedure for one new risk
// event and returns the resulting accumulated risk.
func (s *Store) AccumulateRisk(sessionID string, eventRisk float64) float64 {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	sess := s.sessions[sessionID]
	now := time.Now().UTC()

	s.applyDecay(sess, now)

	sess.RiskHistory = append(sess.RiskHistory, RiskEvent{RiskScore: eventRisk, Timestamp: now})
	sess.AccumulatedRisk += eventRisk
	if sess.AccumulatedRisk < 0 {
		sess.AccumulatedRisk = 0
	}
	sess.LastRiskUpdate = now

	return sess.AccumulatedRisk
}

// GetAccumulatedRisk applies decay (without adding a new event) and
// returns the current value.
func (s *Store) GetAccumulatedRisk(sessionID string) float64 {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	sess := s.sessions[sessionID]
	s.applyDecay(sess, time.Now().UTC())
	return sess.AccumulatedRisk
}

// GetRiskHistory returns a copy of the session's risk history within the
// configured window (after applying decay/pruning).
func (s *Store) GetRiskHistory(sessionID string) []RiskEvent {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	sess := s.sessions[sessionID]
	s.applyDecay(sess, time.Now().UTC())

	out := make([]RiskEvent, len(sess.RiskHistory))
	copy(out, sess.RiskHistory)
	return out
}

// History returns a copy of the session's tool-call history.
func (s *Store) History(sessionID string) []HistoryEntry {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	sess := s.sessions[sessionID]
	out := make([]HistoryEntry, len(sess.History))
	copy(out, sess.History)
	return out
}
