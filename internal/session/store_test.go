package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func defaultAccumCfg() AccumulationConfig {
	return AccumulationConfig{Enabled: true, Method: "additive_decay", DecayRate: 0.1, WindowMinutes: 30}
}

func defaultTaintCfg() TaintConfig {
	return CompileTaintConfig(
		[]string{"resume", "upload", "external", "/shared/", "attachment"},
		[]string{"/private/", "/real/", "_conf_", "system", "internal"},
		"green",
	)
}

func TestAppendToolCall_RecordsHistory(t *testing.T) {
	s := NewStore(defaultAccumCfg(), defaultTaintCfg())
	s.AppendToolCall("s1", "read_file", map[string]any{"filename": "public.txt"})
	hist := s.History("s1")
	assert.Len(t, hist, 1)
	assert.Equal(t, "read_file", hist[0].Tool)
}

func TestUpdateTaint_LatchesRedAndStaysLatched(t *testing.T) {
	s := NewStore(defaultAccumCfg(), defaultTaintCfg())
	assert.False(t, s.IsTainted("s1"))

	s.UpdateTaint("s1", "uploads/candidate_resume.txt")
	assert.True(t, s.IsTainted("s1"))
	assert.Equal(t, "uploads/candidate_resume.txt", s.TaintSource("s1"))

	// a subsequent trusted-looking source must not clear it
	s.UpdateTaint("s1", "/private/internal_notes.txt")
	assert.True(t, s.IsTainted("s1"))
	assert.Equal(t, "uploads/candidate_resume.txt", s.TaintSource("s1"))
}

func TestUpdateTaint_TrustedSourceStaysGreen(t *testing.T) {
	s := NewStore(defaultAccumCfg(), defaultTaintCfg())
	s.UpdateTaint("s1", "/private/real/report.txt")
	assert.False(t, s.IsTainted("s1"))
}

func TestAccumulateRisk_AddsWithoutDecayOnFirstCall(t *testing.T) {
	s := NewStore(defaultAccumCfg(), defaultTaintCfg())
	risk := s.AccumulateRisk("s1", 0.25)
	assert.InDelta(t, 0.25, risk, 1e-9)
}

func TestAccumulateRisk_TenCallsCrossThreshold(t *testing.T) {
	s := NewStore(defaultAccumCfg(), defaultTaintCfg())
	var risk float64
	for i := 0; i < 10; i++ {
		risk = s.AccumulateRisk("s1", 0.25)
	}
	assert.InDelta(t, 2.5, risk, 0.05)
	assert.Greater(t, risk, 2.0)
}

func TestAccumulateRisk_NeverGoesNegative(t *testing.T) {
	s := NewStore(defaultAccumCfg(), defaultTaintCfg())
	s.AccumulateRisk("s1", -5.0)
	assert.GreaterOrEqual(t, s.GetAccumulatedRisk("s1"), 0.0)
}

func TestGetAccumulatedRisk_DecaysAcrossSimulatedTime(t *testing.T) {
	s := NewStore(defaultAccumCfg(), defaultTaintCfg())
	s.AccumulateRisk("s1", 2.5)

	// backdate last_risk_update by 30 minutes to simulate elapsed decay
	l := s.lockFor("s1")
	l.Lock()
	sess := s.sessions["s1"]
	sess.LastRiskUpdate = time.Now().UTC().Add(-30 * time.Minute)
	l.Unlock()

	decayed := s.GetAccumulatedRisk("s1")
	assert.Less(t, decayed, 2.0)
}

func TestAccumulateRisk_WindowedSumPrunesOldEntries(t *testing.T) {
	cfg := AccumulationConfig{Enabled: true, Method: "windowed_sum", WindowMinutes: 10}
	s := NewStore(cfg, defaultTaintCfg())
	s.AccumulateRisk("s1", 0.5)

	l := s.lockFor("s1")
	l.Lock()
	sess := s.sessions["s1"]
	sess.RiskHistory[0].Timestamp = time.Now().UTC().Add(-20 * time.Minute)
	l.Unlock()

	risk := s.GetAccumulatedRisk("s1")
	assert.Equal(t, 0.0, risk)
}

func TestDifferentSessionsAreIndependent(t *testing.T) {
	s := NewStore(defaultAccumCfg(), defaultTaintCfg())
	s.AccumulateRisk("s1", 0.9)
	s.UpdateTaint("s1", "uploads/resume.pdf")

	assert.Equal(t, 0.0, s.GetAccumulatedRisk("s2"))
	assert.False(t, s.IsTainted("s2"))
}
