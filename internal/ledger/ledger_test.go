package ledger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestLogEvent_GenesisChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := Open(path)
	require.NoError(t, err)

	id := l.LogEvent("s1", "tool_call", "read_file", "production", Outcome{RoutedTo: "production"}, 0.1, 1)
	assert.NotEmpty(t, id)
	require.NoError(t, l.Close())

	entries := readEntries(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, GenesisHash, entries[0].PreviousHash)
	assert.NoError(t, VerifyChain(entries))
}

func TestLogEvent_ChainLinksAcrossEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := Open(path)
	require.NoError(t, err)

	l.LogEvent("s1", "tool_call", "read_file", "production", Outcome{RoutedTo: "production"}, 0.1, 1)
	l.LogEvent("s1", "tool_call", "get_patient_record", "shadow", Outcome{RoutedTo: "shadow", RuleID: "taint_lockdown"}, 0.3, 2)
	require.NoError(t, l.Close())

	entries := readEntries(t, path)
	require.Len(t, entries, 2)
	assert.Equal(t, entries[0].Hash, entries[1].PreviousHash)
	assert.NoError(t, VerifyChain(entries))
}

func TestOpen_RecoversLastHashAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := Open(path)
	require.NoError(t, err)
	l.LogEvent("s1", "tool_call", "read_file", "production", Outcome{RoutedTo: "production"}, 0.1, 1)
	firstHash := l.LastHash()
	require.NoError(t, l.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, firstHash, l2.LastHash())

	l2.LogEvent("s1", "tool_call", "another", "deny", Outcome{RoutedTo: "deny"}, 0.1, 1)
	require.NoError(t, l2.Close())

	entries := readEntries(t, path)
	require.Len(t, entries, 2)
	assert.Equal(t, firstHash, entries[1].PreviousHash)
}

func TestOpen_MissingFileStartsAtGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.jsonl")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, GenesisHash, l.LastHash())
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := Open(path)
	require.NoError(t, err)
	l.LogEvent("s1", "tool_call", "read_file", "production", Outcome{RoutedTo: "production"}, 0.1, 1)
	l.LogEvent("s1", "tool_call", "read_file", "production", Outcome{RoutedTo: "production"}, 0.2, 2)
	require.NoError(t, l.Close())

	entries := readEntries(t, path)
	entries[1].AccumulatedRisk = 999.0 // tamper without recomputing hash

	assert.Error(t, VerifyChain(entries))
}
