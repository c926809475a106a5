package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/kasuganosora/questledger/game/quest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := "database:\n  mode: sqlite\n  sqlite_path: " + filepath.Join(dir, "ledger.db") + "\n" +
		"ledger:\n  backend: db\n  snapshot_keep: 3\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func readStats(t *testing.T, cfgPath string) stats {
	t.Helper()
	out, err := run(t, cfgPath, "stats")
	require.NoError(t, err)
	var st stats
	require.NoError(t, json.Unmarshal([]byte(out), &st), out)
	return st
}

func sampleDocument(t *testing.T) string {
	t.Helper()
	s := quest.NewStore(nil, quest.Config{}, zap.NewNop())
	s.StartQuest(1, "Alpha")
	s.CollectReward(1, "", quest.Reward{Type: quest.RewardXP, Value: "300"})
	s.CompleteQuest(1, "")
	s.FailQuest(2, "Beta")
	return s.ExportAllProgress()
}

func TestCLI_ImportExportStatsReset(t *testing.T) {
	cfgPath := writeConfig(t)
	dir := t.TempDir()
	doc := sampleDocument(t)
	in := filepath.Join(dir, "in.json")
	require.NoError(t, os.WriteFile(in, []byte(doc), 0o644))

	out, err := run(t, cfgPath, "import", in)
	require.NoError(t, err)
	assert.Contains(t, out, "replaced progress from")

	st := readStats(t, cfgPath)
	assert.Equal(t, 2, st.Quests)
	assert.Equal(t, 1, st.Counts[quest.StatusCompleted])
	assert.Equal(t, 1, st.Counts[quest.StatusFailed])
	assert.Equal(t, float64(300), st.TotalRewards.XP)
	assert.False(t, st.LedgerDrift)

	exported := filepath.Join(dir, "out.json")
	_, err = run(t, cfgPath, "export", exported)
	require.NoError(t, err)
	got, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Equal(t, doc, string(got))

	out, err = run(t, cfgPath, "reset", "--quest", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "reset quest 1")
	st = readStats(t, cfgPath)
	assert.Equal(t, 1, st.Quests)
	assert.True(t, st.LedgerDrift, "resetting one quest keeps its rewards in the ledger")

	out, err = run(t, cfgPath, "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "reset all progress")
	st = readStats(t, cfgPath)
	assert.Zero(t, st.Quests)
	assert.Zero(t, st.Events)
}

func TestCLI_ImportMerge(t *testing.T) {
	cfgPath := writeConfig(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "in.json")
	require.NoError(t, os.WriteFile(in, []byte(sampleDocument(t)), 0o644))

	_, err := run(t, cfgPath, "import", in)
	require.NoError(t, err)
	out, err := run(t, cfgPath, "import", "--merge", in)
	require.NoError(t, err)
	assert.Contains(t, out, "merged progress from")

	st := readStats(t, cfgPath)
	assert.Equal(t, 2, st.Quests)
	assert.Equal(t, float64(300), st.TotalRewards.XP, "merging the same document does not double rewards")
}

func TestCLI_ImportRejectsMalformed(t *testing.T) {
	cfgPath := writeConfig(t)
	in := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(in, []byte(`{"version":1}`), 0o644))

	_, err := run(t, cfgPath, "import", in)
	require.Error(t, err)
	assert.ErrorIs(t, err, quest.ErrMalformedDocument)

	_, err = run(t, cfgPath, "import", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestCLI_ExportStdout(t *testing.T) {
	cfgPath := writeConfig(t)
	out, err := run(t, cfgPath, "export", "--stdout")
	require.NoError(t, err)
	_, err = quest.ParseDocument(out)
	assert.NoError(t, err)
}

func TestLedgerDrift(t *testing.T) {
	base := quest.RewardLedger{XP: 10, Items: []string{"Map", "Key"}, Perks: []string{}}

	same := quest.RewardLedger{XP: 10, Items: []string{"Key", "Map"}}
	assert.False(t, ledgerDrift(base, same), "order and nil vs empty do not count")

	swapped := quest.RewardLedger{XP: 10, Items: []string{"Map", "Rope"}}
	assert.True(t, ledgerDrift(base, swapped), "same size, different members")

	assert.True(t, ledgerDrift(base, quest.RewardLedger{XP: 11, Items: []string{"Map", "Key"}}))
	assert.True(t, ledgerDrift(base, quest.RewardLedger{XP: 10, Items: []string{"Map", "Key"}, Perks: []string{"Lucky"}}))
}
