package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/domain"
)

const testConfig = `embedding:
  provider: mock
  model: mock
  dimension: 64
index:
  backend: bolt
  path: index.db
  embedding:
    provider: mock
    model: mock
    dimension: 64
logging:
  level: error
`

func newWorkspace(t *testing.T) string {
	t.Helper()
	t.Setenv("PINECONE_TEXT_FIELD_MAP", "")
	t.Setenv("MNEMO_NAMESPACE", "")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mnemo.yaml"), []byte(testConfig), 0644))
	return dir
}

func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--dir", dir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_SaveAndRecall(t *testing.T) {
	dir := newWorkspace(t)

	out, err := run(t, dir, "save", "The sky is blue.", "--source", "test", "--json")
	require.NoError(t, err)
	var saved domain.SaveResult
	require.NoError(t, json.Unmarshal([]byte(out), &saved))
	require.True(t, saved.Success)

	out, err = run(t, dir, "recall", "-q", "what color is the sky", "-k", "1", "--json")
	require.NoError(t, err)
	var recalled domain.RecallResult
	require.NoError(t, json.Unmarshal([]byte(out), &recalled))
	require.Len(t, recalled.Matches, 1)
	assert.Equal(t, saved.RecordID, recalled.Matches[0].ID)
	assert.Equal(t, "The sky is blue.", recalled.Matches[0].Text)
	assert.Empty(t, recalled.Warning)

	out, err = run(t, dir, "recall", "-q", "sky", "--pack")
	require.NoError(t, err)
	assert.Equal(t, "Relevant memories:\n- The sky is blue. (source: test)\n", out)
}

func TestCLI_SaveFromStdin(t *testing.T) {
	dir := newWorkspace(t)

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader("Meeting moved to Friday\n"))
	cmd.SetArgs([]string{"--dir", dir, "save", "--id", "meeting", "--meta", "team=infra"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Memory saved successfully with ID: meeting.")

	out2, err := run(t, dir, "fetch", "meeting")
	require.NoError(t, err)
	var records []domain.MemoryRecord
	require.NoError(t, json.Unmarshal([]byte(out2), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "infra", records[0].Metadata["team"])
}

func TestCLI_SaveEmptyFails(t *testing.T) {
	dir := newWorkspace(t)
	out, err := run(t, dir, "save", "   ")
	assert.Error(t, err)
	assert.Contains(t, out, "Text to save cannot be empty.")
}

func TestCLI_RecallDegraded(t *testing.T) {
	dir := newWorkspace(t)

	_, err := run(t, dir, "recall", "-q", " ")
	assert.Error(t, err)

	_, err = run(t, dir, "recall", "-q", " ", "--pack")
	assert.Error(t, err, "packing does not hide a failed recall")

	out, err := run(t, dir, "recall", "-q", " ", "--pack", "--json")
	assert.Error(t, err)
	var packed domain.PackedContext
	require.NoError(t, json.Unmarshal([]byte(out), &packed), "the packed context is still printed")

	// An empty index is not a failure.
	out, err = run(t, dir, "recall", "-q", "anything", "--json")
	require.NoError(t, err)
	var recalled domain.RecallResult
	require.NoError(t, json.Unmarshal([]byte(out), &recalled))
	assert.Equal(t, domain.KindNoResults, recalled.Kind)
}

func TestCLI_FetchForgetList(t *testing.T) {
	dir := newWorkspace(t)

	_, err := run(t, dir, "save", "first memory", "--id", "one")
	require.NoError(t, err)
	_, err = run(t, dir, "save", "second memory", "--id", "two")
	require.NoError(t, err)

	out, err := run(t, dir, "list", "--json")
	require.NoError(t, err)
	var items []domain.CachedMemory
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 2)

	out, err = run(t, dir, "forget", "one")
	require.NoError(t, err)
	assert.Equal(t, "Deleted 1 memories.\n", out)

	_, err = run(t, dir, "fetch", "one")
	assert.Error(t, err)

	out, err = run(t, dir, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "second memory")
	assert.NotContains(t, out, "first memory")

	out, err = run(t, dir, "list", "--clear")
	require.NoError(t, err)
	assert.Equal(t, "Display cache cleared.\n", out)

	out, err = run(t, dir, "list")
	require.NoError(t, err)
	assert.Equal(t, "No memories saved yet.\n", out)

	// The index still holds the memory the cache forgot.
	_, err = run(t, dir, "fetch", "two")
	assert.NoError(t, err)
}

func TestCLI_ImportStatsHealth(t *testing.T) {
	dir := newWorkspace(t)

	out, err := run(t, dir, "health")
	require.NoError(t, err, "an empty index is healthy")
	assert.Contains(t, out, "Vector index reachable with 0 records.")

	notes := filepath.Join(dir, "notes")
	require.NoError(t, os.MkdirAll(notes, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(notes, "a.md"), []byte("alpha beta\n\ngamma delta"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(notes, "b.txt"), []byte("epsilon"), 0644))

	out, err = run(t, dir, "import", notes, "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "Documents: 2")

	out, err = run(t, dir, "stats")
	require.NoError(t, err)
	var stats domain.IndexStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.GreaterOrEqual(t, stats.TotalRecordCount, 2)
	assert.Equal(t, 64, stats.Dimension)

	out, err = run(t, dir, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Vector index reachable")

	out, err = run(t, dir, "bench", "-q", "alpha beta", "-k", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "QUALITY METRICS:")
}

func TestCLI_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mnemo.yaml"), []byte("index:\n  backend: nope\n"), 0644))
	_, err := run(t, dir, "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported index backend")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "<1s", formatDuration(0))
	assert.Equal(t, "42s", formatDuration(42e9))
	assert.Equal(t, "2m5s", formatDuration(125e9))
	assert.Equal(t, "1h1m", formatDuration(3660e9))
}
