package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCanonicalizeCommand(t *testing.T) {
	out, err := run(t, "canonicalize", "--rules-yaml", "", "--rules-xlsx", "",
		"--category", "ER", "--design", "Solitaire", "--stone", "Round", "--metal", "14k White Gold", "--size", "6.5")
	require.NoError(t, err)
	assert.Equal(t, "er_sol_rou_14kw_6_5.3dm\n", out)

	_, err = run(t, "canonicalize", "--rules-yaml", "", "--rules-xlsx", "", "--metal", "Platinum")
	require.Error(t, err)
}

func TestMatchCommandWithCorpus(t *testing.T) {
	corpus := filepath.Join(t.TempDir(), "corpus.csv")
	require.NoError(t, os.WriteFile(corpus, []byte("Directory,Filename,Size\n/a,er_sol_rou_pt.3dm,10\n/b,wb_pt.3dm,5\n"), 0o644))

	out, err := run(t, "match", "er_sol_rou_pt.3dm", "--corpus", corpus, "--bucket", "")
	require.NoError(t, err)
	assert.Contains(t, out, "# mode: positional")
	assert.Contains(t, out, "er_sol_rou_pt.3dm")
}

func TestMatchCommandPlaceholder(t *testing.T) {
	out, err := run(t, "match", "er_pt.3dm", "--corpus", "", "--bucket", "")
	require.NoError(t, err)
	assert.Contains(t, out, "# mode: placeholder")
}

func TestRulesCheckCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metal:\n  - name: Palladium\n    code: pd\n"), 0o644))

	out, err := run(t, "rules", "check", "--rules-yaml", path, "--rules-xlsx", "")
	require.NoError(t, err)
	assert.Contains(t, out, "category")
	assert.Contains(t, out, "metal")
}

func TestReportCommandRejectsRange(t *testing.T) {
	_, err := run(t, "report", "--range", "yearly")
	require.Error(t, err)
}
