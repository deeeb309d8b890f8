package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/audit-reports/internal/entity"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AUDIT_CONFIG", "")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_URL", "file:"+filepath.Join(dir, "cli.db"))
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, logLevel, jsonOutput = "", "", false
	exportOut, exportPublish, exportPrefix = "", false, ""
	kwLimit, kwOffset, importFmt = 50, 0, ""
	extractStrategy, extractCompare, extractShowText = "", false, false

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKeywordImportAndList(t *testing.T) {
	dir := setupEnv(t)
	sheet := filepath.Join(dir, "taxonomy.csv")
	require.NoError(t, os.WriteFile(sheet, []byte("canonical_keyword,slug,variation\nMedicaid,medicaid,medical assistance\n"), 0o644))

	out, err := run(t, "keywords", "import", sheet)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 row(s)")

	out, err = run(t, "--json", "keywords", "list")
	require.NoError(t, err)
	var list []entity.CanonicalKeyword
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Medicaid", list[0].Label)

	out, err = run(t, "keywords", "unmatched")
	require.NoError(t, err)
	assert.Contains(t, out, "0 of 0 unmatched")

	_, err = run(t, "keywords", "map", "not-a-uuid", "--new", "x")
	assert.Error(t, err)
}

func TestQueueStatusAndExport(t *testing.T) {
	dir := setupEnv(t)

	out, err := run(t, "queue", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "discovered")
	assert.Contains(t, out, "relevant_pending_review")

	_, err = run(t, "queue", "classify", "nope")
	assert.Error(t, err)

	_, err = run(t, "export")
	assert.ErrorContains(t, err, "--out or --publish")

	path := filepath.Join(dir, "out.xlsx")
	out, err = run(t, "export", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 0 report(s)")

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Reports", "Costs", "Keywords"}, f.GetSheetList())

	_, err = run(t, "export", "--publish")
	assert.ErrorContains(t, err, "not configured")
}

func TestDBHealthAndExtract(t *testing.T) {
	dir := setupEnv(t)

	out, err := run(t, "dbhealth")
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite database is healthy")

	notPDF := filepath.Join(dir, "notes.pdf")
	require.NoError(t, os.WriteFile(notPDF, []byte("plain text"), 0o644))
	_, err = run(t, "extract", notPDF, "--strategy", "structured-fast")
	assert.Error(t, err)

	_, err = run(t, "extract", notPDF, "--strategy", "bogus")
	assert.ErrorContains(t, err, "unknown strategy")
}
