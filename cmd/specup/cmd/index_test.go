package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specup-ai/specup/internal/store"
)

func writeImportFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "passages.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func openImportStore(t *testing.T) *store.SQLitePassageStore {
	t.Helper()
	s, err := store.OpenSQLitePassageStore(filepath.Join(t.TempDir(), "passages.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestImportPassages_LoadsJSONLines(t *testing.T) {
	path := writeImportFile(t,
		`{"id":"p-001","text":"심연 던전 입장 조건","source":"official","url":"https://df.nexon.com/guide","metadata":{"class_name":"버서커"}}`+"\n"+
			"\n"+ // blank lines are skipped
			`{"id":"p-002","text":"레이드 보상 정리","source":"dc"}`+"\n")
	s := openImportStore(t)

	n, err := importPassages(context.Background(), s, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	p, err := s.FetchByID(context.Background(), "p-001")
	require.NoError(t, err)
	assert.Equal(t, "버서커", p.Metadata[store.MetaKeyClassName])
	assert.Equal(t, "official", p.Source)
}

func TestImportPassages_RejectsMalformedLine(t *testing.T) {
	path := writeImportFile(t, `{"id":"p-001","text":"ok"}`+"\n"+"{broken\n")
	s := openImportStore(t)

	_, err := importPassages(context.Background(), s, path)
	require.Error(t, err)

	// Nothing is written when any line fails to parse.
	count, countErr := s.Count(context.Background())
	require.NoError(t, countErr)
	assert.Zero(t, count)
}

func TestImportPassages_RequiresIDAndText(t *testing.T) {
	path := writeImportFile(t, `{"id":"","text":"missing id"}`+"\n")
	s := openImportStore(t)

	_, err := importPassages(context.Background(), s, path)
	require.Error(t, err)
}

func TestImportPassages_MissingFile(t *testing.T) {
	s := openImportStore(t)
	_, err := importPassages(context.Background(), s, filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.Error(t, err)
}
