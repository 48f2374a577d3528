package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specup-ai/specup/internal/search"
)

type fakeRetriever struct {
	lastQuery   string
	lastFilters search.Filters
	err         error
}

func (f *fakeRetriever) Search(_ context.Context, query string, filters search.Filters) (*search.EvidenceSet, error) {
	f.lastQuery = query
	f.lastFilters = filters
	if f.err != nil {
		return nil, f.err
	}
	return &search.EvidenceSet{
		Entries: []search.Evidence{{Key: "p-001", Text: "심연 던전", Origins: []search.Origin{search.OriginLexical}}},
	}, nil
}

func TestServeLoop_AnswersOneLinePerRequest(t *testing.T) {
	engine := &fakeRetriever{}
	in := strings.NewReader(
		`{"query": "명성 5만 던전", "class_name": "버서커", "fame": 50000}` + "\n" +
			`{"query": "레이드 보상"}` + "\n")
	var out bytes.Buffer

	require.NoError(t, serveLoop(context.Background(), in, &out, engine))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	var resp serveResponse
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &resp))
	require.NotNil(t, resp.Result)
	assert.Empty(t, resp.Error)
	assert.Equal(t, "p-001", resp.Result.Entries[0].Key)

	assert.Equal(t, "레이드 보상", engine.lastQuery)
	assert.Equal(t, search.Filters{}, engine.lastFilters)
}

func TestServeLoop_ReportsEngineErrors(t *testing.T) {
	engine := &fakeRetriever{err: fmt.Errorf("store offline")}
	in := strings.NewReader(`{"query": "던전"}` + "\n")
	var out bytes.Buffer

	require.NoError(t, serveLoop(context.Background(), in, &out, engine))

	var resp serveResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Contains(t, resp.Error, "store offline")
	assert.Nil(t, resp.Result)
}

func TestServeLoop_RejectsMalformedLines(t *testing.T) {
	engine := &fakeRetriever{}
	in := strings.NewReader("not json\n\n" + `{"query": "던전"}` + "\n")
	var out bytes.Buffer

	require.NoError(t, serveLoop(context.Background(), in, &out, engine))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "bad request")
	assert.Equal(t, "던전", engine.lastQuery)
}
