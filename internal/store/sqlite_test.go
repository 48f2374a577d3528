package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specup-ai/specup/internal/errors"
)

func openTestStore(t *testing.T) *SQLitePassageStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "passages.db")
	s, err := OpenSQLitePassageStore(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testPassages() []*Passage {
	return []*Passage{
		{
			ID:     "p-001",
			Text:   "명성 5만 이상이면 이내 심연 던전에 입장할 수 있다",
			Source: "official",
			URL:    "https://df.example.com/guide/1",
			Metadata: map[string]string{
				MetaKeyTitle:     "심연 던전 입장 가이드",
				MetaKeyClassName: "버서커",
				MetaKeyFame:      "50000",
				MetaKeyViews:     "12000",
			},
		},
		{
			ID:          "p-002",
			Text:        "버서커 스킬 트리 추천",
			Source:      "arca",
			PublishedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			Metadata:    map[string]string{MetaKeyClassName: "버서커"},
		},
		{
			ID:     "p-003",
			Text:   "레이드 파티 구성 팁",
			Source: "dc",
		},
	}
}

func TestSQLitePassageStore_SaveAndFetch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePassages(ctx, testPassages()))

	got, err := s.FetchByID(ctx, "p-001")
	require.NoError(t, err)
	assert.Equal(t, "official", got.Source)
	assert.Equal(t, "버서커", got.Metadata[MetaKeyClassName])
	assert.Equal(t, "50000", got.Metadata[MetaKeyFame])

	got, err = s.FetchByID(ctx, "p-002")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), got.PublishedAt)
}

func TestSQLitePassageStore_FetchByID_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.FetchByID(context.Background(), "missing")
	assert.ErrorIs(t, err, errors.ErrPassageNotFound)
}

func TestSQLitePassageStore_FetchByIDs_PreservesOrderSkipsMissing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SavePassages(ctx, testPassages()))

	got, err := s.FetchByIDs(ctx, []string{"p-003", "missing", "p-001"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p-003", got[0].ID)
	assert.Equal(t, "p-001", got[1].ID)
}

func TestSQLitePassageStore_FetchByIDs_Empty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.FetchByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLitePassageStore_IterateAll_IDOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SavePassages(ctx, testPassages()))

	var ids []string
	err := s.IterateAll(ctx, func(p *Passage) error {
		ids = append(ids, p.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"p-001", "p-002", "p-003"}, ids)
}

func TestSQLitePassageStore_Count(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.SavePassages(ctx, testPassages()))

	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSQLitePassageStore_CorpusVersion_ChangesOnWrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v0, err := s.CorpusVersion(ctx)
	require.NoError(t, err)
	assert.Empty(t, v0) // never indexed

	require.NoError(t, s.SavePassages(ctx, testPassages()))
	v1, err := s.CorpusVersion(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, v1)

	// Updating a passage changes the fingerprint.
	updated := testPassages()
	updated[0].Text = "명성 요구치가 5만 5천으로 상향되었다"
	require.NoError(t, s.SavePassages(ctx, updated))
	v2, err := s.CorpusVersion(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	// Re-saving identical content keeps it stable.
	require.NoError(t, s.SavePassages(ctx, updated))
	v3, err := s.CorpusVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, v2, v3)
}

func TestSQLitePassageStore_UpsertReplacesExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SavePassages(ctx, testPassages()))

	require.NoError(t, s.SavePassages(ctx, []*Passage{{
		ID:     "p-003",
		Text:   "레이드 파티 구성 개정판",
		Source: "official",
	}}))

	got, err := s.FetchByID(ctx, "p-003")
	require.NoError(t, err)
	assert.Equal(t, "레이드 파티 구성 개정판", got.Text)
	assert.Equal(t, "official", got.Source)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSQLitePassageStore_Embeddings_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SavePassages(ctx, testPassages()))

	require.NoError(t, s.SaveEmbedding(ctx, "p-001", "test-model", []float32{0.1, -0.5, 0.9}))
	require.NoError(t, s.SaveEmbedding(ctx, "p-002", "test-model", []float32{0.0, 1.0, 0.0}))

	got := make(map[string][]float32)
	err := s.IterateEmbeddings(ctx, func(id string, vector []float32) error {
		got[id] = vector
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDeltaSlice(t, []float32{0.1, -0.5, 0.9}, got["p-001"], 1e-6)
	assert.InDeltaSlice(t, []float32{0.0, 1.0, 0.0}, got["p-002"], 1e-6)
}

func TestSQLitePassageStore_State_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v, err := s.GetState(ctx, StateKeyEmbeddingModel)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetState(ctx, StateKeyEmbeddingModel, "bge-m3"))
	v, err = s.GetState(ctx, StateKeyEmbeddingModel)
	require.NoError(t, err)
	assert.Equal(t, "bge-m3", v)
}

func TestSQLitePassageStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passages.db")
	ctx := context.Background()

	s, err := OpenSQLitePassageStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.SavePassages(ctx, testPassages()))
	require.NoError(t, s.Close())

	s2, err := OpenSQLitePassageStore(path, nil)
	require.NoError(t, err)
	defer s2.Close()

	n, err := s2.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
