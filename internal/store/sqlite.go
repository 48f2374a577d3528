package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/specup-ai/specup/internal/errors"
)

// SQLitePassageStore persists the passage corpus, per-passage embeddings,
// and index state in a single SQLite database. WAL mode keeps concurrent
// readers cheap while the index CLI writes.
type SQLitePassageStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ PassageStore = (*SQLitePassageStore)(nil)

const passageSchema = `
CREATE TABLE IF NOT EXISTS passages (
	id           TEXT PRIMARY KEY,
	text         TEXT NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	url          TEXT NOT NULL DEFAULT '',
	published_at TEXT NOT NULL DEFAULT '',
	metadata     TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS embeddings (
	passage_id TEXT PRIMARY KEY REFERENCES passages(id) ON DELETE CASCADE,
	model      TEXT NOT NULL,
	dimensions INTEGER NOT NULL,
	vector     BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_passages_source ON passages(source);
`

// OpenSQLitePassageStore opens or creates the passage database at path and
// applies the schema. The store validates integrity on open so a corrupted
// database surfaces as a configuration error rather than garbage results.
func OpenSQLitePassageStore(path string, logger *slog.Logger) (*SQLitePassageStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("open passage store %s", path), err)
	}

	// SQLite serializes writes; a single connection avoids SQLITE_BUSY
	// churn under the WAL writer.
	db.SetMaxOpenConns(1)

	var integrity string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&integrity); err != nil {
		db.Close()
		return nil, errors.ConfigError("passage store integrity check", err)
	}
	if integrity != "ok" {
		db.Close()
		return nil, errors.ConfigError("passage store integrity check", fmt.Errorf("integrity check failed: %s", integrity))
	}

	if _, err := db.Exec(passageSchema); err != nil {
		db.Close()
		return nil, errors.ConfigError("apply passage store schema", err)
	}

	logger.Debug("passage_store_opened", "path", path)
	return &SQLitePassageStore{db: db, path: path, logger: logger}, nil
}

// Path returns the database file path the store was opened from.
func (s *SQLitePassageStore) Path() string { return s.path }

// FetchByID loads one passage. Returns errors.ErrPassageNotFound when the
// ID is unknown.
func (s *SQLitePassageStore) FetchByID(ctx context.Context, id string) (*Passage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, source, url, published_at, metadata FROM passages WHERE id = ?`, id)
	p, err := scanPassage(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("passage %s: %w", id, errors.ErrPassageNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch passage %s: %w", id, err)
	}
	return p, nil
}

// FetchByIDs loads passages in bulk, preserving the requested order.
// Unknown IDs are skipped rather than failing the batch.
func (s *SQLitePassageStore) FetchByIDs(ctx context.Context, ids []string) ([]*Passage, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, source, url, published_at, metadata FROM passages WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch passages: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Passage, len(ids))
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch passages: %w", err)
	}

	result := make([]*Passage, 0, len(byID))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

// IterateAll streams every passage to fn in ID order. Iteration stops on the
// first error fn returns.
func (s *SQLitePassageStore) IterateAll(ctx context.Context, fn func(*Passage) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, source, url, published_at, metadata FROM passages ORDER BY id`)
	if err != nil {
		return fmt.Errorf("iterate passages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := scanPassage(rows)
		if err != nil {
			return fmt.Errorf("scan passage: %w", err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count reports the number of stored passages.
func (s *SQLitePassageStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count passages: %w", err)
	}
	return n, nil
}

// CorpusVersion returns the stored corpus fingerprint, or "" when the corpus
// has never been indexed. The fingerprint changes whenever SavePassages
// commits new content, which invalidates version-keyed index caches.
func (s *SQLitePassageStore) CorpusVersion(ctx context.Context) (string, error) {
	version, err := s.GetState(ctx, StateKeyCorpusVersion)
	if err != nil {
		return "", err
	}
	return version, nil
}

// SavePassages upserts a batch of passages in one transaction and refreshes
// the corpus version fingerprint.
func (s *SQLitePassageStore) SavePassages(ctx context.Context, passages []*Passage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save passages: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO passages (id, text, source, url, published_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			source = excluded.source,
			url = excluded.url,
			published_at = excluded.published_at,
			metadata = excluded.metadata`)
	if err != nil {
		return fmt.Errorf("prepare save passages: %w", err)
	}
	defer stmt.Close()

	for _, p := range passages {
		meta, err := json.Marshal(p.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", p.ID, err)
		}
		published := ""
		if !p.PublishedAt.IsZero() {
			published = p.PublishedAt.UTC().Format(time.RFC3339)
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.Text, p.Source, p.URL, published, string(meta)); err != nil {
			return fmt.Errorf("save passage %s: %w", p.ID, err)
		}
	}

	version, err := computeCorpusVersion(ctx, tx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		StateKeyCorpusVersion, version); err != nil {
		return fmt.Errorf("save corpus version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save passages: %w", err)
	}

	s.logger.Info("passages_saved", "count", len(passages), "corpus_version", version)
	return nil
}

// SaveEmbedding stores the vector for one passage.
func (s *SQLitePassageStore) SaveEmbedding(ctx context.Context, passageID, model string, vector []float32) error {
	blob := encodeVector(vector)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (passage_id, model, dimensions, vector)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(passage_id) DO UPDATE SET
			model = excluded.model,
			dimensions = excluded.dimensions,
			vector = excluded.vector`,
		passageID, model, len(vector), blob)
	if err != nil {
		return fmt.Errorf("save embedding %s: %w", passageID, err)
	}
	return nil
}

// IterateEmbeddings streams every stored embedding to fn.
func (s *SQLitePassageStore) IterateEmbeddings(ctx context.Context, fn func(passageID string, vector []float32) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT passage_id, dimensions, vector FROM embeddings ORDER BY passage_id`)
	if err != nil {
		return fmt.Errorf("iterate embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var id string
		var dims int
		var blob []byte
		if err := rows.Scan(&id, &dims, &blob); err != nil {
			return fmt.Errorf("scan embedding: %w", err)
		}
		vector, err := decodeVector(blob, dims)
		if err != nil {
			return fmt.Errorf("decode embedding %s: %w", id, err)
		}
		if err := fn(id, vector); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetState reads a state value; missing keys return "" without error.
func (s *SQLitePassageStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

// SetState writes a state value.
func (s *SQLitePassageStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLitePassageStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPassage(row rowScanner) (*Passage, error) {
	var p Passage
	var published, meta string
	if err := row.Scan(&p.ID, &p.Text, &p.Source, &p.URL, &published, &meta); err != nil {
		return nil, err
	}
	if published != "" {
		if t, err := time.Parse(time.RFC3339, published); err == nil {
			p.PublishedAt = t
		}
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &p.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &p, nil
}

// computeCorpusVersion fingerprints the corpus as a hash over sorted passage
// IDs and per-row content hashes. Any insert, update, or delete changes it.
func computeCorpusVersion(ctx context.Context, tx *sql.Tx) (string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, text FROM passages ORDER BY id`)
	if err != nil {
		return "", fmt.Errorf("fingerprint corpus: %w", err)
	}
	defer rows.Close()

	var entries []string
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return "", fmt.Errorf("fingerprint corpus: %w", err)
		}
		sum := sha256.Sum256([]byte(text))
		entries = append(entries, id+":"+hex.EncodeToString(sum[:8]))
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("fingerprint corpus: %w", err)
	}

	sort.Strings(entries)
	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

func encodeVector(vector []float32) []byte {
	blob := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

func decodeVector(blob []byte, dims int) ([]float32, error) {
	if len(blob) != 4*dims {
		return nil, fmt.Errorf("vector blob is %d bytes, want %d", len(blob), 4*dims)
	}
	vector := make([]float32, dims)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector, nil
}
