package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// maxQueryTerms caps how many words of a query reach the FTS index.
const maxQueryTerms = 64

// Config configures the SQLite store.
type Config struct {
	// DataDir holds memory.db. It is created if missing.
	DataDir string
}

// SQLiteStore is a Store backed by SQLite with an FTS5 index ranked by bm25.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the memory database under cfg.DataDir.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("memory: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "memory.db")
	// Pragmas go in the DSN so every pooled connection gets them
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: ping database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: migration: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_id     TEXT    NOT NULL UNIQUE,
			collection TEXT    NOT NULL,
			text       TEXT    NOT NULL,
			metadata   TEXT    NOT NULL DEFAULT '{}',
			created_at TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);

		CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
			text,
			content='documents',
			content_rowid='seq'
		);

		CREATE TRIGGER IF NOT EXISTS documents_fts_insert AFTER INSERT ON documents BEGIN
			INSERT INTO documents_fts(rowid, text) VALUES (new.seq, new.text);
		END;

		CREATE TRIGGER IF NOT EXISTS documents_fts_delete AFTER DELETE ON documents BEGIN
			INSERT INTO documents_fts(documents_fts, rowid, text) VALUES ('delete', old.seq, old.text);
		END;
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Query runs a bm25-ranked full-text search within collection.
func (s *SQLiteStore) Query(ctx context.Context, collection, text string, k int) ([]Match, error) {
	if k <= 0 {
		k = DefaultResults
	}
	ftsQuery := sanitizeFTS(text)
	if ftsQuery == "" {
		return []Match{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.doc_id, d.text, d.metadata, bm25(documents_fts) AS score
		FROM documents_fts
		JOIN documents d ON d.seq = documents_fts.rowid
		WHERE documents_fts MATCH ? AND d.collection = ?
		ORDER BY score
		LIMIT ?`, ftsQuery, collection, k)
	if err != nil {
		return nil, fmt.Errorf("memory: query %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()

	matches := []Match{}
	for rows.Next() {
		var (
			m        Match
			metadata string
			rank     float64
		)
		if err := rows.Scan(&m.ID, &m.Text, &metadata, &rank); err != nil {
			return nil, fmt.Errorf("memory: scan match: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
			return nil, fmt.Errorf("memory: decode metadata for %s: %w", m.ID, err)
		}
		m.Similarity = Similarity(rank)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Add inserts docs into collection in one transaction.
func (s *SQLiteStore) Add(ctx context.Context, collection string, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("memory: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (doc_id, collection, text, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("memory: prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	createdAt := s.now().UTC().Format(time.RFC3339)
	for _, doc := range docs {
		id := doc.ID
		if id == "" {
			id = uuid.NewString()
		}
		metadata := doc.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return 0, fmt.Errorf("memory: encode metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, id, collection, doc.Text, string(encoded), createdAt); err != nil {
			return 0, fmt.Errorf("memory: insert into %s: %w", collection, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("memory: commit: %w", err)
	}
	return len(docs), nil
}

// Count returns the number of documents in collection.
func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("memory: count %s: %w", collection, err)
	}
	return n, nil
}

// Stats returns document counts per collection.
func (s *SQLiteStore) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT collection, COUNT(*) FROM documents GROUP BY collection`)
	if err != nil {
		return nil, fmt.Errorf("memory: stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := map[string]int{
		CollectionPlays:   0,
		CollectionClients: 0,
	}
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		stats[name] = n
	}
	return stats, rows.Err()
}

// Similarity maps a bm25 rank (lower is better, at most 0) onto [0,1).
// The distance 1/(1-rank) shrinks as the rank improves, so ordering is kept.
func Similarity(rank float64) float64 {
	if rank > 0 {
		rank = 0
	}
	distance := 1 / (1 - rank)
	return 1 - distance
}

// sanitizeFTS turns free text into an OR of quoted terms so any shared word can match.
// "Retail: AI/ML" → `"Retail" OR "AI/ML"`
func sanitizeFTS(query string) string {
	var terms []string
	for _, w := range strings.Fields(query) {
		w = strings.ReplaceAll(w, `"`, "")
		if !strings.ContainsFunc(w, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) {
			continue
		}
		terms = append(terms, `"`+w+`"`)
		if len(terms) == maxQueryTerms {
			break
		}
	}
	return strings.Join(terms, " OR ")
}
