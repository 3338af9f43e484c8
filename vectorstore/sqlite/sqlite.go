// Package sqlite stores indexes in a SQLite database through the pure-Go
// modernc.org/sqlite driver. Scoring is MaxSim over every point of the index.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/midras-ai/midras/internal/domain"
	"github.com/midras-ai/midras/vectorstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS midras_indexes (
    name       TEXT PRIMARY KEY,
    created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS midras_points (
    index_name TEXT    NOT NULL REFERENCES midras_indexes(name),
    id         TEXT    NOT NULL,
    id_numeric INTEGER NOT NULL,
    embedding  BLOB    NOT NULL,
    metadata   TEXT    NOT NULL,
    PRIMARY KEY (index_name, id_numeric, id)
);
`

var _ vectorstore.Store = (*Store)(nil)

// Store is a blocking vector store backed by SQLite.
type Store struct {
	db *sql.DB
}

// busyTimeout is how long a connection waits on a locked database before
// failing with SQLITE_BUSY.
const busyTimeout = 5 * time.Second

// Open opens (creating if needed) the database at path and ensures the schema.
// ":memory:" gives a private in-process database. File databases use WAL and
// a busy timeout so concurrent writers through vectorstore.Async queue up.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// dsn adds the per-connection pragmas understood by modernc.org/sqlite.
// Transactions begin IMMEDIATE so the write lock is taken under the busy timeout.
func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate",
		path, sep, busyTimeout.Milliseconds())
}

// New wraps an open database and ensures the schema.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite: db is nil: %w", domain.ErrInvalidConfiguration)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("sqlite: ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Concurrency implements vectorstore.Backend.
func (s *Store) Concurrency() vectorstore.Concurrency { return vectorstore.Blocking }

// CreateIndex inserts the index row unless it exists.
func (s *Store) CreateIndex(ctx context.Context, name string) (bool, error) {
	if err := vectorstore.ValidateIndexName(name); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO midras_indexes(name, created_at) VALUES(?, ?)`,
		name, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("create index %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create index %q: %w", name, err)
	}
	return n == 1, nil
}

// CreatePoint builds a point without storing it.
func (s *Store) CreatePoint(id vectorstore.PointID, embedding domain.ColBERT, metadata map[string]any) vectorstore.Point {
	return vectorstore.NewPoint(id, embedding, metadata)
}

// SavePoints upserts points in one transaction.
func (s *Store) SavePoints(
	ctx context.Context, name string, points []vectorstore.Point,
) (vectorstore.SaveResult, error) {
	if err := s.requireIndex(ctx, name); err != nil {
		return vectorstore.SaveResult{}, err
	}
	if len(points) == 0 {
		return vectorstore.SaveResult{}, nil
	}
	if err := vectorstore.ValidatePoints(points); err != nil {
		return vectorstore.SaveResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return vectorstore.SaveResult{}, fmt.Errorf("save points to %q: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO midras_points(index_name, id, id_numeric, embedding, metadata) VALUES(?, ?, ?, ?, ?)
ON CONFLICT(index_name, id_numeric, id) DO UPDATE SET embedding = excluded.embedding, metadata = excluded.metadata`)
	if err != nil {
		return vectorstore.SaveResult{}, fmt.Errorf("save points to %q: %w", name, err)
	}
	defer stmt.Close()

	for _, p := range points {
		emb, err := p.Embedding.MarshalBinary()
		if err != nil {
			return vectorstore.SaveResult{}, fmt.Errorf("point %s: %w", p.ID, err)
		}
		meta, err := json.Marshal(p.Metadata)
		if err != nil {
			return vectorstore.SaveResult{}, fmt.Errorf("point %s: metadata: %v: %w", p.ID, err, domain.ErrInvalidInput)
		}
		if _, err := stmt.ExecContext(ctx, name, p.ID.String(), p.ID.IsNumeric(), emb, string(meta)); err != nil {
			return vectorstore.SaveResult{}, fmt.Errorf("save point %s to %q: %w", p.ID, name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return vectorstore.SaveResult{}, fmt.Errorf("save points to %q: %w", name, err)
	}
	return vectorstore.SaveResult{Saved: len(points)}, nil
}

// Search loads the index and ranks its points by MaxSim.
func (s *Store) Search(
	ctx context.Context, name string, query domain.ColBERT, topK int,
) ([]vectorstore.Match, error) {
	if err := vectorstore.ValidateQuery(query, topK); err != nil {
		return nil, err
	}
	if err := s.requireIndex(ctx, name); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, id_numeric, embedding, metadata FROM midras_points WHERE index_name = ? ORDER BY rowid`, name)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", name, err)
	}
	defer rows.Close()

	var points []vectorstore.Point
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", name, err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search %q: %w", name, err)
	}
	return vectorstore.ScorePoints(points, query, topK), nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) requireIndex(ctx context.Context, name string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM midras_indexes WHERE name = ?`, name).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return fmt.Errorf("index %q: %w", name, domain.ErrIndexNotFound)
	case err != nil:
		return fmt.Errorf("check index %q: %w", name, err)
	}
	return nil
}

func scanPoint(rows *sql.Rows) (vectorstore.Point, error) {
	var (
		id      string
		numeric bool
		blob    []byte
		rawMeta string
	)
	if err := rows.Scan(&id, &numeric, &blob, &rawMeta); err != nil {
		return vectorstore.Point{}, err
	}
	key := "s:" + id
	if numeric {
		key = "n:" + id
	}
	pid, err := vectorstore.ParseKey(key)
	if err != nil {
		return vectorstore.Point{}, err
	}
	var emb domain.ColBERT
	if err := emb.UnmarshalBinary(blob); err != nil {
		return vectorstore.Point{}, fmt.Errorf("point %s: %w", pid, err)
	}
	meta := map[string]any{}
	if err := json.Unmarshal([]byte(rawMeta), &meta); err != nil {
		return vectorstore.Point{}, fmt.Errorf("point %s: metadata: %w", pid, err)
	}
	return vectorstore.Point{ID: pid, Embedding: emb, Metadata: meta}, nil
}
