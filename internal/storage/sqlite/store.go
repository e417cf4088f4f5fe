package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/toolcall-gateway/internal/storage"
)

// Store is a SQLite ToolCallStore backed by a tool_calls table.
type Store struct {
	db *sql.DB
}

var _ storage.ToolCallStore = (*Store)(nil)

// New opens the database at dbPath and creates the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tool_calls (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			args TEXT NOT NULL,
			description TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_created ON tool_calls(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) Store(ctx context.Context, rec storage.ToolCallRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	args := string(rec.Args)
	if args == "" {
		args = "{}"
	}

	query := `INSERT INTO tool_calls (id, name, args, description, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			args = excluded.args,
			description = excluded.description`
	if _, err := s.db.ExecContext(ctx, query, rec.ID, rec.Name, args, rec.Description, rec.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to store tool call %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) Lookup(ctx context.Context, id string) (storage.ToolCallRecord, error) {
	var (
		rec         storage.ToolCallRecord
		args        string
		description sql.NullString
	)
	query := `SELECT id, name, args, description, created_at FROM tool_calls WHERE id = ?`
	err := s.db.QueryRowContext(ctx, query, id).Scan(&rec.ID, &rec.Name, &args, &description, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ToolCallRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.ToolCallRecord{}, fmt.Errorf("failed to look up tool call %s: %w", id, err)
	}
	rec.Args = []byte(args)
	rec.Description = description.String
	return rec, nil
}

// Prune deletes records created before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tool_calls WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune tool calls: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}
