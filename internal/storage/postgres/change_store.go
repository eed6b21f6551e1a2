package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/JakeFAU/retail-content-ingestor/internal/store"
)

const (
	defaultChangeTable = "ingest_changes"
	changeColumns      = 8
	// maxChangeRows keeps one INSERT under the protocol's parameter limit.
	maxChangeRows = 1000
)

// ChangeStore implements store.ChangeRepository on Postgres.
type ChangeStore struct {
	pool  Pool
	table string
}

// NewChangeStoreWithPool builds a ChangeStore on pool. The caller owns pool.
func NewChangeStoreWithPool(pool Pool, table string) (*ChangeStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultChangeTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ChangeStore{pool: pool, table: table}, nil
}

// Changes returns a ChangeStore sharing the run store's pool.
func (s *RunStore) Changes(table string) (*ChangeStore, error) {
	return NewChangeStoreWithPool(s.pool, table)
}

// EnsureSchema creates the change table and its run index.
func (s *ChangeStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	seq          bigserial PRIMARY KEY,
	run_id       uuid NOT NULL,
	source       text NOT NULL,
	url          text NOT NULL,
	outcome      text NOT NULL,
	content_hash text NOT NULL DEFAULT '',
	chunks       integer NOT NULL DEFAULT 0,
	note         text NOT NULL DEFAULT '',
	at           timestamptz NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	index := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %[1]s_run_idx ON %[1]s (run_id, seq)", s.table)
	if _, err := s.pool.Exec(ctx, index); err != nil {
		return fmt.Errorf("create %s index: %w", s.table, err)
	}
	return nil
}

// AppendChanges inserts changes with multi-row INSERTs.
func (s *ChangeStore) AppendChanges(ctx context.Context, changes []store.Change) error {
	for start := 0; start < len(changes); start += maxChangeRows {
		end := min(start+maxChangeRows, len(changes))
		if err := s.insert(ctx, changes[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *ChangeStore) insert(ctx context.Context, changes []store.Change) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (run_id, source, url, outcome, content_hash, chunks, note, at) VALUES ", s.table)
	args := make([]any, 0, len(changes)*changeColumns)
	for i, c := range changes {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * changeColumns
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args, c.RunID, c.Source, c.URL, c.Outcome, c.ContentHash, c.Chunks, c.Note, c.At)
	}
	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert changes: %w", err)
	}
	return nil
}

// ListChanges returns one run's changes in insertion order.
func (s *ChangeStore) ListChanges(ctx context.Context, runID uuid.UUID, limit, offset int) ([]store.Change, error) {
	query := fmt.Sprintf(`
SELECT run_id, source, url, outcome, content_hash, chunks, note, at
FROM %s
WHERE run_id = $1
ORDER BY seq
LIMIT $2 OFFSET $3`, s.table)
	rows, err := s.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	changes := []store.Change{}
	for rows.Next() {
		var c store.Change
		if err := rows.Scan(&c.RunID, &c.Source, &c.URL, &c.Outcome, &c.ContentHash, &c.Chunks, &c.Note, &c.At); err != nil {
			return nil, fmt.Errorf("scan change row: %w", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return changes, nil
}
