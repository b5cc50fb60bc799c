package sqlite

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/visualmesh/internal/mesh/l1records"
)

// RecordStore keeps serialised records in named shards so that a run can
// read its input from the database instead of record files.
type RecordStore struct {
	db *DB
}

// NewRecordStore creates a RecordStore backed by db.
func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

// Insert appends payloads to shard in a single transaction.
func (s *RecordStore) Insert(ctx context.Context, shard string, payloads ...[]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records (shard, payload, created_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for i, p := range payloads {
		if p == nil {
			p = []byte{}
		}
		if _, err := stmt.ExecContext(ctx, shard, p, now); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of records in shard. An empty shard name counts
// every record.
func (s *RecordStore) Count(ctx context.Context, shard string) (int, error) {
	var n int
	var err error
	if shard == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE shard = ?`, shard).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Shards returns the distinct shard names in ascending order.
func (s *RecordStore) Shards(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT shard FROM records ORDER BY shard`)
	if err != nil {
		return nil, fmt.Errorf("query shards: %w", err)
	}
	defer rows.Close()
	var shards []string
	for rows.Next() {
		var shard string
		if err := rows.Scan(&shard); err != nil {
			return nil, fmt.Errorf("scan shard: %w", err)
		}
		shards = append(shards, shard)
	}
	return shards, rows.Err()
}

// Source returns a record source over shard in insertion order. An empty
// shard name reads every record.
func (s *RecordStore) Source(shard string) *RecordSource {
	return &RecordSource{db: s.db, shard: shard, pageSize: defaultPageSize}
}

const defaultPageSize = 256

// RecordSource reads a shard page by page, keyed on record_id, so no
// result set stays open between calls to Next.
type RecordSource struct {
	db       *DB
	shard    string
	pageSize int

	page   [][]byte
	lastID int64
	done   bool
}

var _ l1records.Source = (*RecordSource)(nil)

// Next returns the next payload or io.EOF.
func (r *RecordSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(r.page) == 0 {
		if r.done {
			return nil, io.EOF
		}
		if err := r.fill(ctx); err != nil {
			return nil, err
		}
		if len(r.page) == 0 {
			return nil, io.EOF
		}
	}
	p := r.page[0]
	r.page = r.page[1:]
	return p, nil
}

func (r *RecordSource) fill(ctx context.Context) error {
	query := `SELECT record_id, payload FROM records WHERE record_id > ? ORDER BY record_id LIMIT ?`
	args := []any{r.lastID, r.pageSize}
	if r.shard != "" {
		query = `SELECT record_id, payload FROM records WHERE shard = ? AND record_id > ? ORDER BY record_id LIMIT ?`
		args = []any{r.shard, r.lastID, r.pageSize}
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&r.lastID, &payload); err != nil {
			return fmt.Errorf("scan record: %w", err)
		}
		r.page = append(r.page, payload)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read records: %w", err)
	}
	if len(r.page) < r.pageSize {
		r.done = true
	}
	return nil
}

// Close releases the source. The database stays open.
func (r *RecordSource) Close() error {
	r.page = nil
	r.done = true
	return nil
}
