package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// globalCountsID keys the single global_counts row.
const globalCountsID = "1"

// CountStore persists the global command invocation counters as one JSONB document.
type CountStore struct{ DB *sql.DB }

// LoadCounts returns the stored counters and whether the global record exists.
func (s *CountStore) LoadCounts(ctx context.Context) (map[string]int64, bool, error) {
	var raw []byte
	err := s.DB.QueryRowContext(ctx, `SELECT cmd_counts FROM global_counts WHERE id=$1`, globalCountsID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load command counts: %w", err)
	}
	counts := map[string]int64{}
	if err := unmarshalJSON(raw, &counts); err != nil {
		return nil, true, fmt.Errorf("decode command counts: %w", err)
	}
	return counts, true, nil
}

// SaveCounts replaces the global record with counts, creating it when missing.
func (s *CountStore) SaveCounts(ctx context.Context, counts map[string]int64) error {
	v, err := marshalJSON(counts)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO global_counts(id, cmd_counts, updated_at) VALUES($1, $2::jsonb, NOW())
		ON CONFLICT(id) DO UPDATE SET cmd_counts=EXCLUDED.cmd_counts, updated_at=NOW()`, globalCountsID, v)
	if err != nil {
		return fmt.Errorf("save command counts: %w", err)
	}
	return nil
}

// IncrementCount atomically adds one to name's counter.
func (s *CountStore) IncrementCount(ctx context.Context, name string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO global_counts(id, cmd_counts, updated_at)
		VALUES($1, jsonb_build_object($2::text, 1), NOW())
		ON CONFLICT(id) DO UPDATE SET
		  cmd_counts = global_counts.cmd_counts || jsonb_build_object($2::text, COALESCE((global_counts.cmd_counts->>$2)::bigint, 0) + 1),
		  updated_at = NOW()`, globalCountsID, name)
	if err != nil {
		return fmt.Errorf("increment command count %s: %w", name, err)
	}
	return nil
}
