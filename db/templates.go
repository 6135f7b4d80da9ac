package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Relay template kinds.
const (
	TemplatePost  = "post"
	TemplateReply = "reply"
)

// TemplateStore reads and writes relay_templates.
type TemplateStore struct{ DB *sql.DB }

// ListTemplates returns the enabled templates of kind.
func (s *TemplateStore) ListTemplates(ctx context.Context, kind string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT content FROM relay_templates WHERE kind=$1 AND enabled ORDER BY id`, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s templates: %w", kind, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AddTemplate stores an enabled template and returns its id.
func (s *TemplateStore) AddTemplate(ctx context.Context, kind, content string) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `INSERT INTO relay_templates(kind, content) VALUES($1,$2) RETURNING id`, kind, content).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("add %s template: %w", kind, err)
	}
	return id, nil
}

// SetTemplateEnabled toggles template id.
func (s *TemplateStore) SetTemplateEnabled(ctx context.Context, id int64, enabled bool) error {
	if _, err := s.DB.ExecContext(ctx, `UPDATE relay_templates SET enabled=$2 WHERE id=$1`, id, enabled); err != nil {
		return fmt.Errorf("update template %d: %w", id, err)
	}
	return nil
}
