package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Guild is the persisted per-guild record. A nil Warns or DisabledChannels
// means the column holds null and needs repair.
type Guild struct {
	ID               string
	Tags             map[string]string
	Prefix           string
	Warns            map[string][]string
	DisabledChannels []string
}

// GuildStore reads and writes the guilds table.
type GuildStore struct{ DB *sql.DB }

const guildColumns = `guild_id, tags, prefix, warns, disabled_channels`

// ListGuilds returns every stored guild ordered by id.
func (s *GuildStore) ListGuilds(ctx context.Context) ([]Guild, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+guildColumns+` FROM guilds ORDER BY guild_id`)
	if err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}
	defer rows.Close()
	var out []Guild
	for rows.Next() {
		g, err := scanGuild(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GetGuild returns the guild with id, or nil when it is not stored.
func (s *GuildStore) GetGuild(ctx context.Context, id string) (*Guild, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+guildColumns+` FROM guilds WHERE guild_id=$1`, id)
	g, err := scanGuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// InsertGuild stores g unless a record with the same id exists.
func (s *GuildStore) InsertGuild(ctx context.Context, g Guild) error {
	tags, err := marshalJSON(g.Tags)
	if err != nil {
		return err
	}
	warns, err := marshalJSON(g.Warns)
	if err != nil {
		return err
	}
	disabled, err := marshalJSON(g.DisabledChannels)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO guilds(guild_id, tags, prefix, warns, disabled_channels)
		VALUES($1, $2::jsonb, $3, $4::jsonb, $5::jsonb) ON CONFLICT(guild_id) DO NOTHING`,
		g.ID, tags, g.Prefix, warns, disabled)
	if err != nil {
		return fmt.Errorf("insert guild %s: %w", g.ID, err)
	}
	return nil
}

// SetWarns replaces the warns map of guild id.
func (s *GuildStore) SetWarns(ctx context.Context, id string, warns map[string][]string) error {
	v, err := marshalJSON(warns)
	if err != nil {
		return err
	}
	return s.update(ctx, id, `warns=$2::jsonb`, v)
}

// SetDisabledChannels replaces the disabled channel list of guild id.
func (s *GuildStore) SetDisabledChannels(ctx context.Context, id string, channels []string) error {
	v, err := marshalJSON(channels)
	if err != nil {
		return err
	}
	return s.update(ctx, id, `disabled_channels=$2::jsonb`, v)
}

// SetPrefix changes the command prefix of guild id.
func (s *GuildStore) SetPrefix(ctx context.Context, id, prefix string) error {
	return s.update(ctx, id, `prefix=$2`, prefix)
}

// DeleteGuild removes guild id.
func (s *GuildStore) DeleteGuild(ctx context.Context, id string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM guilds WHERE guild_id=$1`, id); err != nil {
		return fmt.Errorf("delete guild %s: %w", id, err)
	}
	return nil
}

func (s *GuildStore) update(ctx context.Context, id, set string, v any) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE guilds SET `+set+`, updated_at=NOW() WHERE guild_id=$1`, id, v)
	if err != nil {
		return fmt.Errorf("update guild %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update guild %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGuild(r rowScanner) (Guild, error) {
	var (
		g                     Guild
		tags, warns, disabled []byte
	)
	if err := r.Scan(&g.ID, &tags, &g.Prefix, &warns, &disabled); err != nil {
		return Guild{}, err
	}
	if err := unmarshalJSON(tags, &g.Tags); err != nil {
		return Guild{}, fmt.Errorf("guild %s tags: %w", g.ID, err)
	}
	if err := unmarshalJSON(warns, &g.Warns); err != nil {
		return Guild{}, fmt.Errorf("guild %s warns: %w", g.ID, err)
	}
	if err := unmarshalJSON(disabled, &g.DisabledChannels); err != nil {
		return Guild{}, fmt.Errorf("guild %s disabled_channels: %w", g.ID, err)
	}
	return g, nil
}

// marshalJSON encodes v for a JSONB column; nil maps and slices become null.
func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(b), nil
}

// unmarshalJSON leaves dst untouched for SQL NULL and JSON null.
func unmarshalJSON(b []byte, dst any) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return json.Unmarshal(b, dst)
}
