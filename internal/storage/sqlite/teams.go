package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hihikaAAa/team-reports/internal/model"
)

const DefaultTeamName = "Общая команда"

const teamColumns = `id, name, description, created_at, updated_at`

func scanTeam(row rowScanner) (*model.Team, error) {
	t := &model.Team{}
	var desc sql.NullString
	if err := row.Scan(&t.ID, &t.Name, &desc, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Description = desc.String
	return t, nil
}

// CreateTeam returns the existing team when the name is already taken.
func (d *DB) CreateTeam(ctx context.Context, name, description string) (*model.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("create team: empty name")
	}
	now := Now()
	_, err := d.SQL.ExecContext(ctx, `
        INSERT INTO teams (name, description, created_at, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(name) DO NOTHING
    `, name, nullString(description), now, now)
	if err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}
	return d.GetTeamByName(ctx, name)
}

func (d *DB) EnsureDefaultTeam(ctx context.Context) (*model.Team, error) {
	return d.CreateTeam(ctx, DefaultTeamName, "Команда по умолчанию")
}

func (d *DB) ListTeams(ctx context.Context) ([]*model.Team, error) {
	rows, err := d.SQL.QueryContext(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()
	var out []*model.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (d *DB) GetTeamByID(ctx context.Context, id int64) (*model.Team, error) {
	t, err := scanTeam(d.SQL.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE id=?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (d *DB) GetTeamByName(ctx context.Context, name string) (*model.Team, error) {
	t, err := scanTeam(d.SQL.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE name=?`, name))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (d *DB) UpdateTeam(ctx context.Context, id int64, upd model.TeamUpdate) (*model.Team, error) {
	var sets []string
	var args []any
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("update team: empty name")
		}
		sets = append(sets, "name=?")
		args = append(args, name)
	}
	if upd.Description != nil {
		sets = append(sets, "description=?")
		args = append(args, nullString(*upd.Description))
	}
	if len(sets) == 0 {
		return d.GetTeamByID(ctx, id)
	}
	sets = append(sets, "updated_at=?")
	args = append(args, Now(), id)
	res, err := d.SQL.ExecContext(ctx, `UPDATE teams SET `+strings.Join(sets, ", ")+` WHERE id=?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update team: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, model.ErrNotFound
	}
	return d.GetTeamByID(ctx, id)
}

// DeleteTeam detaches members; existing reports keep the old team id.
func (d *DB) DeleteTeam(ctx context.Context, id int64) (bool, error) {
	res, err := d.SQL.ExecContext(ctx, `DELETE FROM teams WHERE id=?`, id)
	if err != nil {
		return false, fmt.Errorf("delete team: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
