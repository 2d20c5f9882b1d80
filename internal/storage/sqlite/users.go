package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hihikaAAa/team-reports/internal/model"
)

const userColumns = `id, tg_id, name, username, role, team_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	var username sql.NullString
	var role string
	var teamID sql.NullInt64
	if err := row.Scan(&u.ID, &u.ExternalID, &u.DisplayName, &username, &role, &teamID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Username = username.String
	u.Role = model.Role(role)
	u.TeamID = intPtr(teamID)
	return u, nil
}

func (d *DB) GetUserByExternalID(ctx context.Context, externalID int64) (*model.User, error) {
	row := d.SQL.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE tg_id=?`, externalID)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

func (d *DB) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := d.SQL.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// CreateUser inserts a user unless one with the same external id exists, in
// which case the existing row is returned untouched.
func (d *DB) CreateUser(ctx context.Context, nu model.NewUser) (*model.User, error) {
	role := nu.Role
	if role == "" {
		role = model.RoleEmployee
	}
	if _, err := model.ParseRole(string(role)); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(nu.DisplayName)
	if name == "" {
		name = fmt.Sprintf("user-%d", nu.ExternalID)
	}
	now := Now()
	_, err := d.SQL.ExecContext(ctx, `
        INSERT INTO users (tg_id, name, username, role, team_id, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(tg_id) DO NOTHING
    `, nu.ExternalID, name, nullString(nu.Username), string(role), nullInt(nu.TeamID), now, now)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return d.GetUserByExternalID(ctx, nu.ExternalID)
}

func (d *DB) UpdateUser(ctx context.Context, externalID int64, upd model.UserUpdate) (*model.User, error) {
	var sets []string
	var args []any
	if upd.DisplayName != nil {
		if strings.TrimSpace(*upd.DisplayName) == "" {
			return nil, fmt.Errorf("update user: empty name")
		}
		sets = append(sets, "name=?")
		args = append(args, strings.TrimSpace(*upd.DisplayName))
	}
	if upd.Username != nil {
		sets = append(sets, "username=?")
		args = append(args, nullString(*upd.Username))
	}
	if upd.Role != nil {
		if _, err := model.ParseRole(string(*upd.Role)); err != nil {
			return nil, err
		}
		sets = append(sets, "role=?")
		args = append(args, string(*upd.Role))
	}
	switch {
	case upd.ClearTeam:
		sets = append(sets, "team_id=NULL")
	case upd.TeamID != nil:
		sets = append(sets, "team_id=?")
		args = append(args, *upd.TeamID)
	}
	if len(sets) == 0 {
		return d.GetUserByExternalID(ctx, externalID)
	}
	sets = append(sets, "updated_at=?")
	args = append(args, Now(), externalID)

	res, err := d.SQL.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE tg_id=?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, model.ErrNotFound
	}
	return d.GetUserByExternalID(ctx, externalID)
}

func (d *DB) ListUsers(ctx context.Context, f model.UserFilter) ([]*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE 1=1`
	var args []any
	if f.Role != "" {
		q += ` AND role=?`
		args = append(args, string(f.Role))
	}
	if f.TeamID != nil {
		q += ` AND team_id=?`
		args = append(args, *f.TeamID)
	}
	q += ` ORDER BY name, id`
	rows, err := d.SQL.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var out []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// DeleteUser removes the user together with their reports.
func (d *DB) DeleteUser(ctx context.Context, externalID int64) (bool, error) {
	res, err := d.SQL.ExecContext(ctx, `DELETE FROM users WHERE tg_id=?`, externalID)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
