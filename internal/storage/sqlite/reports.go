package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hihikaAAa/team-reports/internal/model"
)

const reportColumns = `id, user_id, team_id, description, metric_name, metric_value, report_date, created_at, updated_at`

func scanReport(row rowScanner) (*model.Report, error) {
	r := &model.Report{}
	var name sql.NullString
	var value sql.NullFloat64
	if err := row.Scan(&r.ID, &r.UserID, &r.TeamID, &r.Description, &name, &value, &r.EffectiveDate, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if name.Valid {
		n := name.String
		r.MetricName = &n
	}
	if value.Valid {
		v := value.Float64
		r.MetricValue = &v
	}
	return r, nil
}

func metricArgs(name *string, value *float64) (any, any) {
	if name == nil || value == nil {
		return nil, nil
	}
	return strings.TrimSpace(*name), *value
}

func (d *DB) CreateReport(ctx context.Context, nr model.NewReport) (*model.Report, error) {
	if err := nr.Validate(); err != nil {
		return nil, err
	}
	now := Now()
	date := nr.EffectiveDate.UTC()
	if nr.EffectiveDate.IsZero() {
		date = now
	}
	name, value := metricArgs(nr.MetricName, nr.MetricValue)
	res, err := d.SQL.ExecContext(ctx, `
        INSERT INTO reports (user_id, team_id, description, metric_name, metric_value, report_date, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `, nr.UserID, nr.TeamID, strings.TrimSpace(nr.Description), name, value, date, now, now)
	if err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return d.GetReport(ctx, id)
}

func (d *DB) GetReport(ctx context.Context, id int64) (*model.Report, error) {
	r, err := scanReport(d.SQL.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

// UpdateReport applies upd atomically; the metric pair is validated on the
// merged result.
func (d *DB) UpdateReport(ctx context.Context, id int64, upd model.ReportUpdate) (*model.Report, error) {
	tx, err := d.SQL.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	cur, err := scanReport(tx.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	next, err := upd.Apply(*cur)
	if err != nil {
		return nil, err
	}
	name, value := metricArgs(next.MetricName, next.MetricValue)
	if _, err := tx.ExecContext(ctx, `
        UPDATE reports SET description=?, metric_name=?, metric_value=?, updated_at=? WHERE id=?
    `, strings.TrimSpace(next.Description), name, value, Now(), id); err != nil {
		return nil, fmt.Errorf("update report: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d.GetReport(ctx, id)
}

func (d *DB) DeleteReport(ctx context.Context, id int64) (bool, error) {
	res, err := d.SQL.ExecContext(ctx, `DELETE FROM reports WHERE id=?`, id)
	if err != nil {
		return false, fmt.Errorf("delete report: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (d *DB) ListUserReports(ctx context.Context, userID int64, from, to *time.Time) ([]*model.Report, error) {
	return d.listReports(ctx, "user_id=?", userID, from, to)
}

func (d *DB) ListTeamReports(ctx context.Context, teamID int64, from, to *time.Time) ([]*model.Report, error) {
	return d.listReports(ctx, "team_id=?", teamID, from, to)
}

// ListReportsBetween returns reports with from <= date <= to, optionally
// limited to one team.
func (d *DB) ListReportsBetween(ctx context.Context, from, to time.Time, teamID *int64) ([]*model.Report, error) {
	if teamID != nil {
		return d.listReports(ctx, "team_id=?", *teamID, &from, &to)
	}
	return d.listReports(ctx, "1=1", nil, &from, &to)
}

func (d *DB) listReports(ctx context.Context, cond string, arg any, from, to *time.Time) ([]*model.Report, error) {
	q := `SELECT ` + reportColumns + ` FROM reports WHERE ` + cond
	var args []any
	if arg != nil {
		args = append(args, arg)
	}
	if from != nil {
		q += ` AND report_date >= ?`
		args = append(args, from.UTC())
	}
	if to != nil {
		q += ` AND report_date <= ?`
		args = append(args, to.UTC())
	}
	q += ` ORDER BY report_date DESC, id DESC`

	rows, err := d.SQL.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()
	var out []*model.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
