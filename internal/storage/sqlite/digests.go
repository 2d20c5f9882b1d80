package sqlite

import (
	"context"
	"fmt"
	"time"
)

// MarkDigestSent records a digest delivery for the week. It returns false
// when the user already got the digest for weekStart.
func (d *DB) MarkDigestSent(ctx context.Context, userID int64, weekStart time.Time) (bool, error) {
	res, err := d.SQL.ExecContext(ctx, `
        INSERT OR IGNORE INTO digest_deliveries (user_id, week_start, sent_at) VALUES (?, ?, ?)
    `, userID, weekStart.UTC(), Now())
	if err != nil {
		return false, fmt.Errorf("mark digest: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
