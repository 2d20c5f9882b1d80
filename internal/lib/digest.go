package lib

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/hihikaAAa/team-reports/internal/model"
	"github.com/hihikaAAa/team-reports/internal/storage/sqlite"
	"github.com/hihikaAAa/team-reports/internal/summary"
)

// DigestWorker pushes the weekly summary to managers and admins once a week,
// at or after Hour on Weekday in TZ.
type DigestWorker struct {
	DB       *sqlite.DB
	API      Sender
	Summary  *summary.Generator
	TZ       *time.Location
	Weekday  time.Weekday
	Hour     int
	Interval time.Duration

	now func() time.Time
}

func NewDigestWorker(db *sqlite.DB, api Sender, tz *time.Location, weekday time.Weekday, hour int) *DigestWorker {
	if tz == nil {
		tz = time.Local
	}
	return &DigestWorker{
		DB:       db,
		API:      api,
		Summary:  summary.NewGenerator(db),
		TZ:       tz,
		Weekday:  weekday,
		Hour:     hour,
		Interval: time.Minute,
		now:      time.Now,
	}
}

func (w *DigestWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Tick(ctx); err != nil {
				log.Error().Err(err).Msg("digest tick")
			}
		}
	}
}

// Tick sends due digests and returns how many were delivered.
func (w *DigestWorker) Tick(ctx context.Context) (int, error) {
	now := w.now().In(w.TZ)
	if now.Weekday() != w.Weekday || now.Hour() < w.Hour {
		return 0, nil
	}
	week := weekStart(now)

	var recipients []*model.User
	for _, role := range []model.Role{model.RoleManager, model.RoleAdmin} {
		us, err := w.DB.ListUsers(ctx, model.UserFilter{Role: role})
		if err != nil {
			return 0, err
		}
		recipients = append(recipients, us...)
	}

	sent := 0
	for _, u := range recipients {
		var scope *int64
		if u.Role == model.RoleManager {
			if u.TeamID == nil {
				continue
			}
			scope = u.TeamID
		}
		text, err := w.Summary.Weekly(ctx, scope)
		if err != nil {
			return sent, err
		}
		fresh, err := w.DB.MarkDigestSent(ctx, u.ID, week)
		if err != nil {
			return sent, err
		}
		if !fresh {
			continue
		}
		if _, err := w.API.Send(tgbotapi.NewMessage(u.ExternalID, text)); err != nil {
			log.Error().Err(err).Int64("user_id", u.ExternalID).Msg("send digest")
			continue
		}
		sent++
	}
	if sent > 0 {
		log.Info().Int("sent", sent).Time("week", week).Msg("weekly digest delivered")
	}
	return sent, nil
}

// weekStart is Monday 00:00 of t's week in t's location.
func weekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	d := t.AddDate(0, 0, -offset)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, t.Location())
}
