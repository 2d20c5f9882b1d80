package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hihikaAAa/team-reports/internal/config"
	"github.com/hihikaAAa/team-reports/internal/conversation"
	"github.com/hihikaAAa/team-reports/internal/lib"
	"github.com/hihikaAAa/team-reports/internal/metrics"
	"github.com/hihikaAAa/team-reports/internal/model"
	"github.com/hihikaAAa/team-reports/internal/storage/sqlite"
	"github.com/hihikaAAa/team-reports/internal/tgauth"
	"github.com/hihikaAAa/team-reports/internal/web"
)

type runFlags struct {
	bot, web, digest bool
}

func serve(c *cli.Context) error      { return run(c, runFlags{bot: true, web: true, digest: true}) }
func runBotOnly(c *cli.Context) error { return run(c, runFlags{bot: true, digest: true}) }
func runWebOnly(c *cli.Context) error { return run(c, runFlags{web: true}) }

func run(c *cli.Context, what runFlags) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.RequireBotToken(); err != nil {
		return err
	}
	db, err := openDB(c.Context, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.Default()
	g, ctx := errgroup.WithContext(ctx)

	if what.bot {
		api, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		if err := lib.UseZerolog(); err != nil {
			return err
		}
		store := conversation.NewStore(cfg.Conversation.TTL)
		m.TrackActiveDialogs(prometheus.DefaultRegisterer, store.Len)
		engine := conversation.NewEngine(store, db, m)
		bot := lib.NewBot(api, db, engine, cfg.AdminIDs, cfg.Location(), m)
		if err := bot.RegisterCommands(); err != nil {
			log.Warn().Err(err).Msg("register bot commands")
		}
		if cfg.Web.PublicURL != "" {
			if err := bot.SetMenuButton(strings.TrimRight(cfg.Web.PublicURL, "/") + "/report"); err != nil {
				log.Warn().Err(err).Msg("set menu button")
			}
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 30
		updates := api.GetUpdatesChan(u)
		log.Info().Str("bot", api.Self.UserName).Msg("telegram bot started")
		g.Go(func() error {
			<-ctx.Done()
			api.StopReceivingUpdates()
			return nil
		})
		g.Go(func() error { return bot.Run(ctx, updates) })

		if what.digest && cfg.Digest.Enabled {
			weekday, _ := cfg.DigestWeekday()
			w := lib.NewDigestWorker(db, api, cfg.Location(), weekday, cfg.Digest.Hour)
			g.Go(func() error { return w.Run(ctx) })
		}
	}

	if what.web {
		verifier := tgauth.NewVerifier(cfg.BotToken, tgauth.WithMaxAge(cfg.Auth.MaxAge))
		sessions := web.NewSessions(cfg.SessionKey(), cfg.Web.SessionTTL)
		srv := web.New(web.Options{
			Listen:       cfg.Web.Listen,
			RateLimit:    cfg.Web.RateLimit,
			SecureCookie: strings.HasPrefix(cfg.Web.PublicURL, "https://"),
		}, db, verifier, sessions, m)
		g.Go(func() error { return srv.Run(ctx) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openDB opens the store, seeds the default team and promotes configured admins.
func openDB(ctx context.Context, cfg *config.Config) (*sqlite.DB, error) {
	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.EnsureDefaultTeam(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := seedAdmins(ctx, db, cfg.AdminIDs); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func seedAdmins(ctx context.Context, db *sqlite.DB, ids []int64) error {
	admin := model.RoleAdmin
	for _, id := range ids {
		u, err := db.CreateUser(ctx, model.NewUser{ExternalID: id, DisplayName: fmt.Sprintf("admin-%d", id), Role: model.RoleAdmin})
		if err != nil {
			return fmt.Errorf("seed admin %d: %w", id, err)
		}
		if u.Role == model.RoleAdmin {
			continue
		}
		if _, err := db.UpdateUser(ctx, id, model.UserUpdate{Role: &admin}); err != nil {
			return fmt.Errorf("seed admin %d: %w", id, err)
		}
		log.Info().Int64("user_id", id).Msg("promoted to admin")
	}
	return nil
}
