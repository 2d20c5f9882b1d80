package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/hihikaAAa/team-reports/internal/config"
)

const version = "0.3.0"

func main() {
	app := &cli.App{
		Name:    "reportbot",
		Usage:   "Telegram bot and Mini App for weekly team reports",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"CONFIG_PATH"},
				Value:   config.DefaultPath,
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{Name: "serve", Usage: "Run the bot, the web server and the digest worker", Action: serve},
			{Name: "bot", Usage: "Run only the Telegram bot", Action: runBotOnly},
			{Name: "web", Usage: "Run only the web server", Action: runWebOnly},
			migrateCommand(),
			teamCommand(),
			userCommand(),
			summaryCommand(),
			signInitDataCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("reportbot")
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

func setupLogging(l config.Log) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil || l.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if l.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
