package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hihikaAAa/team-reports/internal/model"
	"github.com/hihikaAAa/team-reports/internal/storage/sqlite"
	"github.com/hihikaAAa/team-reports/internal/summary"
	"github.com/hihikaAAa/team-reports/internal/tgauth"
)

// withDB runs fn against the configured store.
func withDB(fn func(c *cli.Context, db *sqlite.DB) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		db, err := openDB(c.Context, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(c, db)
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the schema and the default team",
		Action: withDB(func(c *cli.Context, db *sqlite.DB) error {
			t, err := db.GetTeamByName(c.Context, sqlite.DefaultTeamName)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "schema ready, default team [%d] %s\n", t.ID, t.Name)
			return nil
		}),
	}
}

func argInt(c *cli.Context, i int, name string) (int64, error) {
	v := c.Args().Get(i)
	if v == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return n, nil
}

func teamCommand() *cli.Command {
	return &cli.Command{
		Name:  "team",
		Usage: "Manage teams",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Create a team",
				ArgsUsage: "<name>",
				Flags:     []cli.Flag{&cli.StringFlag{Name: "description", Aliases: []string{"d"}}},
				Action: withDB(func(c *cli.Context, db *sqlite.DB) error {
					name := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
					if name == "" {
						return errors.New("team name is required")
					}
					t, err := db.CreateTeam(c.Context, name, c.String("description"))
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "[%d] %s\n", t.ID, t.Name)
					return nil
				}),
			},
			{
				Name:  "list",
				Usage: "List teams",
				Action: withDB(func(c *cli.Context, db *sqlite.DB) error {
					teams, err := db.ListTeams(c.Context)
					if err != nil {
						return err
					}
					for _, t := range teams {
						fmt.Fprintf(c.App.Writer, "[%d] %s\t%s\n", t.ID, t.Name, t.Description)
					}
					return nil
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete a team; members are left without a team",
				ArgsUsage: "<id>",
				Action: withDB(func(c *cli.Context, db *sqlite.DB) error {
					id, err := argInt(c, 0, "team id")
					if err != nil {
						return err
					}
					ok, err := db.DeleteTeam(c.Context, id)
					if err != nil {
						return err
					}
					if !ok {
						return model.ErrNotFound
					}
					fmt.Fprintln(c.App.Writer, "deleted")
					return nil
				}),
			},
		},
	}
}

func userCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage users",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List users",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "role"},
					&cli.Int64Flag{Name: "team-id"},
				},
				Action: withDB(func(c *cli.Context, db *sqlite.DB) error {
					var f model.UserFilter
					if c.IsSet("role") {
						r, err := model.ParseRole(c.String("role"))
						if err != nil {
							return err
						}
						f.Role = r
					}
					if c.IsSet("team-id") {
						id := c.Int64("team-id")
						f.TeamID = &id
					}
					users, err := db.ListUsers(c.Context, f)
					if err != nil {
						return err
					}
					for _, u := range users {
						team := "-"
						if u.TeamID != nil {
							team = strconv.FormatInt(*u.TeamID, 10)
						}
						fmt.Fprintf(c.App.Writer, "%d\t%s\t%s\tteam=%s\n", u.ExternalID, u.DisplayName, u.Role, team)
					}
					return nil
				}),
			},
			{
				Name:      "set-role",
				Usage:     "Change a user's role",
				ArgsUsage: "<tg_id> <employee|manager|admin>",
				Action: withDB(func(c *cli.Context, db *sqlite.DB) error {
					id, err := argInt(c, 0, "tg_id")
					if err != nil {
						return err
					}
					role, err := model.ParseRole(c.Args().Get(1))
					if err != nil {
						return err
					}
					u, err := db.UpdateUser(c.Context, id, model.UserUpdate{Role: &role})
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "%d is now %s\n", u.ExternalID, u.Role)
					return nil
				}),
			},
			{
				Name:      "set-team",
				Usage:     "Move a user to a team",
				ArgsUsage: "<tg_id> <team_id>",
				Action: withDB(func(c *cli.Context, db *sqlite.DB) error {
					id, err := argInt(c, 0, "tg_id")
					if err != nil {
						return err
					}
					teamID, err := argInt(c, 1, "team_id")
					if err != nil {
						return err
					}
					t, err := db.GetTeamByID(c.Context, teamID)
					if err != nil {
						return err
					}
					if _, err := db.UpdateUser(c.Context, id, model.UserUpdate{TeamID: &t.ID}); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "%d moved to %s\n", id, t.Name)
					return nil
				}),
			},
			{
				Name:  "seed-admin",
				Usage: "Promote the configured admin_ids to admin",
				// openDB does the seeding; this only reports the result.
				Action: withDB(func(c *cli.Context, db *sqlite.DB) error {
					admins, err := db.ListUsers(c.Context, model.UserFilter{Role: model.RoleAdmin})
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "%d admin(s)\n", len(admins))
					return nil
				}),
			},
		},
	}
}

func summaryCommand() *cli.Command {
	return &cli.Command{
		Name:  "summary",
		Usage: "Print the weekly summary",
		Flags: []cli.Flag{&cli.Int64Flag{Name: "team-id", Usage: "limit to one team"}},
		Action: withDB(func(c *cli.Context, db *sqlite.DB) error {
			var scope *int64
			if c.IsSet("team-id") {
				id := c.Int64("team-id")
				scope = &id
			}
			text, err := summary.NewGenerator(db).Weekly(c.Context, scope)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, text)
			return nil
		}),
	}
}

// signInitDataCommand prints a signed Mini App initData string for local testing.
func signInitDataCommand() *cli.Command {
	return &cli.Command{
		Name:  "sign-initdata",
		Usage: "Print signed Telegram payload for local testing",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "user-id", Required: true},
			&cli.StringFlag{Name: "first-name", Value: "Test"},
			&cli.StringFlag{Name: "mode", Value: "web_app", Usage: "web_app or login_widget"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if err := cfg.RequireBotToken(); err != nil {
				return err
			}
			payload, mode, err := devPayload(c.Int64("user-id"), c.String("first-name"), c.String("mode"))
			if err != nil {
				return err
			}
			hash, err := tgauth.Sign(cfg.BotToken, payload, mode)
			if err != nil {
				return err
			}
			payload["hash"] = hash
			fmt.Fprintln(c.App.Writer, tgauth.EncodeInitData(payload))
			return nil
		},
	}
}

func devPayload(userID int64, firstName, mode string) (map[string]string, tgauth.Mode, error) {
	authDate := strconv.FormatInt(time.Now().Unix(), 10)
	switch mode {
	case tgauth.WebApp.String():
		user, err := json.Marshal(map[string]any{"id": userID, "first_name": firstName})
		if err != nil {
			return nil, 0, err
		}
		return map[string]string{"auth_date": authDate, "user": string(user)}, tgauth.WebApp, nil
	case tgauth.LoginWidget.String():
		return map[string]string{
			"auth_date":  authDate,
			"id":         strconv.FormatInt(userID, 10),
			"first_name": firstName,
		}, tgauth.LoginWidget, nil
	}
	return nil, 0, fmt.Errorf("unknown mode %q", mode)
}
