package lib

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/hihikaAAa/team-reports/internal/conversation"
	"github.com/hihikaAAa/team-reports/internal/metrics"
	"github.com/hihikaAAa/team-reports/internal/model"
	"github.com/hihikaAAa/team-reports/internal/storage/sqlite"
	"github.com/hihikaAAa/team-reports/internal/summary"
)

type Bot struct {
	API      Sender
	DB       *sqlite.DB
	Engine   *conversation.Engine
	Summary  *summary.Generator
	AdminIDs map[int64]bool
	TZ       *time.Location
	Metrics  *metrics.Metrics

	dispatch *Dispatcher
	now      func() time.Time
}

func NewBot(api Sender, db *sqlite.DB, engine *conversation.Engine, adminIDs []int64, tz *time.Location, m *metrics.Metrics) *Bot {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	if tz == nil {
		tz = time.Local
	}
	return &Bot{
		API:      api,
		DB:       db,
		Engine:   engine,
		Summary:  summary.NewGenerator(db),
		AdminIDs: admins,
		TZ:       tz,
		Metrics:  m,
		dispatch: NewDispatcher(),
		now:      time.Now,
	}
}

// RegisterCommands publishes the command list shown by Telegram clients.
func (b *Bot) RegisterCommands() error {
	_, err := b.API.Request(tgbotapi.NewSetMyCommands(botCommands...))
	return err
}

const menuButtonText = "Создать отчет"

// SetMenuButton points the default chat menu button at the report Mini App.
// The library has no typed config for setChatMenuButton.
func (b *Bot) SetMenuButton(url string) error {
	params := tgbotapi.Params{}
	err := params.AddInterface("menu_button", map[string]any{
		"type":    "web_app",
		"text":    menuButtonText,
		"web_app": map[string]string{"url": url},
	})
	if err != nil {
		return err
	}
	_, err = b.API.MakeRequest("setChatMenuButton", params)
	return err
}

// Run consumes updates until ctx is cancelled or the channel closes, then
// waits for in-flight handlers.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	defer b.dispatch.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			from := sentFrom(upd)
			if from == nil {
				continue
			}
			b.dispatch.Submit(from.ID, func() { b.HandleUpdate(ctx, upd) })
		}
	}
}

func sentFrom(upd tgbotapi.Update) *tgbotapi.User {
	switch {
	case upd.CallbackQuery != nil:
		return upd.CallbackQuery.From
	case upd.Message != nil:
		return upd.Message.From
	}
	return nil
}

func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Int("update_id", upd.UpdateID).Interface("panic", r).Msg("update handler panicked")
		}
	}()
	switch {
	case upd.CallbackQuery != nil:
		b.Metrics.Update("callback")
		b.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil && upd.Message.From != nil:
		if upd.Message.IsCommand() {
			b.Metrics.Update("command")
		} else {
			b.Metrics.Update("message")
		}
		b.handleMessage(ctx, upd.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	if !m.IsCommand() {
		b.converse(ctx, m.Chat.ID, b.input(m.From, conversation.Input{Text: m.Text}))
		return
	}
	switch cmd := m.Command(); cmd {
	case conversation.CommandRegister, conversation.CommandReport, conversation.CommandCancel:
		b.converse(ctx, m.Chat.ID, b.input(m.From, conversation.Input{Command: cmd}))
	case cmdStart:
		b.onStart(ctx, m)
	case cmdHelp:
		u, _ := b.user(ctx, m.From.ID)
		b.reply(m.Chat.ID, helpFor(u, b.isAdmin(m.From.ID, u)))
	case cmdMyReports:
		b.cmdMyReports(ctx, m)
	case cmdSummary:
		b.cmdSummary(ctx, m)
	case cmdTeams:
		b.cmdTeams(ctx, m)
	case cmdTeamAdd:
		b.adminOnly(ctx, m, b.cmdTeamAdd)
	case cmdTeamDel:
		b.adminOnly(ctx, m, b.cmdTeamDel)
	case cmdUsers:
		b.adminOnly(ctx, m, b.cmdUsers)
	default:
		b.reply(m.Chat.ID, msgUnknownCommand)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if _, err := b.API.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		log.Warn().Err(err).Int64("user_id", cq.From.ID).Msg("answer callback")
	}
	if cq.Message == nil {
		return
	}
	b.converse(ctx, cq.Message.Chat.ID, b.input(cq.From, conversation.Input{Callback: cq.Data}))
}

func (b *Bot) input(from *tgbotapi.User, in conversation.Input) conversation.Input {
	in.UserID = from.ID
	in.DisplayName = fullName(from)
	in.Username = from.UserName
	return in
}

func (b *Bot) converse(ctx context.Context, chatID int64, in conversation.Input) {
	r := b.Engine.Handle(ctx, in)
	if _, err := b.API.Send(replyMessage(chatID, r)); err != nil {
		log.Error().Err(err).Int64("user_id", in.UserID).Msg("send reply")
	}
}

func (b *Bot) onStart(ctx context.Context, m *tgbotapi.Message) {
	u, err := b.user(ctx, m.From.ID)
	if err != nil {
		b.reply(m.Chat.ID, msgError)
		return
	}
	if u == nil {
		b.reply(m.Chat.ID, msgWelcome)
		return
	}
	b.reply(m.Chat.ID, fmt.Sprintf("С возвращением, %s!\n\n%s", u.DisplayName, helpFor(u, b.isAdmin(m.From.ID, u))))
}

func (b *Bot) cmdMyReports(ctx context.Context, m *tgbotapi.Message) {
	u, err := b.user(ctx, m.From.ID)
	if err != nil {
		b.reply(m.Chat.ID, msgError)
		return
	}
	if u == nil {
		b.reply(m.Chat.ID, helpGuest)
		return
	}
	from := b.now().Add(-summary.Window)
	reps, err := b.DB.ListUserReports(ctx, u.ID, &from, nil)
	if err != nil {
		log.Error().Err(err).Int64("user_id", m.From.ID).Msg("list user reports")
		b.reply(m.Chat.ID, msgError)
		return
	}
	if len(reps) == 0 {
		b.reply(m.Chat.ID, msgNoReports)
		return
	}
	var sb strings.Builder
	sb.WriteString("Ваши отчеты за неделю:\n")
	for _, r := range reps {
		r.EffectiveDate = r.EffectiveDate.In(b.TZ)
		sb.WriteString(formatReport(r) + "\n")
	}
	b.reply(m.Chat.ID, sb.String())
}

func (b *Bot) cmdSummary(ctx context.Context, m *tgbotapi.Message) {
	u, err := b.user(ctx, m.From.ID)
	if err != nil {
		b.reply(m.Chat.ID, msgError)
		return
	}
	admin := b.isAdmin(m.From.ID, u)
	if !admin && (u == nil || !u.Role.CanReadSummaries()) {
		b.reply(m.Chat.ID, msgSummaryDenied)
		return
	}
	var scope *int64
	if !admin {
		if u.TeamID == nil {
			b.reply(m.Chat.ID, "За вами не закреплена команда.")
			return
		}
		scope = u.TeamID
	}
	text, err := b.Summary.Weekly(ctx, scope)
	if err != nil {
		log.Error().Err(err).Int64("user_id", m.From.ID).Msg("weekly summary")
		b.reply(m.Chat.ID, msgError)
		return
	}
	b.reply(m.Chat.ID, text)
}

func (b *Bot) cmdTeams(ctx context.Context, m *tgbotapi.Message) {
	teams, err := b.DB.ListTeams(ctx)
	if err != nil {
		b.reply(m.Chat.ID, msgError)
		return
	}
	if len(teams) == 0 {
		b.reply(m.Chat.ID, msgNoTeams)
		return
	}
	var sb strings.Builder
	sb.WriteString("Команды (id → название):\n")
	for _, t := range teams {
		sb.WriteString(fmt.Sprintf("- [%d] %s\n", t.ID, t.Name))
	}
	b.reply(m.Chat.ID, sb.String())
}

func (b *Bot) adminOnly(ctx context.Context, m *tgbotapi.Message, fn func(context.Context, *tgbotapi.Message)) {
	u, err := b.user(ctx, m.From.ID)
	if err != nil {
		b.reply(m.Chat.ID, msgError)
		return
	}
	if !b.isAdmin(m.From.ID, u) {
		b.reply(m.Chat.ID, msgAdminsOnly)
		return
	}
	fn(ctx, m)
}

func (b *Bot) cmdTeamAdd(ctx context.Context, m *tgbotapi.Message) {
	name := strings.TrimSpace(m.CommandArguments())
	if name == "" {
		b.reply(m.Chat.ID, "Добавление команды:\n/team_add <название>\nНапример: /team_add Маркетинг")
		return
	}
	t, err := b.DB.CreateTeam(ctx, name, "")
	if err != nil {
		log.Error().Err(err).Str("team", name).Msg("create team")
		b.reply(m.Chat.ID, msgError)
		return
	}
	b.reply(m.Chat.ID, fmt.Sprintf("Команда создана: [%d] %s", t.ID, t.Name))
}

func (b *Bot) cmdTeamDel(ctx context.Context, m *tgbotapi.Message) {
	arg := strings.TrimSpace(m.CommandArguments())
	if arg == "" {
		b.reply(m.Chat.ID, "Удаление команды:\n/team_del <id>\nСписок id: /teams")
		return
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		b.reply(m.Chat.ID, "id должен быть числом")
		return
	}
	ok, err := b.DB.DeleteTeam(ctx, id)
	if err != nil {
		log.Error().Err(err).Int64("team_id", id).Msg("delete team")
		b.reply(m.Chat.ID, msgError)
		return
	}
	if !ok {
		b.reply(m.Chat.ID, "Команда не найдена.")
		return
	}
	b.reply(m.Chat.ID, "Команда удалена.")
}

func (b *Bot) cmdUsers(ctx context.Context, m *tgbotapi.Message) {
	users, err := b.DB.ListUsers(ctx, model.UserFilter{})
	if err != nil {
		b.reply(m.Chat.ID, msgError)
		return
	}
	if len(users) == 0 {
		b.reply(m.Chat.ID, msgNoUsers)
		return
	}
	teams, _ := b.DB.ListTeams(ctx)
	names := make(map[int64]string, len(teams))
	for _, t := range teams {
		names[t.ID] = t.Name
	}
	var sb strings.Builder
	sb.WriteString("Пользователи (tg_id):\n")
	for _, u := range users {
		team := "-"
		if u.TeamID != nil {
			team = names[*u.TeamID]
		}
		line := fmt.Sprintf("- %s [%s, %s]", u.DisplayName, team, u.Role)
		if u.Username != "" {
			line += " @" + u.Username
		}
		sb.WriteString(fmt.Sprintf("%s — %d\n", line, u.ExternalID))
	}
	b.reply(m.Chat.ID, sb.String())
}

// user returns nil without error for unregistered users.
func (b *Bot) user(ctx context.Context, externalID int64) (*model.User, error) {
	u, err := b.DB.GetUserByExternalID(ctx, externalID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		log.Error().Err(err).Int64("user_id", externalID).Msg("load user")
		return nil, err
	}
	return u, nil
}

func (b *Bot) isAdmin(externalID int64, u *model.User) bool {
	return b.AdminIDs[externalID] || (u != nil && u.Role == model.RoleAdmin)
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.API.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("send message")
	}
}
