package lib

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hihikaAAa/team-reports/internal/conversation"
	"github.com/hihikaAAa/team-reports/internal/model"
	"github.com/hihikaAAa/team-reports/internal/storage/sqlite"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
	calls    map[string]tgbotapi.Params
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.messages = append(f.messages, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]tgbotapi.Params{}
	}
	f.calls[endpoint] = params
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.messages)
	return f.messages[len(f.messages)-1]
}

const (
	employeeID = 100
	adminID    = 1
)

func newTestBot(t *testing.T) (*Bot, *fakeSender, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	api := &fakeSender{}
	engine := conversation.NewEngine(conversation.NewStore(time.Minute), db, nil)
	return NewBot(api, db, engine, []int64{adminID}, time.UTC, nil), api, db
}

func commandUpdate(from int64, text string) tgbotapi.Update {
	cmdLen := len(text)
	for i, r := range text {
		if r == ' ' {
			cmdLen = i
			break
		}
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: from, FirstName: "Ivan", LastName: "Petrov"},
		Chat:     &tgbotapi.Chat{ID: from},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}}
}

func textUpdate(from int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: from, FirstName: "Ivan", LastName: "Petrov"},
		Chat: &tgbotapi.Chat{ID: from},
		Text: text,
	}}
}

func callbackUpdate(from int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: from, FirstName: "Ivan", LastName: "Petrov"},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: from}},
		Data:    data,
	}}
}

func TestRegisterAndReportOverTelegram(t *testing.T) {
	bot, api, db := newTestBot(t)
	ctx := context.Background()
	team, err := db.CreateTeam(ctx, "Backend", "")
	require.NoError(t, err)

	bot.HandleUpdate(ctx, commandUpdate(employeeID, "/register"))
	menu := api.last(t)
	kb, ok := menu.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 2)
	require.NotNil(t, kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, fmt.Sprintf("team:%d", team.ID), *kb.InlineKeyboard[0][0].CallbackData)

	bot.HandleUpdate(ctx, callbackUpdate(employeeID, fmt.Sprintf("team:%d", team.ID)))
	assert.Contains(t, api.last(t).Text, "Регистрация успешно завершена")
	u, err := db.GetUserByExternalID(ctx, employeeID)
	require.NoError(t, err)
	assert.Equal(t, "Ivan Petrov", u.DisplayName)
	assert.Equal(t, team.ID, *u.TeamID)

	bot.HandleUpdate(ctx, commandUpdate(employeeID, "/report"))
	bot.HandleUpdate(ctx, textUpdate(employeeID, "Closed 5 tickets"))
	bot.HandleUpdate(ctx, callbackUpdate(employeeID, "metric:yes"))
	bot.HandleUpdate(ctx, textUpdate(employeeID, "Tickets"))
	bot.HandleUpdate(ctx, textUpdate(employeeID, "5"))
	assert.Equal(t, "Отчет сохранен. Спасибо!", api.last(t).Text)

	reps, err := db.ListUserReports(ctx, u.ID, nil, nil)
	require.NoError(t, err)
	require.Len(t, reps, 1)
	assert.Equal(t, "Closed 5 tickets", reps[0].Description)
	assert.Equal(t, 5.0, *reps[0].MetricValue)

	bot.HandleUpdate(ctx, commandUpdate(employeeID, "/myreports"))
	assert.Contains(t, api.last(t).Text, "Closed 5 tickets (Tickets: 5)")

	api.mu.Lock()
	assert.NotEmpty(t, api.requests)
	api.mu.Unlock()
}

func TestFreeTextOutsideDialog(t *testing.T) {
	bot, api, _ := newTestBot(t)
	bot.HandleUpdate(context.Background(), textUpdate(employeeID, "hello"))
	assert.Contains(t, api.last(t).Text, "я понимаю только команды")
}

func TestHelpIsRoleSpecific(t *testing.T) {
	bot, api, db := newTestBot(t)
	ctx := context.Background()

	bot.HandleUpdate(ctx, commandUpdate(employeeID, "/help"))
	assert.Equal(t, helpGuest, api.last(t).Text)

	_, err := db.CreateUser(ctx, model.NewUser{ExternalID: employeeID, DisplayName: "E"})
	require.NoError(t, err)
	bot.HandleUpdate(ctx, commandUpdate(employeeID, "/help"))
	assert.Equal(t, helpEmployee, api.last(t).Text)

	_, err = db.CreateUser(ctx, model.NewUser{ExternalID: 200, DisplayName: "M", Role: model.RoleManager})
	require.NoError(t, err)
	bot.HandleUpdate(ctx, commandUpdate(200, "/help"))
	assert.Equal(t, helpManager, api.last(t).Text)

	bot.HandleUpdate(ctx, commandUpdate(adminID, "/help"))
	assert.Equal(t, helpAdmin, api.last(t).Text)
}

func TestSummaryAccess(t *testing.T) {
	bot, api, db := newTestBot(t)
	ctx := context.Background()
	team, err := db.CreateTeam(ctx, "Backend", "")
	require.NoError(t, err)
	emp, err := db.CreateUser(ctx, model.NewUser{ExternalID: employeeID, DisplayName: "E", TeamID: &team.ID})
	require.NoError(t, err)
	_, err = db.CreateUser(ctx, model.NewUser{ExternalID: 200, DisplayName: "M", Role: model.RoleManager, TeamID: &team.ID})
	require.NoError(t, err)
	_, err = db.CreateReport(ctx, model.NewReport{UserID: emp.ID, TeamID: team.ID, Description: "Shipped"})
	require.NoError(t, err)

	bot.HandleUpdate(ctx, commandUpdate(employeeID, "/summary"))
	assert.Equal(t, msgSummaryDenied, api.last(t).Text)

	bot.HandleUpdate(ctx, commandUpdate(200, "/summary"))
	assert.Contains(t, api.last(t).Text, "Команда: Backend")
	assert.Contains(t, api.last(t).Text, "- Shipped")

	bot.HandleUpdate(ctx, commandUpdate(adminID, "/summary"))
	assert.Contains(t, api.last(t).Text, "Еженедельный отчет:")
}

func TestAdminTeamCommands(t *testing.T) {
	bot, api, db := newTestBot(t)
	ctx := context.Background()

	bot.HandleUpdate(ctx, commandUpdate(employeeID, "/team_add QA"))
	assert.Equal(t, msgAdminsOnly, api.last(t).Text)

	bot.HandleUpdate(ctx, commandUpdate(adminID, "/team_add QA"))
	assert.Contains(t, api.last(t).Text, "Команда создана")
	team, err := db.GetTeamByName(ctx, "QA")
	require.NoError(t, err)

	bot.HandleUpdate(ctx, commandUpdate(adminID, "/teams"))
	assert.Contains(t, api.last(t).Text, "QA")

	bot.HandleUpdate(ctx, commandUpdate(adminID, "/team_del abc"))
	assert.Equal(t, "id должен быть числом", api.last(t).Text)

	bot.HandleUpdate(ctx, commandUpdate(adminID, "/team_del "+strconv.FormatInt(team.ID, 10)))
	assert.Equal(t, "Команда удалена.", api.last(t).Text)
	_, err = db.GetTeamByID(ctx, team.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRunOrdersUpdatesPerUser(t *testing.T) {
	bot, api, db := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())
	team, err := db.CreateTeam(ctx, "Backend", "")
	require.NoError(t, err)
	_, err = db.CreateUser(ctx, model.NewUser{ExternalID: employeeID, DisplayName: "E", TeamID: &team.ID})
	require.NoError(t, err)

	updates := make(chan tgbotapi.Update, 8)
	updates <- commandUpdate(employeeID, "/report")
	updates <- textUpdate(employeeID, "Wrote docs")
	updates <- callbackUpdate(employeeID, "metric:no")
	close(updates)

	require.NoError(t, bot.Run(ctx, updates))
	cancel()
	assert.Equal(t, "Отчет сохранен. Спасибо!", api.last(t).Text)
}

func TestRegisterCommands(t *testing.T) {
	bot, api, _ := newTestBot(t)
	require.NoError(t, bot.RegisterCommands())
	require.Len(t, api.requests, 1)
	cfg, ok := api.requests[0].(tgbotapi.SetMyCommandsConfig)
	require.True(t, ok)
	assert.Len(t, cfg.Commands, len(botCommands))
}

func TestSetMenuButton(t *testing.T) {
	bot, api, _ := newTestBot(t)
	require.NoError(t, bot.SetMenuButton("https://reports.example.com/report"))

	params, ok := api.calls["setChatMenuButton"]
	require.True(t, ok)
	assert.JSONEq(t,
		`{"type":"web_app","text":"Создать отчет","web_app":{"url":"https://reports.example.com/report"}}`,
		params["menu_button"])
}
