package lib

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/hihikaAAa/team-reports/internal/conversation"
	"github.com/hihikaAAa/team-reports/internal/model"
)

// Sender is the part of *tgbotapi.BotAPI the bot uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

const (
	cmdStart     = "start"
	cmdHelp      = "help"
	cmdMyReports = "myreports"
	cmdSummary   = "summary"
	cmdTeams     = "teams"
	cmdTeamAdd   = "team_add"
	cmdTeamDel   = "team_del"
	cmdUsers     = "users"
)

var botCommands = []tgbotapi.BotCommand{
	{Command: cmdStart, Description: "Начать работу"},
	{Command: cmdHelp, Description: "Показать справку"},
	{Command: conversation.CommandRegister, Description: "Зарегистрироваться"},
	{Command: conversation.CommandReport, Description: "Создать отчет"},
	{Command: cmdMyReports, Description: "Мои отчеты за неделю"},
	{Command: cmdSummary, Description: "Еженедельная сводка"},
	{Command: conversation.CommandCancel, Description: "Отменить действие"},
}

const (
	helpGuest = "Справка по использованию бота:\n" +
		"1. /register - зарегистрироваться в системе\n" +
		"2. /help - показать эту справку"
	helpEmployee = "Справка по использованию бота:\n" +
		"1. /report - создать отчет\n" +
		"2. /myreports - мои отчеты за неделю\n" +
		"3. /teams - список команд\n" +
		"4. /cancel - отменить текущее действие"
	helpManager = "Справка по использованию бота:\n" +
		"1. /report - создать отчет\n" +
		"2. /summary - сводка по вашей команде за неделю\n" +
		"3. /myreports - мои отчеты за неделю\n" +
		"4. /cancel - отменить текущее действие"
	helpAdmin = "Справка по использованию бота:\n" +
		"1. /report - создать отчет\n" +
		"2. /summary - сводка по всем командам за неделю\n" +
		"3. /users - список пользователей\n" +
		"4. /teams - список команд\n" +
		"5. /team_add <название> - создать команду\n" +
		"6. /team_del <id> - удалить команду"

	msgWelcome        = "Добро пожаловать! Для начала работы необходимо зарегистрироваться.\nИспользуйте команду /register для регистрации."
	msgUnknownCommand = "Неизвестная команда. Используйте /help для справки."
	msgAdminsOnly     = "Команда доступна только администраторам."
	msgSummaryDenied  = "Сводка доступна только руководителям и администраторам."
	msgNoReports      = "У вас нет отчетов за последнюю неделю."
	msgNoTeams        = "Команд пока нет."
	msgNoUsers        = "Пользователей пока нет."
	msgError          = "Произошла ошибка. Попробуйте позже."
)

func helpFor(u *model.User, admin bool) string {
	switch {
	case admin:
		return helpAdmin
	case u == nil:
		return helpGuest
	case u.Role == model.RoleManager:
		return helpManager
	}
	return helpEmployee
}

// replyMessage renders an engine reply; every choice gets its own keyboard row.
func replyMessage(chatID int64, r conversation.Reply) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, r.Text)
	if len(r.Choices) == 0 {
		return msg
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(r.Choices))
	for _, c := range r.Choices {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Data)))
	}
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	return msg
}

func fullName(u *tgbotapi.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func formatReport(r *model.Report) string {
	line := fmt.Sprintf("• %s %s", r.EffectiveDate.Format("02.01.2006"), r.Description)
	if r.MetricName != nil && r.MetricValue != nil {
		line += fmt.Sprintf(" (%s: %s)", *r.MetricName, model.FormatMetricValue(*r.MetricValue))
	}
	return line
}

// zerologBot routes tgbotapi's internal logging into zerolog.
type zerologBot struct{}

func (zerologBot) Println(v ...interface{}) {
	log.Debug().Str("component", "tgbotapi").Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (zerologBot) Printf(format string, v ...interface{}) {
	log.Debug().Str("component", "tgbotapi").Msgf(format, v...)
}

// UseZerolog installs the zerolog adapter as tgbotapi's logger.
func UseZerolog() error {
	return tgbotapi.SetLogger(zerologBot{})
}
