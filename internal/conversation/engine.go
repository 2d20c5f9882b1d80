package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hihikaAAa/team-reports/internal/metrics"
	"github.com/hihikaAAa/team-reports/internal/model"
)

type Step string

const (
	StepIdle                      Step = "idle"
	StepAwaitingTeamSelection     Step = "awaiting_team_selection"
	StepAwaitingReportDescription Step = "awaiting_report_description"
	StepAwaitingMetricChoice      Step = "awaiting_metric_choice"
	StepAwaitingMetricName        Step = "awaiting_metric_name"
	StepAwaitingMetricValue       Step = "awaiting_metric_value"
)

const (
	CommandRegister = "register"
	CommandReport   = "report"
	CommandCancel   = "cancel"
)

const (
	CallbackTeamPrefix = "team:"
	CallbackNewTeam    = "team:new"
	CallbackMetricYes  = "metric:yes"
	CallbackMetricNo   = "metric:no"
)

const (
	FieldUserID       = "userId"
	FieldTeamID       = "teamId"
	FieldDescription  = "description"
	FieldMetricName   = "metricName"
	FieldMetricValue  = "metricValue"
	FieldCreatingTeam = "creatingTeam"
)

const (
	msgCommandsOnly      = "Извините, я понимаю только команды. Используйте /help для справки."
	msgAlreadyRegistered = "Вы уже зарегистрированы в системе!"
	msgChooseTeam        = "Выберите вашу команду:"
	msgNewTeamName       = "Введите название новой команды:"
	msgEmptyTeamName     = "Название команды не может быть пустым. Введите текст:"
	msgRegisterFirst     = "Пожалуйста, сначала зарегистрируйтесь с помощью команды /register"
	msgNoTeam            = "За вами не закреплена команда. Выберите ее с помощью команды /register"
	msgAskDescription    = "Опишите выполненную задачу:"
	msgEmptyDescription  = "Описание не может быть пустым. Опишите выполненную задачу текстом:"
	msgAskMetric         = "Добавить числовой показатель?"
	msgAskMetricName     = "Введите название показателя (например: Закрытые тикеты):"
	msgEmptyMetricName   = "Название показателя не может быть пустым. Введите текст:"
	msgAskMetricValue    = "Введите значение показателя (число):"
	msgBadMetricValue    = "Не удалось распознать число. Введите значение, например 3,14 или 3.14:"
	msgReportSaved       = "Отчет сохранен. Спасибо!"
	msgReportFailed      = "Не удалось сохранить отчет. Попробуйте позже."
	msgRegisterFailed    = "Не удалось завершить регистрацию. Попробуйте позже."
	msgGenericError      = "Произошла ошибка. Попробуйте позже."
	msgCancelled         = "Действие отменено."
	msgNothingToCancel   = "Нечего отменять."
)

// Directory is the part of the domain services the dialogs need.
type Directory interface {
	GetUserByExternalID(ctx context.Context, externalID int64) (*model.User, error)
	CreateUser(ctx context.Context, u model.NewUser) (*model.User, error)
	UpdateUser(ctx context.Context, externalID int64, upd model.UserUpdate) (*model.User, error)
	ListTeams(ctx context.Context) ([]*model.Team, error)
	GetTeamByID(ctx context.Context, id int64) (*model.Team, error)
	CreateTeam(ctx context.Context, name, description string) (*model.Team, error)
	CreateReport(ctx context.Context, r model.NewReport) (*model.Report, error)
}

// Input is one inbound chat event. Exactly one of Command, Callback or Text is
// expected to be meaningful.
type Input struct {
	UserID      int64
	DisplayName string
	Username    string
	Command     string
	Text        string
	Callback    string
}

type Choice struct {
	Label string
	Data  string
}

type Reply struct {
	Text    string
	Choices []Choice
}

type Engine struct {
	store   *Store
	dir     Directory
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewEngine(store *Store, dir Directory, m *metrics.Metrics) *Engine {
	return &Engine{store: store, dir: dir, metrics: m, now: time.Now}
}

func (e *Engine) Store() *Store { return e.store }

// Handle runs one input through the user's dialog. Inputs of one user are
// processed one at a time.
func (e *Engine) Handle(ctx context.Context, in Input) Reply {
	unlock := e.store.Lock(in.UserID)
	defer unlock()

	switch in.Command {
	case CommandRegister:
		return e.startRegistration(ctx, in)
	case CommandReport:
		return e.startReport(ctx, in)
	case CommandCancel:
		return e.cancel(in.UserID)
	}

	st, ok := e.store.Get(in.UserID)
	if !ok {
		return Reply{Text: msgCommandsOnly}
	}
	switch st.Step {
	case StepAwaitingTeamSelection:
		return e.onTeamSelection(ctx, st, in)
	case StepAwaitingReportDescription:
		return e.onDescription(st, in)
	case StepAwaitingMetricChoice:
		return e.onMetricChoice(ctx, st, in)
	case StepAwaitingMetricName:
		return e.onMetricName(st, in)
	case StepAwaitingMetricValue:
		return e.onMetricValue(ctx, st, in)
	}
	e.clear(st)
	return Reply{Text: msgCommandsOnly}
}

// startRegistration also lets a known user without a team (for example an
// admin seeded from config) pick one.
func (e *Engine) startRegistration(ctx context.Context, in Input) Reply {
	u, err := e.dir.GetUserByExternalID(ctx, in.UserID)
	if err == nil && u.TeamID != nil {
		return Reply{Text: msgAlreadyRegistered}
	}
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		log.Error().Err(err).Int64("user_id", in.UserID).Msg("lookup user")
		return Reply{Text: msgGenericError}
	}
	menu, err := e.teamMenu(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list teams")
		return Reply{Text: msgGenericError}
	}
	prev := e.current(in.UserID)
	e.store.Put(State{UserID: in.UserID, Step: StepAwaitingTeamSelection, Fields: map[string]string{}})
	e.metrics.Transition(string(prev), string(StepAwaitingTeamSelection))
	return menu
}

func (e *Engine) startReport(ctx context.Context, in Input) Reply {
	u, err := e.dir.GetUserByExternalID(ctx, in.UserID)
	if errors.Is(err, model.ErrNotFound) {
		return Reply{Text: msgRegisterFirst}
	}
	if err != nil {
		log.Error().Err(err).Int64("user_id", in.UserID).Msg("lookup user")
		return Reply{Text: msgGenericError}
	}
	if u.TeamID == nil {
		return Reply{Text: msgNoTeam}
	}
	prev := e.current(in.UserID)
	e.store.Put(State{UserID: in.UserID, Step: StepAwaitingReportDescription, Fields: map[string]string{
		FieldUserID: strconv.FormatInt(u.ID, 10),
		FieldTeamID: strconv.FormatInt(*u.TeamID, 10),
	}})
	e.metrics.Transition(string(prev), string(StepAwaitingReportDescription))
	return Reply{Text: msgAskDescription}
}

func (e *Engine) cancel(userID int64) Reply {
	st, ok := e.store.Get(userID)
	if !ok {
		return Reply{Text: msgNothingToCancel}
	}
	e.clear(st)
	return Reply{Text: msgCancelled}
}

func (e *Engine) onTeamSelection(ctx context.Context, st State, in Input) Reply {
	switch {
	case in.Callback == CallbackNewTeam:
		st.Fields[FieldCreatingTeam] = "1"
		e.store.Put(st)
		return Reply{Text: msgNewTeamName}

	case strings.HasPrefix(in.Callback, CallbackTeamPrefix):
		id, err := strconv.ParseInt(strings.TrimPrefix(in.Callback, CallbackTeamPrefix), 10, 64)
		if err != nil {
			return e.repromptTeams(ctx)
		}
		team, err := e.dir.GetTeamByID(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			return e.repromptTeams(ctx)
		}
		if err != nil {
			log.Error().Err(err).Int64("team_id", id).Msg("get team")
			return Reply{Text: msgGenericError}
		}
		return e.register(ctx, st, in, team)

	case st.Fields[FieldCreatingTeam] != "" && in.Callback == "":
		name := strings.TrimSpace(in.Text)
		if name == "" {
			return Reply{Text: msgEmptyTeamName}
		}
		team, err := e.dir.CreateTeam(ctx, name, "")
		if err != nil {
			log.Error().Err(err).Str("team", name).Msg("create team")
			e.clear(st)
			return Reply{Text: msgRegisterFailed}
		}
		return e.register(ctx, st, in, team)
	}
	return e.repromptTeams(ctx)
}

func (e *Engine) register(ctx context.Context, st State, in Input, team *model.Team) Reply {
	st.Fields[FieldTeamID] = strconv.FormatInt(team.ID, 10)
	teamID := team.ID
	u, err := e.dir.CreateUser(ctx, model.NewUser{
		ExternalID:  in.UserID,
		DisplayName: displayName(in),
		Username:    in.Username,
		Role:        model.RoleEmployee,
		TeamID:      &teamID,
	})
	if err == nil && u.TeamID == nil {
		_, err = e.dir.UpdateUser(ctx, in.UserID, model.UserUpdate{TeamID: &teamID})
	}
	e.clear(st)
	if err != nil {
		log.Error().Err(err).Int64("user_id", in.UserID).Msg("create user")
		return Reply{Text: msgRegisterFailed}
	}
	log.Info().Int64("user_id", in.UserID).Str("team", team.Name).Msg("user registered")
	return Reply{Text: fmt.Sprintf("Регистрация успешно завершена!\nИмя: %s\nКоманда: %s\n\nИспользуйте /report, чтобы отправить отчет.", displayName(in), team.Name)}
}

func (e *Engine) onDescription(st State, in Input) Reply {
	desc := strings.TrimSpace(in.Text)
	if in.Callback != "" || desc == "" {
		return Reply{Text: msgEmptyDescription}
	}
	st.Fields[FieldDescription] = desc
	e.advance(st, StepAwaitingMetricChoice)
	return metricChoice()
}

func (e *Engine) onMetricChoice(ctx context.Context, st State, in Input) Reply {
	switch choice(in) {
	case CallbackMetricNo:
		return e.commit(ctx, st)
	case CallbackMetricYes:
		e.advance(st, StepAwaitingMetricName)
		return Reply{Text: msgAskMetricName}
	}
	return metricChoice()
}

func (e *Engine) onMetricName(st State, in Input) Reply {
	name := strings.TrimSpace(in.Text)
	if in.Callback != "" || name == "" {
		return Reply{Text: msgEmptyMetricName}
	}
	st.Fields[FieldMetricName] = name
	e.advance(st, StepAwaitingMetricValue)
	return Reply{Text: msgAskMetricValue}
}

func (e *Engine) onMetricValue(ctx context.Context, st State, in Input) Reply {
	if in.Callback != "" {
		return Reply{Text: msgBadMetricValue}
	}
	v, err := model.ParseMetricValue(in.Text)
	if err != nil {
		return Reply{Text: msgBadMetricValue}
	}
	st.Fields[FieldMetricValue] = model.FormatMetricValue(v)
	return e.commit(ctx, st)
}

// commit makes a single attempt to persist the report; the dialog ends either way.
func (e *Engine) commit(ctx context.Context, st State) Reply {
	defer e.clear(st)

	r, err := reportFromFields(st.Fields)
	if err == nil {
		r.EffectiveDate = e.now()
		_, err = e.dir.CreateReport(ctx, r)
	}
	e.metrics.ReportCreated("telegram", err)
	if err != nil {
		log.Error().Err(err).Int64("user_id", st.UserID).Msg("create report")
		return Reply{Text: msgReportFailed}
	}
	log.Info().Int64("user_id", st.UserID).Msg("report created")
	return Reply{Text: msgReportSaved}
}

func reportFromFields(f map[string]string) (model.NewReport, error) {
	userID, err := strconv.ParseInt(f[FieldUserID], 10, 64)
	if err != nil {
		return model.NewReport{}, fmt.Errorf("dialog user id: %w", err)
	}
	teamID, err := strconv.ParseInt(f[FieldTeamID], 10, 64)
	if err != nil {
		return model.NewReport{}, fmt.Errorf("dialog team id: %w", err)
	}
	r := model.NewReport{UserID: userID, TeamID: teamID, Description: f[FieldDescription]}
	if name, ok := f[FieldMetricName]; ok {
		v, err := model.ParseMetricValue(f[FieldMetricValue])
		if err != nil {
			return model.NewReport{}, fmt.Errorf("dialog metric value: %w", err)
		}
		r.MetricName, r.MetricValue = &name, &v
	}
	return r, nil
}

func (e *Engine) repromptTeams(ctx context.Context) Reply {
	menu, err := e.teamMenu(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list teams")
		return Reply{Text: msgGenericError}
	}
	return menu
}

func (e *Engine) teamMenu(ctx context.Context) (Reply, error) {
	teams, err := e.dir.ListTeams(ctx)
	if err != nil {
		return Reply{}, err
	}
	choices := make([]Choice, 0, len(teams)+1)
	for _, t := range teams {
		choices = append(choices, Choice{Label: t.Name, Data: fmt.Sprintf("%s%d", CallbackTeamPrefix, t.ID)})
	}
	choices = append(choices, Choice{Label: "➕ Новая команда", Data: CallbackNewTeam})
	return Reply{Text: msgChooseTeam, Choices: choices}, nil
}

func metricChoice() Reply {
	return Reply{Text: msgAskMetric, Choices: []Choice{
		{Label: "Да", Data: CallbackMetricYes},
		{Label: "Нет", Data: CallbackMetricNo},
	}}
}

// choice maps a button press or a typed answer onto the yes/no callbacks.
func choice(in Input) string {
	if in.Callback != "" {
		return in.Callback
	}
	switch strings.ToLower(strings.TrimSpace(in.Text)) {
	case "да", "yes", "y":
		return CallbackMetricYes
	case "нет", "no", "n":
		return CallbackMetricNo
	}
	return ""
}

func (e *Engine) advance(st State, to Step) {
	from := st.Step
	st.Step = to
	e.store.Put(st)
	e.metrics.Transition(string(from), string(to))
}

func (e *Engine) clear(st State) {
	e.store.Delete(st.UserID)
	e.metrics.Transition(string(st.Step), string(StepIdle))
}

func (e *Engine) current(userID int64) Step {
	if st, ok := e.store.Get(userID); ok {
		return st.Step
	}
	return StepIdle
}

func displayName(in Input) string {
	if n := strings.TrimSpace(in.DisplayName); n != "" {
		return n
	}
	if in.Username != "" {
		return "@" + in.Username
	}
	return fmt.Sprintf("user-%d", in.UserID)
}
