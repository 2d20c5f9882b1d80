package web

import (
	"embed"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/hihikaAAa/team-reports/internal/model"
	"github.com/hihikaAAa/team-reports/internal/summary"
	"github.com/hihikaAAa/team-reports/internal/tgauth"
)

const initDataHeader = "X-Telegram-Init-Data"

//go:embed static/report.html
var static embed.FS

func (s *Server) reportForm(c echo.Context) error {
	page, err := static.ReadFile("static/report.html")
	if err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, page)
}

// submitRequest accepts metric_value and user_id as JSON numbers or strings.
type submitRequest struct {
	Description string          `json:"description"`
	MetricName  string          `json:"metric_name"`
	MetricValue json.RawMessage `json:"metric_value"`
	UserID      json.RawMessage `json:"user_id"`
}

// submitReport stores a report sent from the Mini App form.
func (s *Server) submitReport(c echo.Context) error {
	payload, err := tgauth.ParseInitData(c.Request().Header.Get(initDataHeader))
	if err != nil || !s.verifier.Verify(payload, tgauth.WebApp) {
		s.metrics.AuthFailure(tgauth.WebApp.String())
		log.Warn().Str("ip", c.RealIP()).Msg("invalid telegram init data")
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Invalid Telegram data"})
	}

	var req submitRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid data"})
	}
	if strings.TrimSpace(req.Description) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Description is required"})
	}
	rawID := rawText(req.UserID)
	if rawID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "User ID is required"})
	}
	extID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid user ID"})
	}
	if signed, ok := initDataUserID(payload); ok && signed != extID {
		s.metrics.AuthFailure(tgauth.WebApp.String())
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Invalid Telegram data"})
	}

	ctx := c.Request().Context()
	u, err := s.db.GetUserByExternalID(ctx, extID)
	if errors.Is(err, model.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "User not found"})
	}
	if err != nil {
		return err
	}
	return s.storeReport(c, u, "web_app", req.Description, req.MetricName, rawText(req.MetricValue), func(*model.Report) error {
		return c.JSON(http.StatusOK, map[string]any{"success": true, "message": "Report created successfully"})
	})
}

type createRequest struct {
	Description string          `json:"description"`
	MetricName  string          `json:"metric_name"`
	MetricValue json.RawMessage `json:"metric_value"`
}

func (s *Server) createReport(c echo.Context) error {
	var req createRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid data"})
	}
	if strings.TrimSpace(req.Description) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Описание не может быть пустым"})
	}
	return s.storeReport(c, sessionUser(c), "web", req.Description, req.MetricName, rawText(req.MetricValue), func(r *model.Report) error {
		return c.JSON(http.StatusCreated, r)
	})
}

func (s *Server) storeReport(c echo.Context, u *model.User, source, desc, metricName, metricValue string, ok func(*model.Report) error) error {
	if u.TeamID == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "User has no team"})
	}
	nr := model.NewReport{UserID: u.ID, TeamID: *u.TeamID, Description: desc}
	name := strings.TrimSpace(metricName)
	switch {
	case name == "" && metricValue == "":
	case name == "":
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Metric name is required with a value"})
	case metricValue == "":
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Metric value is required with a name"})
	default:
		v, err := model.ParseMetricValue(metricValue)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Неверный формат числового показателя"})
		}
		nr.MetricName, nr.MetricValue = &name, &v
	}

	rep, err := s.db.CreateReport(c.Request().Context(), nr)
	s.metrics.ReportCreated(source, err)
	if errors.Is(err, model.ErrInvalidReport) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if err != nil {
		log.Error().Err(err).Int64("user_id", u.ExternalID).Msg("create report")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Ошибка при создании отчета"})
	}
	log.Info().Int64("user_id", u.ExternalID).Int64("report_id", rep.ID).Str("source", source).Msg("report created")
	return ok(rep)
}

func (s *Server) listReports(c echo.Context) error {
	u := sessionUser(c)
	reps, err := s.db.ListUserReports(c.Request().Context(), u.ID, nil, nil)
	if err != nil {
		return err
	}
	if reps == nil {
		reps = []*model.Report{}
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "success", "data": reps})
}

// weeklyReports returns the weekly summary: managers see their own team,
// admins see every team.
func (s *Server) weeklyReports(c echo.Context) error {
	u := sessionUser(c)
	if !u.Role.CanReadSummaries() {
		return c.JSON(http.StatusForbidden, map[string]string{"status": "error", "message": "Недостаточно прав"})
	}
	var scope *int64
	if u.Role == model.RoleManager {
		if u.TeamID == nil {
			return c.JSON(http.StatusOK, map[string]string{"status": "success", "data": summary.NoReportsMessage})
		}
		scope = u.TeamID
	}
	text, err := s.summary.Weekly(c.Request().Context(), scope)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "success", "data": text})
}

func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

// initDataUserID extracts the id of the signed "user" field of Mini App initData.
func initDataUserID(payload map[string]string) (int64, bool) {
	raw, ok := payload["user"]
	if !ok {
		return 0, false
	}
	var u struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(raw), &u); err != nil || u.ID == 0 {
		return 0, false
	}
	return u.ID, true
}
