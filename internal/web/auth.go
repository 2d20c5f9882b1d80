package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/hihikaAAa/team-reports/internal/model"
	"github.com/hihikaAAa/team-reports/internal/tgauth"
)

const (
	sessionCookie = "session"
	ctxUser       = "user"
)

type teamView struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// auth signs a user in with a Telegram Login Widget payload.
func (s *Server) auth(c echo.Context) error {
	form, err := c.FormParams()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid form"})
	}
	payload := make(map[string]string, len(form))
	for k, v := range form {
		if len(v) > 0 {
			payload[k] = v[0]
		}
	}
	if !s.verifier.Verify(payload, tgauth.LoginWidget) {
		s.metrics.AuthFailure(tgauth.LoginWidget.String())
		return c.JSON(http.StatusForbidden, map[string]string{"status": "error", "message": "Недействительные данные аутентификации"})
	}
	extID, err := strconv.ParseInt(payload["id"], 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid user id"})
	}

	ctx := c.Request().Context()
	u, err := s.db.GetUserByExternalID(ctx, extID)
	switch {
	case err == nil:
		if err := s.startSession(c, u.ExternalID); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{"status": "ok", "user": u})
	case !errors.Is(err, model.ErrNotFound):
		log.Error().Err(err).Int64("user_id", extID).Msg("auth lookup user")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal error"})
	}

	name := strings.TrimSpace(payload["first_name"] + " " + payload["last_name"])
	tok, err := s.sessions.Issue(Claims{ExternalID: extID, Purpose: purposeRegister, Name: name, Username: payload["username"]})
	if err != nil {
		return err
	}
	teams, err := s.teamViews(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":             "registration_required",
		"registration_token": tok,
		"teams":              teams,
	})
}

type registerRequest struct {
	Token  string `json:"registration_token" form:"registration_token"`
	TeamID int64  `json:"team_id" form:"team_id"`
}

func (s *Server) register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid data"})
	}
	claims, err := s.sessions.Parse(req.Token, purposeRegister)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Registration expired"})
	}
	if req.TeamID == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Выберите команду"})
	}
	ctx := c.Request().Context()
	team, err := s.db.GetTeamByID(ctx, req.TeamID)
	if errors.Is(err, model.ErrNotFound) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Team not found"})
	}
	if err != nil {
		return err
	}
	u, err := s.db.CreateUser(ctx, model.NewUser{
		ExternalID:  claims.ExternalID,
		DisplayName: claims.Name,
		Username:    claims.Username,
		Role:        model.RoleEmployee,
		TeamID:      &team.ID,
	})
	if err != nil {
		log.Error().Err(err).Int64("user_id", claims.ExternalID).Msg("web register")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Ошибка при регистрации пользователя"})
	}
	log.Info().Int64("user_id", u.ExternalID).Str("team", team.Name).Msg("user registered via web")
	if err := s.startSession(c, u.ExternalID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "user": u})
}

func (s *Server) logout(c echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) startSession(c echo.Context, externalID int64) error {
	tok, err := s.sessions.Issue(Claims{ExternalID: externalID, Purpose: purposeSession})
	if err != nil {
		return err
	}
	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    tok,
		Path:     "/",
		Expires:  time.Now().Add(s.sessions.TTL()),
		HttpOnly: true,
		Secure:   s.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// requireSession loads the signed-in user or answers 401.
func (s *Server) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cookie, err := c.Cookie(sessionCookie)
		if err != nil || cookie.Value == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"status": "error", "message": "Unauthorized"})
		}
		claims, err := s.sessions.Parse(cookie.Value, purposeSession)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"status": "error", "message": "Unauthorized"})
		}
		u, err := s.db.GetUserByExternalID(c.Request().Context(), claims.ExternalID)
		if errors.Is(err, model.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"status": "error", "message": "Unauthorized"})
		}
		if err != nil {
			return err
		}
		c.Set(ctxUser, u)
		return next(c)
	}
}

func sessionUser(c echo.Context) *model.User {
	u, _ := c.Get(ctxUser).(*model.User)
	return u
}

func (s *Server) teamViews(c echo.Context) ([]teamView, error) {
	teams, err := s.db.ListTeams(c.Request().Context())
	if err != nil {
		return nil, err
	}
	out := make([]teamView, 0, len(teams))
	for _, t := range teams {
		out = append(out, teamView{ID: t.ID, Name: t.Name})
	}
	return out, nil
}
