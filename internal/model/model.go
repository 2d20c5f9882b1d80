package model

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidReport = errors.New("invalid report")
	ErrInvalidRole   = errors.New("invalid role")
)

type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleEmployee, RoleManager, RoleAdmin:
		return r, nil
	}
	return "", ErrInvalidRole
}

// CanReadSummaries reports whether the role may request weekly summaries.
func (r Role) CanReadSummaries() bool { return r == RoleManager || r == RoleAdmin }

type User struct {
	ID          int64     `json:"id"`
	ExternalID  int64     `json:"external_id"`
	DisplayName string    `json:"display_name"`
	Username    string    `json:"username,omitempty"`
	Role        Role      `json:"role"`
	TeamID      *int64    `json:"team_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type NewUser struct {
	ExternalID  int64
	DisplayName string
	Username    string
	Role        Role
	TeamID      *int64
}

// UserUpdate carries the fields to change; nil means untouched.
type UserUpdate struct {
	DisplayName *string
	Username    *string
	Role        *Role
	TeamID      *int64
	ClearTeam   bool
}

type UserFilter struct {
	Role   Role
	TeamID *int64
}

type Team struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type TeamUpdate struct {
	Name        *string
	Description *string
}

type Report struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	TeamID        int64     `json:"team_id"`
	Description   string    `json:"description"`
	MetricName    *string   `json:"metric_name,omitempty"`
	MetricValue   *float64  `json:"metric_value,omitempty"`
	EffectiveDate time.Time `json:"effective_date"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type NewReport struct {
	UserID        int64
	TeamID        int64
	Description   string
	MetricName    *string
	MetricValue   *float64
	EffectiveDate time.Time
}

// Validate checks the description and that metric name and value come together.
func (r NewReport) Validate() error {
	return validateReport(r.Description, r.MetricName, r.MetricValue)
}

type ReportUpdate struct {
	Description *string
	MetricName  *string
	MetricValue *float64
	ClearMetric bool
}

// Apply returns a copy of rep with the update applied and validated.
func (u ReportUpdate) Apply(rep Report) (Report, error) {
	if u.Description != nil {
		rep.Description = *u.Description
	}
	if u.ClearMetric {
		rep.MetricName, rep.MetricValue = nil, nil
	}
	if u.MetricName != nil {
		n := *u.MetricName
		rep.MetricName = &n
	}
	if u.MetricValue != nil {
		v := *u.MetricValue
		rep.MetricValue = &v
	}
	if err := validateReport(rep.Description, rep.MetricName, rep.MetricValue); err != nil {
		return Report{}, err
	}
	return rep, nil
}

func validateReport(desc string, name *string, value *float64) error {
	if strings.TrimSpace(desc) == "" {
		return errors.Join(ErrInvalidReport, errors.New("description is required"))
	}
	hasName := name != nil && strings.TrimSpace(*name) != ""
	if hasName != (value != nil) {
		return errors.Join(ErrInvalidReport, errors.New("metric name and value must be set together"))
	}
	return nil
}
