package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hihikaAAa/team-reports/internal/model"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr[T any](v T) *T { return &v }

func seed(t *testing.T, db *DB) (*model.Team, *model.User) {
	t.Helper()
	ctx := context.Background()
	team, err := db.CreateTeam(ctx, "Backend", "")
	require.NoError(t, err)
	u, err := db.CreateUser(ctx, model.NewUser{ExternalID: 42, DisplayName: "Ivan", Username: "ivan", TeamID: &team.ID})
	require.NoError(t, err)
	return team, u
}

func TestCreateUserIsIdempotent(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	first, err := db.CreateUser(ctx, model.NewUser{ExternalID: 7, DisplayName: "Anna"})
	require.NoError(t, err)
	assert.Equal(t, model.RoleEmployee, first.Role)
	assert.Nil(t, first.TeamID)

	again, err := db.CreateUser(ctx, model.NewUser{ExternalID: 7, DisplayName: "Other", Role: model.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "Anna", again.DisplayName)
	assert.Equal(t, model.RoleEmployee, again.Role)
}

func TestGetUserNotFound(t *testing.T) {
	db := openTest(t)
	_, err := db.GetUserByExternalID(context.Background(), 1)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateUser(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	team, u := seed(t, db)

	role := model.RoleManager
	got, err := db.UpdateUser(ctx, u.ExternalID, model.UserUpdate{Role: &role, DisplayName: ptr("Ivan P.")})
	require.NoError(t, err)
	assert.Equal(t, model.RoleManager, got.Role)
	assert.Equal(t, "Ivan P.", got.DisplayName)
	require.NotNil(t, got.TeamID)
	assert.Equal(t, team.ID, *got.TeamID)

	got, err = db.UpdateUser(ctx, u.ExternalID, model.UserUpdate{ClearTeam: true})
	require.NoError(t, err)
	assert.Nil(t, got.TeamID)

	bad := model.Role("boss")
	_, err = db.UpdateUser(ctx, u.ExternalID, model.UserUpdate{Role: &bad})
	assert.ErrorIs(t, err, model.ErrInvalidRole)

	_, err = db.UpdateUser(ctx, 999, model.UserUpdate{Role: &role})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestListUsersFilter(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	team, _ := seed(t, db)
	_, err := db.CreateUser(ctx, model.NewUser{ExternalID: 8, DisplayName: "Boss", Role: model.RoleManager})
	require.NoError(t, err)

	all, err := db.ListUsers(ctx, model.UserFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	managers, err := db.ListUsers(ctx, model.UserFilter{Role: model.RoleManager})
	require.NoError(t, err)
	require.Len(t, managers, 1)
	assert.Equal(t, int64(8), managers[0].ExternalID)

	members, err := db.ListUsers(ctx, model.UserFilter{TeamID: &team.ID})
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, int64(42), members[0].ExternalID)
}

func TestTeams(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	a, err := db.CreateTeam(ctx, " QA ", "testing")
	require.NoError(t, err)
	assert.Equal(t, "QA", a.Name)
	dup, err := db.CreateTeam(ctx, "QA", "")
	require.NoError(t, err)
	assert.Equal(t, a.ID, dup.ID)

	_, err = db.CreateTeam(ctx, "   ", "")
	assert.Error(t, err)

	def, err := db.EnsureDefaultTeam(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultTeamName, def.Name)

	teams, err := db.ListTeams(ctx)
	require.NoError(t, err)
	assert.Len(t, teams, 2)

	upd, err := db.UpdateTeam(ctx, a.ID, model.TeamUpdate{Name: ptr("Quality")})
	require.NoError(t, err)
	assert.Equal(t, "Quality", upd.Name)
	assert.Equal(t, "testing", upd.Description)

	ok, err := db.DeleteTeam(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.DeleteTeam(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = db.GetTeamByID(ctx, a.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDeleteTeamKeepsReports(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	team, u := seed(t, db)

	_, err := db.CreateReport(ctx, model.NewReport{UserID: u.ID, TeamID: team.ID, Description: "done"})
	require.NoError(t, err)
	_, err = db.DeleteTeam(ctx, team.ID)
	require.NoError(t, err)

	got, err := db.GetUserByExternalID(ctx, u.ExternalID)
	require.NoError(t, err)
	assert.Nil(t, got.TeamID)

	reps, err := db.ListUserReports(ctx, u.ID, nil, nil)
	require.NoError(t, err)
	require.Len(t, reps, 1)
	assert.Equal(t, team.ID, reps[0].TeamID)
}

func TestCreateReportMetricPair(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	team, u := seed(t, db)

	rep, err := db.CreateReport(ctx, model.NewReport{
		UserID: u.ID, TeamID: team.ID, Description: "Closed 5 tickets",
		MetricName: ptr(" Tickets "), MetricValue: ptr(5.0),
	})
	require.NoError(t, err)
	require.NotNil(t, rep.MetricName)
	assert.Equal(t, "Tickets", *rep.MetricName)
	assert.Equal(t, 5.0, *rep.MetricValue)
	assert.False(t, rep.EffectiveDate.IsZero())

	_, err = db.CreateReport(ctx, model.NewReport{UserID: u.ID, TeamID: team.ID, Description: "x", MetricValue: ptr(1.0)})
	assert.ErrorIs(t, err, model.ErrInvalidReport)
	_, err = db.CreateReport(ctx, model.NewReport{UserID: u.ID, TeamID: team.ID, Description: "  "})
	assert.ErrorIs(t, err, model.ErrInvalidReport)
}

func TestUpdateReport(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	team, u := seed(t, db)
	rep, err := db.CreateReport(ctx, model.NewReport{UserID: u.ID, TeamID: team.ID, Description: "draft"})
	require.NoError(t, err)

	got, err := db.UpdateReport(ctx, rep.ID, model.ReportUpdate{MetricName: ptr("Bugs"), MetricValue: ptr(2.5)})
	require.NoError(t, err)
	assert.Equal(t, "Bugs", *got.MetricName)
	assert.Equal(t, 2.5, *got.MetricValue)

	_, err = db.UpdateReport(ctx, rep.ID, model.ReportUpdate{MetricValue: ptr(3.0), ClearMetric: true})
	assert.ErrorIs(t, err, model.ErrInvalidReport)

	got, err = db.UpdateReport(ctx, rep.ID, model.ReportUpdate{ClearMetric: true, Description: ptr("final")})
	require.NoError(t, err)
	assert.Nil(t, got.MetricName)
	assert.Nil(t, got.MetricValue)
	assert.Equal(t, "final", got.Description)

	_, err = db.UpdateReport(ctx, 999, model.ReportUpdate{Description: ptr("x")})
	assert.ErrorIs(t, err, model.ErrNotFound)

	ok, err := db.DeleteReport(ctx, rep.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListReportsWindow(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	team, u := seed(t, db)
	other, err := db.CreateTeam(ctx, "Frontend", "")
	require.NoError(t, err)

	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	add := func(teamID int64, desc string, at time.Time) {
		_, err := db.CreateReport(ctx, model.NewReport{UserID: u.ID, TeamID: teamID, Description: desc, EffectiveDate: at})
		require.NoError(t, err)
	}
	add(team.ID, "old", now.AddDate(0, 0, -10))
	add(team.ID, "mid", now.AddDate(0, 0, -3))
	add(team.ID, "new", now.Add(-time.Hour))
	add(other.ID, "foreign", now.AddDate(0, 0, -1))

	from := now.AddDate(0, 0, -7)
	all, err := db.ListReportsBetween(ctx, from, now, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "new", all[0].Description)
	assert.Equal(t, "foreign", all[1].Description)
	assert.Equal(t, "mid", all[2].Description)

	scoped, err := db.ListReportsBetween(ctx, from, now, &team.ID)
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	assert.Equal(t, "new", scoped[0].Description)

	teamAll, err := db.ListTeamReports(ctx, team.ID, nil, nil)
	require.NoError(t, err)
	assert.Len(t, teamAll, 3)
}

func TestDeleteUserCascades(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	team, u := seed(t, db)
	rep, err := db.CreateReport(ctx, model.NewReport{UserID: u.ID, TeamID: team.ID, Description: "x"})
	require.NoError(t, err)

	ok, err := db.DeleteUser(ctx, u.ExternalID)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = db.GetReport(ctx, rep.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMarkDigestSent(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	_, u := seed(t, db)
	week := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

	first, err := db.MarkDigestSent(ctx, u.ID, week)
	require.NoError(t, err)
	assert.True(t, first)
	again, err := db.MarkDigestSent(ctx, u.ID, week)
	require.NoError(t, err)
	assert.False(t, again)
	next, err := db.MarkDigestSent(ctx, u.ID, week.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.True(t, next)
}
