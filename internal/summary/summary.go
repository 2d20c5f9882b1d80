// Package summary builds the weekly text digest of reports grouped by team.
package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hihikaAAa/team-reports/internal/model"
)

const (
	NoReportsMessage = "Нет отчетов за последнюю неделю."
	header           = "Еженедельный отчет:"
	Window           = 7 * 24 * time.Hour
)

// Source is what the generator reads from the domain services.
type Source interface {
	ListReportsBetween(ctx context.Context, from, to time.Time, teamID *int64) ([]*model.Report, error)
	ListTeams(ctx context.Context) ([]*model.Team, error)
}

type Generator struct {
	src Source
	now func() time.Time
}

func NewGenerator(src Source) *Generator {
	return &Generator{src: src, now: time.Now}
}

// Weekly renders reports of the last seven days. A nil teamID covers all teams.
func (g *Generator) Weekly(ctx context.Context, teamID *int64) (string, error) {
	to := g.now()
	reports, err := g.src.ListReportsBetween(ctx, to.Add(-Window), to, teamID)
	if err != nil {
		return "", fmt.Errorf("weekly reports: %w", err)
	}
	if len(reports) == 0 {
		return NoReportsMessage, nil
	}
	teams, err := g.src.ListTeams(ctx)
	if err != nil {
		return "", fmt.Errorf("weekly teams: %w", err)
	}
	names := make(map[int64]string, len(teams))
	for _, t := range teams {
		names[t.ID] = t.Name
	}
	return Render(reports, names), nil
}

type group struct {
	name    string
	reports []*model.Report
}

// Render groups reports by team name in first-seen order. Reports whose team is
// missing from teamNames are left out.
func Render(reports []*model.Report, teamNames map[int64]string) string {
	if len(reports) == 0 {
		return NoReportsMessage
	}
	var groups []*group
	byName := map[string]*group{}
	for _, r := range reports {
		name, ok := teamNames[r.TeamID]
		if !ok {
			continue
		}
		g, ok := byName[name]
		if !ok {
			g = &group{name: name}
			byName[name] = g
			groups = append(groups, g)
		}
		g.reports = append(g.reports, r)
	}

	blocks := make([]string, 0, len(groups))
	for _, g := range groups {
		blocks = append(blocks, renderGroup(g))
	}
	return header + "\n\n" + strings.Join(blocks, "\n")
}

func renderGroup(g *group) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Команда: %s\n", g.name)
	fmt.Fprintf(&sb, "Количество отчетов: %d\n", len(g.reports))
	sb.WriteString("Описание выполненных задач:\n")
	for _, r := range g.reports {
		fmt.Fprintf(&sb, "- %s\n", r.Description)
		if r.MetricName != nil && *r.MetricName != "" && r.MetricValue != nil && *r.MetricValue != 0 {
			fmt.Fprintf(&sb, "  %s: %s\n", *r.MetricName, model.FormatMetricValue(*r.MetricValue))
		}
	}
	return sb.String()
}
