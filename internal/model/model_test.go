package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetricValue(t *testing.T) {
	for in, want := range map[string]float64{
		"3,14": 3.14,
		"3.14": 3.14,
		" 5 ":  5,
		"-2,5": -2.5,
		"1e3":  1000,
		"0":    0,
	} {
		got, err := ParseMetricValue(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "abc", "3,1,4", "1.2.3", "NaN", "Inf", "-inf", "5 шт", "0x1p3", "-0X10", "1_000"} {
		_, err := ParseMetricValue(in)
		assert.ErrorIs(t, err, ErrInvalidNumber, in)
	}
}

func TestFormatMetricValue(t *testing.T) {
	assert.Equal(t, "5", FormatMetricValue(5))
	assert.Equal(t, "3.14", FormatMetricValue(3.14))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Manager ")
	require.NoError(t, err)
	assert.Equal(t, RoleManager, r)

	_, err = ParseRole("boss")
	assert.ErrorIs(t, err, ErrInvalidRole)

	assert.True(t, RoleAdmin.CanReadSummaries())
	assert.True(t, RoleManager.CanReadSummaries())
	assert.False(t, RoleEmployee.CanReadSummaries())
}

func TestNewReportValidate(t *testing.T) {
	name, value := "Tickets", 5.0
	blank := "  "

	assert.NoError(t, NewReport{Description: "done"}.Validate())
	assert.NoError(t, NewReport{Description: "done", MetricName: &name, MetricValue: &value}.Validate())

	cases := map[string]NewReport{
		"empty description":     {Description: "  "},
		"value without name":    {Description: "done", MetricValue: &value},
		"blank name with value": {Description: "done", MetricName: &blank, MetricValue: &value},
		"name without value":    {Description: "done", MetricName: &name},
	}
	for label, r := range cases {
		err := r.Validate()
		assert.True(t, errors.Is(err, ErrInvalidReport), label)
	}
}

func TestReportUpdateApply(t *testing.T) {
	name, value := "Tickets", 5.0
	rep := Report{ID: 1, Description: "old", MetricName: &name, MetricValue: &value}

	desc := "new"
	got, err := ReportUpdate{Description: &desc}.Apply(rep)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Description)
	assert.Equal(t, "old", rep.Description, "original untouched")

	got, err = ReportUpdate{ClearMetric: true}.Apply(rep)
	require.NoError(t, err)
	assert.Nil(t, got.MetricName)
	assert.Nil(t, got.MetricValue)

	other := 7.0
	_, err = ReportUpdate{ClearMetric: true, MetricValue: &other}.Apply(rep)
	assert.ErrorIs(t, err, ErrInvalidReport)
}
