package model

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidNumber = errors.New("invalid number")

// ParseMetricValue accepts both "3.14" and "3,14". Only decimal notation is
// allowed, so hex floats, underscores and Inf/NaN spellings are rejected.
func ParseMetricValue(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" || strings.Trim(s, "0123456789+-.eE") != "" {
		return 0, ErrInvalidNumber
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrInvalidNumber
	}
	return v, nil
}

// FormatMetricValue renders v without trailing zeros.
func FormatMetricValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
