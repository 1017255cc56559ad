package gradebook

import (
	"math"
	"strconv"
	"strings"

	"github.com/noah-isme/sma-gradebook/internal/models"
)

// snapTolerance absorbs binary representation error after scaling, e.g. 0.29*100.
const snapTolerance = 1e-9

// Round converts raw at the given decimal precision. Non-finite input is returned unchanged.
func Round(raw float64, mode models.RoundingMode, decimals int) float64 {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return raw
	}
	if decimals < 0 {
		decimals = 0
	}
	scale := math.Pow10(decimals)
	if math.IsInf(scale, 0) {
		return raw
	}
	scaled := raw * scale
	if nearest := math.Round(scaled); math.Abs(scaled-nearest) <= snapTolerance*math.Max(1, math.Abs(scaled)) {
		scaled = nearest
	}

	switch mode {
	case models.RoundingRound:
		return math.Round(scaled) / scale
	case models.RoundingFloor:
		return math.Floor(scaled) / scale
	case models.RoundingCeil:
		return math.Ceil(scaled) / scale
	default:
		return raw
	}
}

// Clamp bounds v to [lower, upper].
func Clamp(v, lower, upper float64) float64 {
	if v < lower {
		return lower
	}
	if v > upper {
		return upper
	}
	return v
}

// Bounds returns the score range of col, falling back to the gradebook-wide range.
func Bounds(col models.Column, settings models.GradebookSettings) (float64, float64) {
	lower, upper := settings.MinScore, settings.MaxScore
	if col.MinRequired != nil {
		lower = *col.MinRequired
	}
	if col.MaxPoints != nil {
		upper = *col.MaxPoints
	}
	return lower, upper
}

// Normalize rounds raw under the gradebook policy and clamps it to the column bounds.
func Normalize(raw float64, col models.Column, settings models.GradebookSettings) float64 {
	lower, upper := Bounds(col, settings)
	return Clamp(Round(raw, settings.Rounding, settings.Decimals), lower, upper)
}

// ParseNumber reads a user-entered number. A lone decimal comma is accepted.
func ParseNumber(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if strings.Count(raw, ",") == 1 && !strings.Contains(raw, ".") {
		raw = strings.Replace(raw, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
