package gradebook

import (
	"math"

	"github.com/noah-isme/sma-gradebook/internal/models"
)

// Stored returns the raw stored numeric score of a cell.
func Stored(st *models.GradebookState, studentID, columnID string) (float64, bool) {
	row, ok := st.Grades[studentID]
	if !ok {
		return 0, false
	}
	v, ok := row[columnID]
	return v, ok
}

// Effective returns the score used in every aggregate. For a column linked to a recovery
// column the higher of both sides wins and a missing side counts as 0; the cell is empty only
// when both sides are missing.
func Effective(st *models.GradebookState, studentID string, col models.Column) (float64, bool) {
	base, hasBase := Stored(st, studentID, col.ID)
	if col.RecoveryFor == "" {
		return base, hasBase
	}
	recovery, hasRecovery := Stored(st, studentID, col.RecoveryFor)
	if !hasBase && !hasRecovery {
		return 0, false
	}
	return math.Max(base, recovery), true
}

type weighted struct {
	value  float64
	weight float64
}

// weightedMean averages present entries only, so missing work contributes no weight. With
// dropLowest the lowest value is excluded when at least two values are present.
func weightedMean(entries []weighted, dropLowest bool) (float64, bool) {
	if len(entries) == 0 {
		return 0, false
	}
	skip := -1
	if dropLowest && len(entries) > 1 {
		skip = 0
		for i, e := range entries {
			if e.value < entries[skip].value {
				skip = i
			}
		}
	}
	var sum, weights float64
	for i, e := range entries {
		if i == skip {
			continue
		}
		sum += e.value * e.weight
		weights += e.weight
	}
	if weights == 0 {
		return 0, false
	}
	return sum / weights, true
}

func columnEntries(st *models.GradebookState, studentID string, match func(models.Column) bool) []weighted {
	var entries []weighted
	for _, col := range st.Columns {
		if !match(col) {
			continue
		}
		if v, ok := Effective(st, studentID, col); ok {
			entries = append(entries, weighted{value: v, weight: col.Weight})
		}
	}
	return entries
}

func categoryAverage(st *models.GradebookState, studentID string, term models.TermID, categoryID string) (float64, bool) {
	entries := columnEntries(st, studentID, func(col models.Column) bool {
		return col.TermID == term && col.CategoryID == categoryID
	})
	return weightedMean(entries, st.DropLowest)
}

// CategoryAverage is the weighted mean of a student's effective scores in one category of a
// term. A category without any score yields 0.
func CategoryAverage(st *models.GradebookState, studentID string, term models.TermID, categoryID string) float64 {
	avg, _ := categoryAverage(st, studentID, term, categoryID)
	return avg
}

func termAverage(st *models.GradebookState, studentID string, term models.TermID) (float64, bool) {
	cats := st.Categories[term]
	if len(cats) == 0 {
		entries := columnEntries(st, studentID, func(col models.Column) bool { return col.TermID == term })
		return weightedMean(entries, st.DropLowest)
	}
	entries := make([]weighted, 0, len(cats))
	for _, cat := range cats {
		if avg, ok := categoryAverage(st, studentID, term, cat.ID); ok {
			entries = append(entries, weighted{value: avg, weight: cat.Weight})
		}
	}
	return weightedMean(entries, false)
}

// TermAverage is the category-weighted mean of category averages when the term has
// categories, otherwise the flat column-weighted mean of the term.
func TermAverage(st *models.GradebookState, studentID string, term models.TermID) float64 {
	avg, _ := termAverage(st, studentID, term)
	return avg
}

// FinalAverage is the term-weight sum of term averages. Term weights are used as given.
func FinalAverage(st *models.GradebookState, studentID string) float64 {
	var total float64
	for _, term := range st.Terms {
		total += term.Weight * TermAverage(st, studentID, term.ID)
	}
	return total
}

// ColumnAverage is the plain mean of present effective scores across students, rounded to
// the configured decimals.
func ColumnAverage(st *models.GradebookState, columnID string) (float64, bool) {
	idx := findColumn(st, columnID)
	if idx < 0 {
		return 0, false
	}
	col := st.Columns[idx]
	var sum float64
	var n int
	for _, student := range st.Students {
		if v, ok := Effective(st, student.ID, col); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return Round(sum/float64(n), models.RoundingRound, st.Settings.Decimals), true
}

// CategoryAverageRow is the mean, across students, of each student's category average.
func CategoryAverageRow(st *models.GradebookState, term models.TermID, categoryID string) float64 {
	if len(st.Students) == 0 {
		return 0
	}
	var sum float64
	for _, student := range st.Students {
		sum += CategoryAverage(st, student.ID, term, categoryID)
	}
	return sum / float64(len(st.Students))
}

// Summarize computes every derived view of st. Averages are rounded for display.
func Summarize(st *models.GradebookState) models.GradebookSummary {
	decimals := st.Settings.Decimals
	display := func(v float64) float64 { return Round(v, models.RoundingRound, decimals) }

	summary := models.GradebookSummary{
		GradebookID: st.ID,
		Students:    make([]models.StudentAverages, 0, len(st.Students)),
		Columns:     make([]models.ColumnAverage, 0, len(st.Columns)),
		Categories:  []models.CategoryAverageRow{},
	}
	if st.Settings.Mode == models.GradingModeQualitative {
		return summary
	}

	for _, student := range st.Students {
		row := models.StudentAverages{
			StudentID:    student.ID,
			StudentName:  student.Name,
			TermAverages: make(map[models.TermID]float64, len(st.Terms)),
			Final:        display(FinalAverage(st, student.ID)),
		}
		for _, term := range st.Terms {
			row.TermAverages[term.ID] = display(TermAverage(st, student.ID, term.ID))
		}
		summary.Students = append(summary.Students, row)
	}
	for _, col := range st.Columns {
		entry := models.ColumnAverage{ColumnID: col.ID, Title: col.Title, TermID: col.TermID}
		if avg, ok := ColumnAverage(st, col.ID); ok {
			entry.Average = &avg
		}
		summary.Columns = append(summary.Columns, entry)
	}
	for _, term := range st.Terms {
		for _, cat := range st.Categories[term.ID] {
			summary.Categories = append(summary.Categories, models.CategoryAverageRow{
				TermID:     term.ID,
				CategoryID: cat.ID,
				Name:       cat.Name,
				Average:    display(CategoryAverageRow(st, term.ID, cat.ID)),
			})
		}
	}
	return summary
}
