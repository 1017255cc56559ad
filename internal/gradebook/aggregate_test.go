package gradebook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-gradebook/internal/models"
)

func baseState(t *testing.T, mutate func(st *models.GradebookState)) *models.GradebookState {
	t.Helper()
	initial := models.GradebookState{
		ID:       "gb-1",
		Students: []models.Student{{ID: "ana", Name: "Ana"}, {ID: "luis", Name: "Luis"}},
	}
	if mutate != nil {
		mutate(&initial)
	}
	st, err := Build(initial, DefaultDefaults())
	require.NoError(t, err)
	return st
}

func TestEffectiveRecovery(t *testing.T) {
	cases := []struct {
		name     string
		base     *float64
		recovery *float64
		want     float64
		present  bool
	}{
		{"recovery higher", ptr(70), ptr(85), 85, true},
		{"recovery missing", ptr(70), nil, 70, true},
		{"both missing", nil, nil, 0, false},
		{"base missing", nil, ptr(40), 40, true},
		{"base higher", ptr(90), ptr(40), 90, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := baseState(t, func(st *models.GradebookState) {
				st.Terms = []models.Term{{ID: models.TermT1, Weight: 1}}
				st.Columns = []models.Column{
					{ID: "exam", Title: "Examen", Weight: 0.5, TermID: models.TermT1, RecoveryFor: "retake"},
					{ID: "retake", Title: "Recuperatorio", Weight: 0.5, TermID: models.TermT1},
				}
				st.Grades = models.ScoreTable{"ana": {}}
				if tc.base != nil {
					st.Grades["ana"]["exam"] = *tc.base
				}
				if tc.recovery != nil {
					st.Grades["ana"]["retake"] = *tc.recovery
				}
			})
			got, ok := Effective(st, "ana", st.Columns[0])
			assert.Equal(t, tc.present, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTermAverageFlatAndFinal(t *testing.T) {
	st := baseState(t, func(st *models.GradebookState) {
		st.Terms = []models.Term{{ID: models.TermT1, Weight: 1}, {ID: models.TermT2, Weight: 0}, {ID: models.TermT3, Weight: 0}}
		st.Columns = []models.Column{
			{ID: "c1", Title: "Práctica", Weight: 0.5, TermID: models.TermT1},
			{ID: "c2", Title: "Examen", Weight: 0.5, TermID: models.TermT1},
		}
		st.Grades = models.ScoreTable{"ana": {"c1": 80, "c2": 60}}
	})

	assert.InDelta(t, 70, TermAverage(st, "ana", models.TermT1), 1e-9)
	assert.InDelta(t, 70, FinalAverage(st, "ana"), 1e-9)
}

func TestTermAverageIgnoresMissingWork(t *testing.T) {
	st := baseState(t, func(st *models.GradebookState) {
		st.Columns = []models.Column{
			{ID: "c1", Title: "Tarea", Weight: 0.25, TermID: models.TermT1},
			{ID: "c2", Title: "Examen", Weight: 0.75, TermID: models.TermT1},
		}
		st.Grades = models.ScoreTable{"ana": {"c1": 90}}
	})
	assert.InDelta(t, 90, TermAverage(st, "ana", models.TermT1), 1e-9)
	assert.Equal(t, 0.0, TermAverage(st, "luis", models.TermT1))
}

func TestTermAverageWithCategories(t *testing.T) {
	st := baseState(t, func(st *models.GradebookState) {
		st.Categories = map[models.TermID][]models.Category{
			models.TermT1: {{ID: "hw", Name: "Tareas", Weight: 0.4}, {ID: "ex", Name: "Exámenes", Weight: 0.6}},
		}
		st.Columns = []models.Column{
			{ID: "h1", Title: "Tarea 1", Weight: 0.5, TermID: models.TermT1, CategoryID: "hw"},
			{ID: "h2", Title: "Tarea 2", Weight: 0.5, TermID: models.TermT1, CategoryID: "hw"},
			{ID: "e1", Title: "Parcial", Weight: 1, TermID: models.TermT1, CategoryID: "ex"},
		}
		st.Grades = models.ScoreTable{
			"ana":  {"h1": 90, "h2": 70, "e1": 60},
			"luis": {"h1": 100},
		}
	})

	assert.InDelta(t, 80, CategoryAverage(st, "ana", models.TermT1, "hw"), 1e-9)
	assert.InDelta(t, 60, CategoryAverage(st, "ana", models.TermT1, "ex"), 1e-9)
	assert.InDelta(t, 68, TermAverage(st, "ana", models.TermT1), 1e-9)

	// a category without scores drops out of the term average
	assert.InDelta(t, 100, TermAverage(st, "luis", models.TermT1), 1e-9)
	assert.InDelta(t, 90, CategoryAverageRow(st, models.TermT1, "hw"), 1e-9)
	assert.InDelta(t, 30, CategoryAverageRow(st, models.TermT1, "ex"), 1e-9)
}

func TestDenormalizedWeightsAreAccepted(t *testing.T) {
	st := baseState(t, func(st *models.GradebookState) {
		st.Terms = []models.Term{{ID: models.TermT1, Weight: 0.5}, {ID: models.TermT2, Weight: 0.25}, {ID: models.TermT3, Weight: 0.25}}
		st.Columns = []models.Column{
			{ID: "c1", Title: "A", Weight: 2, TermID: models.TermT1},
			{ID: "c2", Title: "B", Weight: 6, TermID: models.TermT1},
		}
		st.Grades = models.ScoreTable{"ana": {"c1": 100, "c2": 60}}
	})
	assert.InDelta(t, 70, TermAverage(st, "ana", models.TermT1), 1e-9)
	assert.InDelta(t, 35, FinalAverage(st, "ana"), 1e-9)
}

func TestDropLowest(t *testing.T) {
	st := baseState(t, func(st *models.GradebookState) {
		st.DropLowest = true
		st.Columns = []models.Column{
			{ID: "c1", Title: "A", Weight: 1.0 / 3, TermID: models.TermT1},
			{ID: "c2", Title: "B", Weight: 1.0 / 3, TermID: models.TermT1},
			{ID: "c3", Title: "C", Weight: 1.0 / 3, TermID: models.TermT1},
		}
		st.Grades = models.ScoreTable{"ana": {"c1": 90, "c2": 30, "c3": 70}, "luis": {"c1": 40}}
	})
	assert.InDelta(t, 80, TermAverage(st, "ana", models.TermT1), 1e-9)
	assert.InDelta(t, 40, TermAverage(st, "luis", models.TermT1), 1e-9)
}

func TestColumnAverageAndSummary(t *testing.T) {
	st := baseState(t, func(st *models.GradebookState) {
		st.Settings.Decimals = 1
		st.Columns = []models.Column{
			{ID: "c1", Title: "A", Weight: 1, TermID: models.TermT1},
			{ID: "c2", Title: "B", Weight: 1, TermID: models.TermT2},
		}
		st.Grades = models.ScoreTable{"ana": {"c1": 81}, "luis": {"c1": 70}}
	})

	avg, ok := ColumnAverage(st, "c1")
	require.True(t, ok)
	assert.InDelta(t, 75.5, avg, 1e-9)
	_, ok = ColumnAverage(st, "c2")
	assert.False(t, ok)

	summary := Summarize(st)
	require.Len(t, summary.Students, 2)
	assert.Equal(t, "Ana", summary.Students[0].StudentName)
	assert.InDelta(t, 81, summary.Students[0].TermAverages[models.TermT1], 1e-9)
	assert.InDelta(t, 27, summary.Students[0].Final, 1e-9)
	require.Len(t, summary.Columns, 2)
	assert.Nil(t, summary.Columns[1].Average)
}

func TestSummaryQualitativeIsEmpty(t *testing.T) {
	st := baseState(t, func(st *models.GradebookState) {
		st.Settings.EducationLevel = models.EducationLevelInitial
	})
	assert.Equal(t, models.GradingModeQualitative, st.Settings.Mode)
	summary := Summarize(st)
	assert.Empty(t, summary.Students)
}

func ptr(v float64) *float64 { return &v }
