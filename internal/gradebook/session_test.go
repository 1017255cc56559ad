package gradebook

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-gradebook/internal/models"
	"github.com/noah-isme/sma-gradebook/pkg/config"
	appErrors "github.com/noah-isme/sma-gradebook/pkg/errors"
)

var fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestSession(t *testing.T, mutate func(st *models.GradebookState), opts ...Option) *Session {
	t.Helper()
	base := []Option{WithClock(func() time.Time { return fixedNow }), WithIDGenerator(sequentialIDs())}
	return NewSession(baseState(t, mutate), append(base, opts...)...)
}

func termWeightSum(st *models.GradebookState, term models.TermID) float64 {
	var sum float64
	for _, col := range TermColumns(st, term) {
		sum += col.Weight
	}
	return sum
}

func TestSessionSetScoreRoundsAndClamps(t *testing.T) {
	s := newTestSession(t, nil)
	colID, ok := s.AddColumn(models.TermT1, "Examen", 1)
	require.True(t, ok)
	max := 100.0
	require.True(t, s.UpdateColumn(colID, ColumnPatch{MaxPoints: &max}))

	require.True(t, s.SetScore("ana", colID, "150"))
	assert.Equal(t, 100.0, s.State().Grades["ana"][colID])

	require.True(t, s.SetScore("ana", colID, "-5"))
	assert.Equal(t, 0.0, s.State().Grades["ana"][colID])

	require.True(t, s.SetScore("ana", colID, "84,6"))
	assert.Equal(t, 85.0, s.State().Grades["ana"][colID])

	assert.False(t, s.SetScore("ana", colID, "abc"))
	assert.False(t, s.SetScore("nobody", colID, "50"))
	assert.False(t, s.SetScore("ana", "missing", "50"))
}

func TestSessionLockedColumnRejectsScores(t *testing.T) {
	s := newTestSession(t, nil)
	colID, _ := s.AddColumn(models.TermT1, "Examen", 1)
	locked := true
	require.True(t, s.UpdateColumn(colID, ColumnPatch{Locked: &locked}))
	depth := s.History().UndoDepth()

	assert.False(t, s.SetScore("ana", colID, "70"))
	assert.Equal(t, depth, s.History().UndoDepth())
	assert.Empty(t, s.State().Grades["ana"])
}

func TestSessionEditGateClosed(t *testing.T) {
	start := fixedNow.Add(time.Hour)
	cases := []struct {
		name   string
		mutate func(st *models.GradebookState)
	}{
		{"published", func(st *models.GradebookState) { st.Status = models.GradebookStatusPublished }},
		{"submitted", func(st *models.GradebookState) { st.Status = models.GradebookStatusSubmitted }},
		{"locked", func(st *models.GradebookState) { st.Locked = true }},
		{"window not open yet", func(st *models.GradebookState) { st.EditWindow.Start = &start }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestSession(t, func(st *models.GradebookState) {
				st.Columns = []models.Column{{ID: "c1", Title: "A", Weight: 1, TermID: models.TermT1}}
				tc.mutate(st)
			})
			before := s.State()

			assert.False(t, s.CanEdit())
			assert.False(t, s.SetScore("ana", "c1", "90"))
			_, ok := s.AddColumn(models.TermT1, "B", 1)
			assert.False(t, ok)
			assert.False(t, s.RemoveStudent("ana"))
			assert.False(t, s.SetComment("ana", "c1", "hola"))
			assert.Same(t, before, s.State())
			assert.Equal(t, 0, s.History().UndoDepth())
			assert.Equal(t, uint64(0), s.Version())
		})
	}
}

func TestCanEditWindowBounds(t *testing.T) {
	start := fixedNow.Add(-time.Hour)
	end := fixedNow.Add(time.Hour)
	st := &models.GradebookState{Status: models.GradebookStatusDraft, EditWindow: models.EditWindow{Start: &start, End: &end}}
	assert.True(t, CanEdit(st, fixedNow))
	assert.True(t, CanEdit(st, end))
	assert.False(t, CanEdit(st, end.Add(time.Second)))
	assert.False(t, CanEdit(st, start.Add(-time.Second)))
}

func TestSessionUndoRedoRoundTrip(t *testing.T) {
	s := newTestSession(t, func(st *models.GradebookState) {
		st.Columns = []models.Column{{ID: "c1", Title: "A", Weight: 1, TermID: models.TermT1}}
	})
	state0 := Clone(s.State())

	require.True(t, s.SetScore("ana", "c1", "75"))
	require.True(t, s.SetComment("ana", "c1", "entregó tarde"))
	after := Clone(s.State())

	require.True(t, s.Undo())
	require.True(t, s.Undo())
	state0.UpdatedAt = fixedNow
	assert.Equal(t, state0, s.State())
	assert.False(t, s.Undo())

	require.True(t, s.Redo())
	require.True(t, s.Redo())
	assert.Equal(t, after, s.State())
	assert.False(t, s.Redo())
}

func TestSessionUndoKeepsUntrackedFields(t *testing.T) {
	s := newTestSession(t, func(st *models.GradebookState) {
		st.Columns = []models.Column{{ID: "c1", Title: "A", Weight: 1, TermID: models.TermT1}}
	})
	require.True(t, s.SetScore("ana", "c1", "70"))

	end := fixedNow.Add(30 * time.Minute)
	s.SetEditWindow(nil, &end)
	require.True(t, s.SetCurrentTerm(models.TermT2))

	require.True(t, s.Undo())
	assert.NotContains(t, s.State().Grades["ana"], "c1")
	require.NotNil(t, s.State().EditWindow.End)
	assert.Equal(t, end, *s.State().EditWindow.End)
	assert.Equal(t, models.TermT2, s.State().CurrentTerm)

	require.True(t, s.Redo())
	assert.Equal(t, 70.0, s.State().Grades["ana"]["c1"])
	require.NotNil(t, s.State().EditWindow.End)
	assert.Equal(t, end, *s.State().EditWindow.End)
	assert.Equal(t, models.TermT2, s.State().CurrentTerm)
}

func TestSessionUndoRefreshesUpdatedAt(t *testing.T) {
	now := fixedNow
	s := newTestSession(t, func(st *models.GradebookState) {
		st.Columns = []models.Column{{ID: "c1", Title: "A", Weight: 1, TermID: models.TermT1}}
	}, WithClock(func() time.Time { return now }))
	require.True(t, s.SetScore("ana", "c1", "70"))
	version := s.Version()

	now = fixedNow.Add(time.Minute)
	require.True(t, s.Undo())
	assert.Equal(t, now, s.State().UpdatedAt)
	assert.Equal(t, version+1, s.Version())

	now = fixedNow.Add(2 * time.Minute)
	require.True(t, s.Redo())
	assert.Equal(t, now, s.State().UpdatedAt)
}

func TestBuildRejectsExcessiveDecimals(t *testing.T) {
	initial := models.GradebookState{ID: "gb-1", Settings: models.GradebookSettings{Rounding: models.RoundingRound, Decimals: 400}}
	_, err := Build(initial, DefaultDefaults())
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	initial.Settings.Decimals = MaxDecimals
	st, err := Build(initial, DefaultDefaults())
	require.NoError(t, err)
	assert.Equal(t, MaxDecimals, st.Settings.Decimals)
}

func TestSessionMutationClearsRedo(t *testing.T) {
	s := newTestSession(t, func(st *models.GradebookState) {
		st.Columns = []models.Column{{ID: "c1", Title: "A", Weight: 1, TermID: models.TermT1}}
	})
	require.True(t, s.SetScore("ana", "c1", "75"))
	require.True(t, s.Undo())
	assert.Equal(t, 1, s.History().RedoDepth())

	require.True(t, s.SetScore("ana", "c1", "60"))
	assert.Equal(t, 0, s.History().RedoDepth())
	assert.False(t, s.Redo())
}

func TestSessionHistoryLimit(t *testing.T) {
	s := newTestSession(t, func(st *models.GradebookState) {
		st.Columns = []models.Column{{ID: "c1", Title: "A", Weight: 1, TermID: models.TermT1}}
	}, WithHistoryLimit(3))
	for i := 0; i < 5; i++ {
		require.True(t, s.SetScore("ana", "c1", fmt.Sprint(50+i)))
	}
	assert.Equal(t, 3, s.History().UndoDepth())
	for s.Undo() {
	}
	assert.Equal(t, 51.0, s.State().Grades["ana"]["c1"])
}

func TestSessionSnapshotsAreIsolated(t *testing.T) {
	s := newTestSession(t, func(st *models.GradebookState) {
		st.Columns = []models.Column{{ID: "c1", Title: "A", Weight: 1, TermID: models.TermT1}}
		st.Grades = models.ScoreTable{"ana": {"c1": 50}, "luis": {"c1": 40}}
	})
	before := s.State()
	require.True(t, s.SetScore("ana", "c1", "90"))

	assert.Equal(t, 50.0, before.Grades["ana"]["c1"])
	assert.Equal(t, 90.0, s.State().Grades["ana"]["c1"])
}

func TestSessionColumnWeightsStayNormalized(t *testing.T) {
	s := newTestSession(t, nil)
	a, _ := s.AddColumn(models.TermT1, "A", 1)
	b, _ := s.AddColumn(models.TermT1, "B", 1)
	_, _ = s.AddColumn(models.TermT2, "X", 1)
	assert.InDelta(t, 1, termWeightSum(s.State(), models.TermT1), 1e-9)
	assert.InDelta(t, 1, termWeightSum(s.State(), models.TermT2), 1e-9)

	dup, ok := s.DuplicateColumn(a)
	require.True(t, ok)
	cols := TermColumns(s.State(), models.TermT1)
	require.Len(t, cols, 3)
	assert.Equal(t, []string{a, dup, b}, []string{cols[0].ID, cols[1].ID, cols[2].ID})
	assert.Equal(t, "A (copia)", cols[1].Title)
	assert.InDelta(t, 1, termWeightSum(s.State(), models.TermT1), 1e-9)

	require.True(t, s.RemoveColumn(dup))
	assert.InDelta(t, 1, termWeightSum(s.State(), models.TermT1), 1e-9)
	assert.InDelta(t, 0.5, TermColumns(s.State(), models.TermT1)[0].Weight, 1e-9)
}

func TestSessionWeightInvariantProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every term with columns sums to 1 after structural edits", prop.ForAll(
		func(ops []int) bool {
			s := newTestSession(t, nil)
			for i, op := range ops {
				cols := s.State().Columns
				pick := func() string {
					if len(cols) == 0 {
						return ""
					}
					return cols[i%len(cols)].ID
				}
				switch op {
				case 0:
					s.AddColumn(models.TermT1, "c", 1)
				case 1:
					s.AddColumn(models.TermT2, "c", 1)
				case 2:
					s.DuplicateColumn(pick())
				case 3:
					s.RemoveColumn(pick())
				case 4:
					s.MoveColumn(pick(), 1)
				case 5:
					s.MoveColumn(pick(), -1)
				}
			}
			for _, term := range s.State().Terms {
				if len(TermColumns(s.State(), term.ID)) == 0 {
					continue
				}
				if math.Abs(termWeightSum(s.State(), term.ID)-1) > 1e-9 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 5)),
	))

	properties.TestingRun(t)
}

func TestSessionMoveColumn(t *testing.T) {
	s := newTestSession(t, func(st *models.GradebookState) {
		st.Columns = []models.Column{
			{ID: "a", Title: "A", Weight: 0.5, TermID: models.TermT1},
			{ID: "x", Title: "X", Weight: 1, TermID: models.TermT2},
			{ID: "b", Title: "B", Weight: 0.5, TermID: models.TermT1},
		}
	})
	assert.False(t, s.MoveColumn("a", -1))
	assert.False(t, s.MoveColumn("b", 1))

	require.True(t, s.MoveColumn("a", 1))
	ids := []string{}
	for _, col := range s.State().Columns {
		ids = append(ids, col.ID)
	}
	assert.Equal(t, []string{"b", "x", "a"}, ids)
}

func TestSessionRemoveColumnCascades(t *testing.T) {
	s := newTestSession(t, func(st *models.GradebookState) {
		st.Columns = []models.Column{
			{ID: "exam", Title: "Examen", Weight: 0.5, TermID: models.TermT1, RecoveryFor: "retake"},
			{ID: "retake", Title: "Recuperatorio", Weight: 0.5, TermID: models.TermT1},
		}
		st.Grades = models.ScoreTable{"ana": {"exam": 50, "retake": 80}}
		st.Comments = models.TextTable{"ana": {"retake": "segunda instancia"}}
	})
	require.True(t, s.RemoveColumn("retake"))

	st := s.State()
	require.Len(t, st.Columns, 1)
	assert.Empty(t, st.Columns[0].RecoveryFor)
	assert.Equal(t, 1.0, st.Columns[0].Weight)
	assert.NotContains(t, st.Grades["ana"], "retake")
	assert.NotContains(t, st.Comments["ana"], "retake")
}

func TestSessionStudents(t *testing.T) {
	s := newTestSession(t, func(st *models.GradebookState) {
		st.Columns = []models.Column{{ID: "c1", Title: "A", Weight: 1, TermID: models.TermT1}}
		st.Grades = models.ScoreTable{"ana": {"c1": 70}}
		st.Comments = models.TextTable{"ana": {"c1": "ok"}}
	})

	id, ok := s.AddStudent("  Carla Mamani ")
	require.True(t, ok)
	assert.Equal(t, "Carla Mamani", s.State().Students[2].Name)
	_, ok = s.AddStudent("  ")
	assert.False(t, ok)

	require.True(t, s.RenameStudent(id, "Carla M."))
	assert.Equal(t, "Carla M.", s.State().Students[2].Name)

	require.True(t, s.RemoveStudent("ana"))
	assert.NotContains(t, s.State().Grades, "ana")
	assert.NotContains(t, s.State().Comments, "ana")
	assert.Len(t, s.State().Students, 2)
}

func TestSessionUpdateColumnRecoveryRules(t *testing.T) {
	s := newTestSession(t, func(st *models.GradebookState) {
		st.Columns = []models.Column{
			{ID: "a", Title: "A", Weight: 0.5, TermID: models.TermT1},
			{ID: "b", Title: "B", Weight: 0.5, TermID: models.TermT1},
			{ID: "x", Title: "X", Weight: 1, TermID: models.TermT2},
		}
	})
	self, other, unknown, valid := "a", "x", "zzz", "b"
	assert.False(t, s.UpdateColumn("a", ColumnPatch{RecoveryFor: &self}))
	assert.False(t, s.UpdateColumn("a", ColumnPatch{RecoveryFor: &other}))
	assert.False(t, s.UpdateColumn("a", ColumnPatch{RecoveryFor: &unknown}))
	require.True(t, s.UpdateColumn("a", ColumnPatch{RecoveryFor: &valid}))
	assert.Equal(t, "b", s.State().Columns[0].RecoveryFor)
}

func TestBuildRejectsBadRecoveryLinks(t *testing.T) {
	_, err := Build(models.GradebookState{Columns: []models.Column{
		{ID: "a", Title: "A", Weight: 1, TermID: models.TermT1, RecoveryFor: "a"},
	}}, DefaultDefaults())
	assert.ErrorIs(t, err, appErrors.ErrSelfRecovery)

	_, err = Build(models.GradebookState{Columns: []models.Column{
		{ID: "a", Title: "A", Weight: 1, TermID: models.TermT1, RecoveryFor: "b"},
		{ID: "b", Title: "B", Weight: 1, TermID: models.TermT2},
	}}, DefaultDefaults())
	assert.ErrorIs(t, err, appErrors.ErrInvalidRecovery)

	_, err = Build(models.GradebookState{Columns: []models.Column{{ID: "a", TermID: "T9"}}}, DefaultDefaults())
	assert.Error(t, err)
}

func TestBuildAppliesDefaults(t *testing.T) {
	st, err := Build(models.GradebookState{}, DefaultDefaults())
	require.NoError(t, err)
	assert.NotNil(t, st.Students)
	assert.NotNil(t, st.Grades)
	assert.NotNil(t, st.Comments)
	assert.Len(t, st.Terms, 3)
	assert.Equal(t, models.TermT1, st.CurrentTerm)
	assert.Equal(t, models.GradebookStatusDraft, st.Status)
	assert.Equal(t, models.GradingModeNumeric, st.Settings.Mode)
	assert.Equal(t, 100.0, st.Settings.MaxScore)
}

func TestSessionCategories(t *testing.T) {
	s := newTestSession(t, func(st *models.GradebookState) {
		st.Columns = []models.Column{{ID: "c1", Title: "A", Weight: 1, TermID: models.TermT1}}
		st.Grades = models.ScoreTable{"ana": {"c1": 80}}
	})
	hw, ok := s.AddCategory(models.TermT1, "Tareas", 1)
	require.True(t, ok)
	cat := hw
	require.True(t, s.UpdateColumn("c1", ColumnPatch{CategoryID: &cat}))
	assert.InDelta(t, 80, TermAverage(s.State(), "ana", models.TermT1), 1e-9)

	weight := 0.5
	require.True(t, s.UpdateCategory(models.TermT1, hw, nil, &weight))
	assert.Equal(t, 0.5, s.State().Categories[models.TermT1][0].Weight)

	require.True(t, s.RemoveCategory(models.TermT1, hw))
	assert.Empty(t, s.State().Categories[models.TermT1])
	assert.Empty(t, s.State().Columns[0].CategoryID)
}

func TestSessionTermWeightIsStoredVerbatim(t *testing.T) {
	s := newTestSession(t, nil)
	require.True(t, s.SetTermWeight(models.TermT1, 0.9))
	var sum float64
	for _, term := range s.State().Terms {
		sum += term.Weight
	}
	assert.Equal(t, 0.9, s.State().Terms[0].Weight)
	assert.InDelta(t, 0.9+2.0/3, sum, 1e-9)
}

func TestSessionQualitativeLevels(t *testing.T) {
	s := newTestSession(t, func(st *models.GradebookState) {
		st.Settings.EducationLevel = models.EducationLevelInitial
		st.Columns = []models.Column{{ID: "c1", Title: "Lenguaje", Weight: 1, TermID: models.TermT1}}
	})
	assert.False(t, s.SetScore("ana", "c1", "80"))
	require.True(t, s.SetQualitativeLevel("ana", "c1", "AD"))
	assert.Equal(t, "AD", s.State().Levels["ana"]["c1"])

	require.True(t, s.ClearScore("ana", "c1"))
	assert.NotContains(t, s.State().Levels["ana"], "c1")
	assert.False(t, s.ClearScore("ana", "c1"))
}

func TestSessionTransitions(t *testing.T) {
	s := newTestSession(t, nil)
	require.NoError(t, s.Transition(ActionSubmit))
	assert.False(t, s.CanEdit())
	assert.ErrorIs(t, s.Transition(ActionPublish), appErrors.ErrInvalidTransition)
	require.NoError(t, s.Transition(ActionApprove))
	require.NoError(t, s.Transition(ActionPublish))
	assert.Equal(t, models.GradebookStatusPublished, s.State().Status)
	require.NoError(t, s.Transition(ActionReopen))
	assert.True(t, s.CanEdit())
	assert.Equal(t, 0, s.History().UndoDepth())
}

func TestSessionChangeHookAndSummaryMemo(t *testing.T) {
	var versions []uint64
	s := newTestSession(t, func(st *models.GradebookState) {
		st.Columns = []models.Column{{ID: "c1", Title: "A", Weight: 1, TermID: models.TermT1}}
	}, WithChangeHook(func(v uint64) { versions = append(versions, v) }))

	first := s.Summary()
	require.True(t, s.SetScore("ana", "c1", "90"))
	s.SetLocked(true)
	assert.Equal(t, []uint64{1, 2}, versions)

	second := s.Summary()
	assert.Equal(t, uint64(0), first.Version)
	assert.Equal(t, uint64(2), second.Version)
	assert.InDelta(t, 90, second.Students[0].TermAverages[models.TermT1], 1e-9)
}

func TestDefaultsFromTemplate(t *testing.T) {
	tpl, err := config.ParseTemplate([]byte(`
current_term = "T2"
[[terms]]
id = "T1"
weight = 0.5
[[terms]]
id = "T2"
weight = 0.5
[[categories]]
term = "T2"
id = "hacer"
name = "Hacer"
weight = 0.4
[scoring]
rounding = "ceil"
decimals = 2
[history]
limit = 7
`))
	require.NoError(t, err)

	d := DefaultsFromTemplate(tpl)
	assert.Len(t, d.Terms, 2)
	assert.Equal(t, models.TermT2, d.CurrentTerm)
	assert.Equal(t, models.RoundingCeil, d.Rounding)
	assert.Equal(t, 7, d.HistoryLimit)
	assert.Equal(t, 100.0, d.MaxScore)

	s, err := Open(models.GradebookState{ID: "gb"}, d)
	require.NoError(t, err)
	st := s.State()
	assert.Equal(t, 2, st.Settings.Decimals)
	assert.Equal(t, models.TermT2, st.CurrentTerm)
	require.Len(t, st.Categories[models.TermT2], 1)
	assert.Equal(t, "Hacer", st.Categories[models.TermT2][0].Name)
}
