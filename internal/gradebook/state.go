// Package gradebook implements the gradebook engine: score storage, rounding, recovery
// resolution, weighted aggregation, the edit gate, undo/redo history and tabular import.
//
// A state value handed to a Session is never modified in place. Every change builds a new
// *models.GradebookState that copies only the containers it touches and shares the rest with
// the previous value, so history snapshots are cheap and readers never race with writers.
package gradebook

import (
	"fmt"
	"strings"

	"github.com/noah-isme/sma-gradebook/internal/models"
	appErrors "github.com/noah-isme/sma-gradebook/pkg/errors"
)

// DefaultHistoryLimit caps the undo stack when no explicit limit is configured.
const DefaultHistoryLimit = 100

// MaxDecimals is the finest display precision a gradebook may use.
const MaxDecimals = 6

// Defaults carries the named default for every optional field of a gradebook state.
type Defaults struct {
	Terms        []models.Term
	Categories   map[models.TermID][]models.Category
	CurrentTerm  models.TermID
	Rounding     models.RoundingMode
	Decimals     int
	MinScore     float64
	MaxScore     float64
	HistoryLimit int
}

// DefaultDefaults returns the built-in defaults used when no template is configured.
func DefaultDefaults() Defaults {
	return Defaults{
		Terms: []models.Term{
			{ID: models.TermT1, Name: "Primer Trimestre", Weight: 1.0 / 3},
			{ID: models.TermT2, Name: "Segundo Trimestre", Weight: 1.0 / 3},
			{ID: models.TermT3, Name: "Tercer Trimestre", Weight: 1.0 / 3},
		},
		Categories:   map[models.TermID][]models.Category{},
		CurrentTerm:  models.TermT1,
		Rounding:     models.RoundingRound,
		Decimals:     0,
		MinScore:     0,
		MaxScore:     100,
		HistoryLimit: DefaultHistoryLimit,
	}
}

// Build merges an externally supplied snapshot with defaults and validates it. The returned
// state shares nothing with initial.
func Build(initial models.GradebookState, d Defaults) (*models.GradebookState, error) {
	st := Clone(&initial)

	if st.Students == nil {
		st.Students = []models.Student{}
	}
	if st.Columns == nil {
		st.Columns = []models.Column{}
	}
	if st.Grades == nil {
		st.Grades = models.ScoreTable{}
	}
	if st.Levels == nil {
		st.Levels = models.TextTable{}
	}
	if st.Comments == nil {
		st.Comments = models.TextTable{}
	}
	if len(st.Terms) == 0 {
		st.Terms = append([]models.Term(nil), d.Terms...)
	}
	if st.Categories == nil {
		st.Categories = cloneCategories(d.Categories)
	}
	if st.CurrentTerm == "" {
		st.CurrentTerm = d.CurrentTerm
	}
	if findTerm(st, st.CurrentTerm) < 0 && len(st.Terms) > 0 {
		st.CurrentTerm = st.Terms[0].ID
	}
	if st.Status == "" {
		st.Status = models.GradebookStatusDraft
	}

	s := &st.Settings
	if s.Mode == "" {
		s.Mode = models.GradingModeNumeric
		if strings.EqualFold(s.EducationLevel, models.EducationLevelInitial) {
			s.Mode = models.GradingModeQualitative
		}
	}
	if s.Rounding == "" {
		// no rounding policy supplied: take decimals from the defaults as well
		s.Rounding = d.Rounding
		if s.Decimals == 0 {
			s.Decimals = d.Decimals
		}
	}
	if s.Decimals < 0 {
		s.Decimals = 0
	}
	if s.MinScore == 0 && s.MaxScore == 0 {
		s.MinScore = d.MinScore
		s.MaxScore = d.MaxScore
	}

	if err := Validate(st); err != nil {
		return nil, err
	}
	return st, nil
}

// Validate checks structural references of a state.
func Validate(st *models.GradebookState) error {
	switch st.Settings.Rounding {
	case models.RoundingNone, models.RoundingRound, models.RoundingFloor, models.RoundingCeil:
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown rounding mode %q", st.Settings.Rounding))
	}
	if st.Settings.Decimals < 0 || st.Settings.Decimals > MaxDecimals {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("decimals must be between 0 and %d", MaxDecimals))
	}
	if st.Settings.MinScore > st.Settings.MaxScore {
		return appErrors.Clone(appErrors.ErrValidation, "minScore exceeds maxScore")
	}
	seen := make(map[string]models.TermID, len(st.Columns))
	for _, col := range st.Columns {
		if col.ID == "" {
			return appErrors.Clone(appErrors.ErrValidation, "column id required")
		}
		if _, dup := seen[col.ID]; dup {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate column id %s", col.ID))
		}
		if findTerm(st, col.TermID) < 0 {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("column %s references unknown term %s", col.ID, col.TermID))
		}
		seen[col.ID] = col.TermID
	}
	for _, col := range st.Columns {
		if err := checkRecovery(seen, col.ID, col.TermID, col.RecoveryFor); err != nil {
			return err
		}
	}
	return nil
}

func checkRecovery(columnTerms map[string]models.TermID, id string, term models.TermID, recoveryFor string) error {
	if recoveryFor == "" {
		return nil
	}
	if recoveryFor == id {
		return appErrors.ErrSelfRecovery
	}
	target, ok := columnTerms[recoveryFor]
	if !ok || target != term {
		return appErrors.ErrInvalidRecovery
	}
	return nil
}

// Clone returns a deep copy of st.
func Clone(st *models.GradebookState) *models.GradebookState {
	if st == nil {
		return nil
	}
	out := *st
	out.Students = append([]models.Student(nil), st.Students...)
	out.Columns = make([]models.Column, len(st.Columns))
	for i, col := range st.Columns {
		out.Columns[i] = cloneColumn(col)
	}
	if st.Columns == nil {
		out.Columns = nil
	}
	out.Grades = cloneScores(st.Grades)
	out.Levels = cloneTexts(st.Levels)
	out.Comments = cloneTexts(st.Comments)
	out.Terms = append([]models.Term(nil), st.Terms...)
	out.Categories = cloneCategories(st.Categories)
	if st.EditWindow.Start != nil {
		start := *st.EditWindow.Start
		out.EditWindow.Start = &start
	}
	if st.EditWindow.End != nil {
		end := *st.EditWindow.End
		out.EditWindow.End = &end
	}
	return &out
}

func cloneColumn(col models.Column) models.Column {
	if col.MaxPoints != nil {
		v := *col.MaxPoints
		col.MaxPoints = &v
	}
	if col.MinRequired != nil {
		v := *col.MinRequired
		col.MinRequired = &v
	}
	return col
}

func cloneScores(in models.ScoreTable) models.ScoreTable {
	if in == nil {
		return nil
	}
	out := make(models.ScoreTable, len(in))
	for sid, row := range in {
		r := make(map[string]float64, len(row))
		for cid, v := range row {
			r[cid] = v
		}
		out[sid] = r
	}
	return out
}

func cloneTexts(in models.TextTable) models.TextTable {
	if in == nil {
		return nil
	}
	out := make(models.TextTable, len(in))
	for sid, row := range in {
		r := make(map[string]string, len(row))
		for cid, v := range row {
			r[cid] = v
		}
		out[sid] = r
	}
	return out
}

func cloneCategories(in map[models.TermID][]models.Category) map[models.TermID][]models.Category {
	out := make(map[models.TermID][]models.Category, len(in))
	for term, cats := range in {
		out[term] = append([]models.Category(nil), cats...)
	}
	return out
}

// The helpers below implement copy-on-write: they never touch the maps of the receiver's
// predecessor, only freshly allocated ones.

func withGrade(scores models.ScoreTable, studentID, columnID string, value float64) models.ScoreTable {
	out := make(models.ScoreTable, len(scores)+1)
	for sid, row := range scores {
		out[sid] = row
	}
	row := make(map[string]float64, len(scores[studentID])+1)
	for cid, v := range scores[studentID] {
		row[cid] = v
	}
	row[columnID] = value
	out[studentID] = row
	return out
}

func withoutGrade(scores models.ScoreTable, studentID, columnID string) models.ScoreTable {
	out := make(models.ScoreTable, len(scores))
	for sid, row := range scores {
		out[sid] = row
	}
	row := make(map[string]float64, len(scores[studentID]))
	for cid, v := range scores[studentID] {
		if cid != columnID {
			row[cid] = v
		}
	}
	out[studentID] = row
	return out
}

func withText(texts models.TextTable, studentID, columnID, value string) models.TextTable {
	out := make(models.TextTable, len(texts)+1)
	for sid, row := range texts {
		out[sid] = row
	}
	row := make(map[string]string, len(texts[studentID])+1)
	for cid, v := range texts[studentID] {
		if cid != columnID {
			row[cid] = v
		}
	}
	if value != "" {
		row[columnID] = value
	}
	out[studentID] = row
	return out
}

func scoresWithoutColumn(scores models.ScoreTable, columnID string) models.ScoreTable {
	out := make(models.ScoreTable, len(scores))
	for sid, row := range scores {
		if _, ok := row[columnID]; !ok {
			out[sid] = row
			continue
		}
		r := make(map[string]float64, len(row))
		for cid, v := range row {
			if cid != columnID {
				r[cid] = v
			}
		}
		out[sid] = r
	}
	return out
}

func textsWithoutColumn(texts models.TextTable, columnID string) models.TextTable {
	out := make(models.TextTable, len(texts))
	for sid, row := range texts {
		if _, ok := row[columnID]; !ok {
			out[sid] = row
			continue
		}
		r := make(map[string]string, len(row))
		for cid, v := range row {
			if cid != columnID {
				r[cid] = v
			}
		}
		out[sid] = r
	}
	return out
}

func scoresWithoutStudent(scores models.ScoreTable, studentID string) models.ScoreTable {
	out := make(models.ScoreTable, len(scores))
	for sid, row := range scores {
		if sid != studentID {
			out[sid] = row
		}
	}
	return out
}

func textsWithoutStudent(texts models.TextTable, studentID string) models.TextTable {
	out := make(models.TextTable, len(texts))
	for sid, row := range texts {
		if sid != studentID {
			out[sid] = row
		}
	}
	return out
}

func findTerm(st *models.GradebookState, id models.TermID) int {
	for i, term := range st.Terms {
		if term.ID == id {
			return i
		}
	}
	return -1
}

func findColumn(st *models.GradebookState, id string) int {
	for i, col := range st.Columns {
		if col.ID == id {
			return i
		}
	}
	return -1
}

func findStudent(st *models.GradebookState, id string) int {
	for i, student := range st.Students {
		if student.ID == id {
			return i
		}
	}
	return -1
}

func findCategory(cats []models.Category, id string) int {
	for i, cat := range cats {
		if cat.ID == id {
			return i
		}
	}
	return -1
}

// renormalize rewrites the weight of every column of term to 1/count. Columns must be a
// fresh slice owned by the caller.
func renormalize(columns []models.Column, term models.TermID) {
	count := 0
	for _, col := range columns {
		if col.TermID == term {
			count++
		}
	}
	if count == 0 {
		return
	}
	weight := 1 / float64(count)
	for i := range columns {
		if columns[i].TermID == term {
			columns[i].Weight = weight
		}
	}
}

// TermColumns returns the columns of term in display order.
func TermColumns(st *models.GradebookState, term models.TermID) []models.Column {
	cols := make([]models.Column, 0, len(st.Columns))
	for _, col := range st.Columns {
		if col.TermID == term {
			cols = append(cols, col)
		}
	}
	return cols
}
