package gradebook

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-gradebook/internal/models"
)

// Session owns one gradebook state and applies every edit to it. A Session is not safe for
// concurrent use; callers serialise access.
type Session struct {
	cur      *models.GradebookState
	history  *History
	version  uint64
	now      func() time.Time
	newID    func() string
	logger   *zap.Logger
	onChange func(version uint64)

	summary        *models.GradebookSummary
	summaryVersion uint64
}

// Option customises a Session.
type Option func(*Session)

// WithClock overrides the time source used by the edit gate.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithIDGenerator overrides id generation for new students, columns and categories.
func WithIDGenerator(newID func() string) Option {
	return func(s *Session) { s.newID = newID }
}

// WithHistoryLimit bounds the undo stack.
func WithHistoryLimit(limit int) Option {
	return func(s *Session) { s.history = NewHistory(limit) }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithChangeHook registers a callback invoked after every applied change.
func WithChangeHook(fn func(version uint64)) Option {
	return func(s *Session) { s.onChange = fn }
}

// Open builds a state from initial and d and starts a session over it.
func Open(initial models.GradebookState, d Defaults, opts ...Option) (*Session, error) {
	st, err := Build(initial, d)
	if err != nil {
		return nil, err
	}
	return NewSession(st, append([]Option{WithHistoryLimit(d.HistoryLimit)}, opts...)...), nil
}

// NewSession starts a session over an already validated state.
func NewSession(st *models.GradebookState, opts ...Option) *Session {
	s := &Session{
		cur:     st,
		history: NewHistory(DefaultHistoryLimit),
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state. The value is shared and must not be modified.
func (s *Session) State() *models.GradebookState { return s.cur }

// Version increases on every applied change.
func (s *Session) Version() uint64 { return s.version }

// CanEdit evaluates the edit gate at the current time.
func (s *Session) CanEdit() bool { return CanEdit(s.cur, s.now()) }

// History exposes the undo/redo stacks for inspection.
func (s *Session) History() *History { return s.history }

// Summary returns the derived averages, memoised per version.
func (s *Session) Summary() models.GradebookSummary {
	if s.summary == nil || s.summaryVersion != s.version {
		summary := Summarize(s.cur)
		summary.Version = s.version
		s.summary = &summary
		s.summaryVersion = s.version
	}
	return *s.summary
}

func (s *Session) begin(op string) (*models.GradebookState, bool) {
	if !s.CanEdit() {
		s.logger.Debug("gradebook edit rejected", zap.String("op", op), zap.String("gradebook_id", s.cur.ID), zap.String("status", string(s.cur.Status)), zap.Bool("locked", s.cur.Locked))
		return nil, false
	}
	next := *s.cur
	return &next, true
}

func (s *Session) commit(next *models.GradebookState) {
	s.history.Record(s.cur)
	s.replace(next)
}

func (s *Session) replace(next *models.GradebookState) {
	next.UpdatedAt = s.now().UTC()
	s.cur = next
	s.version++
	if s.onChange != nil {
		s.onChange(s.version)
	}
}

func (s *Session) scoreCell(op, studentID, columnID string) (*models.GradebookState, models.Column, bool) {
	idx := findColumn(s.cur, columnID)
	if idx < 0 || findStudent(s.cur, studentID) < 0 {
		return nil, models.Column{}, false
	}
	col := s.cur.Columns[idx]
	if col.Locked {
		return nil, col, false
	}
	next, ok := s.begin(op)
	return next, col, ok
}

// SetScore parses raw, rounds and clamps it to the column bounds and stores it. It is a no-op
// for non-numeric input, locked columns, qualitative gradebooks or a closed gate.
func (s *Session) SetScore(studentID, columnID, raw string) bool {
	if s.cur.Settings.Mode != models.GradingModeNumeric {
		return false
	}
	value, ok := ParseNumber(raw)
	if !ok {
		return false
	}
	next, col, ok := s.scoreCell("set_score", studentID, columnID)
	if !ok {
		return false
	}
	next.Grades = withGrade(s.cur.Grades, studentID, columnID, Normalize(value, col, s.cur.Settings))
	s.commit(next)
	return true
}

// SetQualitativeLevel stores an achievement code verbatim; an empty code clears the cell.
func (s *Session) SetQualitativeLevel(studentID, columnID, code string) bool {
	if s.cur.Settings.Mode != models.GradingModeQualitative {
		return false
	}
	next, _, ok := s.scoreCell("set_level", studentID, columnID)
	if !ok {
		return false
	}
	next.Levels = withText(s.cur.Levels, studentID, columnID, strings.TrimSpace(code))
	s.commit(next)
	return true
}

// ClearScore removes the value of a cell.
func (s *Session) ClearScore(studentID, columnID string) bool {
	_, hasGrade := s.cur.Grades[studentID][columnID]
	_, hasLevel := s.cur.Levels[studentID][columnID]
	if !hasGrade && !hasLevel {
		return false
	}
	next, _, ok := s.scoreCell("clear_score", studentID, columnID)
	if !ok {
		return false
	}
	if hasGrade {
		next.Grades = withoutGrade(s.cur.Grades, studentID, columnID)
	}
	if hasLevel {
		next.Levels = withText(s.cur.Levels, studentID, columnID, "")
	}
	s.commit(next)
	return true
}

// SetComment stores free text on a cell; empty text clears it.
func (s *Session) SetComment(studentID, columnID, text string) bool {
	if findStudent(s.cur, studentID) < 0 || findColumn(s.cur, columnID) < 0 {
		return false
	}
	next, ok := s.begin("set_comment")
	if !ok {
		return false
	}
	next.Comments = withText(s.cur.Comments, studentID, columnID, strings.TrimSpace(text))
	s.commit(next)
	return true
}

// AddColumn appends an evaluation to term (the current term when empty) and renormalises the
// term's weights.
func (s *Session) AddColumn(term models.TermID, title string, weight float64) (string, bool) {
	if term == "" {
		term = s.cur.CurrentTerm
	}
	if findTerm(s.cur, term) < 0 {
		return "", false
	}
	next, ok := s.begin("add_column")
	if !ok {
		return "", false
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Nueva evaluación"
	}
	if weight <= 0 {
		weight = 1
	}
	col := models.Column{ID: s.newID(), Title: title, Weight: weight, TermID: term}
	next.Columns = append(append(make([]models.Column, 0, len(s.cur.Columns)+1), s.cur.Columns...), col)
	renormalize(next.Columns, term)
	s.commit(next)
	return col.ID, true
}

// DuplicateColumn inserts a copy of a column right after it. Scores are not copied.
func (s *Session) DuplicateColumn(columnID string) (string, bool) {
	idx := findColumn(s.cur, columnID)
	if idx < 0 {
		return "", false
	}
	next, ok := s.begin("duplicate_column")
	if !ok {
		return "", false
	}
	dup := cloneColumn(s.cur.Columns[idx])
	dup.ID = s.newID()
	dup.Title = dup.Title + " (copia)"
	cols := make([]models.Column, 0, len(s.cur.Columns)+1)
	cols = append(cols, s.cur.Columns[:idx+1]...)
	cols = append(cols, dup)
	cols = append(cols, s.cur.Columns[idx+1:]...)
	renormalize(cols, dup.TermID)
	next.Columns = cols
	s.commit(next)
	return dup.ID, true
}

// RemoveColumn deletes a column with every score, level and comment keyed to it. Recovery
// links pointing at it are cleared.
func (s *Session) RemoveColumn(columnID string) bool {
	idx := findColumn(s.cur, columnID)
	if idx < 0 {
		return false
	}
	next, ok := s.begin("remove_column")
	if !ok {
		return false
	}
	term := s.cur.Columns[idx].TermID
	cols := make([]models.Column, 0, len(s.cur.Columns)-1)
	for i, col := range s.cur.Columns {
		if i == idx {
			continue
		}
		if col.RecoveryFor == columnID {
			col.RecoveryFor = ""
		}
		cols = append(cols, col)
	}
	renormalize(cols, term)
	next.Columns = cols
	next.Grades = scoresWithoutColumn(s.cur.Grades, columnID)
	next.Levels = textsWithoutColumn(s.cur.Levels, columnID)
	next.Comments = textsWithoutColumn(s.cur.Comments, columnID)
	s.commit(next)
	return true
}

// MoveColumn swaps a column with its same-term neighbour; direction < 0 moves left.
func (s *Session) MoveColumn(columnID string, direction int) bool {
	idx := findColumn(s.cur, columnID)
	if idx < 0 || direction == 0 {
		return false
	}
	term := s.cur.Columns[idx].TermID
	step := 1
	if direction < 0 {
		step = -1
	}
	target := -1
	for i := idx + step; i >= 0 && i < len(s.cur.Columns); i += step {
		if s.cur.Columns[i].TermID == term {
			target = i
			break
		}
	}
	if target < 0 {
		return false
	}
	next, ok := s.begin("move_column")
	if !ok {
		return false
	}
	cols := append([]models.Column(nil), s.cur.Columns...)
	cols[idx], cols[target] = cols[target], cols[idx]
	renormalize(cols, term)
	next.Columns = cols
	s.commit(next)
	return true
}

// ColumnPatch lists the column attributes that can be edited; nil fields are left unchanged.
type ColumnPatch struct {
	Title       *string
	Weight      *float64
	Locked      *bool
	MaxPoints   *float64
	MinRequired *float64
	RecoveryFor *string
	CategoryID  *string
	// ClearMaxPoints and ClearMinRequired drop the per-column bounds.
	ClearMaxPoints   bool
	ClearMinRequired bool
}

// UpdateColumn applies patch. A recovery link to the column itself, to an unknown column or to
// a column of another term is rejected without change.
func (s *Session) UpdateColumn(columnID string, patch ColumnPatch) bool {
	idx := findColumn(s.cur, columnID)
	if idx < 0 {
		return false
	}
	col := cloneColumn(s.cur.Columns[idx])
	if patch.RecoveryFor != nil {
		terms := make(map[string]models.TermID, len(s.cur.Columns))
		for _, c := range s.cur.Columns {
			terms[c.ID] = c.TermID
		}
		if err := checkRecovery(terms, col.ID, col.TermID, *patch.RecoveryFor); err != nil {
			s.logger.Debug("recovery link rejected", zap.String("column_id", columnID), zap.Error(err))
			return false
		}
		col.RecoveryFor = *patch.RecoveryFor
	}
	if patch.CategoryID != nil {
		if *patch.CategoryID != "" && findCategory(s.cur.Categories[col.TermID], *patch.CategoryID) < 0 {
			return false
		}
		col.CategoryID = *patch.CategoryID
	}
	if patch.Title != nil {
		if title := strings.TrimSpace(*patch.Title); title != "" {
			col.Title = title
		}
	}
	if patch.Weight != nil && *patch.Weight >= 0 {
		col.Weight = *patch.Weight
	}
	if patch.Locked != nil {
		col.Locked = *patch.Locked
	}
	if patch.MaxPoints != nil {
		v := *patch.MaxPoints
		col.MaxPoints = &v
	}
	if patch.ClearMaxPoints {
		col.MaxPoints = nil
	}
	if patch.MinRequired != nil {
		v := *patch.MinRequired
		col.MinRequired = &v
	}
	if patch.ClearMinRequired {
		col.MinRequired = nil
	}
	next, ok := s.begin("update_column")
	if !ok {
		return false
	}
	cols := append([]models.Column(nil), s.cur.Columns...)
	cols[idx] = col
	next.Columns = cols
	s.commit(next)
	return true
}

// AddStudent appends a student.
func (s *Session) AddStudent(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	next, ok := s.begin("add_student")
	if !ok {
		return "", false
	}
	student := models.Student{ID: s.newID(), Name: name}
	next.Students = append(append(make([]models.Student, 0, len(s.cur.Students)+1), s.cur.Students...), student)
	s.commit(next)
	return student.ID, true
}

// RenameStudent changes a student's display name.
func (s *Session) RenameStudent(studentID, name string) bool {
	name = strings.TrimSpace(name)
	idx := findStudent(s.cur, studentID)
	if idx < 0 || name == "" {
		return false
	}
	next, ok := s.begin("rename_student")
	if !ok {
		return false
	}
	students := append([]models.Student(nil), s.cur.Students...)
	students[idx].Name = name
	next.Students = students
	s.commit(next)
	return true
}

// RemoveStudent deletes a student with all of their scores, levels and comments.
func (s *Session) RemoveStudent(studentID string) bool {
	idx := findStudent(s.cur, studentID)
	if idx < 0 {
		return false
	}
	next, ok := s.begin("remove_student")
	if !ok {
		return false
	}
	students := make([]models.Student, 0, len(s.cur.Students)-1)
	students = append(students, s.cur.Students[:idx]...)
	students = append(students, s.cur.Students[idx+1:]...)
	next.Students = students
	next.Grades = scoresWithoutStudent(s.cur.Grades, studentID)
	next.Levels = textsWithoutStudent(s.cur.Levels, studentID)
	next.Comments = textsWithoutStudent(s.cur.Comments, studentID)
	s.commit(next)
	return true
}

func (s *Session) withCategories(next *models.GradebookState, term models.TermID, cats []models.Category) {
	out := make(map[models.TermID][]models.Category, len(s.cur.Categories)+1)
	for t, c := range s.cur.Categories {
		out[t] = c
	}
	out[term] = cats
	next.Categories = out
}

// AddCategory creates a weighted category in term.
func (s *Session) AddCategory(term models.TermID, name string, weight float64) (string, bool) {
	name = strings.TrimSpace(name)
	if findTerm(s.cur, term) < 0 || name == "" || weight < 0 {
		return "", false
	}
	next, ok := s.begin("add_category")
	if !ok {
		return "", false
	}
	cat := models.Category{ID: s.newID(), Name: name, Weight: weight}
	cats := append(append([]models.Category(nil), s.cur.Categories[term]...), cat)
	s.withCategories(next, term, cats)
	s.commit(next)
	return cat.ID, true
}

// UpdateCategory renames and/or reweights a category.
func (s *Session) UpdateCategory(term models.TermID, categoryID string, name *string, weight *float64) bool {
	idx := findCategory(s.cur.Categories[term], categoryID)
	if idx < 0 || (weight != nil && *weight < 0) {
		return false
	}
	next, ok := s.begin("update_category")
	if !ok {
		return false
	}
	cats := append([]models.Category(nil), s.cur.Categories[term]...)
	if name != nil && strings.TrimSpace(*name) != "" {
		cats[idx].Name = strings.TrimSpace(*name)
	}
	if weight != nil {
		cats[idx].Weight = *weight
	}
	s.withCategories(next, term, cats)
	s.commit(next)
	return true
}

// RemoveCategory deletes a category; its columns become uncategorised.
func (s *Session) RemoveCategory(term models.TermID, categoryID string) bool {
	idx := findCategory(s.cur.Categories[term], categoryID)
	if idx < 0 {
		return false
	}
	next, ok := s.begin("remove_category")
	if !ok {
		return false
	}
	old := s.cur.Categories[term]
	cats := make([]models.Category, 0, len(old)-1)
	cats = append(cats, old[:idx]...)
	cats = append(cats, old[idx+1:]...)
	s.withCategories(next, term, cats)
	cols := append([]models.Column(nil), s.cur.Columns...)
	for i := range cols {
		if cols[i].TermID == term && cols[i].CategoryID == categoryID {
			cols[i].CategoryID = ""
		}
	}
	next.Columns = cols
	s.commit(next)
	return true
}

// SetTermWeight stores a term weight as given. Other terms are not rebalanced.
func (s *Session) SetTermWeight(term models.TermID, weight float64) bool {
	idx := findTerm(s.cur, term)
	if idx < 0 || weight < 0 {
		return false
	}
	next, ok := s.begin("set_term_weight")
	if !ok {
		return false
	}
	terms := append([]models.Term(nil), s.cur.Terms...)
	terms[idx].Weight = weight
	next.Terms = terms
	s.commit(next)
	return true
}

// SetDropLowest toggles exclusion of the lowest score per category.
func (s *Session) SetDropLowest(enabled bool) bool {
	if s.cur.DropLowest == enabled {
		return false
	}
	next, ok := s.begin("set_drop_lowest")
	if !ok {
		return false
	}
	next.DropLowest = enabled
	s.commit(next)
	return true
}

// SetCurrentTerm switches the term new columns and imports default to. It is view state:
// neither gated nor recorded in history.
func (s *Session) SetCurrentTerm(term models.TermID) bool {
	if findTerm(s.cur, term) < 0 || s.cur.CurrentTerm == term {
		return false
	}
	next := *s.cur
	next.CurrentTerm = term
	s.replace(&next)
	return true
}

// Undo restores the previous snapshot.
func (s *Session) Undo() bool {
	if !s.CanEdit() {
		return false
	}
	prev, ok := s.history.Undo(s.cur)
	if !ok {
		return false
	}
	s.replace(s.restore(prev))
	return true
}

// Redo re-applies the last undone snapshot.
func (s *Session) Redo() bool {
	if !s.CanEdit() {
		return false
	}
	next, ok := s.history.Redo(s.cur)
	if !ok {
		return false
	}
	s.replace(s.restore(next))
	return true
}

// restore copies a history snapshot, keeping the workflow status, lock, edit window and current
// term of the live state. Those fields are changed only by untracked operations.
func (s *Session) restore(snapshot *models.GradebookState) *models.GradebookState {
	next := *snapshot
	next.Status = s.cur.Status
	next.Locked = s.cur.Locked
	next.EditWindow = s.cur.EditWindow
	next.CurrentTerm = s.cur.CurrentTerm
	return &next
}

// Transition moves the workflow status. It is not gated and not recorded in history.
func (s *Session) Transition(action Action) error {
	status, err := NextStatus(s.cur.Status, action)
	if err != nil {
		return err
	}
	next := *s.cur
	next.Status = status
	s.replace(&next)
	s.logger.Info("gradebook status changed", zap.String("gradebook_id", s.cur.ID), zap.String("action", string(action)), zap.String("status", string(status)))
	return nil
}

// SetLocked sets the hard lock flag.
func (s *Session) SetLocked(locked bool) {
	if s.cur.Locked == locked {
		return
	}
	next := *s.cur
	next.Locked = locked
	s.replace(&next)
}

// SetEditWindow replaces the edit window; nil bounds are open.
func (s *Session) SetEditWindow(start, end *time.Time) {
	var window models.EditWindow
	if start != nil {
		v := *start
		window.Start = &v
	}
	if end != nil {
		v := *end
		window.End = &v
	}
	next := *s.cur
	next.EditWindow = window
	s.replace(&next)
}
