package dto

import (
	"time"

	"github.com/noah-isme/sma-gradebook/internal/gradebook"
	"github.com/noah-isme/sma-gradebook/internal/models"
)

// CreateGradebookRequest carries the initial snapshot of a new gradebook. Omitted fields take
// the configured defaults.
type CreateGradebookRequest struct {
	ID          string                              `json:"id" validate:"omitempty,max=64"`
	Title       string                              `json:"title" validate:"max=200"`
	Students    []models.Student                    `json:"students" validate:"dive"`
	Columns     []models.Column                     `json:"columns"`
	Grades      models.ScoreTable                   `json:"grades"`
	Levels      models.TextTable                    `json:"levels"`
	Comments    models.TextTable                    `json:"comments"`
	Terms       []models.Term                       `json:"terms"`
	Categories  map[models.TermID][]models.Category `json:"categories"`
	CurrentTerm models.TermID                       `json:"currentTerm"`
	DropLowest  bool                                `json:"dropLowest"`
	Settings    models.GradebookSettings            `json:"settings"`
}

// State converts the request into an initial gradebook state.
func (r CreateGradebookRequest) State() models.GradebookState {
	return models.GradebookState{
		ID:          r.ID,
		Title:       r.Title,
		Students:    r.Students,
		Columns:     r.Columns,
		Grades:      r.Grades,
		Levels:      r.Levels,
		Comments:    r.Comments,
		Terms:       r.Terms,
		Categories:  r.Categories,
		CurrentTerm: r.CurrentTerm,
		DropLowest:  r.DropLowest,
		Settings:    r.Settings,
	}
}

// CellRequest addresses one score cell.
type CellRequest struct {
	StudentID string `json:"studentId" validate:"required"`
	ColumnID  string `json:"columnId" validate:"required"`
}

// SetScoreRequest writes raw input into a cell. Numeric gradebooks parse Value as a number,
// qualitative ones store it as a level code.
type SetScoreRequest struct {
	StudentID string `json:"studentId" validate:"required"`
	ColumnID  string `json:"columnId" validate:"required"`
	Value     string `json:"value" validate:"max=32"`
}

// SetCommentRequest writes a free-text comment; an empty text clears it.
type SetCommentRequest struct {
	StudentID string `json:"studentId" validate:"required"`
	ColumnID  string `json:"columnId" validate:"required"`
	Text      string `json:"text" validate:"max=1000"`
}

// AddColumnRequest creates an evaluation column. TermID defaults to the current term.
type AddColumnRequest struct {
	TermID models.TermID `json:"termId" validate:"omitempty,max=16"`
	Title  string        `json:"title" validate:"max=200"`
	Weight float64       `json:"weight" validate:"gte=0"`
}

// UpdateColumnRequest patches a column; nil fields stay unchanged.
type UpdateColumnRequest struct {
	Title            *string  `json:"title" validate:"omitempty,min=1,max=200"`
	Weight           *float64 `json:"weight" validate:"omitempty,gte=0"`
	Locked           *bool    `json:"locked"`
	MaxPoints        *float64 `json:"maxPoints"`
	MinRequired      *float64 `json:"minRequired"`
	RecoveryFor      *string  `json:"recoveryFor"`
	CategoryID       *string  `json:"categoryId"`
	ClearMaxPoints   bool     `json:"clearMaxPoints"`
	ClearMinRequired bool     `json:"clearMinRequired"`
}

// MoveColumnRequest shifts a column one position inside its term.
type MoveColumnRequest struct {
	Direction string `json:"direction" validate:"required,oneof=left right"`
}

// StudentRequest carries a student name.
type StudentRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

// AddCategoryRequest creates a category within a term.
type AddCategoryRequest struct {
	TermID models.TermID `json:"termId" validate:"required"`
	Name   string        `json:"name" validate:"required,max=100"`
	Weight float64       `json:"weight" validate:"gte=0"`
}

// UpdateCategoryRequest patches a category.
type UpdateCategoryRequest struct {
	TermID models.TermID `json:"termId" validate:"required"`
	Name   *string       `json:"name" validate:"omitempty,min=1,max=100"`
	Weight *float64      `json:"weight" validate:"omitempty,gte=0"`
}

// TermWeightRequest sets the weight of a term in the final average.
type TermWeightRequest struct {
	Weight float64 `json:"weight" validate:"gte=0"`
}

// CurrentTermRequest selects the visible term.
type CurrentTermRequest struct {
	TermID models.TermID `json:"termId" validate:"required"`
}

// DropLowestRequest toggles dropping the lowest score.
type DropLowestRequest struct {
	Enabled bool `json:"enabled"`
}

// ImportTextRequest carries pasted tabular text.
type ImportTextRequest struct {
	Text string `json:"text" validate:"required"`
}

// TransitionRequest moves the workflow status.
type TransitionRequest struct {
	Action string `json:"action" validate:"required,oneof=submit return approve publish reopen"`
}

// LockRequest toggles the hard lock.
type LockRequest struct {
	Locked bool `json:"locked"`
}

// EditWindowRequest replaces the edit window; nil bounds are open.
type EditWindowRequest struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

// ExportRequest selects the export format.
type ExportRequest struct {
	Format string `json:"format" validate:"required,oneof=csv xlsx pdf"`
}

// SaveStatus describes the autosave state of a gradebook.
type SaveStatus struct {
	Status      models.SaveStatus `json:"status"`
	Message     string            `json:"message,omitempty"`
	LastSavedAt *time.Time        `json:"lastSavedAt,omitempty"`
}

// GradebookView is the full read model of an open gradebook.
type GradebookView struct {
	State    *models.GradebookState `json:"state"`
	Version  uint64                 `json:"version"`
	Editable bool                   `json:"editable"`
	CanUndo  bool                   `json:"canUndo"`
	CanRedo  bool                   `json:"canRedo"`
	Save     SaveStatus             `json:"save"`
}

// MutationResult reports the outcome of an edit. Applied is false when the edit was rejected
// by the edit gate or by validation.
type MutationResult struct {
	Applied  bool       `json:"applied"`
	ID       string     `json:"id,omitempty"`
	Version  uint64     `json:"version"`
	Editable bool       `json:"editable"`
	Save     SaveStatus `json:"save"`
}

// ImportResult wraps an import report with the resulting version.
type ImportResult struct {
	Report  gradebook.ImportReport `json:"report"`
	Version uint64                 `json:"version"`
	Save    SaveStatus             `json:"save"`
}

// ExportResponse points at a rendered export.
type ExportResponse struct {
	Format    string    `json:"format"`
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
