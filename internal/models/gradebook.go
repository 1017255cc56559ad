package models

import "time"

// TermID identifies one of the three grading periods.
type TermID string

const (
	TermT1 TermID = "T1"
	TermT2 TermID = "T2"
	TermT3 TermID = "T3"
)

// GradebookStatus is the workflow status of a gradebook.
type GradebookStatus string

const (
	GradebookStatusDraft     GradebookStatus = "draft"
	GradebookStatusSubmitted GradebookStatus = "submitted"
	GradebookStatusApproved  GradebookStatus = "approved"
	GradebookStatusPublished GradebookStatus = "published"
)

// GradingMode selects between numeric scores and qualitative achievement codes.
type GradingMode string

const (
	GradingModeNumeric     GradingMode = "numeric"
	GradingModeQualitative GradingMode = "qualitative"
)

// EducationLevelInitial is the early-childhood level graded qualitatively.
const EducationLevelInitial = "initial"

// RoundingMode controls how raw numeric input is stored.
type RoundingMode string

const (
	RoundingNone  RoundingMode = "none"
	RoundingRound RoundingMode = "round"
	RoundingFloor RoundingMode = "floor"
	RoundingCeil  RoundingMode = "ceil"
)

// Student is a row of the gradebook.
type Student struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Column is a single evaluation belonging to exactly one term.
type Column struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Weight      float64  `json:"weight"`
	TermID      TermID   `json:"termId"`
	Locked      bool     `json:"locked,omitempty"`
	MaxPoints   *float64 `json:"maxPoints,omitempty"`
	MinRequired *float64 `json:"minRequired,omitempty"`
	RecoveryFor string   `json:"recoveryFor,omitempty"`
	CategoryID  string   `json:"categoryId,omitempty"`
}

// Term is a grading period with its weight in the final average.
type Term struct {
	ID     TermID  `json:"id"`
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Category groups columns of a term for the two-level weighted average.
type Category struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// EditWindow bounds the time range in which edits are allowed. Nil bounds are open.
type EditWindow struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// GradebookSettings holds the numeric policy of a gradebook.
type GradebookSettings struct {
	Mode           GradingMode  `json:"mode"`
	EducationLevel string       `json:"educationLevel,omitempty"`
	Rounding       RoundingMode `json:"rounding"`
	Decimals       int          `json:"decimals" validate:"gte=0,lte=6"`
	MinScore       float64      `json:"minScore"`
	MaxScore       float64      `json:"maxScore"`
}

// ScoreTable maps studentID -> columnID -> numeric value.
type ScoreTable map[string]map[string]float64

// TextTable maps studentID -> columnID -> text (qualitative codes, comments).
type TextTable map[string]map[string]string

// GradebookState is the aggregate root edited by a gradebook session.
type GradebookState struct {
	ID          string                `json:"id"`
	Title       string                `json:"title,omitempty"`
	Students    []Student             `json:"students"`
	Columns     []Column              `json:"columns"`
	Grades      ScoreTable            `json:"grades"`
	Levels      TextTable             `json:"levels"`
	Comments    TextTable             `json:"comments"`
	Terms       []Term                `json:"terms"`
	Categories  map[TermID][]Category `json:"categories"`
	CurrentTerm TermID                `json:"currentTerm"`
	Status      GradebookStatus       `json:"status"`
	EditWindow  EditWindow            `json:"editWindow"`
	Locked      bool                  `json:"locked"`
	DropLowest  bool                  `json:"dropLowest"`
	Settings    GradebookSettings     `json:"settings"`
	UpdatedAt   time.Time             `json:"updatedAt"`
}

// GradebookRecord is the persisted row of a gradebook document.
type GradebookRecord struct {
	ID        string    `db:"id"`
	State     []byte    `db:"state"`
	Version   int64     `db:"version"`
	UpdatedAt time.Time `db:"updated_at"`
}

// StudentAverages holds the derived averages of one student.
type StudentAverages struct {
	StudentID    string             `json:"studentId"`
	StudentName  string             `json:"studentName"`
	TermAverages map[TermID]float64 `json:"termAverages"`
	Final        float64            `json:"final"`
}

// ColumnAverage is the class mean of a column; Average is nil when nobody has a score.
type ColumnAverage struct {
	ColumnID string   `json:"columnId"`
	Title    string   `json:"title"`
	TermID   TermID   `json:"termId"`
	Average  *float64 `json:"average,omitempty"`
}

// CategoryAverageRow is the class mean of per-student category averages.
type CategoryAverageRow struct {
	TermID     TermID  `json:"termId"`
	CategoryID string  `json:"categoryId"`
	Name       string  `json:"name"`
	Average    float64 `json:"average"`
}

// GradebookSummary is the read-only view derived from a state.
type GradebookSummary struct {
	GradebookID string               `json:"gradebookId"`
	Version     uint64               `json:"version"`
	Students    []StudentAverages    `json:"students"`
	Columns     []ColumnAverage      `json:"columns"`
	Categories  []CategoryAverageRow `json:"categories"`
}

// SaveStatus describes the autosave state of a gradebook.
type SaveStatus string

const (
	SaveStatusIdle    SaveStatus = "idle"
	SaveStatusPending SaveStatus = "pending"
	SaveStatusSaving  SaveStatus = "saving"
	SaveStatusSaved   SaveStatus = "saved"
	SaveStatusError   SaveStatus = "error"
)
