package gradebook

import (
	"time"

	"github.com/noah-isme/sma-gradebook/internal/models"
	appErrors "github.com/noah-isme/sma-gradebook/pkg/errors"
)

// CanEdit reports whether mutations are permitted at now: the gradebook must be unlocked, in
// draft and inside its edit window. Absent window bounds are open.
func CanEdit(st *models.GradebookState, now time.Time) bool {
	if st.Locked || st.Status != models.GradebookStatusDraft {
		return false
	}
	if start := st.EditWindow.Start; start != nil && now.Before(*start) {
		return false
	}
	if end := st.EditWindow.End; end != nil && now.After(*end) {
		return false
	}
	return true
}

// Action is a workflow transition request.
type Action string

const (
	ActionSubmit  Action = "submit"
	ActionReturn  Action = "return"
	ActionApprove Action = "approve"
	ActionPublish Action = "publish"
	ActionReopen  Action = "reopen"
)

var transitions = map[Action]struct {
	from []models.GradebookStatus
	to   models.GradebookStatus
}{
	ActionSubmit:  {from: []models.GradebookStatus{models.GradebookStatusDraft}, to: models.GradebookStatusSubmitted},
	ActionReturn:  {from: []models.GradebookStatus{models.GradebookStatusSubmitted}, to: models.GradebookStatusDraft},
	ActionApprove: {from: []models.GradebookStatus{models.GradebookStatusSubmitted}, to: models.GradebookStatusApproved},
	ActionPublish: {from: []models.GradebookStatus{models.GradebookStatusApproved}, to: models.GradebookStatusPublished},
	ActionReopen: {from: []models.GradebookStatus{
		models.GradebookStatusSubmitted,
		models.GradebookStatusApproved,
		models.GradebookStatusPublished,
	}, to: models.GradebookStatusDraft},
}

// NextStatus resolves the status reached by applying action to current.
func NextStatus(current models.GradebookStatus, action Action) (models.GradebookStatus, error) {
	t, ok := transitions[action]
	if !ok {
		return current, appErrors.ErrInvalidTransition
	}
	for _, from := range t.from {
		if from == current {
			return t.to, nil
		}
	}
	return current, appErrors.ErrInvalidTransition
}
