package gradebook

import "github.com/noah-isme/sma-gradebook/internal/models"

// History keeps undo and redo stacks of state snapshots. Snapshots are immutable values that
// share unchanged containers with their neighbours, so no deep copy is taken per entry.
type History struct {
	undo  []*models.GradebookState
	redo  []*models.GradebookState
	limit int
}

// NewHistory builds a history bounded to limit undo entries (DefaultHistoryLimit when <= 0).
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Record pushes the pre-mutation state and clears the redo stack.
func (h *History) Record(prev *models.GradebookState) {
	h.undo = append(h.undo, prev)
	if over := len(h.undo) - h.limit; over > 0 {
		h.undo = append(h.undo[:0:0], h.undo[over:]...)
	}
	h.redo = nil
}

// Undo returns the state to restore, stashing current on the redo stack.
func (h *History) Undo(current *models.GradebookState) (*models.GradebookState, bool) {
	if len(h.undo) == 0 {
		return nil, false
	}
	prev := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, current)
	return prev, true
}

// Redo returns the state to restore, stashing current on the undo stack.
func (h *History) Redo(current *models.GradebookState) (*models.GradebookState, bool) {
	if len(h.redo) == 0 {
		return nil, false
	}
	next := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, current)
	return next, true
}

// UndoDepth is the number of undoable steps.
func (h *History) UndoDepth() int { return len(h.undo) }

// RedoDepth is the number of redoable steps.
func (h *History) RedoDepth() int { return len(h.redo) }
