package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-gradebook/internal/dto"
	"github.com/noah-isme/sma-gradebook/internal/models"
	"github.com/noah-isme/sma-gradebook/internal/service"
	appErrors "github.com/noah-isme/sma-gradebook/pkg/errors"
	"github.com/noah-isme/sma-gradebook/pkg/response"
)

const maxImportBytes = 10 << 20

type gradebookService interface {
	Create(ctx context.Context, req dto.CreateGradebookRequest) (*dto.GradebookView, error)
	Get(ctx context.Context, id string) (*dto.GradebookView, error)
	Summary(ctx context.Context, id string) (*models.GradebookSummary, error)
	SetScore(ctx context.Context, id string, req dto.SetScoreRequest) (*dto.MutationResult, error)
	ClearScore(ctx context.Context, id string, req dto.CellRequest) (*dto.MutationResult, error)
	SetComment(ctx context.Context, id string, req dto.SetCommentRequest) (*dto.MutationResult, error)
	AddColumn(ctx context.Context, id string, req dto.AddColumnRequest) (*dto.MutationResult, error)
	UpdateColumn(ctx context.Context, id, columnID string, req dto.UpdateColumnRequest) (*dto.MutationResult, error)
	DuplicateColumn(ctx context.Context, id, columnID string) (*dto.MutationResult, error)
	MoveColumn(ctx context.Context, id, columnID string, req dto.MoveColumnRequest) (*dto.MutationResult, error)
	RemoveColumn(ctx context.Context, id, columnID string) (*dto.MutationResult, error)
	AddStudent(ctx context.Context, id string, req dto.StudentRequest) (*dto.MutationResult, error)
	RenameStudent(ctx context.Context, id, studentID string, req dto.StudentRequest) (*dto.MutationResult, error)
	RemoveStudent(ctx context.Context, id, studentID string) (*dto.MutationResult, error)
	AddCategory(ctx context.Context, id string, req dto.AddCategoryRequest) (*dto.MutationResult, error)
	UpdateCategory(ctx context.Context, id, categoryID string, req dto.UpdateCategoryRequest) (*dto.MutationResult, error)
	RemoveCategory(ctx context.Context, id string, term models.TermID, categoryID string) (*dto.MutationResult, error)
	SetTermWeight(ctx context.Context, id string, term models.TermID, req dto.TermWeightRequest) (*dto.MutationResult, error)
	SetCurrentTerm(ctx context.Context, id string, req dto.CurrentTermRequest) (*dto.MutationResult, error)
	SetDropLowest(ctx context.Context, id string, req dto.DropLowestRequest) (*dto.MutationResult, error)
	Undo(ctx context.Context, id string) (*dto.MutationResult, error)
	Redo(ctx context.Context, id string) (*dto.MutationResult, error)
	Save(ctx context.Context, id string) (*dto.SaveStatus, error)
	ImportText(ctx context.Context, id string, req dto.ImportTextRequest) (*dto.ImportResult, error)
	ImportWorkbook(ctx context.Context, id string, r io.Reader) (*dto.ImportResult, error)
	Transition(ctx context.Context, id string, req dto.TransitionRequest) (*dto.MutationResult, error)
	SetLocked(ctx context.Context, id string, req dto.LockRequest) (*dto.MutationResult, error)
	SetEditWindow(ctx context.Context, id string, req dto.EditWindowRequest) (*dto.MutationResult, error)
}

type exportService interface {
	Generate(ctx context.Context, gradebookID string, format service.ExportFormat) (*service.ExportResult, error)
}

// GradebookHandler exposes gradebook editing endpoints.
type GradebookHandler struct {
	service gradebookService
	exports exportService
	logger  *zap.Logger
}

// NewGradebookHandler builds a new handler.
func NewGradebookHandler(service gradebookService, exports exportService, logger *zap.Logger) *GradebookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradebookHandler{service: service, exports: exports, logger: logger}
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return false
	}
	return true
}

func respondMutation(c *gin.Context, result *dto.MutationResult, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Create godoc
// @Summary Create gradebook
// @Tags Gradebook
// @Accept json
// @Produce json
// @Param payload body dto.CreateGradebookRequest true "Initial snapshot"
// @Success 201 {object} response.Envelope
// @Router /gradebooks [post]
func (h *GradebookHandler) Create(c *gin.Context) {
	var req dto.CreateGradebookRequest
	if !bindJSON(c, &req) {
		return
	}
	view, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.logger.Info("gradebook created", append(actorFields(c), zap.String("gradebook_id", view.State.ID))...)
	response.Created(c, view)
}

// Get godoc
// @Summary Get gradebook state
// @Tags Gradebook
// @Produce json
// @Param id path string true "Gradebook ID"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id} [get]
func (h *GradebookHandler) Get(c *gin.Context) {
	view, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// Summary godoc
// @Summary Get gradebook averages
// @Tags Gradebook
// @Produce json
// @Param id path string true "Gradebook ID"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/summary [get]
func (h *GradebookHandler) Summary(c *gin.Context) {
	summary, err := h.service.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary, map[string]interface{}{"version": summary.Version})
}

// SetScore godoc
// @Summary Set a score
// @Tags Gradebook
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param payload body dto.SetScoreRequest true "Cell value"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/scores [put]
func (h *GradebookHandler) SetScore(c *gin.Context) {
	var req dto.SetScoreRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.SetScore(c.Request.Context(), c.Param("id"), req)
	respondMutation(c, result, err)
}

// ClearScore godoc
// @Summary Clear a score
// @Tags Gradebook
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param payload body dto.CellRequest true "Cell"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/scores [delete]
func (h *GradebookHandler) ClearScore(c *gin.Context) {
	var req dto.CellRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.ClearScore(c.Request.Context(), c.Param("id"), req)
	respondMutation(c, result, err)
}

// SetComment godoc
// @Summary Set a cell comment
// @Tags Gradebook
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param payload body dto.SetCommentRequest true "Comment"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/comments [put]
func (h *GradebookHandler) SetComment(c *gin.Context) {
	var req dto.SetCommentRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.SetComment(c.Request.Context(), c.Param("id"), req)
	respondMutation(c, result, err)
}

// AddColumn godoc
// @Summary Add column
// @Tags Gradebook Columns
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param payload body dto.AddColumnRequest true "Column"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/columns [post]
func (h *GradebookHandler) AddColumn(c *gin.Context) {
	var req dto.AddColumnRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.AddColumn(c.Request.Context(), c.Param("id"), req)
	respondMutation(c, result, err)
}

// UpdateColumn godoc
// @Summary Update column
// @Tags Gradebook Columns
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param columnId path string true "Column ID"
// @Param payload body dto.UpdateColumnRequest true "Column patch"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/columns/{columnId} [patch]
func (h *GradebookHandler) UpdateColumn(c *gin.Context) {
	var req dto.UpdateColumnRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.UpdateColumn(c.Request.Context(), c.Param("id"), c.Param("columnId"), req)
	respondMutation(c, result, err)
}

// DuplicateColumn godoc
// @Summary Duplicate column
// @Tags Gradebook Columns
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param columnId path string true "Column ID"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/columns/{columnId}/duplicate [post]
func (h *GradebookHandler) DuplicateColumn(c *gin.Context) {
	result, err := h.service.DuplicateColumn(c.Request.Context(), c.Param("id"), c.Param("columnId"))
	respondMutation(c, result, err)
}

// MoveColumn godoc
// @Summary Move column left or right
// @Tags Gradebook Columns
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param columnId path string true "Column ID"
// @Param payload body dto.MoveColumnRequest true "Direction"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/columns/{columnId}/move [post]
func (h *GradebookHandler) MoveColumn(c *gin.Context) {
	var req dto.MoveColumnRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.MoveColumn(c.Request.Context(), c.Param("id"), c.Param("columnId"), req)
	respondMutation(c, result, err)
}

// RemoveColumn godoc
// @Summary Remove column
// @Tags Gradebook Columns
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param columnId path string true "Column ID"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/columns/{columnId} [delete]
func (h *GradebookHandler) RemoveColumn(c *gin.Context) {
	result, err := h.service.RemoveColumn(c.Request.Context(), c.Param("id"), c.Param("columnId"))
	respondMutation(c, result, err)
}

// AddStudent godoc
// @Summary Add student
// @Tags Gradebook Students
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param payload body dto.StudentRequest true "Student"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/students [post]
func (h *GradebookHandler) AddStudent(c *gin.Context) {
	var req dto.StudentRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.AddStudent(c.Request.Context(), c.Param("id"), req)
	respondMutation(c, result, err)
}

// RenameStudent godoc
// @Summary Rename student
// @Tags Gradebook Students
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param studentId path string true "Student ID"
// @Param payload body dto.StudentRequest true "Student"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/students/{studentId} [patch]
func (h *GradebookHandler) RenameStudent(c *gin.Context) {
	var req dto.StudentRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.RenameStudent(c.Request.Context(), c.Param("id"), c.Param("studentId"), req)
	respondMutation(c, result, err)
}

// RemoveStudent godoc
// @Summary Remove student
// @Tags Gradebook Students
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/students/{studentId} [delete]
func (h *GradebookHandler) RemoveStudent(c *gin.Context) {
	result, err := h.service.RemoveStudent(c.Request.Context(), c.Param("id"), c.Param("studentId"))
	respondMutation(c, result, err)
}

// AddCategory godoc
// @Summary Add category
// @Tags Gradebook Categories
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param payload body dto.AddCategoryRequest true "Category"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/categories [post]
func (h *GradebookHandler) AddCategory(c *gin.Context) {
	var req dto.AddCategoryRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.AddCategory(c.Request.Context(), c.Param("id"), req)
	respondMutation(c, result, err)
}

// UpdateCategory godoc
// @Summary Update category
// @Tags Gradebook Categories
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param categoryId path string true "Category ID"
// @Param payload body dto.UpdateCategoryRequest true "Category patch"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/categories/{categoryId} [patch]
func (h *GradebookHandler) UpdateCategory(c *gin.Context) {
	var req dto.UpdateCategoryRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.UpdateCategory(c.Request.Context(), c.Param("id"), c.Param("categoryId"), req)
	respondMutation(c, result, err)
}

// RemoveCategory godoc
// @Summary Remove category
// @Tags Gradebook Categories
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param categoryId path string true "Category ID"
// @Param termId query string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/categories/{categoryId} [delete]
func (h *GradebookHandler) RemoveCategory(c *gin.Context) {
	term := models.TermID(c.Query("termId"))
	if term == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "termId is required"))
		return
	}
	result, err := h.service.RemoveCategory(c.Request.Context(), c.Param("id"), term, c.Param("categoryId"))
	respondMutation(c, result, err)
}

// SetTermWeight godoc
// @Summary Set term weight
// @Tags Gradebook
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param termId path string true "Term ID"
// @Param payload body dto.TermWeightRequest true "Weight"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/terms/{termId} [put]
func (h *GradebookHandler) SetTermWeight(c *gin.Context) {
	var req dto.TermWeightRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.SetTermWeight(c.Request.Context(), c.Param("id"), models.TermID(c.Param("termId")), req)
	respondMutation(c, result, err)
}

// SetCurrentTerm godoc
// @Summary Select the visible term
// @Tags Gradebook
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param payload body dto.CurrentTermRequest true "Term"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/current-term [put]
func (h *GradebookHandler) SetCurrentTerm(c *gin.Context) {
	var req dto.CurrentTermRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.SetCurrentTerm(c.Request.Context(), c.Param("id"), req)
	respondMutation(c, result, err)
}

// SetDropLowest godoc
// @Summary Toggle dropping the lowest score
// @Tags Gradebook
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param payload body dto.DropLowestRequest true "Toggle"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/drop-lowest [put]
func (h *GradebookHandler) SetDropLowest(c *gin.Context) {
	var req dto.DropLowestRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.SetDropLowest(c.Request.Context(), c.Param("id"), req)
	respondMutation(c, result, err)
}

// Undo godoc
// @Summary Undo last change
// @Tags Gradebook
// @Produce json
// @Param id path string true "Gradebook ID"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/undo [post]
func (h *GradebookHandler) Undo(c *gin.Context) {
	result, err := h.service.Undo(c.Request.Context(), c.Param("id"))
	respondMutation(c, result, err)
}

// Redo godoc
// @Summary Redo last undone change
// @Tags Gradebook
// @Produce json
// @Param id path string true "Gradebook ID"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/redo [post]
func (h *GradebookHandler) Redo(c *gin.Context) {
	result, err := h.service.Redo(c.Request.Context(), c.Param("id"))
	respondMutation(c, result, err)
}

// Save godoc
// @Summary Save immediately
// @Tags Gradebook
// @Produce json
// @Param id path string true "Gradebook ID"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/save [post]
func (h *GradebookHandler) Save(c *gin.Context) {
	status, err := h.service.Save(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, status)
}

// Import godoc
// @Summary Import scores from a workbook or pasted text
// @Tags Gradebook
// @Accept mpfd,json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param file formData file false "xlsx workbook"
// @Param payload body dto.ImportTextRequest false "Pasted text"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/import [post]
func (h *GradebookHandler) Import(c *gin.Context) {
	id := c.Param("id")
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile("file")
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
			return
		}
		if header.Size > maxImportBytes {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes", maxImportBytes)))
			return
		}
		if ext := strings.ToLower(filepath.Ext(header.Filename)); ext != ".xlsx" {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "only .xlsx workbooks are supported"))
			return
		}
		file, err := header.Open()
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "cannot read upload"))
			return
		}
		defer file.Close() //nolint:errcheck
		result, err := h.service.ImportWorkbook(c.Request.Context(), id, file)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, result)
		return
	}

	var req dto.ImportTextRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.ImportText(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Export godoc
// @Summary Render an export and return its download link
// @Tags Gradebook
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param payload body dto.ExportRequest true "Format"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/export [post]
func (h *GradebookHandler) Export(c *gin.Context) {
	var req dto.ExportRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.exports.Generate(c.Request.Context(), c.Param("id"), service.ExportFormat(req.Format))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ExportResponse{
		Format:    string(result.Format),
		URL:       result.URL,
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
	})
}

// Transition godoc
// @Summary Change workflow status
// @Tags Gradebook Admin
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param payload body dto.TransitionRequest true "Action"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/status [post]
func (h *GradebookHandler) Transition(c *gin.Context) {
	var req dto.TransitionRequest
	if !bindJSON(c, &req) {
		return
	}
	if privilegedActions[req.Action] && !canAdminister(c) {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, req.Action+" requires an administrative role"))
		return
	}
	result, err := h.service.Transition(c.Request.Context(), c.Param("id"), req)
	if err == nil {
		h.logger.Info("gradebook status changed", append(actorFields(c),
			zap.String("gradebook_id", c.Param("id")), zap.String("action", req.Action))...)
	}
	respondMutation(c, result, err)
}

// SetLocked godoc
// @Summary Lock or unlock a gradebook
// @Tags Gradebook Admin
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param payload body dto.LockRequest true "Lock"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/lock [put]
func (h *GradebookHandler) SetLocked(c *gin.Context) {
	var req dto.LockRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.SetLocked(c.Request.Context(), c.Param("id"), req)
	respondMutation(c, result, err)
}

// SetEditWindow godoc
// @Summary Set the edit window
// @Tags Gradebook Admin
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param payload body dto.EditWindowRequest true "Window"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/edit-window [put]
func (h *GradebookHandler) SetEditWindow(c *gin.Context) {
	var req dto.EditWindowRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.SetEditWindow(c.Request.Context(), c.Param("id"), req)
	respondMutation(c, result, err)
}

// approve, publish and reopen need an administrative role; submit and return do not.
var privilegedActions = map[string]bool{"approve": true, "publish": true, "reopen": true}
