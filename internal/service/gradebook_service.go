package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-gradebook/internal/dto"
	"github.com/noah-isme/sma-gradebook/internal/gradebook"
	"github.com/noah-isme/sma-gradebook/internal/models"
	appErrors "github.com/noah-isme/sma-gradebook/pkg/errors"
	"github.com/noah-isme/sma-gradebook/pkg/jobs"
	"github.com/noah-isme/sma-gradebook/pkg/middleware/requestid"
)

const saveFailedMessage = "could not save"

type gradebookRepository interface {
	gradebook.Persister
	Create(ctx context.Context, st *models.GradebookState) error
	Load(ctx context.Context, id string) (*models.GradebookState, error)
}

type summaryCache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Invalidate(ctx context.Context, pattern string)
}

// GradebookServiceConfig tunes the workspace registry.
type GradebookServiceConfig struct {
	Defaults        gradebook.Defaults
	AutosaveDelay   time.Duration
	SaveTimeout     time.Duration
	SummaryCacheTTL time.Duration
	Now             func() time.Time
	NewID           func() string
}

// workspace is one open gradebook. mu serialises every access to session and the save fields.
type workspace struct {
	mu          sync.Mutex
	session     *gradebook.Session
	epoch       string
	dirty       bool
	status      models.SaveStatus
	message     string
	lastSavedAt *time.Time
}

// GradebookService keeps open gradebooks in memory, applies edits through the engine and
// persists them through a debounced autosave.
type GradebookService struct {
	repo      gradebookRepository
	cache     summaryCache
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       GradebookServiceConfig
	autosave  *jobs.Debouncer

	mu         sync.Mutex
	workspaces map[string]*workspace
}

// NewGradebookService constructs a GradebookService. cache and metrics may be nil.
func NewGradebookService(repo gradebookRepository, cache summaryCache, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg GradebookServiceConfig) *GradebookService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if len(cfg.Defaults.Terms) == 0 {
		cfg.Defaults = gradebook.DefaultDefaults()
	}
	if cfg.SummaryCacheTTL <= 0 {
		cfg.SummaryCacheTTL = 10 * time.Minute
	}
	s := &GradebookService{
		repo:       repo,
		cache:      cache,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
		cfg:        cfg,
		workspaces: make(map[string]*workspace),
	}
	s.autosave = jobs.NewDebouncer("gradebook-autosave", s.flush, jobs.DebouncerConfig{
		Delay:   cfg.AutosaveDelay,
		Timeout: cfg.SaveTimeout,
		Logger:  logger,
	})
	return s
}

// Create builds a new gradebook from req merged with the defaults and stores it.
func (s *GradebookService) Create(ctx context.Context, req dto.CreateGradebookRequest) (*dto.GradebookView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid gradebook payload")
	}
	initial := req.State()
	if initial.ID == "" {
		initial.ID = s.cfg.NewID()
	}
	initial.UpdatedAt = s.cfg.Now().UTC()
	st, err := gradebook.Build(initial, s.cfg.Defaults)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, st); err != nil {
		return nil, err
	}

	ws := s.newWorkspace(st)
	now := s.cfg.Now().UTC()
	ws.status = models.SaveStatusSaved
	ws.lastSavedAt = &now

	s.mu.Lock()
	s.workspaces[st.ID] = ws
	open := len(s.workspaces)
	s.mu.Unlock()
	s.metrics.SetOpenGradebooks(open)
	s.logger.Info("gradebook created", zap.String("gradebook_id", st.ID), zap.Int("students", len(st.Students)), zap.Int("columns", len(st.Columns)))

	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.view(), nil
}

// Get returns the current state of a gradebook, loading it when needed.
func (s *GradebookService) Get(ctx context.Context, id string) (*dto.GradebookView, error) {
	ws, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.view(), nil
}

// Snapshot returns the current immutable state of a gradebook.
func (s *GradebookService) Snapshot(ctx context.Context, id string) (*models.GradebookState, error) {
	ws, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.session.State(), nil
}

// Summary returns the derived averages, served from cache when the version is unchanged.
func (s *GradebookService) Summary(ctx context.Context, id string) (*models.GradebookSummary, error) {
	ws, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	ws.mu.Lock()
	key := summaryKey(id, ws.epoch, ws.session.Version())
	ws.mu.Unlock()

	if s.cache != nil {
		var cached models.GradebookSummary
		if s.cache.Get(ctx, key, &cached) {
			return &cached, nil
		}
	}

	ws.mu.Lock()
	summary := ws.session.Summary()
	key = summaryKey(id, ws.epoch, summary.Version)
	ws.mu.Unlock()

	if s.cache != nil {
		s.cache.Set(ctx, key, summary, s.cfg.SummaryCacheTTL)
	}
	return &summary, nil
}

// SetScore writes a cell. Qualitative gradebooks store the value as a level code.
func (s *GradebookService) SetScore(ctx context.Context, id string, req dto.SetScoreRequest) (*dto.MutationResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		if sess.State().Settings.Mode == models.GradingModeQualitative {
			return "", sess.SetQualitativeLevel(req.StudentID, req.ColumnID, req.Value)
		}
		return "", sess.SetScore(req.StudentID, req.ColumnID, req.Value)
	})
}

// ClearScore removes the value of a cell.
func (s *GradebookService) ClearScore(ctx context.Context, id string, req dto.CellRequest) (*dto.MutationResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		return "", sess.ClearScore(req.StudentID, req.ColumnID)
	})
}

// SetComment writes the comment of a cell.
func (s *GradebookService) SetComment(ctx context.Context, id string, req dto.SetCommentRequest) (*dto.MutationResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		return "", sess.SetComment(req.StudentID, req.ColumnID, req.Text)
	})
}

// AddColumn appends a column to a term.
func (s *GradebookService) AddColumn(ctx context.Context, id string, req dto.AddColumnRequest) (*dto.MutationResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		return sess.AddColumn(req.TermID, req.Title, req.Weight)
	})
}

// UpdateColumn patches a column.
func (s *GradebookService) UpdateColumn(ctx context.Context, id, columnID string, req dto.UpdateColumnRequest) (*dto.MutationResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	patch := gradebook.ColumnPatch{
		Title:            req.Title,
		Weight:           req.Weight,
		Locked:           req.Locked,
		MaxPoints:        req.MaxPoints,
		MinRequired:      req.MinRequired,
		RecoveryFor:      req.RecoveryFor,
		CategoryID:       req.CategoryID,
		ClearMaxPoints:   req.ClearMaxPoints,
		ClearMinRequired: req.ClearMinRequired,
	}
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		return "", sess.UpdateColumn(columnID, patch)
	})
}

// DuplicateColumn copies a column without its scores.
func (s *GradebookService) DuplicateColumn(ctx context.Context, id, columnID string) (*dto.MutationResult, error) {
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		return sess.DuplicateColumn(columnID)
	})
}

// MoveColumn shifts a column left or right within its term.
func (s *GradebookService) MoveColumn(ctx context.Context, id, columnID string, req dto.MoveColumnRequest) (*dto.MutationResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	direction := 1
	if req.Direction == "left" {
		direction = -1
	}
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		return "", sess.MoveColumn(columnID, direction)
	})
}

// RemoveColumn deletes a column and every value stored under it.
func (s *GradebookService) RemoveColumn(ctx context.Context, id, columnID string) (*dto.MutationResult, error) {
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		return "", sess.RemoveColumn(columnID)
	})
}

// AddStudent appends a student.
func (s *GradebookService) AddStudent(ctx context.Context, id string, req dto.StudentRequest) (*dto.MutationResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		return sess.AddStudent(req.Name)
	})
}

// RenameStudent changes a student's name.
func (s *GradebookService) RenameStudent(ctx context.Context, id, studentID string, req dto.StudentRequest) (*dto.MutationResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		return "", sess.RenameStudent(studentID, req.Name)
	})
}

// RemoveStudent deletes a student and their values.
func (s *GradebookService) RemoveStudent(ctx context.Context, id, studentID string) (*dto.MutationResult, error) {
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		return "", sess.RemoveStudent(studentID)
	})
}

// AddCategory creates a category in a term.
func (s *GradebookService) AddCategory(ctx context.Context, id string, req dto.AddCategoryRequest) (*dto.MutationResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		return sess.AddCategory(req.TermID, req.Name, req.Weight)
	})
}

// UpdateCategory patches a category.
func (s *GradebookService) UpdateCategory(ctx context.Context, id, categoryID string, req dto.UpdateCategoryRequest) (*dto.MutationResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		return "", sess.UpdateCategory(req.TermID, categoryID, req.Name, req.Weight)
	})
}

// RemoveCategory deletes a category; its columns become uncategorised.
func (s *GradebookService) RemoveCategory(ctx context.Context, id string, term models.TermID, categoryID string) (*dto.MutationResult, error) {
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		return "", sess.RemoveCategory(term, categoryID)
	})
}

// SetTermWeight stores a term weight as given.
func (s *GradebookService) SetTermWeight(ctx context.Context, id string, term models.TermID, req dto.TermWeightRequest) (*dto.MutationResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		return "", sess.SetTermWeight(term, req.Weight)
	})
}

// SetCurrentTerm selects the visible term.
func (s *GradebookService) SetCurrentTerm(ctx context.Context, id string, req dto.CurrentTermRequest) (*dto.MutationResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		return "", sess.SetCurrentTerm(req.TermID)
	})
}

// SetDropLowest toggles dropping the lowest score per category.
func (s *GradebookService) SetDropLowest(ctx context.Context, id string, req dto.DropLowestRequest) (*dto.MutationResult, error) {
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		return "", sess.SetDropLowest(req.Enabled)
	})
}

// Undo restores the previous state.
func (s *GradebookService) Undo(ctx context.Context, id string) (*dto.MutationResult, error) {
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		return "", sess.Undo()
	})
}

// Redo re-applies the last undone change.
func (s *GradebookService) Redo(ctx context.Context, id string) (*dto.MutationResult, error) {
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		return "", sess.Redo()
	})
}

// Transition applies a workflow action.
func (s *GradebookService) Transition(ctx context.Context, id string, req dto.TransitionRequest) (*dto.MutationResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	var transitionErr error
	result, err := s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		transitionErr = sess.Transition(gradebook.Action(req.Action))
		return "", transitionErr == nil
	})
	if err != nil {
		return nil, err
	}
	if transitionErr != nil {
		return nil, transitionErr
	}
	return result, nil
}

// SetLocked toggles the hard lock.
func (s *GradebookService) SetLocked(ctx context.Context, id string, req dto.LockRequest) (*dto.MutationResult, error) {
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		changed := sess.State().Locked != req.Locked
		sess.SetLocked(req.Locked)
		return "", changed
	})
}

// SetEditWindow replaces the edit window.
func (s *GradebookService) SetEditWindow(ctx context.Context, id string, req dto.EditWindowRequest) (*dto.MutationResult, error) {
	if req.Start != nil && req.End != nil && req.End.Before(*req.Start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "edit window end precedes start")
	}
	return s.mutate(ctx, id, func(sess *gradebook.Session) (string, bool) {
		sess.SetEditWindow(req.Start, req.End)
		return "", true
	})
}

// ImportText imports pasted tabular text.
func (s *GradebookService) ImportText(ctx context.Context, id string, req dto.ImportTextRequest) (*dto.ImportResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	return s.importTables(ctx, id, "text", []gradebook.Table{gradebook.ParseText(req.Text)})
}

// ImportWorkbook imports every sheet of an xlsx workbook.
func (s *GradebookService) ImportWorkbook(ctx context.Context, id string, r io.Reader) (*dto.ImportResult, error) {
	tables, err := gradebook.ReadWorkbook(r)
	if err != nil {
		s.metrics.RecordImport("xlsx", 0, err)
		return nil, err
	}
	return s.importTables(ctx, id, "xlsx", tables)
}

func (s *GradebookService) importTables(ctx context.Context, id, source string, tables []gradebook.Table) (*dto.ImportResult, error) {
	ws, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	report, err := ws.session.Import(tables)
	s.metrics.RecordImport(source, report.ScoresWritten, err)
	if err != nil {
		s.logger.Info("gradebook import rejected", zap.String("gradebook_id", id), zap.String("source", source), zap.Error(err))
		return nil, err
	}
	s.logger.Info("gradebook import applied",
		zap.String("gradebook_id", id),
		zap.String("source", source),
		zap.Bool("applied", report.Applied),
		zap.Int("students_created", report.StudentsCreated),
		zap.Int("columns_created", len(report.ColumnsCreated)),
		zap.Int("scores_written", report.ScoresWritten),
	)
	return &dto.ImportResult{Report: report, Version: ws.session.Version(), Save: ws.saveStatus()}, nil
}

// Save flushes pending changes immediately and cancels the autosave timer.
func (s *GradebookService) Save(ctx context.Context, id string) (*dto.SaveStatus, error) {
	ws, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	// a failed save is reported through the returned status, never as an error
	if err := s.autosave.Flush(ctx, id); err != nil {
		s.logger.Warn("manual save failed", zap.String("gradebook_id", id),
			zap.String("request_id", requestid.FromContext(ctx)), zap.Error(err))
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	status := ws.saveStatus()
	return &status, nil
}

// SaveStatus reports the autosave state of an open gradebook.
func (s *GradebookService) SaveStatus(ctx context.Context, id string) (*dto.SaveStatus, error) {
	ws, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	status := ws.saveStatus()
	return &status, nil
}

// Shutdown flushes every pending autosave.
func (s *GradebookService) Shutdown(ctx context.Context) {
	s.autosave.Stop(ctx)
}

type mutation func(sess *gradebook.Session) (string, bool)

func (s *GradebookService) mutate(ctx context.Context, id string, fn mutation) (*dto.MutationResult, error) {
	ws, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	createdID, applied := fn(ws.session)
	return &dto.MutationResult{
		Applied:  applied,
		ID:       createdID,
		Version:  ws.session.Version(),
		Editable: ws.session.CanEdit(),
		Save:     ws.saveStatus(),
	}, nil
}

func (s *GradebookService) validate(req interface{}) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	return nil
}

// open returns the workspace of id, loading the stored state on first access.
func (s *GradebookService) open(ctx context.Context, id string) (*workspace, error) {
	if id == "" {
		return nil, appErrors.ErrGradebookNotFound
	}
	s.mu.Lock()
	ws, ok := s.workspaces[id]
	s.mu.Unlock()
	if ok {
		return ws, nil
	}

	stored, err := s.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	st, err := gradebook.Build(*stored, s.cfg.Defaults)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("stored gradebook %s is invalid", id))
	}

	s.mu.Lock()
	if existing, ok := s.workspaces[id]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	ws = s.newWorkspace(st)
	s.workspaces[id] = ws
	open := len(s.workspaces)
	s.mu.Unlock()
	s.metrics.SetOpenGradebooks(open)
	s.logger.Debug("gradebook loaded", zap.String("gradebook_id", id))
	return ws, nil
}

func (s *GradebookService) newWorkspace(st *models.GradebookState) *workspace {
	ws := &workspace{epoch: uuid.NewString(), status: models.SaveStatusIdle}
	id := st.ID
	ws.session = gradebook.NewSession(st,
		gradebook.WithHistoryLimit(s.cfg.Defaults.HistoryLimit),
		gradebook.WithClock(s.cfg.Now),
		gradebook.WithLogger(s.logger),
		// runs with ws.mu held
		gradebook.WithChangeHook(func(uint64) {
			ws.dirty = true
			ws.status = models.SaveStatusPending
			ws.message = ""
			s.autosave.Touch(id)
		}),
	)
	return ws
}

// flush persists the current state of a gradebook if it changed since the last save. The
// state is immutable, so it is written without holding the workspace lock.
func (s *GradebookService) flush(ctx context.Context, id string) error {
	s.mu.Lock()
	ws, ok := s.workspaces[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	ws.mu.Lock()
	if !ws.dirty {
		ws.mu.Unlock()
		return nil
	}
	st := ws.session.State()
	version := ws.session.Version()
	ws.status = models.SaveStatusSaving
	ws.mu.Unlock()

	start := time.Now()
	err := s.repo.Save(ctx, st)
	s.metrics.ObserveSave(err, time.Since(start))

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if err != nil {
		ws.status = models.SaveStatusError
		ws.message = saveFailedMessage
		s.logger.Warn("gradebook save failed", zap.String("gradebook_id", id), zap.Error(err))
		return err
	}
	now := s.cfg.Now().UTC()
	ws.lastSavedAt = &now
	if ws.session.Version() != version {
		// edited while saving; the newer change has its own timer
		ws.status = models.SaveStatusPending
		return nil
	}
	ws.dirty = false
	ws.status = models.SaveStatusSaved
	ws.message = ""
	if s.cache != nil {
		s.cache.Invalidate(ctx, summaryKeyPrefix(id, ws.epoch)+"*")
		s.cache.Set(ctx, summaryKey(id, ws.epoch, version), ws.session.Summary(), s.cfg.SummaryCacheTTL)
	}
	return nil
}

// view must be called with ws.mu held.
func (ws *workspace) view() *dto.GradebookView {
	h := ws.session.History()
	return &dto.GradebookView{
		State:    ws.session.State(),
		Version:  ws.session.Version(),
		Editable: ws.session.CanEdit(),
		CanUndo:  h.UndoDepth() > 0,
		CanRedo:  h.RedoDepth() > 0,
		Save:     ws.saveStatus(),
	}
}

// saveStatus must be called with ws.mu held.
func (ws *workspace) saveStatus() dto.SaveStatus {
	status := dto.SaveStatus{Status: ws.status, Message: ws.message}
	if ws.lastSavedAt != nil {
		at := *ws.lastSavedAt
		status.LastSavedAt = &at
	}
	return status
}

func summaryKeyPrefix(id, epoch string) string {
	return fmt.Sprintf("gradebook:summary:%s:%s:", id, epoch)
}

func summaryKey(id, epoch string, version uint64) string {
	return fmt.Sprintf("%s%d", summaryKeyPrefix(id, epoch), version)
}
