package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-gradebook/internal/models"
	appErrors "github.com/noah-isme/sma-gradebook/pkg/errors"
)

// GradebookRepository persists each gradebook as one JSON document. Queries are written with
// '?' placeholders and rebound for the driver, so the same code serves PostgreSQL and SQLite.
type GradebookRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewGradebookRepository constructs the repository.
func NewGradebookRepository(db *sqlx.DB) *GradebookRepository {
	return &GradebookRepository{db: db, now: time.Now}
}

const gradebookSchema = `CREATE TABLE IF NOT EXISTS gradebooks (
	id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	version BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL
)`

// EnsureSchema creates the gradebooks table when missing.
func (r *GradebookRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, gradebookSchema); err != nil {
		return fmt.Errorf("create gradebooks table: %w", err)
	}
	return nil
}

// Create inserts a new gradebook. An existing id yields ErrConflict.
func (r *GradebookRepository) Create(ctx context.Context, st *models.GradebookState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode gradebook %s: %w", st.ID, err)
	}
	query := r.db.Rebind(`INSERT INTO gradebooks (id, state, version, updated_at) VALUES (?, ?, 1, ?)
ON CONFLICT (id) DO NOTHING`)
	res, err := r.db.ExecContext(ctx, query, st.ID, string(payload), r.now().UTC())
	if err != nil {
		return fmt.Errorf("insert gradebook %s: %w", st.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("gradebook %s already exists", st.ID))
	}
	return nil
}

// Save writes the full state, creating the row if needed, and bumps the stored version.
func (r *GradebookRepository) Save(ctx context.Context, st *models.GradebookState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode gradebook %s: %w", st.ID, err)
	}
	query := r.db.Rebind(`INSERT INTO gradebooks (id, state, version, updated_at) VALUES (?, ?, 1, ?)
ON CONFLICT (id) DO UPDATE SET state = excluded.state, version = gradebooks.version + 1, updated_at = excluded.updated_at`)
	if _, err := r.db.ExecContext(ctx, query, st.ID, string(payload), r.now().UTC()); err != nil {
		return fmt.Errorf("save gradebook %s: %w", st.ID, err)
	}
	return nil
}

// Load returns the stored state of id.
func (r *GradebookRepository) Load(ctx context.Context, id string) (*models.GradebookState, error) {
	rec, err := r.Record(ctx, id)
	if err != nil {
		return nil, err
	}
	var st models.GradebookState
	if err := json.Unmarshal(rec.State, &st); err != nil {
		return nil, fmt.Errorf("decode gradebook %s: %w", id, err)
	}
	if st.ID == "" {
		st.ID = rec.ID
	}
	return &st, nil
}

// Record returns the raw row of id.
func (r *GradebookRepository) Record(ctx context.Context, id string) (*models.GradebookRecord, error) {
	query := r.db.Rebind(`SELECT id, state, version, updated_at FROM gradebooks WHERE id = ?`)
	var rec models.GradebookRecord
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrGradebookNotFound
		}
		return nil, fmt.Errorf("load gradebook %s: %w", id, err)
	}
	return &rec, nil
}
