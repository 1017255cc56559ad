package gradebook

import (
	"context"

	"github.com/noah-isme/sma-gradebook/internal/models"
)

// Persister stores a complete gradebook state. Implementations must not retain or modify st.
type Persister interface {
	Save(ctx context.Context, st *models.GradebookState) error
}
