package store

import (
	"context"
	"errors"

	"mlbot/internal/store/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Store is the entry point for database access.
type Store interface {
	// Models returns the trained model repository.
	Models() ModelRepository
	// Close closes the store connection.
	Close() error
}

// ModelRepository keeps serialised predictors per symbol and interval.
type ModelRepository interface {
	Save(ctx context.Context, m *model.ModelArtifactModel) error
	Latest(ctx context.Context, symbol, interval string) (*model.ModelArtifactModel, error)
	ListRecent(ctx context.Context, symbol string, limit int) ([]model.ModelArtifactModel, error)
	// Prune deletes all but the newest keep artifacts of symbol.
	Prune(ctx context.Context, symbol string, keep int) (int64, error)
}
