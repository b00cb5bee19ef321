package sqlite

import (
	"context"
	"errors"
	"time"

	"mlbot/internal/store"
	"mlbot/internal/store/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// modelRepo implements store.ModelRepository.
type modelRepo struct {
	db *gorm.DB
}

func NewModelRepo(db *gorm.DB) *modelRepo {
	return &modelRepo{db: db}
}

// Save inserts a new artifact, assigning an id and timestamp when missing.
func (r *modelRepo) Save(ctx context.Context, m *model.ModelArtifactModel) error {
	if m == nil {
		return errors.New("model artifact cannot be nil")
	}
	if len(m.Blob) == 0 {
		return errors.New("model artifact blob is empty")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.TrainedAt.IsZero() && m.TrainedAtUnix == 0 {
		m.TrainedAt = time.Now().UTC()
	}
	m.Normalize()
	return r.db.WithContext(ctx).Create(m).Error
}

// Latest returns the newest artifact for symbol and interval.
func (r *modelRepo) Latest(ctx context.Context, symbol, interval string) (*model.ModelArtifactModel, error) {
	var m model.ModelArtifactModel
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND interval = ?", symbol, interval).
		Order("trained_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Normalize()
	return &m, nil
}

func (r *modelRepo) ListRecent(ctx context.Context, symbol string, limit int) ([]model.ModelArtifactModel, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []model.ModelArtifactModel
	err := r.db.WithContext(ctx).
		Omit("blob").
		Where("symbol = ?", symbol).
		Order("trained_at DESC").
		Limit(limit).
		Find(&out).Error
	for i := range out {
		out[i].Normalize()
	}
	return out, err
}

func (r *modelRepo) Prune(ctx context.Context, symbol string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	keepIDs := r.db.Model(&model.ModelArtifactModel{}).
		Select("id").
		Where("symbol = ?", symbol).
		Order("trained_at DESC").
		Limit(keep)
	res := r.db.WithContext(ctx).
		Where("symbol = ? AND id NOT IN (?)", symbol, keepIDs).
		Delete(&model.ModelArtifactModel{})
	return res.RowsAffected, res.Error
}
