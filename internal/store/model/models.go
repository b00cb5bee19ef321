package model

import (
	"time"

	"gorm.io/datatypes"
)

// ModelArtifactModel maps to 'model_artifacts'. Blob is opaque to the store;
// Kind tells the reader how to decode it.
type ModelArtifactModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	Symbol        string         `gorm:"column:symbol;index:idx_model_symbol_interval,priority:1"`
	Interval      string         `gorm:"column:interval;index:idx_model_symbol_interval,priority:2"`
	Kind          string         `gorm:"column:kind"`
	ParamsJSON    datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	Blob          []byte         `gorm:"column:blob"`
	Samples       int            `gorm:"column:samples"`
	TrainMillis   int64          `gorm:"column:train_ms"`
	WindowStart   int64          `gorm:"column:window_start"`
	WindowEnd     int64          `gorm:"column:window_end"`
	TrainedAtUnix int64          `gorm:"column:trained_at;index"`

	TrainedAt time.Time `gorm:"-"`
}

func (ModelArtifactModel) TableName() string { return "model_artifacts" }

// fillTimes derives TrainedAt from the stored unix millis.
func (m *ModelArtifactModel) fillTimes() {
	if m.TrainedAtUnix > 0 {
		m.TrainedAt = time.UnixMilli(m.TrainedAtUnix).UTC()
	}
}

// Normalize syncs TrainedAt and TrainedAtUnix in whichever direction is set.
func (m *ModelArtifactModel) Normalize() {
	if m.TrainedAtUnix == 0 && !m.TrainedAt.IsZero() {
		m.TrainedAtUnix = m.TrainedAt.UnixMilli()
	}
	m.fillTimes()
}
