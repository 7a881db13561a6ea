package models

import (
	"time"
)

// Checkpoint sources
const (
	SourcePrimary   int16 = 1
	SourceSidechain int16 = 2
)

// Checkpoint records ingestion progress for one source. One row per source,
// written only inside the block transaction it covers.
type Checkpoint struct {
	Source        int16      `gorm:"primaryKey;autoIncrement:false;column:source"`
	LastBlock     int64      `gorm:"not null;default:0;column:last_block"`
	LastTimestamp *time.Time `gorm:"column:last_timestamp"`
}

// TableName specifies the table name for Checkpoint
func (Checkpoint) TableName() string {
	return "checkpoints"
}
