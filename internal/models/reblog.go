package models

import (
	"time"
)

// Reblog records that an account reblogged a root post. Un-reblogging
// deletes the row.
type Reblog struct {
	Account    string    `gorm:"primaryKey;type:varchar(16);column:account"`
	Authorperm string    `gorm:"primaryKey;type:varchar(272);column:authorperm"`
	Timestamp  time.Time `gorm:"not null;column:timestamp"`
}

// TableName specifies the table name for Reblog
func (Reblog) TableName() string {
	return "reblogs"
}
