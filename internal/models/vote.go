package models

import (
	"time"
)

// Vote is one voter's vote on a post under one token. Re-voting overwrites
// the row in place.
type Vote struct {
	Authorperm string    `gorm:"primaryKey;type:varchar(272);column:authorperm"`
	Voter      string    `gorm:"primaryKey;type:varchar(16);column:voter"`
	Token      string    `gorm:"primaryKey;type:varchar(16);column:token"`
	Percent    int64     `gorm:"not null;default:0;column:percent"`
	Rshares    float64   `gorm:"type:decimal(24,0);not null;default:0;column:rshares"`
	Timestamp  time.Time `gorm:"not null;column:timestamp"`
}

// TableName specifies the table name for Vote
func (Vote) TableName() string {
	return "votes"
}
