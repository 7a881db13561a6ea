package models

import (
	"time"
)

// Account holds per-token activity stats for an account. Rows are merged
// with partial-update upserts: a writer that only knows last_post must not
// clobber last_root_post.
type Account struct {
	Name                  string     `gorm:"primaryKey;type:varchar(16);column:name"`
	Symbol                string     `gorm:"primaryKey;type:varchar(16);column:symbol"`
	LastRootPost          *time.Time `gorm:"column:last_root_post"`
	LastPost              *time.Time `gorm:"column:last_post"`
	LastFollowRefreshTime *time.Time `gorm:"column:last_follow_refresh_time"`
}

// TableName specifies the table name for Account
func (Account) TableName() string {
	return "accounts"
}
