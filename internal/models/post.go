package models

import (
	"time"
)

// Post is the per-token denormalized view of a piece of content. The same
// authorperm may appear under several tokens when several reward pools track
// it; each row carries its own economics.
type Post struct {
	Authorperm    string    `gorm:"primaryKey;type:varchar(272);column:authorperm"`
	Token         string    `gorm:"primaryKey;type:varchar(16);column:token"`
	Author        string    `gorm:"type:varchar(16);index;column:author"`
	Title         string    `gorm:"type:varchar(256);column:title"`
	Desc          string    `gorm:"type:varchar(300);column:desc"`
	Tags          string    `gorm:"type:varchar(256);column:tags"`
	ParentAuthor  string    `gorm:"type:varchar(16);column:parent_author"`
	ParentPermlink string   `gorm:"type:varchar(255);column:parent_permlink"`
	MainPost      bool      `gorm:"not null;default:false;column:main_post"`
	Children      int64     `gorm:"not null;default:0;column:children"`
	DeclinePayout bool      `gorm:"not null;default:false;column:decline_payout"`
	App           string    `gorm:"type:varchar(64);column:app"`
	Created       time.Time `gorm:"column:created"`
	CashoutTime   time.Time `gorm:"column:cashout_time"`
	LastPayout    time.Time `gorm:"column:last_payout"`
	VoteRshares   float64   `gorm:"type:decimal(24,0);not null;default:0;column:vote_rshares"`
	ScoreTrend    float64   `gorm:"not null;default:0;column:score_trend"`
	ScoreHot      float64   `gorm:"not null;default:0;column:score_hot"`
	Promoted      float64   `gorm:"type:decimal(14,3);not null;default:0;column:promoted"`
}

// TableName specifies the table name for Post
func (Post) TableName() string {
	return "posts"
}
