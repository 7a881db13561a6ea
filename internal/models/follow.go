package models

// Follow represents a follow relationship between two account names.
type Follow struct {
	Follower  string `gorm:"primaryKey;type:varchar(20);column:follower"`
	Following string `gorm:"primaryKey;type:varchar(20);column:following"`
	State     int16  `gorm:"type:smallint;not null;default:0;column:state"`
}

// TableName specifies the table name for Follow
func (Follow) TableName() string {
	return "follows"
}

// Follow state constants
const (
	FollowStateNone   int16 = 0 // reset / unfollow
	FollowStateBlog   int16 = 1 // blog follow
	FollowStateIgnore int16 = 2 // mute
)
