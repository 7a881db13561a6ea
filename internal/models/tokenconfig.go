package models

// TokenConfig is one configured token (tribe): which reward pool tracks it,
// who issued it, and which account receives promoted-post transfers.
type TokenConfig struct {
	Token               string `gorm:"primaryKey;type:varchar(16);column:token"`
	RewardPoolID        int64  `gorm:"uniqueIndex:token_config_ux1;column:reward_pool_id"`
	Issuer              string `gorm:"type:varchar(16);column:issuer"`
	PromotedPostAccount string `gorm:"type:varchar(16);column:promoted_post_account"`
}

// TableName specifies the table name for TokenConfig
func (TokenConfig) TableName() string {
	return "token_config"
}
