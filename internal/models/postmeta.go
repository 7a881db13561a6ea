package models

// PostMetadata is the token-agnostic record for an authorperm: the full
// current body plus thread-position fields. Depth and URL are copied down
// from the parent at creation time; when the parent is unknown they stay
// NULL until a later fetch repairs them.
type PostMetadata struct {
	Authorperm      string  `gorm:"primaryKey;type:varchar(272);column:authorperm"`
	Body            string  `gorm:"type:text;column:body"`
	JSONMetadata    string  `gorm:"type:text;column:json_metadata"`
	ParentAuthorperm *string `gorm:"type:varchar(272);column:parent_authorperm"`
	Title           string  `gorm:"type:varchar(256);column:title"`
	Tags            string  `gorm:"type:varchar(256);column:tags"`
	Depth           *int16  `gorm:"type:smallint;column:depth"`
	URL             *string `gorm:"type:varchar(600);column:url"`
	Children        int64   `gorm:"not null;default:0;column:children"`
}

// TableName specifies the table name for PostMetadata
func (PostMetadata) TableName() string {
	return "post_metadata"
}
