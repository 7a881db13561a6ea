package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/steemit/enginemind/internal/models"
)

// Score columns a discussion listing may sort on.
var scoreColumns = map[string]bool{
	"score_trend":  true,
	"score_hot":    true,
	"promoted":     true,
	"vote_rshares": true,
}

// FeedRow is a post joined with its position in a feed: the later of its
// creation time and any reblog by a followed account. The aggregate strips
// the column's datetime declaration, so the position scans as the driver's
// raw text.
type FeedRow struct {
	models.Post   `gorm:"embedded"`
	FeedTimestamp string  `gorm:"column:feed_timestamp"`
	RebloggedBy   *string `gorm:"column:reblogged_by"`
}

// PostRepository provides per-token post storage and the listing queries
// behind the discussion endpoints.
type PostRepository struct {
	*Repository
}

// NewPostRepository creates a new post repository
func NewPostRepository(repo *Repository) *PostRepository {
	return &PostRepository{Repository: repo}
}

// GetPosts retrieves every token row for an authorperm
func (r *PostRepository) GetPosts(ctx context.Context, authorperm string) ([]*models.Post, error) {
	var posts []*models.Post
	if err := r.db.WithContext(ctx).
		Where("authorperm = ?", authorperm).
		Order("token").
		Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

// GetTokenPost retrieves one post row, or nil when the token does not track it
func (r *PostRepository) GetTokenPost(ctx context.Context, token, authorperm string) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).
		Where("token = ? AND authorperm = ?", token, authorperm).
		First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &post, nil
}

// Upsert creates or replaces a post row
func (r *PostRepository) Upsert(ctx context.Context, post *models.Post) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "authorperm"}, {Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"author", "title", "desc", "tags", "parent_author", "parent_permlink",
			"main_post", "children", "decline_payout", "app", "created",
			"cashout_time", "last_payout", "vote_rshares",
			"score_trend", "score_hot", "promoted",
		}),
	}).Create(post).Error
}

// UpdateColumns applies a partial update to one token row
func (r *PostRepository) UpdateColumns(ctx context.Context, token, authorperm string, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.Post{}).
		Where("token = ? AND authorperm = ?", token, authorperm).
		Updates(updates).Error
}

// UpdateAllTokens applies a partial update to every token row of an authorperm
func (r *PostRepository) UpdateAllTokens(ctx context.Context, authorperm string, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.Post{}).
		Where("authorperm = ?", authorperm).
		Updates(updates).Error
}

// IncrementChildren bumps the reply counter on every token row of a parent
func (r *PostRepository) IncrementChildren(ctx context.Context, authorperm string) error {
	return r.db.WithContext(ctx).Model(&models.Post{}).
		Where("authorperm = ?", authorperm).
		UpdateColumn("children", gorm.Expr("children + 1")).Error
}

// Delete removes an authorperm from every token
func (r *PostRepository) Delete(ctx context.Context, authorperm string) error {
	return r.db.WithContext(ctx).
		Where("authorperm = ?", authorperm).
		Delete(&models.Post{}).Error
}

// tagFilter matches a tag inside the comma-joined tags column.
func tagFilter(q *gorm.DB, tag string) *gorm.DB {
	if tag == "" {
		return q
	}
	return q.Where("(',' || tags || ',') LIKE ('%,' || ? || ',%')", tag)
}

// DiscussionsByCreated lists root posts newest first. The cursor names the
// last post of the previous page; listing resumes strictly after it.
func (r *PostRepository) DiscussionsByCreated(ctx context.Context, token, tag string, startAuthorperm string, limit int) ([]*models.Post, error) {
	q := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("token = ? AND main_post", token)
	q = tagFilter(q, tag)

	if startAuthorperm != "" {
		boundary, err := r.GetTokenPost(ctx, token, startAuthorperm)
		if err != nil {
			return nil, err
		}
		if boundary == nil {
			return []*models.Post{}, nil
		}
		q = q.Where("created < ? OR (created = ? AND authorperm > ?)",
			boundary.Created, boundary.Created, boundary.Authorperm)
	}

	var posts []*models.Post
	if err := q.Order("created DESC, authorperm ASC").Limit(limit).Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

// DiscussionsByScore lists posts ordered by one of the score columns.
// Promoted listings exclude posts with nothing burned on them.
func (r *PostRepository) DiscussionsByScore(ctx context.Context, token, scoreColumn, tag string, mainOnly bool, startAuthorperm string, limit int) ([]*models.Post, error) {
	if !scoreColumns[scoreColumn] {
		return nil, fmt.Errorf("unknown score column: %q", scoreColumn)
	}

	q := r.db.WithContext(ctx).Model(&models.Post{}).Where("token = ?", token)
	if mainOnly {
		q = q.Where("main_post")
	}
	if scoreColumn == "promoted" {
		q = q.Where("promoted > 0")
	}
	q = tagFilter(q, tag)

	if startAuthorperm != "" {
		boundary, err := r.GetTokenPost(ctx, token, startAuthorperm)
		if err != nil {
			return nil, err
		}
		if boundary == nil {
			return []*models.Post{}, nil
		}
		score := boundaryScore(boundary, scoreColumn)
		q = q.Where(
			fmt.Sprintf("%s < ? OR (%s = ? AND authorperm > ?)", scoreColumn, scoreColumn),
			score, score, boundary.Authorperm)
	}

	var posts []*models.Post
	if err := q.Order(scoreColumn + " DESC, authorperm ASC").Limit(limit).Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

func boundaryScore(post *models.Post, column string) float64 {
	switch column {
	case "score_trend":
		return post.ScoreTrend
	case "score_hot":
		return post.ScoreHot
	case "promoted":
		return post.Promoted
	default:
		return post.VoteRshares
	}
}

// FeedDiscussions lists root posts authored or reblogged by any of the given
// accounts, ordered by feed timestamp. A post reblogged by several accounts
// appears once, at its latest feed timestamp.
func (r *PostRepository) FeedDiscussions(ctx context.Context, token string, accounts []string, includeReblogs bool, startAuthorperm string, limit int) ([]*FeedRow, error) {
	if len(accounts) == 0 {
		return []*FeedRow{}, nil
	}

	sourceSQL := `
		SELECT authorperm, created AS ts, NULL AS reblogged_by
		FROM posts
		WHERE token = ? AND main_post AND author IN ?`
	sourceArgs := []interface{}{token, accounts}
	if includeReblogs {
		sourceSQL += `
		UNION ALL
		SELECT authorperm, timestamp AS ts, account AS reblogged_by
		FROM reblogs
		WHERE account IN ?`
		sourceArgs = append(sourceArgs, accounts)
	}

	// Placeholders bind in query order: the source set, the outer token
	// filter, the boundary triple when cursored, then the limit.
	args := append(append([]interface{}{}, sourceArgs...), token)

	boundarySQL := ""
	if startAuthorperm != "" {
		boundaryTS, found, err := r.feedBoundary(ctx, sourceSQL, sourceArgs, startAuthorperm)
		if err != nil {
			return nil, err
		}
		if !found {
			return []*FeedRow{}, nil
		}
		boundarySQL = " AND (agg.feed_timestamp < ? OR (agg.feed_timestamp = ? AND p.authorperm > ?))"
		args = append(args, boundaryTS, boundaryTS, startAuthorperm)
	}

	query := `
		SELECT p.*, agg.feed_timestamp AS feed_timestamp, agg.reblogged_by AS reblogged_by
		FROM posts p
		JOIN (
			SELECT s.authorperm AS authorperm,
			       MAX(s.ts) AS feed_timestamp,
			       MIN(s.reblogged_by) AS reblogged_by
			FROM (` + sourceSQL + `
			) s
			GROUP BY s.authorperm
		) agg ON agg.authorperm = p.authorperm
		WHERE p.token = ? AND p.main_post` + boundarySQL + `
		ORDER BY agg.feed_timestamp DESC, p.authorperm ASC
		LIMIT ?`
	args = append(args, limit)

	var rows []*FeedRow
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// feedBoundary resolves the feed timestamp of the cursor post within the
// same source set as the listing. The value stays in the driver's own text
// form and goes straight back into the boundary comparison, so it matches
// the aggregate it is compared against.
func (r *PostRepository) feedBoundary(ctx context.Context, sourceSQL string, sourceArgs []interface{}, authorperm string) (string, bool, error) {
	query := `
		SELECT MAX(s.ts) AS t
		FROM (` + sourceSQL + `
		) s
		WHERE s.authorperm = ?`
	args := append(append([]interface{}{}, sourceArgs...), authorperm)

	var row struct {
		T sql.NullString
	}
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&row).Error; err != nil {
		return "", false, err
	}
	if !row.T.Valid {
		return "", false, nil
	}
	return row.T.String, true, nil
}

// DiscussionsByComments lists an account's replies, newest first
func (r *PostRepository) DiscussionsByComments(ctx context.Context, token, account, startAuthorperm string, limit int) ([]*models.Post, error) {
	q := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("token = ? AND author = ? AND NOT main_post", token, account)
	return r.byCreatedPage(ctx, q, token, startAuthorperm, limit)
}

// DiscussionsByReplies lists replies to an account's content, newest first
func (r *PostRepository) DiscussionsByReplies(ctx context.Context, token, account, startAuthorperm string, limit int) ([]*models.Post, error) {
	q := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("token = ? AND parent_author = ?", token, account)
	return r.byCreatedPage(ctx, q, token, startAuthorperm, limit)
}

func (r *PostRepository) byCreatedPage(ctx context.Context, q *gorm.DB, token, startAuthorperm string, limit int) ([]*models.Post, error) {
	if startAuthorperm != "" {
		boundary, err := r.GetTokenPost(ctx, token, startAuthorperm)
		if err != nil {
			return nil, err
		}
		if boundary == nil {
			return []*models.Post{}, nil
		}
		q = q.Where("created < ? OR (created = ? AND authorperm > ?)",
			boundary.Created, boundary.Created, boundary.Authorperm)
	}
	var posts []*models.Post
	if err := q.Order("created DESC, authorperm ASC").Limit(limit).Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

// ThreadDiscussions lists a root post and all its descendants under one
// token. Descendants share the root's URL, copied down at creation time.
func (r *PostRepository) ThreadDiscussions(ctx context.Context, token, rootAuthorperm string, rootURL *string) ([]*models.Post, error) {
	q := r.db.WithContext(ctx).Model(&models.Post{}).
		Joins("JOIN post_metadata m ON m.authorperm = posts.authorperm").
		Where("posts.token = ?", token)
	if rootURL != nil {
		q = q.Where("posts.authorperm = ? OR m.url = ?", rootAuthorperm, *rootURL)
	} else {
		q = q.Where("posts.authorperm = ?", rootAuthorperm)
	}

	var posts []*models.Post
	if err := q.Order("posts.created ASC, posts.authorperm ASC").Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

// TrendingTag is one entry of a tag ranking.
type TrendingTag struct {
	Name  string  `json:"name"`
	Total float64 `json:"total"`
	Posts int64   `json:"top_posts"`
}

// TrendingTags ranks tags on root posts by accumulated vote rshares.
// Tags are stored comma joined so the split happens here rather than in SQL.
func (r *PostRepository) TrendingTags(ctx context.Context, token string, limit int) ([]*TrendingTag, error) {
	var rows []struct {
		Tags        string
		VoteRshares float64
	}
	err := r.db.WithContext(ctx).Model(&models.Post{}).
		Select("tags, vote_rshares").
		Where("token = ? AND main_post AND tags <> ''", token).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*TrendingTag)
	for _, row := range rows {
		for _, tag := range strings.Split(row.Tags, ",") {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			entry, ok := byName[tag]
			if !ok {
				entry = &TrendingTag{Name: tag}
				byName[tag] = entry
			}
			entry.Total += row.VoteRshares
			entry.Posts++
		}
	}

	tags := make([]*TrendingTag, 0, len(byName))
	for _, entry := range byName {
		tags = append(tags, entry)
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Total != tags[j].Total {
			return tags[i].Total > tags[j].Total
		}
		return tags[i].Name < tags[j].Name
	})
	if limit > 0 && len(tags) > limit {
		tags = tags[:limit]
	}
	return tags, nil
}

// PostMetadataRepository stores the token-agnostic content record
type PostMetadataRepository struct {
	*Repository
}

// NewPostMetadataRepository creates a new post metadata repository
func NewPostMetadataRepository(repo *Repository) *PostMetadataRepository {
	return &PostMetadataRepository{Repository: repo}
}

// Get retrieves the metadata for an authorperm, or nil when unknown
func (r *PostMetadataRepository) Get(ctx context.Context, authorperm string) (*models.PostMetadata, error) {
	var meta models.PostMetadata
	if err := r.db.WithContext(ctx).
		Where("authorperm = ?", authorperm).
		First(&meta).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &meta, nil
}

// Upsert creates or replaces a metadata row
func (r *PostMetadataRepository) Upsert(ctx context.Context, meta *models.PostMetadata) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "authorperm"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"body", "json_metadata", "parent_authorperm", "title", "tags",
			"depth", "url", "children",
		}),
	}).Create(meta).Error
}

// UpdateColumns applies a partial update to a metadata row
func (r *PostMetadataRepository) UpdateColumns(ctx context.Context, authorperm string, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.PostMetadata{}).
		Where("authorperm = ?", authorperm).
		Updates(updates).Error
}

// IncrementChildren bumps the reply counter on a parent's metadata row
func (r *PostMetadataRepository) IncrementChildren(ctx context.Context, authorperm string) error {
	return r.db.WithContext(ctx).Model(&models.PostMetadata{}).
		Where("authorperm = ?", authorperm).
		UpdateColumn("children", gorm.Expr("children + 1")).Error
}

// Delete removes a metadata row
func (r *PostMetadataRepository) Delete(ctx context.Context, authorperm string) error {
	return r.db.WithContext(ctx).
		Where("authorperm = ?", authorperm).
		Delete(&models.PostMetadata{}).Error
}
