package indexer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/steemit/enginemind/internal/chain"
	"github.com/steemit/enginemind/internal/db"
	"github.com/steemit/enginemind/internal/models"
	"github.com/steemit/enginemind/pkg/logging"
)

const (
	maxTitleLength = 256
	maxTagsLength  = 256
	maxDescLength  = 300
)

// CommentIndexer applies comment and delete_comment ops to the content
// graph.
type CommentIndexer struct {
	reconciler *Reconciler
	logger     *zap.Logger
}

// NewCommentIndexer creates a new comment indexer
func NewCommentIndexer(reconciler *Reconciler) *CommentIndexer {
	return &CommentIndexer{
		reconciler: reconciler,
		logger:     logging.GetLogger().With(zap.String("component", "comment-indexer")),
	}
}

// Process applies one comment op inside the block's transaction. The same
// path serves first sight and edit; replay converges on the same rows.
func (ci *CommentIndexer) Process(ctx context.Context, tx *gorm.DB, op *chain.CommentOperation, timestamp time.Time) error {
	base := db.NewRepository(tx)
	postRepo := db.NewPostRepository(base)
	metaRepo := db.NewPostMetadataRepository(base)
	accountRepo := db.NewAccountRepository(base)

	authorperm := models.ConstructAuthorperm(op.Author, op.Permlink)
	mainPost := op.ParentAuthor == "" || op.ParentPermlink == ""

	meta, err := metaRepo.Get(ctx, authorperm)
	if err != nil {
		return fmt.Errorf("failed to load metadata for %s: %w", authorperm, err)
	}
	isNew := meta == nil

	jsonMetadata, parsedMetadata := normalizeJSONMetadata(op.JSONMetadata, authorperm, ci.logger)
	tags := buildTags(mainPost, op.ParentPermlink, parsedMetadata)

	var storedBody *string
	if meta != nil {
		storedBody = &meta.Body
	}
	body := ci.reconciler.Resolve(ctx, op.Author, op.Permlink, op.Body, storedBody)
	desc := truncate(body, maxDescLength)

	title := op.Title
	if title == "" && meta != nil {
		// Edits may omit the title; keep what we have.
		title = meta.Title
	}

	var parentAuthorperm *string
	var parentMeta *models.PostMetadata
	if !mainPost {
		pap := models.ConstructAuthorperm(op.ParentAuthor, op.ParentPermlink)
		parentAuthorperm = &pap
		parentMeta, err = metaRepo.Get(ctx, pap)
		if err != nil {
			return fmt.Errorf("failed to load parent metadata for %s: %w", pap, err)
		}
	}

	newMeta := &models.PostMetadata{
		Authorperm:       authorperm,
		Body:             body,
		JSONMetadata:     jsonMetadata,
		ParentAuthorperm: parentAuthorperm,
		Title:            truncate(title, maxTitleLength),
		Tags:             truncate(tags, maxTagsLength),
	}
	if meta != nil {
		newMeta.Children = meta.Children
	}
	switch {
	case mainPost:
		depth := int16(0)
		url := "/" + op.ParentPermlink + "/" + authorperm
		newMeta.Depth = &depth
		newMeta.URL = &url
	case parentMeta != nil:
		if parentMeta.Depth != nil {
			depth := *parentMeta.Depth + 1
			newMeta.Depth = &depth
		}
		newMeta.URL = parentMeta.URL
	case meta != nil:
		// Parent unknown; keep whatever thread position we had.
		newMeta.Depth = meta.Depth
		newMeta.URL = meta.URL
	}
	if err := metaRepo.Upsert(ctx, newMeta); err != nil {
		return fmt.Errorf("failed to upsert metadata for %s: %w", authorperm, err)
	}

	// Reply counters move only when the reply is first seen, so replaying
	// a block or editing a comment never double counts. The parent's token
	// rows bump even when its metadata was never stored.
	if isNew && parentAuthorperm != nil {
		if parentMeta != nil {
			if err := metaRepo.IncrementChildren(ctx, *parentAuthorperm); err != nil {
				return fmt.Errorf("failed to bump metadata children for %s: %w", *parentAuthorperm, err)
			}
		}
		if err := postRepo.IncrementChildren(ctx, *parentAuthorperm); err != nil {
			return fmt.Errorf("failed to bump post children for %s: %w", *parentAuthorperm, err)
		}
	}

	existing, err := postRepo.GetPosts(ctx, authorperm)
	if err != nil {
		return fmt.Errorf("failed to load posts for %s: %w", authorperm, err)
	}

	if len(existing) > 0 {
		updates := map[string]interface{}{
			"author":          op.Author,
			"title":           newMeta.Title,
			"desc":            desc,
			"tags":            newMeta.Tags,
			"parent_author":   op.ParentAuthor,
			"parent_permlink": op.ParentPermlink,
			"main_post":       mainPost,
		}
		if err := postRepo.UpdateAllTokens(ctx, authorperm, updates); err != nil {
			return fmt.Errorf("failed to update posts for %s: %w", authorperm, err)
		}
		for _, post := range existing {
			if err := ci.stampAccount(ctx, accountRepo, op.Author, post.Token, mainPost, timestamp); err != nil {
				return err
			}
		}
		return nil
	}

	// A new reply joins every token that tracks its parent. Root posts get
	// their token rows from the sidechain's comments contract instead.
	if isNew && parentAuthorperm != nil {
		parentPosts, err := postRepo.GetPosts(ctx, *parentAuthorperm)
		if err != nil {
			return fmt.Errorf("failed to load parent posts for %s: %w", *parentAuthorperm, err)
		}
		for _, parent := range parentPosts {
			post := &models.Post{
				Authorperm:     authorperm,
				Token:          parent.Token,
				Author:         op.Author,
				Title:          newMeta.Title,
				Desc:           desc,
				Tags:           newMeta.Tags,
				ParentAuthor:   op.ParentAuthor,
				ParentPermlink: op.ParentPermlink,
				MainPost:       false,
				Created:        timestamp,
			}
			if err := postRepo.Upsert(ctx, post); err != nil {
				return fmt.Errorf("failed to create reply post for %s: %w", authorperm, err)
			}
			if err := ci.stampAccount(ctx, accountRepo, op.Author, parent.Token, false, timestamp); err != nil {
				return err
			}
		}
	}

	return nil
}

func (ci *CommentIndexer) stampAccount(ctx context.Context, accountRepo *db.AccountRepository, name, token string, mainPost bool, timestamp time.Time) error {
	column := "last_post"
	if mainPost {
		column = "last_root_post"
	}
	err := accountRepo.UpsertPartial(ctx, name, token, map[string]interface{}{column: timestamp})
	if err != nil {
		return fmt.Errorf("failed to stamp account %s: %w", name, err)
	}
	return nil
}

// Delete removes content from every token and drops its metadata, votes
// and reblogs.
func (ci *CommentIndexer) Delete(ctx context.Context, tx *gorm.DB, op *chain.DeleteCommentOperation) error {
	base := db.NewRepository(tx)
	authorperm := models.ConstructAuthorperm(op.Author, op.Permlink)

	if err := db.NewPostRepository(base).Delete(ctx, authorperm); err != nil {
		return fmt.Errorf("failed to delete posts for %s: %w", authorperm, err)
	}
	if err := db.NewPostMetadataRepository(base).Delete(ctx, authorperm); err != nil {
		return fmt.Errorf("failed to delete metadata for %s: %w", authorperm, err)
	}
	if err := db.NewVoteRepository(base).DeletePost(ctx, authorperm); err != nil {
		return fmt.Errorf("failed to delete votes for %s: %w", authorperm, err)
	}
	if err := db.NewReblogRepository(base).DeletePost(ctx, authorperm); err != nil {
		return fmt.Errorf("failed to delete reblogs for %s: %w", authorperm, err)
	}
	return nil
}

// normalizeJSONMetadata parses a json_metadata string, unwrapping one level
// of double encoding. Anything that is not a JSON object stores as {}.
func normalizeJSONMetadata(raw, authorperm string, logger *zap.Logger) (string, gjson.Result) {
	empty := gjson.Parse("{}")
	if raw == "" {
		return "{}", empty
	}
	if !gjson.Valid(raw) {
		logger.Debug("Metadata parse error", zap.String("authorperm", authorperm))
		return "{}", empty
	}
	parsed := gjson.Parse(raw)
	if parsed.Type == gjson.String {
		inner := parsed.String()
		if !gjson.Valid(inner) {
			return "{}", empty
		}
		parsed = gjson.Parse(inner)
	}
	if !parsed.IsObject() {
		return "{}", empty
	}
	return parsed.Raw, parsed
}

// buildTags assembles the comma joined tag list: the category first for
// root posts, then the metadata tags, deduplicated in order.
func buildTags(mainPost bool, parentPermlink string, metadata gjson.Result) string {
	seen := make(map[string]bool)
	var parts []string

	if mainPost && parentPermlink != "" && !strings.Contains(parentPermlink, ",") {
		// The node repurposes parent_permlink as the category; it may
		// overlap with the tags.
		seen[parentPermlink] = true
		parts = append(parts, parentPermlink)
	}

	for _, tag := range metadata.Get("tags").Array() {
		if tag.Type != gjson.String {
			continue
		}
		s := tag.String()
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		parts = append(parts, s)
	}

	return strings.Join(parts, ",")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
