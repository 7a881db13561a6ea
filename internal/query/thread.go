package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/steemit/enginemind/internal/chain"
	"github.com/steemit/enginemind/internal/db"
	"github.com/steemit/enginemind/internal/models"
)

const threadLimit = 1000

// Thread lists a root post and its descendants under one token, with all
// votes attached. When the stored thread is missing or incomplete, or the
// caller forces a refresh, it is rebuilt from the node.
func (e *Engine) Thread(ctx context.Context, token, author, permlink string, refresh bool) ([]*PostView, error) {
	authorperm := models.ConstructAuthorperm(author, permlink)
	postRepo := db.NewPostRepository(e.repo())

	rootMeta, err := db.NewPostMetadataRepository(e.repo()).Get(ctx, authorperm)
	if err != nil {
		return nil, err
	}
	var rootURL *string
	if rootMeta != nil {
		rootURL = rootMeta.URL
	}

	posts, err := postRepo.ThreadDiscussions(ctx, token, authorperm, rootURL)
	if err != nil {
		return nil, err
	}

	if refresh || len(posts) == 0 || rootURL == nil {
		posts, err = e.rebuildThread(ctx, token, author, permlink)
		if err != nil {
			return nil, err
		}
	}

	if len(posts) > threadLimit {
		posts = posts[:threadLimit]
	}

	views := postViews(posts)
	for i, view := range views {
		if err := e.attachVotes(ctx, view, posts[i], "", false); err != nil {
			return nil, err
		}
	}
	return views, nil
}

// rebuildThread walks the thread on the node and repairs the stored
// metadata. Content no token tracks is skipped along with its subtree,
// matching how the write side ignores orphans.
func (e *Engine) rebuildThread(ctx context.Context, token, author, permlink string) ([]*models.Post, error) {
	root, err := e.chain.GetContent(ctx, author, permlink)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch thread root: %w", err)
	}
	if root.Author == "" {
		return []*models.Post{}, nil
	}

	rootAuthorperm := models.ConstructAuthorperm(root.Author, root.Permlink)
	rootURL := "/" + root.Category + "/" + rootAuthorperm

	postRepo := db.NewPostRepository(e.repo())
	metaRepo := db.NewPostMetadataRepository(e.repo())

	stack := []chain.Content{*root}
	for len(stack) > 0 {
		content := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		authorperm := models.ConstructAuthorperm(content.Author, content.Permlink)
		tokenPost, err := postRepo.GetTokenPost(ctx, token, authorperm)
		if err != nil {
			return nil, err
		}
		if tokenPost == nil {
			continue
		}

		replies, err := e.chain.GetContentReplies(ctx, content.Author, content.Permlink)
		if err != nil {
			e.logger.Warn("Failed to fetch replies",
				zap.String("authorperm", authorperm), zap.Error(err))
			replies = nil
		}

		meta := &models.PostMetadata{
			Authorperm:   authorperm,
			Body:         content.Body,
			JSONMetadata: content.JSONMetadata,
			Title:        content.Title,
			Tags:         metadataTags(content.JSONMetadata),
			Children:     int64(len(replies)),
		}
		depth := content.Depth
		meta.Depth = &depth
		url := rootURL
		meta.URL = &url
		if content.ParentAuthor != "" {
			pap := models.ConstructAuthorperm(content.ParentAuthor, content.ParentPermlink)
			meta.ParentAuthorperm = &pap
		}
		if err := metaRepo.Upsert(ctx, meta); err != nil {
			return nil, err
		}

		stack = append(stack, replies...)
	}

	return postRepo.ThreadDiscussions(ctx, token, rootAuthorperm, &rootURL)
}

func metadataTags(jsonMetadata string) string {
	if !gjson.Valid(jsonMetadata) {
		return ""
	}
	var parts []string
	for _, tag := range gjson.Parse(jsonMetadata).Get("tags").Array() {
		if tag.Type == gjson.String && tag.String() != "" {
			parts = append(parts, tag.String())
		}
	}
	return strings.Join(parts, ",")
}
