package engineindexer

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/steemit/enginemind/internal/db"
	"github.com/steemit/enginemind/internal/engine"
	"github.com/steemit/enginemind/internal/models"
	"github.com/steemit/enginemind/internal/tokens"
	"github.com/steemit/enginemind/pkg/logging"
)

// PromotePostIndexer applies token transfers that promote a post: a
// transfer to the token's promoted post account whose memo names the post.
type PromotePostIndexer struct {
	registry *tokens.Registry
	logger   *zap.Logger
}

// NewPromotePostIndexer creates a new promote post indexer
func NewPromotePostIndexer(registry *tokens.Registry) *PromotePostIndexer {
	return &PromotePostIndexer{
		registry: registry,
		logger:   logging.GetLogger().With(zap.String("component", "promote-post")),
	}
}

// Eligible reports whether a transfer payload is a promotion attempt for a
// configured token: a string memo naming an account, a known symbol, and
// the token's promoted post account as receiver.
func (pi *PromotePostIndexer) Eligible(payload gjson.Result) bool {
	memo := payload.Get("memo")
	if memo.Type != gjson.String || len(memo.String()) < 3 || !strings.Contains(memo.String(), "@") {
		return false
	}
	symbol := payload.Get("symbol")
	if symbol.Type != gjson.String {
		return false
	}
	tokenConfig := pi.registry.BySymbol(symbol.String())
	if tokenConfig == nil || tokenConfig.PromotedPostAccount == "" {
		return false
	}
	return payload.Get("to").String() == tokenConfig.PromotedPostAccount
}

// Process burns a transfer into a post's promoted total
func (pi *PromotePostIndexer) Process(ctx context.Context, tx *gorm.DB, op *engine.Transaction, payload gjson.Result) error {
	symbol := payload.Get("symbol").String()
	quantity := payload.Get("quantity").Float()
	if quantity <= 0 {
		return nil
	}

	authorperm, ok := parseMemoAuthorperm(payload.Get("memo").String())
	if !ok {
		return nil
	}

	postRepo := db.NewPostRepository(db.NewRepository(tx))
	post, err := postRepo.GetTokenPost(ctx, symbol, authorperm)
	if err != nil {
		return fmt.Errorf("failed to load post %s/%s: %w", symbol, authorperm, err)
	}
	if post == nil || !post.MainPost {
		return nil
	}

	err = postRepo.UpdateColumns(ctx, symbol, authorperm, map[string]interface{}{
		"promoted": post.Promoted + quantity,
	})
	if err != nil {
		return fmt.Errorf("failed to promote %s/%s: %w", symbol, authorperm, err)
	}

	pi.logger.Info("Post promoted",
		zap.String("token", symbol),
		zap.String("authorperm", authorperm),
		zap.Float64("quantity", quantity))
	return nil
}

// parseMemoAuthorperm extracts "author/permlink" from a memo of the form
// "...@author/permlink". Links with a leading URL prefix are accepted.
func parseMemoAuthorperm(memo string) (string, bool) {
	idx := strings.LastIndex(memo, "@")
	if idx < 0 || idx == len(memo)-1 {
		return "", false
	}
	candidate := strings.TrimSpace(memo[idx+1:])
	if _, _, err := models.ResolveAuthorperm(candidate); err != nil {
		return "", false
	}
	return candidate, true
}
