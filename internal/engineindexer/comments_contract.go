package engineindexer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/steemit/enginemind/internal/db"
	"github.com/steemit/enginemind/internal/engine"
	"github.com/steemit/enginemind/internal/models"
	"github.com/steemit/enginemind/internal/tokens"
	"github.com/steemit/enginemind/pkg/logging"
)

const (
	maxDescLength = 300

	// Score epoch and decay windows, matching the classic hot/trending
	// ranking curves.
	scoreEpoch     = 1134028003
	trendHalfLife  = 480000.0
	hotHalfLife    = 10000.0
	cashoutWindow  = 7 * 24 * time.Hour
)

// CommentsContractIndexer applies the sidechain comments contract: post
// registration into reward pools and token votes.
type CommentsContractIndexer struct {
	registry *tokens.Registry
	logger   *zap.Logger
}

// NewCommentsContractIndexer creates a new comments contract indexer
func NewCommentsContractIndexer(registry *tokens.Registry) *CommentsContractIndexer {
	return &CommentsContractIndexer{
		registry: registry,
		logger:   logging.GetLogger().With(zap.String("component", "comments-contract")),
	}
}

// Process applies one comments contract transaction
func (ci *CommentsContractIndexer) Process(ctx context.Context, tx *gorm.DB, op *engine.Transaction, timestamp time.Time) error {
	if !gjson.Valid(op.Payload) {
		ci.logger.Warn("Invalid comments payload", zap.String("tx", op.TransactionID))
		return nil
	}
	payload := gjson.Parse(op.Payload)

	switch op.Action {
	case "comment":
		return ci.processComment(ctx, tx, op, payload, timestamp)
	case "vote":
		return ci.processVote(ctx, tx, op, payload, timestamp)
	}
	return nil
}

// processComment registers content under every reward pool the payload
// names. This is where root posts get their per-token rows.
func (ci *CommentsContractIndexer) processComment(ctx context.Context, tx *gorm.DB, op *engine.Transaction, payload gjson.Result, timestamp time.Time) error {
	author := payload.Get("author").String()
	permlink := payload.Get("permlink").String()
	if author == "" || permlink == "" {
		return nil
	}
	if op.Sender != "null" && op.Sender != author {
		// Posts are registered by the null account relay or the author.
		return nil
	}
	authorperm := models.ConstructAuthorperm(author, permlink)

	base := db.NewRepository(tx)
	postRepo := db.NewPostRepository(base)
	meta, err := db.NewPostMetadataRepository(base).Get(ctx, authorperm)
	if err != nil {
		return fmt.Errorf("failed to load metadata for %s: %w", authorperm, err)
	}

	for _, poolID := range payload.Get("rewardPools").Array() {
		tokenConfig := ci.registry.ByRewardPool(poolID.Int())
		if tokenConfig == nil {
			continue
		}

		existing, err := postRepo.GetTokenPost(ctx, tokenConfig.Token, authorperm)
		if err != nil {
			return fmt.Errorf("failed to load post %s/%s: %w", tokenConfig.Token, authorperm, err)
		}
		if existing != nil {
			continue
		}

		post := &models.Post{
			Authorperm:  authorperm,
			Token:       tokenConfig.Token,
			Author:      author,
			MainPost:    true,
			Created:     timestamp,
			CashoutTime: timestamp.Add(cashoutWindow),
			App:         payload.Get("app").String(),
		}
		if meta != nil {
			post.Title = meta.Title
			post.Desc = truncate(meta.Body, maxDescLength)
			post.Tags = meta.Tags
			if meta.ParentAuthorperm != nil {
				parentAuthor, parentPermlink, err := models.ResolveAuthorperm(*meta.ParentAuthorperm)
				if err == nil {
					post.ParentAuthor = parentAuthor
					post.ParentPermlink = parentPermlink
					post.MainPost = false
				}
			}
			post.Children = meta.Children
		}
		if err := postRepo.Upsert(ctx, post); err != nil {
			return fmt.Errorf("failed to create post %s/%s: %w", tokenConfig.Token, authorperm, err)
		}

		err = db.NewAccountRepository(base).UpsertPartial(ctx, author, tokenConfig.Token,
			map[string]interface{}{stampColumn(post.MainPost): timestamp})
		if err != nil {
			return fmt.Errorf("failed to stamp account %s: %w", author, err)
		}
	}

	return nil
}

func stampColumn(mainPost bool) string {
	if mainPost {
		return "last_root_post"
	}
	return "last_post"
}

// processVote applies a token vote. The contract's event log carries the
// resulting rshares per reward pool; the store keeps one row per voter and
// folds the change into the post's totals and scores.
func (ci *CommentsContractIndexer) processVote(ctx context.Context, tx *gorm.DB, op *engine.Transaction, payload gjson.Result, timestamp time.Time) error {
	author := payload.Get("author").String()
	permlink := payload.Get("permlink").String()
	voter := op.Sender
	if author == "" || permlink == "" || voter == "" {
		return nil
	}
	authorperm := models.ConstructAuthorperm(author, permlink)
	percent := payload.Get("weight").Int()

	if !gjson.Valid(op.Logs) {
		return nil
	}

	base := db.NewRepository(tx)
	postRepo := db.NewPostRepository(base)
	voteRepo := db.NewVoteRepository(base)

	for _, event := range gjson.Parse(op.Logs).Get("events").Array() {
		name := event.Get("event").String()
		if name != "newVote" && name != "updateVote" {
			continue
		}
		tokenConfig := ci.registry.ByRewardPool(event.Get("data.rewardPoolId").Int())
		if tokenConfig == nil {
			continue
		}
		rshares := event.Get("data.rshares").Float()

		post, err := postRepo.GetTokenPost(ctx, tokenConfig.Token, authorperm)
		if err != nil {
			return fmt.Errorf("failed to load post %s/%s: %w", tokenConfig.Token, authorperm, err)
		}
		if post == nil {
			continue
		}

		previous, err := voteRepo.Get(ctx, tokenConfig.Token, authorperm, voter)
		if err != nil {
			return fmt.Errorf("failed to load vote: %w", err)
		}
		var previousRshares float64
		if previous != nil {
			previousRshares = previous.Rshares
		}

		err = voteRepo.Upsert(ctx, &models.Vote{
			Authorperm: authorperm,
			Voter:      voter,
			Token:      tokenConfig.Token,
			Percent:    percent,
			Rshares:    rshares,
			Timestamp:  timestamp,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert vote: %w", err)
		}

		total := post.VoteRshares + rshares - previousRshares
		err = postRepo.UpdateColumns(ctx, tokenConfig.Token, authorperm, map[string]interface{}{
			"vote_rshares": total,
			"score_trend":  score(total, post.Created, trendHalfLife),
			"score_hot":    score(total, post.Created, hotHalfLife),
		})
		if err != nil {
			return fmt.Errorf("failed to update post totals: %w", err)
		}
	}

	return nil
}

// score ranks a post by vote weight with time decay: newer posts need
// exponentially fewer rshares to outrank older ones.
func score(rshares float64, created time.Time, halfLife float64) float64 {
	mod := math.Log10(math.Max(math.Abs(rshares), 1))
	var sign float64
	switch {
	case rshares > 0:
		sign = 1
	case rshares < 0:
		sign = -1
	}
	return sign*mod + float64(created.Unix()-scoreEpoch)/halfLife
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
