package indexer

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/steemit/enginemind/internal/chain"
	"github.com/steemit/enginemind/internal/models"
)

// Kind is the indexing action an operation maps to
type Kind int

const (
	// KindNoOp means the operation is ignored
	KindNoOp Kind = iota
	// KindPost is a comment op on content not yet known
	KindPost
	// KindEdit is a comment op on content already known
	KindEdit
	// KindDelete removes content
	KindDelete
	// KindFollow updates a follow edge
	KindFollow
	// KindReblog adds or removes a reblog
	KindReblog
	// KindTribeSettings updates a token's tribe settings
	KindTribeSettings
)

const maxAccountNameLength = 20

// FollowAction is a decoded follow payload
type FollowAction struct {
	Follower  string
	Following string
	State     int16
}

// ReblogAction is a decoded reblog payload
type ReblogAction struct {
	Account    string
	Authorperm string
	Delete     bool
}

// TribeSettingsAction is a decoded tribe settings payload
type TribeSettingsAction struct {
	Account             string
	RewardPoolID        int64
	PromotedPostAccount string
	HasPromotedAccount  bool
}

// Classified is an operation resolved to its indexing action
type Classified struct {
	Kind     Kind
	Comment  *chain.CommentOperation
	Delete   *chain.DeleteCommentOperation
	Follow   *FollowAction
	Reblog   *ReblogAction
	Settings *TribeSettingsAction
}

var noop = &Classified{Kind: KindNoOp}

// ExistsFunc reports whether content is already known to the store
type ExistsFunc func(ctx context.Context, authorperm string) (bool, error)

// Classify maps a chain operation to its indexing action. Malformed
// payloads classify as no-ops rather than failing the block.
func Classify(ctx context.Context, op *chain.Operation, exists ExistsFunc) (*Classified, error) {
	switch op.Type {
	case "comment":
		var comment chain.CommentOperation
		if err := json.Unmarshal(op.Value, &comment); err != nil {
			return noop, nil
		}
		if comment.Author == "" || comment.Permlink == "" {
			return noop, nil
		}
		known, err := exists(ctx, models.ConstructAuthorperm(comment.Author, comment.Permlink))
		if err != nil {
			return nil, err
		}
		kind := KindPost
		if known {
			kind = KindEdit
		}
		return &Classified{Kind: kind, Comment: &comment}, nil

	case "delete_comment":
		var del chain.DeleteCommentOperation
		if err := json.Unmarshal(op.Value, &del); err != nil {
			return noop, nil
		}
		if del.Author == "" || del.Permlink == "" {
			return noop, nil
		}
		return &Classified{Kind: KindDelete, Delete: &del}, nil

	case "custom_json":
		var custom chain.CustomJSONOperation
		if err := json.Unmarshal(op.Value, &custom); err != nil {
			return noop, nil
		}
		return classifyCustomJSON(&custom), nil
	}

	return noop, nil
}

func classifyCustomJSON(op *chain.CustomJSONOperation) *Classified {
	actor := op.Actor()
	if actor == "" || !gjson.Valid(op.JSON) {
		return noop
	}
	payload := gjson.Parse(op.JSON)

	switch op.ID {
	case "follow", "reblog":
		// Both ids carry ["reblog", {...}] pairs; only the follow id
		// additionally carries ["follow", {...}].
		pair := payload.Array()
		if len(pair) != 2 || !pair[1].IsObject() {
			return noop
		}
		switch pair[0].String() {
		case "reblog":
			return classifyReblog(actor, pair[1])
		case "follow":
			if op.ID != "follow" {
				return noop
			}
			return classifyFollow(actor, pair[1])
		}
		return noop

	case "scot_set_tribe_settings":
		if !payload.IsObject() {
			return noop
		}
		pool := payload.Get("reward_pool_id")
		if !pool.Exists() {
			return noop
		}
		action := &TribeSettingsAction{
			Account:      actor,
			RewardPoolID: pool.Int(),
		}
		if promoted := payload.Get("promoted_post_account"); promoted.Exists() {
			action.PromotedPostAccount = promoted.String()
			action.HasPromotedAccount = true
		}
		return &Classified{Kind: KindTribeSettings, Settings: action}
	}

	return noop
}

func classifyFollow(actor string, data gjson.Result) *Classified {
	follower := data.Get("follower").String()
	following := data.Get("following").String()
	if follower == "" || following == "" || follower != actor {
		return noop
	}
	if len(follower) > maxAccountNameLength || len(following) > maxAccountNameLength {
		return noop
	}

	state := models.FollowStateNone
	what := data.Get("what").Array()
	if len(what) == 1 {
		switch what[0].String() {
		case "blog":
			state = models.FollowStateBlog
		case "ignore":
			state = models.FollowStateIgnore
		}
	}

	return &Classified{Kind: KindFollow, Follow: &FollowAction{
		Follower:  follower,
		Following: following,
		State:     state,
	}}
}

func classifyReblog(actor string, data gjson.Result) *Classified {
	account := data.Get("account").String()
	author := data.Get("author").String()
	permlink := data.Get("permlink").String()
	if account == "" || account != actor || author == "" || permlink == "" {
		return noop
	}

	return &Classified{Kind: KindReblog, Reblog: &ReblogAction{
		Account:    account,
		Authorperm: models.ConstructAuthorperm(author, permlink),
		Delete:     data.Get("delete").String() == "delete",
	}}
}
