package indexer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/steemit/enginemind/internal/chain"
	"github.com/steemit/enginemind/internal/models"
)

func neverExists(ctx context.Context, authorperm string) (bool, error) {
	return false, nil
}

func alwaysExists(ctx context.Context, authorperm string) (bool, error) {
	return true, nil
}

func op(opType, value string) *chain.Operation {
	return &chain.Operation{Type: opType, Value: json.RawMessage(value)}
}

func customJSON(id, actor, payload string) *chain.Operation {
	value, _ := json.Marshal(map[string]interface{}{
		"id":                     id,
		"json":                   payload,
		"required_posting_auths": []string{actor},
	})
	return &chain.Operation{Type: "custom_json", Value: value}
}

func TestClassifyComment(t *testing.T) {
	ctx := context.Background()
	comment := `{"author":"alice","permlink":"my-post","title":"Hi","body":"hello","parent_author":"","parent_permlink":"hive-1234"}`

	classified, err := Classify(ctx, op("comment", comment), neverExists)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if classified.Kind != KindPost {
		t.Errorf("unknown content should classify as KindPost, got %v", classified.Kind)
	}
	if classified.Comment == nil || classified.Comment.Author != "alice" {
		t.Errorf("comment payload not decoded: %+v", classified.Comment)
	}

	classified, err = Classify(ctx, op("comment", comment), alwaysExists)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if classified.Kind != KindEdit {
		t.Errorf("known content should classify as KindEdit, got %v", classified.Kind)
	}
}

func TestClassifyDelete(t *testing.T) {
	classified, err := Classify(context.Background(),
		op("delete_comment", `{"author":"alice","permlink":"my-post"}`), neverExists)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if classified.Kind != KindDelete {
		t.Errorf("Classify() kind = %v, want KindDelete", classified.Kind)
	}
	if classified.Delete.Author != "alice" || classified.Delete.Permlink != "my-post" {
		t.Errorf("delete payload not decoded: %+v", classified.Delete)
	}
}

func TestClassifyFollow(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		actor     string
		payload   string
		wantKind  Kind
		wantState int16
	}{
		{
			name:      "follow blog",
			id:        "follow",
			actor:     "alice",
			payload:   `["follow",{"follower":"alice","following":"bob","what":["blog"]}]`,
			wantKind:  KindFollow,
			wantState: models.FollowStateBlog,
		},
		{
			name:      "mute",
			id:        "follow",
			actor:     "alice",
			payload:   `["follow",{"follower":"alice","following":"bob","what":["ignore"]}]`,
			wantKind:  KindFollow,
			wantState: models.FollowStateIgnore,
		},
		{
			name:      "unfollow",
			id:        "follow",
			actor:     "alice",
			payload:   `["follow",{"follower":"alice","following":"bob","what":[]}]`,
			wantKind:  KindFollow,
			wantState: models.FollowStateNone,
		},
		{
			name:     "follower must match actor",
			id:       "follow",
			actor:    "mallory",
			payload:  `["follow",{"follower":"alice","following":"bob","what":["blog"]}]`,
			wantKind: KindNoOp,
		},
		{
			name:     "follow pair under reblog id",
			id:       "reblog",
			actor:    "alice",
			payload:  `["follow",{"follower":"alice","following":"bob","what":["blog"]}]`,
			wantKind: KindNoOp,
		},
		{
			name:     "overlong account name",
			id:       "follow",
			actor:    "alice",
			payload:  `["follow",{"follower":"alice","following":"this-name-is-way-too-long","what":["blog"]}]`,
			wantKind: KindNoOp,
		},
		{
			name:     "not json",
			id:       "follow",
			actor:    "alice",
			payload:  `follow alice`,
			wantKind: KindNoOp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified, err := Classify(context.Background(),
				customJSON(tt.id, tt.actor, tt.payload), neverExists)
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if classified.Kind != tt.wantKind {
				t.Fatalf("Classify() kind = %v, want %v", classified.Kind, tt.wantKind)
			}
			if tt.wantKind == KindFollow && classified.Follow.State != tt.wantState {
				t.Errorf("follow state = %v, want %v", classified.Follow.State, tt.wantState)
			}
		})
	}
}

func TestClassifyReblog(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		actor      string
		payload    string
		wantKind   Kind
		wantDelete bool
	}{
		{
			name:     "reblog under reblog id",
			id:       "reblog",
			actor:    "carol",
			payload:  `["reblog",{"account":"carol","author":"alice","permlink":"my-post"}]`,
			wantKind: KindReblog,
		},
		{
			name:     "reblog under follow id",
			id:       "follow",
			actor:    "carol",
			payload:  `["reblog",{"account":"carol","author":"alice","permlink":"my-post"}]`,
			wantKind: KindReblog,
		},
		{
			name:       "delete reblog",
			id:         "reblog",
			actor:      "carol",
			payload:    `["reblog",{"account":"carol","author":"alice","permlink":"my-post","delete":"delete"}]`,
			wantKind:   KindReblog,
			wantDelete: true,
		},
		{
			name:     "account must match actor",
			id:       "reblog",
			actor:    "mallory",
			payload:  `["reblog",{"account":"carol","author":"alice","permlink":"my-post"}]`,
			wantKind: KindNoOp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified, err := Classify(context.Background(),
				customJSON(tt.id, tt.actor, tt.payload), neverExists)
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if classified.Kind != tt.wantKind {
				t.Fatalf("Classify() kind = %v, want %v", classified.Kind, tt.wantKind)
			}
			if tt.wantKind != KindReblog {
				return
			}
			if classified.Reblog.Authorperm != "alice/my-post" {
				t.Errorf("reblog authorperm = %v", classified.Reblog.Authorperm)
			}
			if classified.Reblog.Delete != tt.wantDelete {
				t.Errorf("reblog delete = %v, want %v", classified.Reblog.Delete, tt.wantDelete)
			}
		})
	}
}

func TestClassifyTribeSettings(t *testing.T) {
	classified, err := Classify(context.Background(),
		customJSON("scot_set_tribe_settings", "issuer",
			`{"reward_pool_id":7,"promoted_post_account":"null"}`), neverExists)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if classified.Kind != KindTribeSettings {
		t.Fatalf("Classify() kind = %v, want KindTribeSettings", classified.Kind)
	}
	settings := classified.Settings
	if settings.RewardPoolID != 7 || settings.Account != "issuer" {
		t.Errorf("settings not decoded: %+v", settings)
	}
	if !settings.HasPromotedAccount || settings.PromotedPostAccount != "null" {
		t.Errorf("promoted account not decoded: %+v", settings)
	}

	// Without a reward pool id the payload cannot be routed to a token.
	classified, err = Classify(context.Background(),
		customJSON("scot_set_tribe_settings", "issuer", `{"promoted_post_account":"null"}`),
		neverExists)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if classified.Kind != KindNoOp {
		t.Errorf("missing reward_pool_id should be a no-op, got %v", classified.Kind)
	}
}

func TestClassifyIgnoresUnknownOps(t *testing.T) {
	classified, err := Classify(context.Background(),
		op("vote", `{"voter":"alice","author":"bob","permlink":"p","weight":10000}`), neverExists)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if classified.Kind != KindNoOp {
		t.Errorf("chain votes are not indexed, got %v", classified.Kind)
	}
}
