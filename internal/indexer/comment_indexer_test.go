package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/steemit/enginemind/internal/chain"
	"github.com/steemit/enginemind/internal/db"
	"github.com/steemit/enginemind/internal/models"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	database := &db.DB{DB: gdb}
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return database
}

func seedRootPost(t *testing.T, database *db.DB, authorperm, token string) {
	t.Helper()
	ctx := context.Background()
	base := db.NewRepository(database.DB)

	author, _, err := models.ResolveAuthorperm(authorperm)
	if err != nil {
		t.Fatalf("bad authorperm %q: %v", authorperm, err)
	}
	err = db.NewPostRepository(base).Upsert(ctx, &models.Post{
		Authorperm: authorperm,
		Token:      token,
		Author:     author,
		MainPost:   true,
		Created:    time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("failed to seed post: %v", err)
	}

	depth := int16(0)
	url := "/hive-1234/" + authorperm
	meta, err := db.NewPostMetadataRepository(base).Get(ctx, authorperm)
	if err != nil {
		t.Fatalf("failed to load metadata: %v", err)
	}
	if meta != nil {
		return
	}
	err = db.NewPostMetadataRepository(base).Upsert(ctx, &models.PostMetadata{
		Authorperm: authorperm,
		Body:       "root body",
		Title:      "Root",
		Depth:      &depth,
		URL:        &url,
	})
	if err != nil {
		t.Fatalf("failed to seed metadata: %v", err)
	}
}

func TestCommentIndexerNewReply(t *testing.T) {
	database := testDB(t)
	ctx := context.Background()
	ci := NewCommentIndexer(newTestReconciler(&fakeContentSource{}))

	seedRootPost(t, database, "alice/root", "LEO")
	seedRootPost(t, database, "alice/root", "PAL")

	op := &chain.CommentOperation{
		ParentAuthor:   "alice",
		ParentPermlink: "root",
		Author:         "bob",
		Permlink:       "re-root",
		Body:           "nice post",
	}
	ts := time.Date(2023, 5, 1, 13, 0, 0, 0, time.UTC)
	if err := ci.Process(ctx, database.DB, op, ts); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	base := db.NewRepository(database.DB)
	posts, err := db.NewPostRepository(base).GetPosts(ctx, "bob/re-root")
	if err != nil {
		t.Fatalf("GetPosts() error = %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("reply should join both parent tokens, got %d rows", len(posts))
	}
	for _, post := range posts {
		if post.MainPost {
			t.Error("reply stored as main post")
		}
		if post.Author != "bob" {
			t.Errorf("reply author = %q", post.Author)
		}
	}

	meta, err := db.NewPostMetadataRepository(base).Get(ctx, "bob/re-root")
	if err != nil || meta == nil {
		t.Fatalf("reply metadata missing: %v", err)
	}
	if meta.Depth == nil || *meta.Depth != 1 {
		t.Errorf("reply depth = %v, want 1", meta.Depth)
	}
	if meta.URL == nil || *meta.URL != "/hive-1234/alice/root" {
		t.Errorf("reply url = %v, want parent url", meta.URL)
	}

	parentMeta, err := db.NewPostMetadataRepository(base).Get(ctx, "alice/root")
	if err != nil || parentMeta == nil {
		t.Fatalf("parent metadata missing: %v", err)
	}
	if parentMeta.Children != 1 {
		t.Errorf("parent children = %d, want 1", parentMeta.Children)
	}

	// Stamped the reply author's activity under each token.
	acc, err := db.NewAccountRepository(base).Get(ctx, "bob", "LEO")
	if err != nil || acc == nil {
		t.Fatalf("account row missing: %v", err)
	}
	if acc.LastPost == nil || !acc.LastPost.Equal(ts) {
		t.Errorf("last_post = %v, want %v", acc.LastPost, ts)
	}
	if acc.LastRootPost != nil {
		t.Error("reply must not stamp last_root_post")
	}
}

func TestCommentIndexerReplyWithoutParentMetadata(t *testing.T) {
	database := testDB(t)
	ctx := context.Background()
	ci := NewCommentIndexer(newTestReconciler(&fakeContentSource{}))

	// Sidechain-created parent rows whose primary-side metadata never
	// landed. The reply counter on the token rows still moves.
	base := db.NewRepository(database.DB)
	err := db.NewPostRepository(base).Upsert(ctx, &models.Post{
		Authorperm: "alice/root",
		Token:      "LEO",
		Author:     "alice",
		MainPost:   true,
		Created:    time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("failed to seed post: %v", err)
	}

	op := &chain.CommentOperation{
		ParentAuthor:   "alice",
		ParentPermlink: "root",
		Author:         "bob",
		Permlink:       "re-root",
		Body:           "nice post",
	}
	if err := ci.Process(ctx, database.DB, op, time.Date(2023, 5, 1, 13, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	parent, err := db.NewPostRepository(base).GetTokenPost(ctx, "LEO", "alice/root")
	if err != nil || parent == nil {
		t.Fatalf("parent post missing: %v", err)
	}
	if parent.Children != 1 {
		t.Errorf("parent children = %d, want 1", parent.Children)
	}

	posts, err := db.NewPostRepository(base).GetPosts(ctx, "bob/re-root")
	if err != nil {
		t.Fatalf("GetPosts() error = %v", err)
	}
	if len(posts) != 1 {
		t.Errorf("reply rows = %d, want 1", len(posts))
	}

	// Without parent metadata the reply has no thread position yet.
	meta, err := db.NewPostMetadataRepository(base).Get(ctx, "bob/re-root")
	if err != nil || meta == nil {
		t.Fatalf("reply metadata missing: %v", err)
	}
	if meta.Depth != nil || meta.URL != nil {
		t.Errorf("thread position set without parent metadata: depth=%v url=%v", meta.Depth, meta.URL)
	}
}

func TestCommentIndexerReplayDoesNotDoubleCount(t *testing.T) {
	database := testDB(t)
	ctx := context.Background()
	ci := NewCommentIndexer(newTestReconciler(&fakeContentSource{}))

	seedRootPost(t, database, "alice/root", "LEO")

	op := &chain.CommentOperation{
		ParentAuthor:   "alice",
		ParentPermlink: "root",
		Author:         "bob",
		Permlink:       "re-root",
		Body:           "nice post",
	}
	ts := time.Date(2023, 5, 1, 13, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := ci.Process(ctx, database.DB, op, ts); err != nil {
			t.Fatalf("Process() pass %d error = %v", i, err)
		}
	}

	base := db.NewRepository(database.DB)
	parentMeta, _ := db.NewPostMetadataRepository(base).Get(ctx, "alice/root")
	if parentMeta.Children != 1 {
		t.Errorf("parent children = %d after replay, want 1", parentMeta.Children)
	}
	parentPost, _ := db.NewPostRepository(base).GetTokenPost(ctx, "LEO", "alice/root")
	if parentPost.Children != 1 {
		t.Errorf("parent post children = %d after replay, want 1", parentPost.Children)
	}
}

func TestCommentIndexerEditKeepsTitle(t *testing.T) {
	database := testDB(t)
	ctx := context.Background()
	ci := NewCommentIndexer(newTestReconciler(&fakeContentSource{}))

	seedRootPost(t, database, "alice/root", "LEO")

	// Edits often arrive with an empty title and a patch body.
	op := &chain.CommentOperation{
		ParentPermlink: "hive-1234",
		Author:         "alice",
		Permlink:       "root",
		Body:           patchText(t, "root body", "root body, revised"),
	}
	if err := ci.Process(ctx, database.DB, op, time.Now().UTC()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	base := db.NewRepository(database.DB)
	meta, _ := db.NewPostMetadataRepository(base).Get(ctx, "alice/root")
	if meta.Body != "root body, revised" {
		t.Errorf("edited body = %q", meta.Body)
	}
	if meta.Title != "Root" {
		t.Errorf("edit with empty title should keep %q, got %q", "Root", meta.Title)
	}

	post, _ := db.NewPostRepository(base).GetTokenPost(ctx, "LEO", "alice/root")
	if post.Title != "Root" {
		t.Errorf("post title = %q, want Root", post.Title)
	}
	if post.Desc != "root body, revised" {
		t.Errorf("post desc = %q", post.Desc)
	}
}

func TestCommentIndexerDeleteCascades(t *testing.T) {
	database := testDB(t)
	ctx := context.Background()
	ci := NewCommentIndexer(newTestReconciler(&fakeContentSource{}))

	seedRootPost(t, database, "alice/root", "LEO")
	seedRootPost(t, database, "alice/root", "PAL")

	base := db.NewRepository(database.DB)
	err := db.NewVoteRepository(base).Upsert(ctx, &models.Vote{
		Authorperm: "alice/root",
		Voter:      "carol",
		Token:      "LEO",
		Rshares:    100,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed vote: %v", err)
	}
	err = db.NewReblogRepository(base).Upsert(ctx, "carol", "alice/root", time.Now().UTC())
	if err != nil {
		t.Fatalf("failed to seed reblog: %v", err)
	}

	err = ci.Delete(ctx, database.DB, &chain.DeleteCommentOperation{Author: "alice", Permlink: "root"})
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	posts, _ := db.NewPostRepository(base).GetPosts(ctx, "alice/root")
	if len(posts) != 0 {
		t.Errorf("posts remain after delete: %d", len(posts))
	}
	meta, _ := db.NewPostMetadataRepository(base).Get(ctx, "alice/root")
	if meta != nil {
		t.Error("metadata remains after delete")
	}
	votes, _ := db.NewVoteRepository(base).GetTokenVotes(ctx, "LEO", "alice/root")
	if len(votes) != 0 {
		t.Errorf("votes remain after delete: %d", len(votes))
	}
	rebloggers, _ := db.NewReblogRepository(base).RebloggedBy(ctx, "alice/root")
	if len(rebloggers) != 0 {
		t.Errorf("reblogs remain after delete: %d", len(rebloggers))
	}
}

func TestNormalizeJSONMetadata(t *testing.T) {
	logger := zap.NewNop()
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "object", raw: `{"tags":["a"]}`, want: `{"tags":["a"]}`},
		{name: "double encoded", raw: `"{\"tags\":[\"a\"]}"`, want: `{"tags":["a"]}`},
		{name: "empty", raw: "", want: "{}"},
		{name: "not json", raw: "hello", want: "{}"},
		{name: "array", raw: `["a","b"]`, want: "{}"},
		{name: "scalar", raw: `42`, want: "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := normalizeJSONMetadata(tt.raw, "a/p", logger)
			if got != tt.want {
				t.Errorf("normalizeJSONMetadata(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestBuildTags(t *testing.T) {
	tests := []struct {
		name           string
		mainPost       bool
		parentPermlink string
		metadata       string
		want           string
	}{
		{
			name:           "category plus tags",
			mainPost:       true,
			parentPermlink: "hive-1234",
			metadata:       `{"tags":["leo","crypto"]}`,
			want:           "hive-1234,leo,crypto",
		},
		{
			name:           "category dedup",
			mainPost:       true,
			parentPermlink: "leo",
			metadata:       `{"tags":["leo","crypto"]}`,
			want:           "leo,crypto",
		},
		{
			name:           "reply skips category",
			mainPost:       false,
			parentPermlink: "some-root-permlink",
			metadata:       `{"tags":["leo"]}`,
			want:           "leo",
		},
		{
			name:           "category with comma dropped",
			mainPost:       true,
			parentPermlink: "a,b",
			metadata:       `{"tags":["leo"]}`,
			want:           "leo",
		},
		{
			name:           "non-string tags skipped",
			mainPost:       false,
			parentPermlink: "",
			metadata:       `{"tags":["leo",7,null,"pal"]}`,
			want:           "leo,pal",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildTags(tt.mainPost, tt.parentPermlink, gjson.Parse(tt.metadata))
			if got != tt.want {
				t.Errorf("buildTags() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo", 3); got != "hél" {
		t.Errorf("truncate() must cut on runes, got %q", got)
	}
	if got := truncate("ok", 10); got != "ok" {
		t.Errorf("truncate() = %q, want ok", got)
	}
}
