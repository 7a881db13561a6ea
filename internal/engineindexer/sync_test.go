package engineindexer

import (
	"context"
	"testing"
	"time"

	"github.com/steemit/enginemind/internal/db"
	"github.com/steemit/enginemind/internal/engine"
	"github.com/steemit/enginemind/internal/models"
	"github.com/steemit/enginemind/pkg/config"
)

type fakeEngineSource struct {
	head   int64
	blocks map[int64]*engine.Block
	ranges bool
}

func (f *fakeEngineSource) GetLatestBlockInfo(ctx context.Context) (*engine.Block, error) {
	return f.blocks[f.head], nil
}

func (f *fakeEngineSource) GetBlockInfo(ctx context.Context, num int64) (*engine.Block, error) {
	return f.blocks[num], nil
}

func (f *fakeEngineSource) GetBlockRangeInfo(ctx context.Context, start int64, count int) ([]*engine.Block, error) {
	if !f.ranges {
		return nil, nil
	}
	var out []*engine.Block
	for n := start; n < start+int64(count); n++ {
		if block := f.blocks[n]; block != nil {
			out = append(out, block)
		}
	}
	return out, nil
}

func newEngineTestSyncer(database *db.DB, source BlockSource, bulk bool) *Syncer {
	cfg := &config.IndexerConfig{
		SyncInterval:     time.Millisecond,
		BatchSize:        10,
		EngineBulkBlocks: bulk,
	}
	return NewSyncer(
		database,
		source,
		NewCommentsContractIndexer(testRegistry()),
		NewPromotePostIndexer(testRegistry()),
		cfg,
	)
}

func engineBlock(num int64, ts time.Time, txs ...engine.Transaction) *engine.Block {
	return &engine.Block{
		BlockNumber:  num,
		Timestamp:    engine.Timestamp{Time: ts},
		Transactions: txs,
	}
}

func commentTx(author, permlink string) engine.Transaction {
	return engine.Transaction{
		TransactionID: "tx-" + author + "-" + permlink,
		Sender:        author,
		Contract:      "comments",
		Action:        "comment",
		Payload:       `{"author":"` + author + `","permlink":"` + permlink + `","rewardPools":[1]}`,
	}
}

func TestEngineSyncerSeedsAtHead(t *testing.T) {
	database := testDB(t)
	ctx := context.Background()
	ts := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)

	source := &fakeEngineSource{head: 50, blocks: map[int64]*engine.Block{
		50: engineBlock(50, ts, commentTx("alice", "my-post")),
	}}
	s := newEngineTestSyncer(database, source, false)

	advanced, err := s.SyncOnce(ctx)
	if err != nil {
		t.Fatalf("SyncOnce() error = %v", err)
	}
	if !advanced {
		t.Fatal("head block should apply on first pass")
	}

	cp, err := db.NewCheckpointRepository(db.NewRepository(database.DB)).
		Get(ctx, models.SourceSidechain)
	if err != nil || cp == nil {
		t.Fatalf("checkpoint missing: %v", err)
	}
	if cp.LastBlock != 50 {
		t.Errorf("checkpoint at %d, want 50", cp.LastBlock)
	}
	if cp.LastTimestamp == nil || !cp.LastTimestamp.Equal(ts) {
		t.Errorf("checkpoint timestamp = %v, want %v", cp.LastTimestamp, ts)
	}

	posts, _ := db.NewPostRepository(db.NewRepository(database.DB)).GetPosts(ctx, "alice/my-post")
	if len(posts) != 1 {
		t.Errorf("comment tx not applied, got %d rows", len(posts))
	}
}

func TestEngineSyncerBulkRange(t *testing.T) {
	database := testDB(t)
	ctx := context.Background()
	ts := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)

	err := db.NewCheckpointRepository(db.NewRepository(database.DB)).
		Upsert(ctx, models.SourceSidechain, 49, &ts)
	if err != nil {
		t.Fatalf("failed to seed checkpoint: %v", err)
	}

	source := &fakeEngineSource{head: 52, ranges: true, blocks: map[int64]*engine.Block{
		50: engineBlock(50, ts, commentTx("alice", "one")),
		51: engineBlock(51, ts.Add(3*time.Second)),
		52: engineBlock(52, ts.Add(6*time.Second), commentTx("alice", "two")),
	}}
	s := newEngineTestSyncer(database, source, true)

	advanced, err := s.SyncOnce(ctx)
	if err != nil {
		t.Fatalf("SyncOnce() error = %v", err)
	}
	if !advanced {
		t.Fatal("bulk pass should apply blocks")
	}

	cp, _ := db.NewCheckpointRepository(db.NewRepository(database.DB)).
		Get(ctx, models.SourceSidechain)
	if cp.LastBlock != 52 {
		t.Errorf("checkpoint at %d, want 52", cp.LastBlock)
	}

	for _, permlink := range []string{"one", "two"} {
		posts, _ := db.NewPostRepository(db.NewRepository(database.DB)).
			GetPosts(ctx, "alice/"+permlink)
		if len(posts) != 1 {
			t.Errorf("block with %s not applied", permlink)
		}
	}
}

func TestEngineSyncerVirtualTransactions(t *testing.T) {
	database := testDB(t)
	ctx := context.Background()
	ts := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)

	err := db.NewCheckpointRepository(db.NewRepository(database.DB)).
		Upsert(ctx, models.SourceSidechain, 49, &ts)
	if err != nil {
		t.Fatalf("failed to seed checkpoint: %v", err)
	}

	block := engineBlock(50, ts)
	block.VirtualTransactions = []engine.Transaction{commentTx("alice", "scheduled")}
	source := &fakeEngineSource{head: 50, blocks: map[int64]*engine.Block{50: block}}
	s := newEngineTestSyncer(database, source, false)

	if _, err := s.SyncOnce(ctx); err != nil {
		t.Fatalf("SyncOnce() error = %v", err)
	}

	posts, _ := db.NewPostRepository(db.NewRepository(database.DB)).GetPosts(ctx, "alice/scheduled")
	if len(posts) != 1 {
		t.Errorf("virtual transaction not applied, got %d rows", len(posts))
	}
}

func TestEngineSyncerContainsFailingTransaction(t *testing.T) {
	database := testDB(t)
	ctx := context.Background()
	ts := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)

	err := db.NewCheckpointRepository(db.NewRepository(database.DB)).
		Upsert(ctx, models.SourceSidechain, 49, &ts)
	if err != nil {
		t.Fatalf("failed to seed checkpoint: %v", err)
	}

	// The post the vote below targets, indexed before the block arrives.
	err = db.NewPostRepository(db.NewRepository(database.DB)).Upsert(ctx, &models.Post{
		Authorperm: "alice/my-post",
		Token:      "LEO",
		Author:     "alice",
		MainPost:   true,
		Created:    ts.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to seed post: %v", err)
	}

	// Broken vote storage makes the first transaction fail inside its
	// savepoint.
	if err := database.DB.Exec("DROP TABLE votes").Error; err != nil {
		t.Fatalf("failed to drop votes: %v", err)
	}

	logs := `{"events":[{"contract":"comments","event":"newVote","data":{"rewardPoolId":1,"rshares":"100"}}]}`
	block := engineBlock(50, ts, *voteTx("carol", logs), commentTx("bob", "fresh"))
	source := &fakeEngineSource{head: 50, blocks: map[int64]*engine.Block{50: block}}
	s := newEngineTestSyncer(database, source, false)

	advanced, err := s.SyncOnce(ctx)
	if err != nil {
		t.Fatalf("SyncOnce() error = %v", err)
	}
	if !advanced {
		t.Fatal("block should apply despite the failing transaction")
	}

	posts, _ := db.NewPostRepository(db.NewRepository(database.DB)).GetPosts(ctx, "bob/fresh")
	if len(posts) != 1 {
		t.Errorf("later transaction did not apply, got %d rows", len(posts))
	}
	cp, _ := db.NewCheckpointRepository(db.NewRepository(database.DB)).
		Get(ctx, models.SourceSidechain)
	if cp == nil || cp.LastBlock != 50 {
		t.Errorf("checkpoint = %+v, want block 50", cp)
	}
}

func TestEngineSyncerCaughtUp(t *testing.T) {
	database := testDB(t)
	ctx := context.Background()
	ts := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)

	err := db.NewCheckpointRepository(db.NewRepository(database.DB)).
		Upsert(ctx, models.SourceSidechain, 50, &ts)
	if err != nil {
		t.Fatalf("failed to seed checkpoint: %v", err)
	}

	source := &fakeEngineSource{head: 50, blocks: map[int64]*engine.Block{
		50: engineBlock(50, ts),
	}}
	s := newEngineTestSyncer(database, source, false)

	advanced, err := s.SyncOnce(ctx)
	if err != nil {
		t.Fatalf("SyncOnce() error = %v", err)
	}
	if advanced {
		t.Error("nothing to apply past the head")
	}
}
