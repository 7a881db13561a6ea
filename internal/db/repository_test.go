package db

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/steemit/enginemind/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	database := &DB{DB: gdb}
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return database
}

func TestCheckpointRepository(t *testing.T) {
	database := testDB(t)
	ctx := context.Background()
	repo := NewCheckpointRepository(NewRepository(database.DB))

	cp, err := repo.Get(ctx, models.SourcePrimary)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cp != nil {
		t.Fatalf("fresh store has checkpoint %+v", cp)
	}

	ts := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.Upsert(ctx, models.SourcePrimary, 100, &ts); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	later := ts.Add(3 * time.Second)
	if err := repo.Upsert(ctx, models.SourcePrimary, 101, &later); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	cp, err = repo.Get(ctx, models.SourcePrimary)
	if err != nil || cp == nil {
		t.Fatalf("Get() after upsert: %v, %+v", err, cp)
	}
	if cp.LastBlock != 101 {
		t.Errorf("last_block = %d, want 101", cp.LastBlock)
	}
	if cp.LastTimestamp == nil || !cp.LastTimestamp.Equal(later) {
		t.Errorf("last_timestamp = %v, want %v", cp.LastTimestamp, later)
	}

	// Sources do not interfere.
	other, err := repo.Get(ctx, models.SourceSidechain)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if other != nil {
		t.Errorf("sidechain checkpoint leaked from primary: %+v", other)
	}
}

func TestAccountUpsertPartialMerges(t *testing.T) {
	database := testDB(t)
	ctx := context.Background()
	repo := NewAccountRepository(NewRepository(database.DB))

	rootTS := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)
	postTS := rootTS.Add(time.Hour)

	err := repo.UpsertPartial(ctx, "alice", "LEO", map[string]interface{}{"last_root_post": rootTS})
	if err != nil {
		t.Fatalf("UpsertPartial() error = %v", err)
	}
	// A later writer that only knows last_post must not clobber the stamp.
	err = repo.UpsertPartial(ctx, "alice", "LEO", map[string]interface{}{"last_post": postTS})
	if err != nil {
		t.Fatalf("UpsertPartial() error = %v", err)
	}

	acc, err := repo.Get(ctx, "alice", "LEO")
	if err != nil || acc == nil {
		t.Fatalf("Get() error = %v, acc = %+v", err, acc)
	}
	if acc.LastRootPost == nil || !acc.LastRootPost.Equal(rootTS) {
		t.Errorf("last_root_post = %v, want %v", acc.LastRootPost, rootTS)
	}
	if acc.LastPost == nil || !acc.LastPost.Equal(postTS) {
		t.Errorf("last_post = %v, want %v", acc.LastPost, postTS)
	}
}

func TestAccountFollowRefreshTimeAcrossTokens(t *testing.T) {
	database := testDB(t)
	ctx := context.Background()
	repo := NewAccountRepository(NewRepository(database.DB))

	got, err := repo.FollowRefreshTime(ctx, "alice")
	if err != nil {
		t.Fatalf("FollowRefreshTime() error = %v", err)
	}
	if got != nil {
		t.Fatalf("unmaterialized graph has refresh time %v", got)
	}

	older := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(2 * time.Hour)
	if err := repo.UpsertPartial(ctx, "alice", "LEO", map[string]interface{}{"last_follow_refresh_time": older}); err != nil {
		t.Fatalf("UpsertPartial() error = %v", err)
	}
	if err := repo.UpsertPartial(ctx, "alice", "PAL", map[string]interface{}{"last_follow_refresh_time": newer}); err != nil {
		t.Fatalf("UpsertPartial() error = %v", err)
	}

	got, err = repo.FollowRefreshTime(ctx, "alice")
	if err != nil || got == nil {
		t.Fatalf("FollowRefreshTime() = %v, %v", got, err)
	}
	if !got.Equal(newer) {
		t.Errorf("refresh time = %v, want max %v", got, newer)
	}
}

func TestFollowRepositoryRefresh(t *testing.T) {
	database := testDB(t)
	ctx := context.Background()
	repo := NewFollowRepository(NewRepository(database.DB))

	if err := repo.Upsert(ctx, "alice", "bob", models.FollowStateBlog); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := repo.Upsert(ctx, "alice", "mallory", models.FollowStateIgnore); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	// Refresh replaces the whole edge set with blog follows.
	if err := repo.Refresh(ctx, "alice", []string{"carol", "dan"}); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	names, err := repo.GetFollowingNames(ctx, "alice", models.FollowStateBlog)
	if err != nil {
		t.Fatalf("GetFollowingNames() error = %v", err)
	}
	if len(names) != 2 || names[0] != "carol" || names[1] != "dan" {
		t.Errorf("refreshed follows = %v", names)
	}

	counts, err := repo.Counts(ctx, "alice")
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if counts.FollowingCount != 2 {
		t.Errorf("following_count = %d, want 2", counts.FollowingCount)
	}
}

func TestReblogRepositoryKeepsFirstTimestamp(t *testing.T) {
	database := testDB(t)
	ctx := context.Background()
	repo := NewReblogRepository(NewRepository(database.DB))

	first := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := repo.Upsert(ctx, "bob", "alice/my-post", first); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	// Replaying the reblog must not move its feed position.
	if err := repo.Upsert(ctx, "bob", "alice/my-post", first.Add(time.Hour)); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	reblog, err := repo.Get(ctx, "bob", "alice/my-post")
	if err != nil || reblog == nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !reblog.Timestamp.Equal(first) {
		t.Errorf("timestamp = %v, want first seen %v", reblog.Timestamp, first)
	}

	if err := repo.Delete(ctx, "bob", "alice/my-post"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	reblog, err = repo.Get(ctx, "bob", "alice/my-post")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if reblog != nil {
		t.Error("reblog remains after delete")
	}
}
