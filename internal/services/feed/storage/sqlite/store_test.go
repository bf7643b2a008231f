package sqlite

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/louisbranch/snapfeed/internal/services/feed/storage"
	msqlite "modernc.org/sqlite"
)

type opaqueWrapError struct {
	cause error
}

func (e opaqueWrapError) Error() string {
	return "wrapped database error"
}

func (e opaqueWrapError) Unwrap() error {
	return e.cause
}

type asSQLiteErrorWithUniqueMessage struct{}

func (e asSQLiteErrorWithUniqueMessage) Error() string {
	return "UNIQUE constraint failed: feeds.id"
}

func (e asSQLiteErrorWithUniqueMessage) As(target any) bool {
	sqliteErrPtr, ok := target.(**msqlite.Error)
	if !ok {
		return false
	}
	// Zero value mimics an unexpected code while preserving typed matching.
	*sqliteErrPtr = &msqlite.Error{}
	return true
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir() + "/snapfeed.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func testFeed(id string, creatorID string, createdAt time.Time) storage.Feed {
	return storage.Feed{
		ID:        id,
		Content:   "post " + id,
		ImageURLs: []string{"data:image/png;base64,AAAA"},
		Creator:   storage.Creator{ID: creatorID, Name: "name-" + creatorID},
		CreatedAt: createdAt,
	}
}

func TestFeedRoundTrip(t *testing.T) {
	store := openTestStore(t)

	createdAt := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	want := storage.Feed{
		ID:        "feed-1",
		Content:   "sunset at the pier",
		ImageURLs: []string{"data:image/png;base64,AAAA", "data:image/jpeg;base64,BBBB"},
		Hashtags:  []string{"sunset", "pier"},
		Creator:   storage.Creator{ID: "user_1", Name: "나"},
		CreatedAt: createdAt,
	}
	if err := store.PutFeed(context.Background(), want); err != nil {
		t.Fatalf("put feed: %v", err)
	}

	got, err := store.GetFeed(context.Background(), "feed-1")
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if !got.CreatedAt.Equal(createdAt) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, createdAt)
	}
	got.CreatedAt = want.CreatedAt
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("feed = %+v, want %+v", got, want)
	}
}

func TestFeedWithoutHashtagsRoundTripsAsAbsent(t *testing.T) {
	store := openTestStore(t)

	feed := testFeed("feed-1", "user_1", time.Now())
	feed.ImageURLs = nil
	if err := store.PutFeed(context.Background(), feed); err != nil {
		t.Fatalf("put feed: %v", err)
	}
	got, err := store.GetFeed(context.Background(), "feed-1")
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if got.Hashtags != nil {
		t.Fatalf("hashtags = %#v, want nil", got.Hashtags)
	}
	if got.ImageURLs == nil || len(got.ImageURLs) != 0 {
		t.Fatalf("image urls = %#v, want empty slice", got.ImageURLs)
	}
}

func TestPutFeedRejectsDuplicateID(t *testing.T) {
	store := openTestStore(t)

	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	first := testFeed("feed-1", "user_1", now)
	if err := store.PutFeed(context.Background(), first); err != nil {
		t.Fatalf("put feed: %v", err)
	}

	second := testFeed("feed-1", "user_2", now.Add(time.Hour))
	second.Content = "overwrite attempt"
	err := store.PutFeed(context.Background(), second)
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("put duplicate err = %v, want %v", err, storage.ErrAlreadyExists)
	}

	got, err := store.GetFeed(context.Background(), "feed-1")
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if got.Content != first.Content {
		t.Fatalf("content = %q, want original %q", got.Content, first.Content)
	}
}

func TestPutFeedKeysIDsVerbatim(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)

	padded := testFeed(" a", "", now)
	if err := store.PutFeed(ctx, padded); err != nil {
		t.Fatalf("put padded feed: %v", err)
	}
	if err := store.PutFeed(ctx, testFeed("a", "user_1", now)); err != nil {
		t.Fatalf("put distinct feed a: %v", err)
	}

	got, err := store.GetFeed(ctx, " a")
	if err != nil {
		t.Fatalf("get padded feed: %v", err)
	}
	if got.ID != " a" || got.Creator.ID != "" {
		t.Fatalf("feed = %+v, want id %q with empty creator", got, " a")
	}
	got, err = store.GetFeed(ctx, "a")
	if err != nil {
		t.Fatalf("get feed a: %v", err)
	}
	if got.Creator.ID != "user_1" {
		t.Fatalf("creator = %q, want user_1", got.Creator.ID)
	}
}

func TestGetFeedNotFound(t *testing.T) {
	store := openTestStore(t)

	for _, id := range []string{"missing", "", "   "} {
		if _, err := store.GetFeed(context.Background(), id); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("get feed %q err = %v, want %v", id, err, storage.ErrNotFound)
		}
	}
}

func TestListFeedsOrdersNewestFirstWithTiesByID(t *testing.T) {
	store := openTestStore(t)

	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	for _, feed := range []storage.Feed{
		testFeed("old", "user_1", base),
		testFeed("tie-z", "user_2", base.Add(time.Hour)),
		testFeed("newest", "user_1", base.Add(2*time.Hour)),
		testFeed("tie-b", "user_1", base.Add(time.Hour)),
		testFeed("tie-m", "user_2", base.Add(time.Hour)),
	} {
		if err := store.PutFeed(context.Background(), feed); err != nil {
			t.Fatalf("put feed %s: %v", feed.ID, err)
		}
	}

	feeds, err := store.ListFeeds(context.Background())
	if err != nil {
		t.Fatalf("list feeds: %v", err)
	}
	var ids []string
	for _, feed := range feeds {
		ids = append(ids, feed.ID)
	}
	want := []string{"newest", "tie-b", "tie-m", "tie-z", "old"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
}

func TestListFeedsEmpty(t *testing.T) {
	store := openTestStore(t)

	feeds, err := store.ListFeeds(context.Background())
	if err != nil {
		t.Fatalf("list feeds: %v", err)
	}
	if feeds == nil || len(feeds) != 0 {
		t.Fatalf("feeds = %#v, want empty slice", feeds)
	}
}

func TestListFeedsByCreatorScopesToCreator(t *testing.T) {
	store := openTestStore(t)

	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	for _, feed := range []storage.Feed{
		testFeed("a", "user_1", base),
		testFeed("b", "user_2", base.Add(time.Minute)),
		testFeed("c", "user_1", base.Add(2*time.Minute)),
	} {
		if err := store.PutFeed(context.Background(), feed); err != nil {
			t.Fatalf("put feed %s: %v", feed.ID, err)
		}
	}

	feeds, err := store.ListFeedsByCreator(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("list feeds by creator: %v", err)
	}
	if len(feeds) != 2 || feeds[0].ID != "c" || feeds[1].ID != "a" {
		t.Fatalf("feeds = %+v, want [c a]", feeds)
	}
	feeds, err = store.ListFeedsByCreator(context.Background(), "")
	if err != nil {
		t.Fatalf("list feeds by empty creator: %v", err)
	}
	if len(feeds) != 0 {
		t.Fatalf("feeds = %+v, want none for empty creator", feeds)
	}
}

func TestUserRoundTripAndUpsert(t *testing.T) {
	store := openTestStore(t)

	if _, err := store.GetUser(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get user on empty store err = %v, want %v", err, storage.ErrNotFound)
	}

	if err := store.PutUser(context.Background(), storage.Creator{ID: "user_1", Name: "나"}); err != nil {
		t.Fatalf("put user: %v", err)
	}
	if err := store.PutUser(context.Background(), storage.Creator{ID: "user_1", Name: "Me"}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}

	got, err := store.GetUser(context.Background())
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got != (storage.Creator{ID: "user_1", Name: "Me"}) {
		t.Fatalf("user = %+v, want user_1/Me", got)
	}
	if err := store.PutUser(context.Background(), storage.Creator{}); err == nil {
		t.Fatal("expected missing user id error")
	}
}

func TestOpenIsIdempotentForExistingDatabase(t *testing.T) {
	path := t.TempDir() + "/snapfeed.db"
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.PutFeed(context.Background(), testFeed("feed-1", "user_1", time.Now())); err != nil {
		t.Fatalf("put feed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.GetFeed(context.Background(), "feed-1"); err != nil {
		t.Fatalf("get feed after reopen: %v", err)
	}
}

func TestAppliedMigrationsListsEmbeddedFiles(t *testing.T) {
	store := openTestStore(t)

	applied, err := store.AppliedMigrations(context.Background())
	if err != nil {
		t.Fatalf("applied migrations: %v", err)
	}
	if !reflect.DeepEqual(applied, []string{"001_feeds.sql"}) {
		t.Fatalf("applied = %v, want [001_feeds.sql]", applied)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected missing path error")
	}
}

func TestOperationsRespectCanceledContext(t *testing.T) {
	store := openTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.PutFeed(ctx, testFeed("feed-1", "user_1", time.Now())); !errors.Is(err, context.Canceled) {
		t.Fatalf("put feed err = %v, want %v", err, context.Canceled)
	}
	if _, err := store.ListFeeds(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("list feeds err = %v, want %v", err, context.Canceled)
	}
	if _, err := store.GetUser(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("get user err = %v, want %v", err, context.Canceled)
	}
}

func TestNilStoreIsNotConfigured(t *testing.T) {
	var store *Store
	if err := store.PutFeed(context.Background(), storage.Feed{}); err == nil {
		t.Fatal("expected not configured error")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close nil store: %v", err)
	}
}

func TestIsFeedUniqueViolationUsesSQLiteErrorCode(t *testing.T) {
	store := openTestStore(t)

	insert := `INSERT INTO feeds (id, content, image_urls, hashtags, creator_id, creator_name, created_at)
		 VALUES (?, '', '[]', NULL, 'user_1', '', 0)`
	if _, err := store.sqlDB.ExecContext(context.Background(), insert, "feed-1"); err != nil {
		t.Fatalf("seed feed: %v", err)
	}
	_, err := store.sqlDB.ExecContext(context.Background(), insert, "feed-1")
	if err == nil {
		t.Fatal("expected primary key constraint error")
	}

	wrapped := opaqueWrapError{cause: err}
	if !isFeedUniqueViolation(wrapped) {
		t.Fatalf("isFeedUniqueViolation(%T) = false, want true", wrapped)
	}
}

func TestIsFeedUniqueViolationFallsBackToMessage(t *testing.T) {
	if !isFeedUniqueViolation(asSQLiteErrorWithUniqueMessage{}) {
		t.Fatal("expected message fallback to detect unique violation")
	}
	if isFeedUniqueViolation(errors.New("disk I/O error")) {
		t.Fatal("unexpected unique violation for unrelated error")
	}
	if isFeedUniqueViolation(nil) {
		t.Fatal("nil error should not be a unique violation")
	}
}
