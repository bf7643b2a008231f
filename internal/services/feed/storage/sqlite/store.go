// Package sqlite provides a SQLite-backed feed storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/snapfeed/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/snapfeed/internal/services/feed/storage"
	"github.com/louisbranch/snapfeed/internal/services/feed/storage/sqlite/migrations"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const tracerName = "github.com/louisbranch/snapfeed/internal/services/feed/storage/sqlite"

const feedColumns = `id, content, image_urls, hashtags, creator_id, creator_name, created_at`

// Store persists feeds and the local user in SQLite.
type Store struct {
	sqlDB  *sql.DB
	tracer trace.Tracer
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite feed store at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, tracer: otel.Tracer(tracerName)}, nil
}

// AppliedMigrations lists the schema migrations recorded in this database,
// in the order they ran.
func (s *Store) AppliedMigrations(ctx context.Context) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return sqlitemigrate.Applied(ctx, s.sqlDB)
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutFeed inserts one feed keyed by its id exactly as given. An existing id
// fails with storage.ErrAlreadyExists.
func (s *Store) PutFeed(ctx context.Context, feed storage.Feed) (err error) {
	if err := s.ready(ctx); err != nil {
		return err
	}
	ctx, span := s.start(ctx, "PutFeed", attribute.String("feed.id", feed.ID))
	defer func() { endSpan(span, err) }()

	imageURLs, hashtags, err := encodeLists(feed)
	if err != nil {
		return fmt.Errorf("put feed: %w", err)
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO feeds (`+feedColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		feed.ID,
		feed.Content,
		imageURLs,
		hashtags,
		feed.Creator.ID,
		feed.Creator.Name,
		toMillis(feed.CreatedAt),
	)
	if err != nil {
		if isFeedUniqueViolation(err) {
			return fmt.Errorf("put feed %q: %w", feed.ID, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("put feed: %w", err)
	}
	return nil
}

// GetFeed returns the feed stored under exactly id, or storage.ErrNotFound.
func (s *Store) GetFeed(ctx context.Context, id string) (feed storage.Feed, err error) {
	if err := s.ready(ctx); err != nil {
		return storage.Feed{}, err
	}
	ctx, span := s.start(ctx, "GetFeed", attribute.String("feed.id", id))
	defer func() { endSpan(span, err) }()

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id)
	feed, err = scanFeed(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Feed{}, storage.ErrNotFound
		}
		return storage.Feed{}, fmt.Errorf("get feed: %w", err)
	}
	return feed, nil
}

// ListFeeds returns every feed ordered by created_at descending. Equal
// timestamps are ordered by id.
func (s *Store) ListFeeds(ctx context.Context) (feeds []storage.Feed, err error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	ctx, span := s.start(ctx, "ListFeeds")
	defer func() { endSpan(span, err) }()

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+feedColumns+`
		 FROM feeds
		 ORDER BY created_at DESC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	feeds, err = collectFeeds(rows)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	span.SetAttributes(attribute.Int("feed.count", len(feeds)))
	return feeds, nil
}

// ListFeedsByCreator returns the feeds whose creator id is exactly creatorID,
// newest first.
func (s *Store) ListFeedsByCreator(ctx context.Context, creatorID string) (feeds []storage.Feed, err error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	ctx, span := s.start(ctx, "ListFeedsByCreator", attribute.String("creator.id", creatorID))
	defer func() { endSpan(span, err) }()

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+feedColumns+`
		 FROM feeds
		 WHERE creator_id = ?
		 ORDER BY created_at DESC, id ASC`,
		creatorID,
	)
	if err != nil {
		return nil, fmt.Errorf("list feeds by creator: %w", err)
	}
	feeds, err = collectFeeds(rows)
	if err != nil {
		return nil, fmt.Errorf("list feeds by creator: %w", err)
	}
	span.SetAttributes(attribute.Int("feed.count", len(feeds)))
	return feeds, nil
}

// GetUser returns the first stored user, or storage.ErrNotFound.
func (s *Store) GetUser(ctx context.Context) (user storage.Creator, err error) {
	if err := s.ready(ctx); err != nil {
		return storage.Creator{}, err
	}
	ctx, span := s.start(ctx, "GetUser")
	defer func() { endSpan(span, err) }()

	row := s.sqlDB.QueryRowContext(ctx, `SELECT id, name FROM users ORDER BY rowid ASC LIMIT 1`)
	if err := row.Scan(&user.ID, &user.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Creator{}, storage.ErrNotFound
		}
		return storage.Creator{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// PutUser upserts one user by id.
func (s *Store) PutUser(ctx context.Context, user storage.Creator) (err error) {
	if err := s.ready(ctx); err != nil {
		return err
	}
	ctx, span := s.start(ctx, "PutUser", attribute.String("user.id", user.ID))
	defer func() { endSpan(span, err) }()

	userID := strings.TrimSpace(user.ID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO users (id, name, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name`,
		userID,
		user.Name,
		toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func (s *Store) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := s.tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	attrs = append(attrs, attribute.String("db.system", "sqlite"))
	return tracer.Start(ctx, "feedstore."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (storage.Feed, error) {
	var (
		feed      storage.Feed
		imageURLs string
		hashtags  sql.NullString
		createdAt int64
	)
	if err := row.Scan(
		&feed.ID,
		&feed.Content,
		&imageURLs,
		&hashtags,
		&feed.Creator.ID,
		&feed.Creator.Name,
		&createdAt,
	); err != nil {
		return storage.Feed{}, err
	}
	if err := json.Unmarshal([]byte(imageURLs), &feed.ImageURLs); err != nil {
		return storage.Feed{}, fmt.Errorf("decode image urls for feed %s: %w", feed.ID, err)
	}
	if feed.ImageURLs == nil {
		feed.ImageURLs = []string{}
	}
	if hashtags.Valid {
		if err := json.Unmarshal([]byte(hashtags.String), &feed.Hashtags); err != nil {
			return storage.Feed{}, fmt.Errorf("decode hashtags for feed %s: %w", feed.ID, err)
		}
		if feed.Hashtags == nil {
			feed.Hashtags = []string{}
		}
	}
	feed.CreatedAt = fromMillis(createdAt)
	return feed, nil
}

func collectFeeds(rows *sql.Rows) ([]storage.Feed, error) {
	defer rows.Close()
	feeds := make([]storage.Feed, 0)
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return feeds, nil
}

// encodeLists serializes image URLs and hashtags as JSON text. Nil hashtags
// stay NULL so the optional field round-trips as absent.
func encodeLists(feed storage.Feed) (string, sql.NullString, error) {
	imageURLs := feed.ImageURLs
	if imageURLs == nil {
		imageURLs = []string{}
	}
	encodedImages, err := json.Marshal(imageURLs)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("encode image urls: %w", err)
	}
	if feed.Hashtags == nil {
		return string(encodedImages), sql.NullString{}, nil
	}
	encodedTags, err := json.Marshal(feed.Hashtags)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("encode hashtags: %w", err)
	}
	return string(encodedImages), sql.NullString{String: string(encodedTags), Valid: true}, nil
}

func isFeedUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "constraint failed") && strings.Contains(message, "feeds.id")
}

var _ storage.Store = (*Store)(nil)
