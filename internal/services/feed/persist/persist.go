// Package persist exposes the feed and user operations used by the upload and
// display flows on top of a lazily opened Database.
package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/snapfeed/internal/platform/logging"
	"github.com/louisbranch/snapfeed/internal/services/feed/storage"
	"github.com/sirupsen/logrus"
)

// DefaultUserName names the local user when none is configured.
const DefaultUserName = "나"

// Options tune a Service. Zero values select defaults.
type Options struct {
	UserName string
	Now      func() time.Time
	Logger   *logrus.Logger
}

// Service implements the feed persistence operations.
type Service struct {
	db       *Database
	userName string
	now      func() time.Time
	log      *logrus.Logger

	// userMu serializes first-use creation of the local user.
	userMu sync.Mutex
}

// NewService returns a Service backed by db.
func NewService(db *Database, opts Options) *Service {
	svc := &Service{
		db:       db,
		userName: strings.TrimSpace(opts.UserName),
		now:      opts.Now,
		log:      opts.Logger,
	}
	if svc.userName == "" {
		svc.userName = DefaultUserName
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.log == nil {
		svc.log = logging.Discard()
	}
	return svc
}

// GetCurrentUser returns the stored local user, creating and persisting one
// with a time-derived id on first use.
func (s *Service) GetCurrentUser(ctx context.Context) (storage.Creator, error) {
	store, err := s.db.Store(ctx)
	if err != nil {
		return storage.Creator{}, err
	}

	s.userMu.Lock()
	defer s.userMu.Unlock()

	user, err := store.GetUser(ctx)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Creator{}, err
	}

	user = storage.Creator{
		ID:   fmt.Sprintf("user_%d", s.now().UnixMilli()),
		Name: s.userName,
	}
	if err := store.PutUser(ctx, user); err != nil {
		return storage.Creator{}, err
	}
	s.log.WithField("user_id", user.ID).Info("created local user")
	return user, nil
}

// GetFeeds returns every feed, newest first.
func (s *Service) GetFeeds(ctx context.Context) ([]storage.Feed, error) {
	store, err := s.db.Store(ctx)
	if err != nil {
		return nil, err
	}
	return store.ListFeeds(ctx)
}

// SaveFeed adds feed. A feed with the same id fails with
// storage.ErrAlreadyExists; nothing is overwritten.
func (s *Service) SaveFeed(ctx context.Context, feed storage.Feed) error {
	store, err := s.db.Store(ctx)
	if err != nil {
		return err
	}
	if err := store.PutFeed(ctx, feed); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"feed_id":    feed.ID,
		"creator_id": feed.Creator.ID,
		"images":     len(feed.ImageURLs),
	}).Debug("saved feed")
	return nil
}

// GetMyFeeds returns the subset of GetFeeds whose creator id equals userID.
func (s *Service) GetMyFeeds(ctx context.Context, userID string) ([]storage.Feed, error) {
	store, err := s.db.Store(ctx)
	if err != nil {
		return nil, err
	}
	return store.ListFeedsByCreator(ctx, userID)
}

// GetFeedByID returns the feed with id. A missing feed reports ok=false with a
// nil error.
func (s *Service) GetFeedByID(ctx context.Context, id string) (storage.Feed, bool, error) {
	store, err := s.db.Store(ctx)
	if err != nil {
		return storage.Feed{}, false, err
	}
	feed, err := store.GetFeed(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Feed{}, false, nil
	}
	if err != nil {
		return storage.Feed{}, false, err
	}
	return feed, true, nil
}
