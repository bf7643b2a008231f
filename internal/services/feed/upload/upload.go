// Package upload turns submitted feed form data into stored feeds.
package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/snapfeed/internal/platform/id"
	"github.com/louisbranch/snapfeed/internal/services/feed/media"
	"github.com/louisbranch/snapfeed/internal/services/feed/storage"
)

// ErrEmptyFeed reports a submission with neither text nor images.
var ErrEmptyFeed = errors.New("feed needs content or at least one image")

// FeedFormData is the raw upload form: text, image files and free-form
// hashtag text.
type FeedFormData struct {
	Content  string
	Images   []media.File
	Hashtags string
}

// Feeds is the persistence surface the upload flow writes through.
type Feeds interface {
	GetCurrentUser(ctx context.Context) (storage.Creator, error)
	SaveFeed(ctx context.Context, feed storage.Feed) error
}

// Uploader builds and saves feeds from form submissions.
type Uploader struct {
	feeds   Feeds
	encoder media.Encoder
	newID   func() (string, error)
	now     func() time.Time
}

// New returns an Uploader writing to feeds. maxImageBytes caps each image;
// zero disables the cap.
func New(feeds Feeds, maxImageBytes int64) *Uploader {
	return &Uploader{
		feeds:   feeds,
		encoder: media.Encoder{MaxBytes: maxImageBytes},
		newID:   id.NewID,
		now:     time.Now,
	}
}

// Submit encodes the images, authors the feed as the current user and saves
// it. The returned feed matches what a later read yields, so CreatedAt is
// kept at millisecond precision.
func (u *Uploader) Submit(ctx context.Context, form FeedFormData) (storage.Feed, error) {
	if u == nil || u.feeds == nil {
		return storage.Feed{}, fmt.Errorf("uploader is not configured")
	}
	content := strings.TrimSpace(form.Content)
	if content == "" && len(form.Images) == 0 {
		return storage.Feed{}, ErrEmptyFeed
	}

	imageURLs, err := u.encoder.FilesToBase64(ctx, form.Images)
	if err != nil {
		return storage.Feed{}, fmt.Errorf("encode images: %w", err)
	}
	creator, err := u.feeds.GetCurrentUser(ctx)
	if err != nil {
		return storage.Feed{}, fmt.Errorf("resolve current user: %w", err)
	}
	feedID, err := u.newID()
	if err != nil {
		return storage.Feed{}, err
	}

	feed := storage.Feed{
		ID:        feedID,
		Content:   content,
		ImageURLs: imageURLs,
		Hashtags:  ParseHashtags(form.Hashtags),
		Creator:   creator,
		CreatedAt: u.now().UTC().Truncate(time.Millisecond),
	}
	if err := u.feeds.SaveFeed(ctx, feed); err != nil {
		return storage.Feed{}, fmt.Errorf("save feed: %w", err)
	}
	return feed, nil
}

// ParseHashtags splits free-form hashtag text on whitespace and commas,
// strips leading '#', and drops blanks and repeats. It returns nil when no tag
// remains.
func ParseHashtags(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	var tags []string
	seen := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		tag := strings.TrimLeft(field, "#")
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}
