// Package storage defines persistence contracts for feed and user records.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates an add collided with an existing record id.
var ErrAlreadyExists = errors.New("record already exists")

// Creator is the local application user who authors feeds.
type Creator struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Feed is one user post. Records are immutable once stored.
type Feed struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	ImageURLs []string  `json:"imageUrls"`
	Hashtags  []string  `json:"hashtags,omitempty"`
	Creator   Creator   `json:"creator"`
	CreatedAt time.Time `json:"createdAt"`
}

// FeedStore persists feed records with add-only semantics.
type FeedStore interface {
	// PutFeed inserts feed and fails with ErrAlreadyExists when the id is taken.
	PutFeed(ctx context.Context, feed Feed) error
	GetFeed(ctx context.Context, id string) (Feed, error)
	// ListFeeds returns every feed, newest first, equal timestamps by id.
	ListFeeds(ctx context.Context) ([]Feed, error)
	// ListFeedsByCreator is ListFeeds restricted to one creator id.
	ListFeedsByCreator(ctx context.Context, creatorID string) ([]Feed, error)
}

// UserStore persists the local user record.
type UserStore interface {
	// GetUser returns the first stored user, or ErrNotFound when none exists.
	GetUser(ctx context.Context) (Creator, error)
	// PutUser upserts user by id.
	PutUser(ctx context.Context, user Creator) error
}

// Store combines every record collection behind one closable handle.
type Store interface {
	FeedStore
	UserStore
	Close() error
}
