package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/louisbranch/snapfeed/internal/services/feed/storage"
	"github.com/louisbranch/snapfeed/internal/services/feed/storage/sqlite"
)

// Opener opens the store backing a Database.
type Opener func(path string) (storage.Store, error)

// Database is an explicit, lazily opened handle on the feed store. The store
// is opened at most once, on first use; the outcome (including failure) is
// shared by every later caller.
type Database struct {
	path string
	open Opener

	once  sync.Once
	mu    sync.Mutex
	store storage.Store
	err   error
}

// NewDatabase returns a handle on the SQLite store at path.
func NewDatabase(path string) *Database {
	return NewDatabaseWithOpener(path, OpenSQLite)
}

// NewDatabaseWithOpener returns a handle that opens path with open.
func NewDatabaseWithOpener(path string, open Opener) *Database {
	return &Database{path: path, open: open}
}

// OpenSQLite creates the parent directory of path and opens a SQLite store.
func OpenSQLite(path string) (storage.Store, error) {
	store, err := OpenSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// OpenSQLiteStore is OpenSQLite returning the concrete store, which also
// reports schema migrations.
func OpenSQLiteStore(path string) (*sqlite.Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed sqlite store: %w", err)
	}
	return store, nil
}

// Store returns the opened store, opening it on the first call.
func (d *Database) Store(ctx context.Context) (storage.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d == nil || d.open == nil {
		return nil, fmt.Errorf("database is not configured")
	}
	d.once.Do(func() {
		store, err := d.open(d.path)
		d.mu.Lock()
		d.store, d.err = store, err
		d.mu.Unlock()
	})
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if d.store == nil {
		return nil, fmt.Errorf("database is closed")
	}
	return d.store, nil
}

// Close closes the store if it was opened. Later Store calls fail.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	// Consume the once so a Store call after Close cannot reopen.
	d.once.Do(func() {})
	d.mu.Lock()
	defer d.mu.Unlock()
	store := d.store
	d.store = nil
	if store == nil {
		return nil
	}
	return store.Close()
}
