package db

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Handle is a process-wide cached connection to the durable store. The
// connection is established lazily on first use and reused by every caller
// until Reset; concurrent first callers are collapsed into a single dial by
// the singleflight group.
type Handle struct {
	driver string
	dsn    string

	mu    sync.RWMutex
	db    *gorm.DB
	group singleflight.Group
}

func NewHandle(driver, dsn string) *Handle {
	return &Handle{driver: driver, dsn: dsn}
}

// DB returns the shared connection, dialing it if it has not been
// established yet. A failed dial leaves the handle empty so the next caller
// retries.
func (h *Handle) DB() (*gorm.DB, error) {
	h.mu.RLock()
	db := h.db
	h.mu.RUnlock()
	if db != nil {
		return db, nil
	}

	v, err, _ := h.group.Do("connect", func() (any, error) {
		h.mu.RLock()
		existing := h.db
		h.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		opened, err := OpenGorm(h.driver, h.dsn)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		h.mu.Lock()
		h.db = opened
		h.mu.Unlock()
		return opened, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*gorm.DB), nil
}

// Reset drops the cached connection so the next DB call re-dials. Called
// after a store failure that indicates a broken connection.
func (h *Handle) Reset() {
	h.mu.Lock()
	old := h.db
	h.db = nil
	h.mu.Unlock()

	if old != nil {
		if sqlDB, err := old.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// Close releases the cached connection, if any.
func (h *Handle) Close() error {
	h.mu.Lock()
	old := h.db
	h.db = nil
	h.mu.Unlock()

	if old == nil {
		return nil
	}
	sqlDB, err := old.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}
