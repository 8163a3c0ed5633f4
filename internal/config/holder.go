package config

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
)

// Holder publishes the active snapshot. Readers call Current at the top of
// each unit of work; Reload swaps in a new snapshot only after it validated.
type Holder struct {
	store   Store
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex
}

// NewHolder loads the initial snapshot.
func NewHolder(store Store) (*Holder, error) {
	s, err := store.Load()
	if err != nil {
		return nil, err
	}
	h := &Holder{store: store}
	h.current.Store(s)
	return h, nil
}

// NewStaticHolder wraps a fixed snapshot, mainly for tests and validation runs.
func NewStaticHolder(s *Snapshot) *Holder {
	h := &Holder{store: staticStore{s}}
	h.current.Store(s)
	return h
}

func (h *Holder) Current() *Snapshot { return h.current.Load() }

// Reload loads a fresh snapshot. On failure the previous snapshot stays
// active and the error is a config_reload_failure.
func (h *Holder) Reload(ctx context.Context) (*Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, models.NewError(models.KindConfigReload, "reload", err)
	}
	s, err := h.store.Load()
	if err != nil {
		return nil, models.NewError(models.KindConfigReload, "load", err)
	}
	h.current.Store(s)
	return s, nil
}

// Swap replaces the snapshot directly.
func (h *Holder) Swap(s *Snapshot) error {
	if err := Normalize(s); err != nil {
		return fmt.Errorf("swap config: %w", err)
	}
	h.mu.Lock()
	h.current.Store(s)
	h.mu.Unlock()
	return nil
}

type staticStore struct{ s *Snapshot }

func (s staticStore) Load() (*Snapshot, error) { return s.s, nil }
func (s staticStore) Save(*Snapshot) error     { return nil }
