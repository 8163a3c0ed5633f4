// Package journal records the outcome of every processed document pair and
// keeps the persistent AUTOINCREMENT counters.
package journal

import (
	"context"
	"errors"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
)

// ErrUnknownCounter is returned when a counter to change does not exist.
var ErrUnknownCounter = errors.New("unknown counter")

// Journal stores processing records. Begin is called when a pair is
// dequeued, Finish once its exports were attempted.
type Journal interface {
	Begin(ctx context.Context, rec *models.ProcessingRecord) error
	Finish(ctx context.Context, rec *models.ProcessingRecord) error
	// Recent returns up to n records, newest first.
	Recent(ctx context.Context, n int) ([]models.ProcessingRecord, error)
	Close() error
}

// Counter is one named AUTOINCREMENT sequence.
type Counter struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// Nop discards records. It is used when no journal is configured.
type Nop struct{}

func (Nop) Begin(context.Context, *models.ProcessingRecord) error  { return nil }
func (Nop) Finish(context.Context, *models.ProcessingRecord) error { return nil }
func (Nop) Recent(context.Context, int) ([]models.ProcessingRecord, error) {
	return nil, nil
}
func (Nop) Close() error { return nil }
