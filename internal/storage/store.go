// Package storage defines the durable record store shared by the API server
// and the batch jobs.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/civic-sage/backend/internal/storage/models"
)

// ErrDuplicateRecord is returned when a record with the same ID was already
// written. Records are append-only.
var ErrDuplicateRecord = errors.New("record already exists")

// RecordStore keys records by official and timestamp. Range queries are
// half-open: [from, to).
type RecordStore interface {
	PutSession(ctx context.Context, rec *models.SessionRecord) error
	SessionsByOfficial(ctx context.Context, official string, from, to time.Time) ([]models.SessionRecord, error)
	PutReport(ctx context.Context, rep *models.MessageReport) error
	ReportsByOfficial(ctx context.Context, official string, from, to time.Time) ([]models.MessageReport, error)
	Close() error
}
