package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lumina-photos/lumina-backend/pkg/db/models"
)

const maxErrorLen = 1024

var eventAggregateColumns = []clause.Column{
	{Name: "event_type"},
	{Name: "aggregate_type"},
	{Name: "aggregate_id"},
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// InsertOnce adds row unless one already exists for the same event type and
// aggregate. It reports whether a row was written.
func (r *Repository) InsertOnce(tx *gorm.DB, row *models.OutboxEvent) (bool, error) {
	if tx == nil {
		return false, errTxRequired
	}
	res := tx.Clauses(clause.OnConflict{Columns: eventAggregateColumns, DoNothing: true}).Create(row)
	return res.RowsAffected > 0, res.Error
}

// Claim locks up to limit unpublished rows that still have attempts left,
// oldest first. On Postgres concurrent publishers skip each other's rows.
func (r *Repository) Claim(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	q := tx.Where("published_at IS NULL")
	if maxAttempts > 0 {
		q = q.Where("attempt_count < ?", maxAttempts)
	}
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var rows []models.OutboxEvent
	err := q.Order("created_at ASC").Order("id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublished(tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{"published_at": at.UTC(), "last_error": nil}).Error
}

// RecordFailure stores cause and counts the attempt. A parked row has its
// attempt count raised to maxAttempts so Claim never returns it again.
func (r *Repository) RecordFailure(tx *gorm.DB, id uuid.UUID, cause error, park bool, maxAttempts int) error {
	attempts := gorm.Expr("attempt_count + 1")
	if park {
		attempts = gorm.Expr("?", maxAttempts)
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    truncateError(cause),
			"attempt_count": attempts,
		}).Error
}

// DeletePublishedBefore removes published events older than cutoff. Parked
// rows are kept for inspection.
func (r *Repository) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	conn := r.db
	if tx != nil {
		conn = tx
	}
	res := conn.WithContext(ctx).
		Where("published_at IS NOT NULL AND published_at < ?", cutoff.UTC()).
		Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

// CountParked counts undelivered rows the publisher stopped retrying.
func (r *Repository) CountParked(ctx context.Context, tx *gorm.DB, maxAttempts int) (int64, error) {
	conn := r.db
	if tx != nil {
		conn = tx
	}
	var n int64
	err := conn.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("published_at IS NULL AND attempt_count >= ?", maxAttempts).
		Count(&n).Error
	return n, err
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
