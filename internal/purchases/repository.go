// Package purchases is the purchase ledger: pending rows created at checkout,
// tagged with the gateway reference, and moved to a terminal status once.
package purchases

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumina-photos/lumina-backend/internal/reference"
	"github.com/lumina-photos/lumina-backend/pkg/db/models"
	"github.com/lumina-photos/lumina-backend/pkg/enums"
)

// Repository is the purchase ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreatePending(ctx context.Context, rows []models.Purchase) ([]uuid.UUID, error)
	TagWithReference(ctx context.Context, ids []uuid.UUID, ref reference.Reference) error
	// UpdateStatus moves each id still pending to status and returns the ids
	// that actually moved. Rows already terminal are skipped without error.
	UpdateStatus(ctx context.Context, ids []uuid.UUID, status enums.PurchaseStatus) ([]uuid.UUID, error)
	ResolveByReference(ctx context.Context, ref reference.Reference, gatewayPaymentID string) ([]models.Purchase, error)
	DeleteBatch(ctx context.Context, ids []uuid.UUID) error
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Purchase, error)
	ListPendingPaymentIDs(ctx context.Context, createdBefore, createdAfter time.Time, limit int) ([]string, error)
	ListUntaggedPendingReferences(ctx context.Context, createdBefore, createdAfter time.Time, limit int) ([]string, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreatePending(ctx context.Context, rows []models.Purchase) ([]uuid.UUID, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	for i := range rows {
		if rows[i].ID == uuid.Nil {
			rows[i].ID = uuid.New()
		}
		rows[i].Status = enums.PurchaseStatusPending
	}
	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return ids, nil
}

func (r *repository) TagWithReference(ctx context.Context, ids []uuid.UUID, ref reference.Reference) error {
	if len(ids) == 0 {
		return nil
	}
	updates := map[string]any{
		"gateway_reference": ref.String(),
		"reference_kind":    ref.Kind,
		"batch_size":        len(ids),
		"updated_at":        time.Now().UTC(),
	}
	if ref.BatchTag != "" {
		updates["batch_tag"] = ref.BatchTag
	}
	if ref.GatewayPaymentID != "" {
		updates["gateway_payment_id"] = ref.GatewayPaymentID
	}
	return r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("id IN ?", ids).
		Updates(updates).Error
}

func (r *repository) UpdateStatus(ctx context.Context, ids []uuid.UUID, status enums.PurchaseStatus) ([]uuid.UUID, error) {
	if _, changed, err := Transition(enums.PurchaseStatusPending, status); err != nil || !changed {
		return nil, err
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"status":     status,
		"updated_at": now,
	}
	if status == enums.PurchaseStatusCompleted {
		updates["completed_at"] = now
	}

	moved := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		res := r.db.WithContext(ctx).
			Model(&models.Purchase{}).
			Where("id = ? AND status = ?", id, enums.PurchaseStatusPending).
			Updates(updates)
		if res.Error != nil {
			return moved, res.Error
		}
		if res.RowsAffected > 0 {
			moved = append(moved, id)
		}
	}
	return moved, nil
}

// ResolveByReference tries, in order, the batch tag, the gateway payment id and
// the literal purchase ids, returning the first tier that yields rows.
func (r *repository) ResolveByReference(ctx context.Context, ref reference.Reference, gatewayPaymentID string) ([]models.Purchase, error) {
	if gatewayPaymentID == "" {
		gatewayPaymentID = ref.GatewayPaymentID
	}

	if ref.IsBatch() {
		rows, err := r.findByColumnOrWire(ctx, "batch_tag", ref.BatchTag, "%"+escapeLike(ref.BatchTag)+"%")
		if err != nil || len(rows) > 0 {
			return rows, err
		}
	}

	if gatewayPaymentID != "" {
		rows, err := r.findByColumnOrWire(ctx, "gateway_payment_id", gatewayPaymentID, "%"+escapeLike(reference.GatewayMarker+gatewayPaymentID))
		if err != nil || len(rows) > 0 {
			return rows, err
		}
	}

	ids := make([]uuid.UUID, 0, len(ref.PurchaseIDs))
	for _, raw := range ref.PurchaseIDs {
		if id, err := uuid.Parse(raw); err == nil {
			ids = append(ids, id)
		}
	}
	return r.FindByIDs(ctx, ids)
}

// findByColumnOrWire matches the structured column first, then rows written
// before the structured columns existed through the wire format.
func (r *repository) findByColumnOrWire(ctx context.Context, column, value, pattern string) ([]models.Purchase, error) {
	var rows []models.Purchase
	if err := r.db.WithContext(ctx).
		Where(column+" = ?", value).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return rows, nil
	}
	if err := r.db.WithContext(ctx).
		Where(column+" IS NULL").
		Where(`gateway_reference LIKE ? ESCAPE '\'`, pattern).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) DeleteBatch(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("id IN ? AND status = ?", ids, enums.PurchaseStatusPending).
		Delete(&models.Purchase{}).Error
}

func (r *repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Purchase, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Purchase
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListPendingPaymentIDs returns distinct gateway payment ids that still have
// pending rows created inside the window, oldest first so a payment that never
// converges cannot keep others out of the batch.
func (r *repository) ListPendingPaymentIDs(ctx context.Context, createdBefore, createdAfter time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.pendingWindow(ctx, createdBefore, createdAfter, limit).
		Where("gateway_payment_id IS NOT NULL AND gateway_payment_id <> ''").
		Group("gateway_payment_id").
		Order("MIN(created_at) ASC, gateway_payment_id ASC").
		Pluck("gateway_payment_id", &ids).Error
	return ids, err
}

// ListUntaggedPendingReferences returns references of pending rows whose charge
// id was never stored, e.g. after a crash right after the gateway call.
func (r *repository) ListUntaggedPendingReferences(ctx context.Context, createdBefore, createdAfter time.Time, limit int) ([]string, error) {
	var refs []string
	err := r.pendingWindow(ctx, createdBefore, createdAfter, limit).
		Where("gateway_payment_id IS NULL").
		Where("gateway_reference IS NOT NULL AND gateway_reference <> ''").
		Group("gateway_reference").
		Order("MIN(created_at) ASC, gateway_reference ASC").
		Pluck("gateway_reference", &refs).Error
	return refs, err
}

func (r *repository) pendingWindow(ctx context.Context, createdBefore, createdAfter time.Time, limit int) *gorm.DB {
	if limit <= 0 {
		limit = 100
	}
	q := r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("status = ?", enums.PurchaseStatusPending).
		Where("created_at <= ?", createdBefore.UTC())
	if !createdAfter.IsZero() {
		q = q.Where("created_at >= ?", createdAfter.UTC())
	}
	return q.Limit(limit)
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}
