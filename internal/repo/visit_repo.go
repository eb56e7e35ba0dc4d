package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

// CreateVisitReport inserts a field report.
func CreateVisitReport(ctx context.Context, db *gorm.DB, v *domain.VisitReport) error {
	v.GuidedAt = v.GuidedAt.UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(v).Error
}

// ListVisitReportsInRange returns a store's reports guided in [from, to),
// oldest first.
func ListVisitReportsInRange(ctx context.Context, db *gorm.DB, storeID string, from, to time.Time) ([]domain.VisitReport, error) {
	var out []domain.VisitReport
	err := db.WithContext(ctx).
		Where("store_id = ? AND guided_at >= ? AND guided_at < ?", storeID, from.UTC(), to.UTC()).
		Order("guided_at ASC, id ASC").
		Find(&out).Error
	return out, err
}
