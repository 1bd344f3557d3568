package deliveries

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doorstep-ai/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DeliveryHistory is the archived record of a completed or cancelled
// delivery. Live state never lands here; rows are written exactly once, at
// the moment the status turns terminal.
type DeliveryHistory struct {
	ID              string                `json:"id" gorm:"primaryKey;column:id"`
	UserID          string                `json:"user_id" gorm:"column:user_id;index"`
	Platform        models.Platform       `json:"platform" gorm:"column:platform"`
	ExternalOrderID string                `json:"external_order_id" gorm:"column:external_order_id"`
	FinalStatus     models.DeliveryStatus `json:"final_status" gorm:"column:final_status"`
	Address         string                `json:"address" gorm:"column:address"`
	ItemCount       int                   `json:"item_count" gorm:"column:item_count"`
	Total           float64               `json:"total" gorm:"column:total"`
	Currency        string                `json:"currency" gorm:"column:currency"`
	OrderedAt       *time.Time            `json:"ordered_at,omitempty" gorm:"column:ordered_at"`
	CompletedAt     time.Time             `json:"completed_at" gorm:"column:completed_at;index"`
	Timeline        datatypes.JSON        `json:"timeline,omitempty" gorm:"column:timeline"`
	CreatedAt       time.Time             `json:"created_at" gorm:"column:created_at"`
}

func (DeliveryHistory) TableName() string {
	return "delivery_history"
}

type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&DeliveryHistory{})
}

// Archive writes the terminal record. Conflicts on the delivery id are
// ignored so a webhook and a poll racing on the same terminal event produce
// one row.
func (r *HistoryRepository) Archive(ctx context.Context, entry Entry) error {
	d := entry.Delivery

	timeline, err := json.Marshal(entry.Timeline)
	if err != nil {
		return fmt.Errorf("marshaling timeline: %w", err)
	}

	completedAt := time.Now().UTC()
	if d.Status == models.StatusDelivered && d.Timestamps.DeliveredAt != nil {
		completedAt = *d.Timestamps.DeliveredAt
	}
	if d.Status == models.StatusCancelled && d.Timestamps.CancelledAt != nil {
		completedAt = *d.Timestamps.CancelledAt
	}

	row := DeliveryHistory{
		ID:              d.ID,
		UserID:          d.UserID,
		Platform:        d.Platform,
		ExternalOrderID: d.ExternalOrderID,
		FinalStatus:     d.Status,
		Address:         d.Destination.Address,
		ItemCount:       d.Order.ItemCount,
		Total:           d.Order.Total,
		Currency:        d.Order.Currency,
		OrderedAt:       d.Timestamps.OrderedAt,
		CompletedAt:     completedAt,
		Timeline:        datatypes.JSON(timeline),
		CreatedAt:       time.Now().UTC(),
	}

	result := r.db.WithContext(ctx).
		Where("id = ?", row.ID).
		FirstOrCreate(&row)
	return result.Error
}

func (r *HistoryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]DeliveryHistory, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []DeliveryHistory
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("completed_at desc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
