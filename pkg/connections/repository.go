package connections

import (
	"context"
	"errors"
	"time"

	"github.com/doorstep-ai/platform/pkg/common/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("connection not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Connection{})
}

// Upsert enforces the one-connection-per-(user, platform) invariant: a
// reconnect replaces credentials and status in place.
func (r *Repository) Upsert(ctx context.Context, conn *Connection) error {
	now := time.Now().UTC()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"encrypted_access_token",
			"encrypted_refresh_token",
			"encrypted_session",
			"expires_at",
			"status",
			"metadata",
			"updated_at",
		}),
	}).Create(conn).Error
}

func (r *Repository) Get(ctx context.Context, userID string, platform models.Platform) (*Connection, error) {
	var conn Connection
	result := r.db.WithContext(ctx).
		First(&conn, "user_id = ? AND platform = ?", userID, platform)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &conn, result.Error
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Connection, error) {
	var conn Connection
	result := r.db.WithContext(ctx).First(&conn, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &conn, result.Error
}

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]Connection, error) {
	var conns []Connection
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status <> ?", userID, models.ConnectionDisconnected).
		Order("platform asc").
		Find(&conns).Error
	return conns, err
}

// ListExpiring returns refreshable connections whose tokens lapse before
// the given instant. Feeds the background refresh sweep.
func (r *Repository) ListExpiring(ctx context.Context, before time.Time) ([]Connection, error) {
	var conns []Connection
	err := r.db.WithContext(ctx).
		Where("status = ? AND encrypted_refresh_token <> '' AND expires_at IS NOT NULL AND expires_at < ?",
			models.ConnectionConnected, before).
		Find(&conns).Error
	return conns, err
}

func (r *Repository) UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus) error {
	return r.db.WithContext(ctx).Model(&Connection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *Repository) UpdateTokens(ctx context.Context, id, encAccess, encRefresh string, expiresAt *time.Time) error {
	updates := map[string]interface{}{
		"encrypted_access_token": encAccess,
		"expires_at":             expiresAt,
		"status":                 models.ConnectionConnected,
		"updated_at":             time.Now().UTC(),
	}
	if encRefresh != "" {
		updates["encrypted_refresh_token"] = encRefresh
	}
	return r.db.WithContext(ctx).Model(&Connection{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *Repository) TouchSync(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&Connection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_sync_at": now,
			"updated_at":   now,
		}).Error
}

// Delete removes the row outright. Disconnect is a hard delete, not a
// soft one.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&Connection{}, "id = ?", id).Error
}
