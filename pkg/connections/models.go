package connections

import (
	"time"

	"github.com/doorstep-ai/platform/pkg/common/models"
	"gorm.io/datatypes"
)

// Connection is the persisted (user, platform) link. Token columns hold
// vault-sealed ciphertext only; plaintext never reaches the database.
type Connection struct {
	ID                    string                  `json:"id" gorm:"primaryKey;column:id"`
	UserID                string                  `json:"user_id" gorm:"column:user_id;uniqueIndex:idx_user_platform"`
	Platform              models.Platform         `json:"platform" gorm:"column:platform;uniqueIndex:idx_user_platform"`
	EncryptedAccessToken  string                  `json:"-" gorm:"column:encrypted_access_token"`
	EncryptedRefreshToken string                  `json:"-" gorm:"column:encrypted_refresh_token"`
	EncryptedSession      string                  `json:"-" gorm:"column:encrypted_session"`
	ExpiresAt             *time.Time              `json:"expires_at,omitempty" gorm:"column:expires_at"`
	Status                models.ConnectionStatus `json:"status" gorm:"column:status;index"`
	LastSyncAt            *time.Time              `json:"last_sync_at,omitempty" gorm:"column:last_sync_at"`
	Metadata              datatypes.JSONMap       `json:"metadata,omitempty" gorm:"column:metadata"`
	CreatedAt             time.Time               `json:"created_at" gorm:"column:created_at"`
	UpdatedAt             time.Time               `json:"updated_at" gorm:"column:updated_at"`
}

func (Connection) TableName() string {
	return "platform_connections"
}

// Info is the wire shape handed to the presentation layer: connection
// health without credential material.
type Info struct {
	ID          string                  `json:"id"`
	Platform    models.Platform         `json:"platform"`
	DisplayName string                  `json:"display_name"`
	Status      models.ConnectionStatus `json:"status"`
	ExpiresAt   *time.Time              `json:"expires_at,omitempty"`
	LastSyncAt  *time.Time              `json:"last_sync_at,omitempty"`
	OAuth       bool                    `json:"supports_oauth"`
	Webhooks    bool                    `json:"supports_webhooks"`
}
