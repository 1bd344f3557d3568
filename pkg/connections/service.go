package connections

import (
	"context"
	"fmt"
	"time"

	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/common/models"
	"github.com/doorstep-ai/platform/pkg/platforms"
	"github.com/doorstep-ai/platform/pkg/vault"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Store is the persistence surface the service needs; *Repository is the
// production implementation.
type Store interface {
	Upsert(ctx context.Context, conn *Connection) error
	Get(ctx context.Context, userID string, platform models.Platform) (*Connection, error)
	GetByID(ctx context.Context, id string) (*Connection, error)
	ListByUser(ctx context.Context, userID string) ([]Connection, error)
	ListExpiring(ctx context.Context, before time.Time) ([]Connection, error)
	UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus) error
	UpdateTokens(ctx context.Context, id, encAccess, encRefresh string, expiresAt *time.Time) error
	TouchSync(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type Service struct {
	registry      *platforms.Registry
	store         Store
	states        StateStore
	vault         *vault.Vault
	locker        RefreshLocker
	refreshGroup  singleflight.Group
	refreshWindow time.Duration
	lockTTL       time.Duration
}

func NewService(registry *platforms.Registry, store Store, states StateStore, v *vault.Vault, locker RefreshLocker, refreshWindow, lockTTL time.Duration) *Service {
	if refreshWindow <= 0 {
		refreshWindow = 5 * time.Minute
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Service{
		registry:      registry,
		store:         store,
		states:        states,
		vault:         v,
		locker:        locker,
		refreshWindow: refreshWindow,
		lockTTL:       lockTTL,
	}
}

func (s *Service) List(ctx context.Context, userID string) ([]Info, error) {
	conns, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(conns))
	for _, conn := range conns {
		info := Info{
			ID:         conn.ID,
			Platform:   conn.Platform,
			Status:     conn.Status,
			ExpiresAt:  conn.ExpiresAt,
			LastSyncAt: conn.LastSyncAt,
		}
		if adapter, err := s.registry.GetPlatform(conn.Platform); err == nil {
			info.DisplayName = adapter.DisplayName()
			info.OAuth = adapter.SupportsOAuth()
			info.Webhooks = adapter.SupportsWebhooks()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Active returns the connections worth polling: anything not disconnected.
// Expired and errored connections are included so a recovered upstream can
// heal them on the next successful fetch.
func (s *Service) Active(ctx context.Context, userID string) ([]Connection, error) {
	return s.store.ListByUser(ctx, userID)
}

// InitiateOAuth returns the upstream authorization URL carrying a
// single-use state nonce bound to (user, platform).
func (s *Service) InitiateOAuth(ctx context.Context, userID, platformKey string) (string, error) {
	adapter, err := s.registry.Get(platformKey)
	if err != nil {
		return "", err
	}
	if !adapter.SupportsOAuth() {
		return "", platforms.ErrCapabilityUnsupported
	}

	state, err := s.states.Create(ctx, userID, adapter.Platform())
	if err != nil {
		return "", fmt.Errorf("creating oauth state: %w", err)
	}
	return adapter.OAuthURL(userID, state)
}

// HandleCallback finishes the handshake: consumes the state nonce,
// exchanges the code, seals the tokens, and upserts the connection as
// connected.
func (s *Service) HandleCallback(ctx context.Context, code, state string) (models.Platform, error) {
	userID, platform, err := s.states.Consume(ctx, state)
	if err != nil {
		return "", err
	}

	adapter, err := s.registry.GetPlatform(platform)
	if err != nil {
		return platform, err
	}

	tokens, err := adapter.ExchangeCode(ctx, code)
	if err != nil {
		return platform, err
	}

	conn, err := s.sealedConnection(userID, platform, tokens, "")
	if err != nil {
		return platform, err
	}
	if err := s.store.Upsert(ctx, conn); err != nil {
		return platform, fmt.Errorf("persisting connection: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"user_id":  userID,
		"platform": platform,
	}).Info("platform connected")
	return platform, nil
}

// ConnectSession links an embedded-session platform from a captured
// browser session. The blob is validated upstream before it is sealed.
func (s *Service) ConnectSession(ctx context.Context, userID, platformKey, sessionBlob string) error {
	adapter, err := s.registry.Get(platformKey)
	if err != nil {
		return err
	}
	if adapter.SupportsOAuth() {
		return fmt.Errorf("platform %s uses oauth, not session capture", platformKey)
	}
	if sessionBlob == "" {
		return fmt.Errorf("session blob required")
	}

	creds := platforms.Credentials{UserID: userID, SessionBlob: sessionBlob}
	if err := adapter.TestConnection(ctx, creds); err != nil {
		return err
	}

	sealed, err := s.vault.Encrypt(sessionBlob)
	if err != nil {
		return fmt.Errorf("sealing session: %w", err)
	}

	conn := &Connection{
		ID:               uuid.New().String(),
		UserID:           userID,
		Platform:         adapter.Platform(),
		EncryptedSession: sealed,
		Status:           models.ConnectionConnected,
	}
	return s.store.Upsert(ctx, conn)
}

// Disconnect attempts upstream revocation, then hard-deletes the row.
// Revoke failure never blocks the local delete.
func (s *Service) Disconnect(ctx context.Context, userID, platformKey string) error {
	adapter, err := s.registry.Get(platformKey)
	if err != nil {
		return err
	}

	conn, err := s.store.Get(ctx, userID, adapter.Platform())
	if err != nil {
		return err
	}

	if creds, credErr := s.decryptCredentials(conn); credErr == nil {
		if revokeErr := adapter.RevokeToken(ctx, creds); revokeErr != nil {
			logger.WithPlatform(string(conn.Platform)).WithError(revokeErr).Warn("upstream revocation failed, disconnecting anyway")
		}
	}

	return s.store.Delete(ctx, conn.ID)
}

// CredentialsFor returns decrypted credentials, refreshing proactively
// when the token is inside the refresh window. The refresh is
// single-flighted: one upstream call per connection no matter how many
// concurrent callers need it.
func (s *Service) CredentialsFor(ctx context.Context, conn *Connection) (platforms.Credentials, error) {
	if s.needsRefresh(conn) {
		refreshed, err, _ := s.refreshGroup.Do(conn.ID, func() (interface{}, error) {
			return s.refresh(ctx, conn)
		})
		if err != nil {
			return platforms.Credentials{}, err
		}
		conn = refreshed.(*Connection)
	}
	return s.decryptCredentials(conn)
}

func (s *Service) needsRefresh(conn *Connection) bool {
	if conn.ExpiresAt == nil || conn.EncryptedRefreshToken == "" {
		return false
	}
	return time.Until(*conn.ExpiresAt) < s.refreshWindow
}

func (s *Service) refresh(ctx context.Context, conn *Connection) (*Connection, error) {
	acquired, err := s.locker.Acquire(ctx, conn.ID, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquiring refresh lock: %w", err)
	}
	if !acquired {
		// Another process holds the refresh; use its result once it
		// lands, or the current token if it has not yet.
		if current, readErr := s.store.GetByID(ctx, conn.ID); readErr == nil {
			return current, nil
		}
		return conn, nil
	}
	defer func() {
		if releaseErr := s.locker.Release(context.Background(), conn.ID); releaseErr != nil {
			logger.WithError(releaseErr).Warn("releasing refresh lock failed")
		}
	}()

	adapter, err := s.registry.GetPlatform(conn.Platform)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.vault.Decrypt(conn.EncryptedRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("unsealing refresh token: %w", err)
	}

	tokens, err := adapter.RefreshToken(ctx, refreshToken)
	if err != nil {
		// A dead refresh token marks the connection expired so the user
		// can be prompted to reconnect; other failures mark it errored.
		// Neither deletes the row.
		status := models.ConnectionError
		if platforms.IsTokenExpired(err) {
			status = models.ConnectionExpired
		}
		if statusErr := s.store.UpdateStatus(ctx, conn.ID, status); statusErr != nil {
			logger.WithError(statusErr).Error("updating connection status after refresh failure")
		}
		return nil, err
	}

	encAccess, err := s.vault.Encrypt(tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("sealing access token: %w", err)
	}
	encRefresh := ""
	if tokens.RefreshToken != "" {
		if encRefresh, err = s.vault.Encrypt(tokens.RefreshToken); err != nil {
			return nil, fmt.Errorf("sealing refresh token: %w", err)
		}
	}

	if err := s.store.UpdateTokens(ctx, conn.ID, encAccess, encRefresh, tokens.ExpiresAt); err != nil {
		return nil, fmt.Errorf("persisting refreshed tokens: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"connection_id": conn.ID,
		"platform":      conn.Platform,
	}).Info("token refreshed")

	updated := *conn
	updated.EncryptedAccessToken = encAccess
	if encRefresh != "" {
		updated.EncryptedRefreshToken = encRefresh
	}
	updated.ExpiresAt = tokens.ExpiresAt
	updated.Status = models.ConnectionConnected
	return &updated, nil
}

// ForceRefresh refreshes regardless of the expiry window.
func (s *Service) ForceRefresh(ctx context.Context, userID, platformKey string) error {
	adapter, err := s.registry.Get(platformKey)
	if err != nil {
		return err
	}
	if !adapter.SupportsOAuth() {
		return platforms.ErrCapabilityUnsupported
	}

	conn, err := s.store.Get(ctx, userID, adapter.Platform())
	if err != nil {
		return err
	}
	_, err, _ = s.refreshGroup.Do(conn.ID, func() (interface{}, error) {
		return s.refresh(ctx, conn)
	})
	return err
}

// TestConnection checks the stored credentials against the upstream and
// records the outcome on the connection.
func (s *Service) TestConnection(ctx context.Context, userID, platformKey string) error {
	adapter, err := s.registry.Get(platformKey)
	if err != nil {
		return err
	}

	conn, err := s.store.Get(ctx, userID, adapter.Platform())
	if err != nil {
		return err
	}

	creds, err := s.CredentialsFor(ctx, conn)
	if err != nil {
		return err
	}

	if err := adapter.TestConnection(ctx, creds); err != nil {
		if platforms.IsUpstreamAuth(err) {
			_ = s.store.UpdateStatus(ctx, conn.ID, models.ConnectionError)
		}
		return err
	}
	return s.store.TouchSync(ctx, conn.ID)
}

// MarkAuthFailure flips a connection after an upstream auth rejection seen
// outside the refresh path (e.g. during a poll).
func (s *Service) MarkAuthFailure(ctx context.Context, conn *Connection) {
	if err := s.store.UpdateStatus(ctx, conn.ID, models.ConnectionError); err != nil {
		logger.WithError(err).Error("marking connection after auth failure")
	}
}

// RefreshDue sweeps connections whose tokens lapse inside the refresh
// window and renews them. Individual failures are logged and skipped; the
// per-connection status handling in refresh already records them.
func (s *Service) RefreshDue(ctx context.Context) error {
	due, err := s.store.ListExpiring(ctx, time.Now().Add(s.refreshWindow))
	if err != nil {
		return fmt.Errorf("listing expiring connections: %w", err)
	}

	refreshed := 0
	for i := range due {
		conn := due[i]
		if _, err, _ := s.refreshGroup.Do(conn.ID, func() (interface{}, error) {
			return s.refresh(ctx, &conn)
		}); err != nil {
			logger.WithPlatform(string(conn.Platform)).WithError(err).Warn("background refresh failed")
			continue
		}
		refreshed++
	}

	if len(due) > 0 {
		logger.WithFields(map[string]interface{}{
			"due":       len(due),
			"refreshed": refreshed,
		}).Info("token refresh sweep finished")
	}
	return nil
}

// RecordSync stamps a successful upstream fetch. A fetch that succeeds on
// an errored connection also heals its status.
func (s *Service) RecordSync(ctx context.Context, conn *Connection) {
	if conn.Status != models.ConnectionConnected {
		if err := s.store.UpdateStatus(ctx, conn.ID, models.ConnectionConnected); err != nil {
			logger.WithError(err).Error("healing connection status")
		}
	}
	if err := s.store.TouchSync(ctx, conn.ID); err != nil {
		logger.WithError(err).Error("recording sync time")
	}
}

func (s *Service) sealedConnection(userID string, platform models.Platform, tokens models.TokenSet, sessionBlob string) (*Connection, error) {
	encAccess, err := s.vault.Encrypt(tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("sealing access token: %w", err)
	}

	conn := &Connection{
		ID:                   uuid.New().String(),
		UserID:               userID,
		Platform:             platform,
		EncryptedAccessToken: encAccess,
		ExpiresAt:            tokens.ExpiresAt,
		Status:               models.ConnectionConnected,
	}
	if tokens.RefreshToken != "" {
		if conn.EncryptedRefreshToken, err = s.vault.Encrypt(tokens.RefreshToken); err != nil {
			return nil, fmt.Errorf("sealing refresh token: %w", err)
		}
	}
	if sessionBlob != "" {
		if conn.EncryptedSession, err = s.vault.Encrypt(sessionBlob); err != nil {
			return nil, fmt.Errorf("sealing session: %w", err)
		}
	}
	return conn, nil
}

func (s *Service) decryptCredentials(conn *Connection) (platforms.Credentials, error) {
	creds := platforms.Credentials{UserID: conn.UserID}
	if conn.EncryptedAccessToken != "" {
		token, err := s.vault.Decrypt(conn.EncryptedAccessToken)
		if err != nil {
			return platforms.Credentials{}, fmt.Errorf("unsealing access token: %w", err)
		}
		creds.AccessToken = token
	}
	if conn.EncryptedSession != "" {
		blob, err := s.vault.Decrypt(conn.EncryptedSession)
		if err != nil {
			return platforms.Credentials{}, fmt.Errorf("unsealing session: %w", err)
		}
		creds.SessionBlob = blob
	}
	return creds, nil
}
