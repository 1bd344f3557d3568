package connections

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/common/models"
	"github.com/doorstep-ai/platform/pkg/platforms"
	"github.com/doorstep-ai/platform/pkg/vault"
)

func TestMain(m *testing.M) {
	logger.Init()
	m.Run()
}

type memStore struct {
	mu    sync.Mutex
	conns map[string]*Connection
}

func newMemStore() *memStore {
	return &memStore{conns: make(map[string]*Connection)}
}

func (s *memStore) Upsert(_ context.Context, conn *Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.conns {
		if existing.UserID == conn.UserID && existing.Platform == conn.Platform {
			conn.ID = existing.ID
			s.conns[id] = conn
			return nil
		}
	}
	s.conns[conn.ID] = conn
	return nil
}

func (s *memStore) Get(_ context.Context, userID string, platform models.Platform) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		if conn.UserID == userID && conn.Platform == platform {
			copied := *conn
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) GetByID(_ context.Context, id string) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *conn
	return &copied, nil
}

func (s *memStore) ListByUser(_ context.Context, userID string) ([]Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Connection
	for _, conn := range s.conns {
		if conn.UserID == userID {
			out = append(out, *conn)
		}
	}
	return out, nil
}

func (s *memStore) ListExpiring(_ context.Context, before time.Time) ([]Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Connection
	for _, conn := range s.conns {
		if conn.Status == models.ConnectionConnected &&
			conn.EncryptedRefreshToken != "" &&
			conn.ExpiresAt != nil && conn.ExpiresAt.Before(before) {
			out = append(out, *conn)
		}
	}
	return out, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id string, status models.ConnectionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	if !ok {
		return ErrNotFound
	}
	conn.Status = status
	return nil
}

func (s *memStore) UpdateTokens(_ context.Context, id, encAccess, encRefresh string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	if !ok {
		return ErrNotFound
	}
	conn.EncryptedAccessToken = encAccess
	if encRefresh != "" {
		conn.EncryptedRefreshToken = encRefresh
	}
	conn.ExpiresAt = expiresAt
	conn.Status = models.ConnectionConnected
	return nil
}

func (s *memStore) TouchSync(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	conn.LastSyncAt = &now
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
	return nil
}

type memStateStore struct {
	mu     sync.Mutex
	states map[string]statePayload
	next   int
}

func newMemStateStore() *memStateStore {
	return &memStateStore{states: make(map[string]statePayload)}
}

func (s *memStateStore) Create(_ context.Context, userID string, platform models.Platform) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	nonce := fmt.Sprintf("state-%d", s.next)
	s.states[nonce] = statePayload{UserID: userID, Platform: platform}
	return nonce, nil
}

func (s *memStateStore) Consume(_ context.Context, nonce string) (string, models.Platform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.states[nonce]
	if !ok {
		return "", "", ErrStateInvalid
	}
	delete(s.states, nonce)
	return payload.UserID, payload.Platform, nil
}

type noopLocker struct{}

func (noopLocker) Acquire(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (noopLocker) Release(context.Context, string) error                       { return nil }

type stubAdapter struct {
	platform     models.Platform
	oauth        bool
	refreshes    int
	refreshErr   error
	exchangeErr  error
	testErr      error
	revokeErr    error
	revokeCalls  int
	issuedExpiry time.Time
}

func (a *stubAdapter) ID() string                    { return "stub-" + string(a.platform) }
func (a *stubAdapter) Platform() models.Platform     { return a.platform }
func (a *stubAdapter) DisplayName() string           { return string(a.platform) }
func (a *stubAdapter) OrderType() models.OrderType   { return models.OrderTypeRestaurant }
func (a *stubAdapter) SupportsOAuth() bool           { return a.oauth }
func (a *stubAdapter) SupportsWebhooks() bool        { return false }
func (a *stubAdapter) HistoricalAccuracy() int       { return 90 }

func (a *stubAdapter) OAuthURL(_, state string) (string, error) {
	return "https://auth.example.com/authorize?state=" + state, nil
}

func (a *stubAdapter) ExchangeCode(_ context.Context, code string) (models.TokenSet, error) {
	if a.exchangeErr != nil {
		return models.TokenSet{}, a.exchangeErr
	}
	expiry := a.issuedExpiry
	return models.TokenSet{
		AccessToken:  "access-for-" + code,
		RefreshToken: "refresh-for-" + code,
		ExpiresAt:    &expiry,
	}, nil
}

func (a *stubAdapter) RefreshToken(_ context.Context, refreshToken string) (models.TokenSet, error) {
	a.refreshes++
	if a.refreshErr != nil {
		return models.TokenSet{}, a.refreshErr
	}
	expiry := a.issuedExpiry
	return models.TokenSet{
		AccessToken:  "refreshed-" + refreshToken,
		RefreshToken: "next-" + refreshToken,
		ExpiresAt:    &expiry,
	}, nil
}

func (a *stubAdapter) ActiveDeliveries(context.Context, platforms.Credentials) ([]models.UnifiedDelivery, error) {
	return nil, nil
}

func (a *stubAdapter) DeliveryDetails(context.Context, platforms.Credentials, string) (*models.UnifiedDelivery, error) {
	return nil, nil
}

func (a *stubAdapter) VerifyWebhook([]byte, string) bool { return false }

func (a *stubAdapter) NormalizeWebhook(models.WebhookEvent) (*models.UnifiedDelivery, error) {
	return nil, platforms.ErrCapabilityUnsupported
}

func (a *stubAdapter) TestConnection(context.Context, platforms.Credentials) error { return a.testErr }

func (a *stubAdapter) RevokeToken(context.Context, platforms.Credentials) error {
	a.revokeCalls++
	return a.revokeErr
}

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	return v
}

func testService(t *testing.T, adapter *stubAdapter) (*Service, *memStore, *memStateStore) {
	t.Helper()
	registry := platforms.NewRegistry(func(models.Platform) (platforms.Adapter, bool) {
		return nil, false
	})
	registry.Override(adapter.platform, adapter)
	store := newMemStore()
	states := newMemStateStore()
	svc := NewService(registry, store, states, testVault(t), noopLocker{}, 5*time.Minute, 30*time.Second)
	return svc, store, states
}

func seedConnection(t *testing.T, svc *Service, store *memStore, userID string, platform models.Platform, expiresIn time.Duration) *Connection {
	t.Helper()
	encAccess, err := svc.vault.Encrypt("seed-access")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	encRefresh, err := svc.vault.Encrypt("seed-refresh")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	expiry := time.Now().Add(expiresIn)
	conn := &Connection{
		ID:                    "conn-" + userID,
		UserID:                userID,
		Platform:              platform,
		EncryptedAccessToken:  encAccess,
		EncryptedRefreshToken: encRefresh,
		ExpiresAt:             &expiry,
		Status:                models.ConnectionConnected,
	}
	if err := store.Upsert(context.Background(), conn); err != nil {
		t.Fatalf("seeding connection: %v", err)
	}
	return conn
}

func TestCredentialsForRefreshesInsideWindow(t *testing.T) {
	adapter := &stubAdapter{platform: models.PlatformDoorDash, oauth: true, issuedExpiry: time.Now().Add(time.Hour)}
	svc, store, _ := testService(t, adapter)
	conn := seedConnection(t, svc, store, "user-1", models.PlatformDoorDash, 4*time.Minute)

	creds, err := svc.CredentialsFor(context.Background(), conn)
	if err != nil {
		t.Fatalf("CredentialsFor: %v", err)
	}
	if adapter.refreshes != 1 {
		t.Fatalf("expected one refresh, got %d", adapter.refreshes)
	}
	if creds.AccessToken != "refreshed-seed-refresh" {
		t.Errorf("got access token %q, want refreshed one", creds.AccessToken)
	}

	stored, err := store.GetByID(context.Background(), conn.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != models.ConnectionConnected {
		t.Errorf("status = %s, want connected", stored.Status)
	}
	rotated, err := svc.vault.Decrypt(stored.EncryptedRefreshToken)
	if err != nil {
		t.Fatalf("decrypting stored refresh token: %v", err)
	}
	if rotated != "next-seed-refresh" {
		t.Errorf("stored refresh token = %q, want rotated one", rotated)
	}
}

func TestCredentialsForSkipsRefreshOutsideWindow(t *testing.T) {
	adapter := &stubAdapter{platform: models.PlatformDoorDash, oauth: true}
	svc, store, _ := testService(t, adapter)
	conn := seedConnection(t, svc, store, "user-1", models.PlatformDoorDash, 6*time.Minute)

	creds, err := svc.CredentialsFor(context.Background(), conn)
	if err != nil {
		t.Fatalf("CredentialsFor: %v", err)
	}
	if adapter.refreshes != 0 {
		t.Fatalf("expected no refresh, got %d", adapter.refreshes)
	}
	if creds.AccessToken != "seed-access" {
		t.Errorf("got access token %q, want seeded one", creds.AccessToken)
	}
}

func TestCredentialsForDeadRefreshTokenMarksExpired(t *testing.T) {
	adapter := &stubAdapter{
		platform:   models.PlatformDoorDash,
		oauth:      true,
		refreshErr: &platforms.TokenExpiredError{Platform: "doordash"},
	}
	svc, store, _ := testService(t, adapter)
	conn := seedConnection(t, svc, store, "user-1", models.PlatformDoorDash, 2*time.Minute)

	if _, err := svc.CredentialsFor(context.Background(), conn); !platforms.IsTokenExpired(err) {
		t.Fatalf("expected token expired error, got %v", err)
	}

	stored, _ := store.GetByID(context.Background(), conn.ID)
	if stored.Status != models.ConnectionExpired {
		t.Errorf("status = %s, want expired", stored.Status)
	}
}

func TestCredentialsForUpstreamFailureMarksError(t *testing.T) {
	adapter := &stubAdapter{
		platform:   models.PlatformDoorDash,
		oauth:      true,
		refreshErr: errors.New("upstream down"),
	}
	svc, store, _ := testService(t, adapter)
	conn := seedConnection(t, svc, store, "user-1", models.PlatformDoorDash, 2*time.Minute)

	if _, err := svc.CredentialsFor(context.Background(), conn); err == nil {
		t.Fatal("expected refresh error")
	}

	stored, _ := store.GetByID(context.Background(), conn.ID)
	if stored.Status != models.ConnectionError {
		t.Errorf("status = %s, want error", stored.Status)
	}
	if stored.EncryptedRefreshToken == "" {
		t.Error("refresh token was dropped on transient failure")
	}
}

func TestOAuthCallbackRoundTrip(t *testing.T) {
	adapter := &stubAdapter{platform: models.PlatformDoorDash, oauth: true, issuedExpiry: time.Now().Add(time.Hour)}
	svc, store, states := testService(t, adapter)

	authURL, err := svc.InitiateOAuth(context.Background(), "user-1", "doordash")
	if err != nil {
		t.Fatalf("InitiateOAuth: %v", err)
	}
	if authURL == "" {
		t.Fatal("empty authorization url")
	}

	state := "state-1"
	platform, err := svc.HandleCallback(context.Background(), "the-code", state)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if platform != models.PlatformDoorDash {
		t.Errorf("platform = %s, want doordash", platform)
	}

	conn, err := store.Get(context.Background(), "user-1", models.PlatformDoorDash)
	if err != nil {
		t.Fatalf("connection not persisted: %v", err)
	}
	if conn.Status != models.ConnectionConnected {
		t.Errorf("status = %s, want connected", conn.Status)
	}
	access, err := svc.vault.Decrypt(conn.EncryptedAccessToken)
	if err != nil {
		t.Fatalf("decrypting access token: %v", err)
	}
	if access != "access-for-the-code" {
		t.Errorf("access token = %q", access)
	}

	// The nonce is single use.
	if _, err := svc.HandleCallback(context.Background(), "the-code", state); !errors.Is(err, ErrStateInvalid) {
		t.Fatalf("replayed state accepted: %v", err)
	}
	if len(states.states) != 0 {
		t.Errorf("state left behind after consumption")
	}
}

func TestInitiateOAuthRejectsNonOAuthPlatform(t *testing.T) {
	adapter := &stubAdapter{platform: models.PlatformCostco, oauth: false}
	svc, _, _ := testService(t, adapter)

	if _, err := svc.InitiateOAuth(context.Background(), "user-1", "costco"); !errors.Is(err, platforms.ErrCapabilityUnsupported) {
		t.Fatalf("expected capability error, got %v", err)
	}
}

func TestConnectSessionValidatesUpstream(t *testing.T) {
	adapter := &stubAdapter{platform: models.PlatformCostco}
	svc, store, _ := testService(t, adapter)

	if err := svc.ConnectSession(context.Background(), "user-1", "costco", "cookie-blob"); err != nil {
		t.Fatalf("ConnectSession: %v", err)
	}

	conn, err := store.Get(context.Background(), "user-1", models.PlatformCostco)
	if err != nil {
		t.Fatalf("connection not persisted: %v", err)
	}
	blob, err := svc.vault.Decrypt(conn.EncryptedSession)
	if err != nil {
		t.Fatalf("decrypting session: %v", err)
	}
	if blob != "cookie-blob" {
		t.Errorf("session blob = %q", blob)
	}
}

func TestConnectSessionRejectsBadSession(t *testing.T) {
	adapter := &stubAdapter{
		platform: models.PlatformCostco,
		testErr:  &platforms.UpstreamAuthError{Platform: "costco", Op: "test"},
	}
	svc, store, _ := testService(t, adapter)

	if err := svc.ConnectSession(context.Background(), "user-1", "costco", "stale-blob"); !platforms.IsUpstreamAuth(err) {
		t.Fatalf("expected upstream auth error, got %v", err)
	}
	if _, err := store.Get(context.Background(), "user-1", models.PlatformCostco); !errors.Is(err, ErrNotFound) {
		t.Error("rejected session was persisted")
	}
}

func TestDisconnectSurvivesRevokeFailure(t *testing.T) {
	adapter := &stubAdapter{
		platform:     models.PlatformDoorDash,
		oauth:        true,
		revokeErr:    errors.New("revocation endpoint down"),
		issuedExpiry: time.Now().Add(time.Hour),
	}
	svc, store, _ := testService(t, adapter)
	conn := seedConnection(t, svc, store, "user-1", models.PlatformDoorDash, time.Hour)

	if err := svc.Disconnect(context.Background(), "user-1", "doordash"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if adapter.revokeCalls != 1 {
		t.Errorf("revoke calls = %d, want 1", adapter.revokeCalls)
	}
	if _, err := store.GetByID(context.Background(), conn.ID); !errors.Is(err, ErrNotFound) {
		t.Error("connection still present after disconnect")
	}
}

func TestRefreshDueSweepsOnlyExpiring(t *testing.T) {
	adapter := &stubAdapter{platform: models.PlatformDoorDash, oauth: true, issuedExpiry: time.Now().Add(time.Hour)}
	svc, store, _ := testService(t, adapter)
	seedConnection(t, svc, store, "user-due", models.PlatformDoorDash, 3*time.Minute)
	seedConnection(t, svc, store, "user-fine", models.PlatformDoorDash, time.Hour)

	if err := svc.RefreshDue(context.Background()); err != nil {
		t.Fatalf("RefreshDue: %v", err)
	}
	if adapter.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", adapter.refreshes)
	}
}

func TestForceRefreshIgnoresExpiryWindow(t *testing.T) {
	adapter := &stubAdapter{platform: models.PlatformDoorDash, oauth: true, issuedExpiry: time.Now().Add(time.Hour)}
	svc, store, _ := testService(t, adapter)
	seedConnection(t, svc, store, "user-1", models.PlatformDoorDash, 2*time.Hour)

	if err := svc.ForceRefresh(context.Background(), "user-1", "doordash"); err != nil {
		t.Fatalf("ForceRefresh: %v", err)
	}
	if adapter.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", adapter.refreshes)
	}
}
