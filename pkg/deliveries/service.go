package deliveries

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/common/models"
	"github.com/doorstep-ai/platform/pkg/connections"
	"github.com/doorstep-ai/platform/pkg/eta"
	"github.com/doorstep-ai/platform/pkg/platforms"
	"github.com/doorstep-ai/platform/pkg/status"
)

// ConnectionSource supplies the linked platforms to poll and their
// decrypted credentials. *connections.Service is the production
// implementation.
type ConnectionSource interface {
	Active(ctx context.Context, userID string) ([]connections.Connection, error)
	CredentialsFor(ctx context.Context, conn *connections.Connection) (platforms.Credentials, error)
	MarkAuthFailure(ctx context.Context, conn *connections.Connection)
	RecordSync(ctx context.Context, conn *connections.Connection)
}

// SnapshotCache is the live-delivery store; *Cache is the production
// implementation.
type SnapshotCache interface {
	Put(ctx context.Context, entry Entry, ttl time.Duration) error
	Get(ctx context.Context, userID string, platform models.Platform, externalID string) (*Entry, error)
	ListByUser(ctx context.Context, userID string) ([]Entry, error)
	Remove(ctx context.Context, userID string, platform models.Platform, externalID string) error
	Owner(ctx context.Context, platform models.Platform, externalID string) (string, error)
	TTLFor(sessionBacked bool) time.Duration
}

// Archiver persists terminal deliveries; *HistoryRepository is the
// production implementation.
type Archiver interface {
	Archive(ctx context.Context, entry Entry) error
	ListByUser(ctx context.Context, userID string, limit int) ([]DeliveryHistory, error)
}

// EventPublisher pushes updates onto the realtime bus. May be nil, in which
// case updates are query-only.
type EventPublisher interface {
	PublishDeliveryUpdate(ctx context.Context, d *models.UnifiedDelivery) error
	PublishLocationUpdate(ctx context.Context, d *models.UnifiedDelivery) error
}

type Service struct {
	conns    ConnectionSource
	registry *platforms.Registry
	cache    SnapshotCache
	history  Archiver
	engine   *eta.Engine
	events   EventPublisher
}

func NewService(conns ConnectionSource, registry *platforms.Registry, cache SnapshotCache, history Archiver, engine *eta.Engine, events EventPublisher) *Service {
	return &Service{
		conns:    conns,
		registry: registry,
		cache:    cache,
		history:  history,
		engine:   engine,
		events:   events,
	}
}

// Active aggregates live deliveries across every linked platform. Each
// platform is fetched in its own goroutine and failures are isolated: a
// platform that errors contributes nothing while the rest still return.
func (s *Service) Active(ctx context.Context, userID string) ([]models.UnifiedDelivery, error) {
	conns, err := s.conns.Active(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}

	cached, err := s.cache.ListByUser(ctx, userID)
	if err != nil {
		logger.WithError(err).Warn("delivery cache unavailable, polling all platforms")
		cached = nil
	}
	cachedByPlatform := make(map[models.Platform][]Entry)
	for _, entry := range cached {
		cachedByPlatform[entry.Delivery.Platform] = append(cachedByPlatform[entry.Delivery.Platform], entry)
	}

	var (
		mu      sync.Mutex
		results []models.UnifiedDelivery
		wg      sync.WaitGroup
	)
	for i := range conns {
		conn := conns[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			deliveries := s.fetchPlatform(ctx, &conn, cachedByPlatform[conn.Platform])
			if len(deliveries) == 0 {
				return
			}
			mu.Lock()
			results = append(results, deliveries...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	status.SortByPriority(results)
	return results, nil
}

func (s *Service) fetchPlatform(ctx context.Context, conn *connections.Connection, cached []Entry) []models.UnifiedDelivery {
	log := logger.WithPlatform(string(conn.Platform))

	// Fresh snapshots short-circuit the upstream call entirely.
	if len(cached) > 0 {
		out := make([]models.UnifiedDelivery, 0, len(cached))
		for _, entry := range cached {
			d := entry.Delivery
			d.Fetch.Method = "cache"
			out = append(out, d)
		}
		return out
	}

	adapter, err := s.registry.GetPlatform(conn.Platform)
	if err != nil {
		log.WithError(err).Warn("no adapter for connected platform")
		return nil
	}

	creds, err := s.conns.CredentialsFor(ctx, conn)
	if err != nil {
		if platforms.IsUpstreamAuth(err) {
			s.conns.MarkAuthFailure(ctx, conn)
		}
		log.WithError(err).Warn("skipping platform, credentials unavailable")
		return nil
	}

	upstream, err := adapter.ActiveDeliveries(ctx, creds)
	if err != nil {
		if platforms.IsUpstreamAuth(err) || platforms.IsTokenExpired(err) {
			s.conns.MarkAuthFailure(ctx, conn)
		}
		log.WithError(err).Warn("skipping platform, fetch failed")
		return nil
	}
	s.conns.RecordSync(ctx, conn)

	sessionBacked := !adapter.SupportsWebhooks()
	out := make([]models.UnifiedDelivery, 0, len(upstream))
	for i := range upstream {
		d := &upstream[i]
		d.UserID = conn.UserID
		live, err := s.settle(ctx, adapter, d, sessionBacked)
		if err != nil {
			log.WithField("delivery_id", d.ID).WithError(err).Warn("dropping delivery, settle failed")
			continue
		}
		out = append(out, *live)
	}
	return out
}

// settle finishes a freshly fetched or webhook-updated delivery: recomputes
// the ETA, extends the timeline, then either re-caches it or, on a terminal
// status, archives it and drops it from the cache.
func (s *Service) settle(ctx context.Context, adapter platforms.Adapter, d *models.UnifiedDelivery, sessionBacked bool) (*models.UnifiedDelivery, error) {
	estimate := s.engine.Estimate(d, eta.Options{
		OrderType:        adapter.OrderType(),
		PlatformAccuracy: adapter.HistoricalAccuracy(),
	})
	d.ETA = &estimate
	d.StatusLabel = d.Status.Label()

	prior, err := s.cache.Get(ctx, d.UserID, d.Platform, d.ExternalOrderID)
	if err != nil && err != ErrCacheMiss {
		logger.WithError(err).Warn("reading prior snapshot")
		prior = nil
	}

	entry := Entry{Delivery: *d}
	statusChanged := true
	if prior != nil {
		entry.Timeline = prior.Timeline
		statusChanged = prior.Delivery.Status != d.Status
	}
	if statusChanged {
		from := models.DeliveryStatus("")
		if prior != nil {
			from = prior.Delivery.Status
		}
		entry.Timeline = append(entry.Timeline, StatusTransition{
			From: from,
			To:   d.Status,
			At:   time.Now().UTC(),
		})
	}

	if d.Status.Terminal() {
		if err := s.history.Archive(ctx, entry); err != nil {
			return nil, fmt.Errorf("archiving delivery: %w", err)
		}
		if err := s.cache.Remove(ctx, d.UserID, d.Platform, d.ExternalOrderID); err != nil {
			logger.WithError(err).Warn("removing archived delivery from cache")
		}
	} else if err := s.cache.Put(ctx, entry, s.cache.TTLFor(sessionBacked)); err != nil {
		logger.WithError(err).Warn("caching delivery snapshot")
	}

	if statusChanged {
		s.publish(ctx, d)
	}
	return d, nil
}

func (s *Service) publish(ctx context.Context, d *models.UnifiedDelivery) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishDeliveryUpdate(ctx, d); err != nil {
		logger.WithError(err).Warn("publishing delivery update")
	}
	if d.Driver != nil && d.Driver.Location != nil {
		if err := s.events.PublishLocationUpdate(ctx, d); err != nil {
			logger.WithError(err).Warn("publishing location update")
		}
	}
}

// ByID returns one delivery, from cache when the snapshot is live,
// otherwise straight from the platform.
func (s *Service) ByID(ctx context.Context, userID, platformKey, externalID string) (*models.UnifiedDelivery, error) {
	adapter, err := s.registry.Get(platformKey)
	if err != nil {
		return nil, err
	}

	if entry, err := s.cache.Get(ctx, userID, adapter.Platform(), externalID); err == nil {
		d := entry.Delivery
		d.Fetch.Method = "cache"
		return &d, nil
	}

	conn, err := s.connFor(ctx, userID, adapter.Platform())
	if err != nil {
		return nil, err
	}
	creds, err := s.conns.CredentialsFor(ctx, conn)
	if err != nil {
		return nil, err
	}

	d, err := adapter.DeliveryDetails(ctx, creds, externalID)
	if err != nil {
		return nil, err
	}
	d.UserID = userID
	return s.settle(ctx, adapter, d, !adapter.SupportsWebhooks())
}

// ApplyWebhookUpdate merges a normalized webhook delivery into the cached
// snapshot. Webhooks never create deliveries: with no snapshot and no
// terminal signal the update is acknowledged but dropped.
func (s *Service) ApplyWebhookUpdate(ctx context.Context, incoming *models.UnifiedDelivery) (bool, error) {
	adapter, err := s.registry.GetPlatform(incoming.Platform)
	if err != nil {
		return false, err
	}

	// Webhook bodies identify the order, not our user; the owner index
	// fills the gap. No owner means we are not tracking this delivery.
	if incoming.UserID == "" {
		owner, err := s.cache.Owner(ctx, incoming.Platform, incoming.ExternalOrderID)
		if err != nil {
			if err != ErrCacheMiss {
				return false, err
			}
			return false, nil
		}
		incoming.UserID = owner
	}

	prior, err := s.cache.Get(ctx, incoming.UserID, incoming.Platform, incoming.ExternalOrderID)
	if err != nil {
		if err != ErrCacheMiss {
			return false, err
		}
		return false, nil
	}

	merged := prior.Delivery
	merged.Status = incoming.Status
	merged.Fetch = incoming.Fetch
	if incoming.Driver != nil {
		merged.Driver = incoming.Driver
	}
	if incoming.ETA != nil && incoming.ETA.Source == models.ETASourcePlatform {
		merged.ETA = incoming.ETA
	}
	if incoming.Timestamps.DeliveredAt != nil {
		merged.Timestamps.DeliveredAt = incoming.Timestamps.DeliveredAt
	}
	if incoming.Timestamps.CancelledAt != nil {
		merged.Timestamps.CancelledAt = incoming.Timestamps.CancelledAt
	}

	priorStatus := prior.Delivery.Status
	settled, err := s.settle(ctx, adapter, &merged, !adapter.SupportsWebhooks())
	if err != nil {
		return false, err
	}
	// settle publishes on status transitions; a same-status webhook still
	// carries a fresher driver position worth relaying.
	if settled.Status == priorStatus {
		s.publish(ctx, settled)
	}
	return true, nil
}

func (s *Service) History(ctx context.Context, userID string, limit int) ([]DeliveryHistory, error) {
	return s.history.ListByUser(ctx, userID, limit)
}

func (s *Service) connFor(ctx context.Context, userID string, platform models.Platform) (*connections.Connection, error) {
	conns, err := s.conns.Active(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range conns {
		if conns[i].Platform == platform {
			return &conns[i], nil
		}
	}
	return nil, connections.ErrNotFound
}
