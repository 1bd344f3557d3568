package relay

import (
	"context"

	"github.com/doorstep-ai/platform/pkg/common/kafka"
	"github.com/doorstep-ai/platform/pkg/common/models"
)

// Publisher fans delivery changes out onto the event bus. Delivery updates
// are keyed by user so one user's stream stays ordered; location updates
// are keyed by delivery for the same reason at finer grain.
type Publisher struct {
	deliveries *kafka.Producer
	locations  *kafka.Producer
}

// NewPublisher takes the topic names from config so producer and consumer
// stay on the same topics when the KAFKA_*_TOPIC env vars are overridden.
func NewPublisher(deliveryTopic, locationTopic string) *Publisher {
	return &Publisher{
		deliveries: kafka.NewProducer(deliveryTopic),
		locations:  kafka.NewProducer(locationTopic),
	}
}

func (p *Publisher) PublishDeliveryUpdate(ctx context.Context, d *models.UnifiedDelivery) error {
	event := models.DeliveryEvent{
		Type:       models.EventTypeDeliveryUpdate,
		UserID:     d.UserID,
		Platform:   d.Platform,
		DeliveryID: d.ID,
		Delivery:   d,
	}
	return p.deliveries.PublishEvent(ctx, d.UserID, event)
}

func (p *Publisher) PublishLocationUpdate(ctx context.Context, d *models.UnifiedDelivery) error {
	event := models.DeliveryEvent{
		Type:       models.EventTypeLocationUpdate,
		UserID:     d.UserID,
		Platform:   d.Platform,
		DeliveryID: d.ID,
	}
	if d.Driver != nil && d.Driver.Location != nil {
		event.Data = map[string]interface{}{
			"latitude":  d.Driver.Location.Latitude,
			"longitude": d.Driver.Location.Longitude,
		}
		if d.Driver.UpdatedAt != nil {
			event.Data["updated_at"] = d.Driver.UpdatedAt
		}
	}
	return p.locations.PublishEvent(ctx, d.ID, event)
}

func (p *Publisher) Close() error {
	if err := p.deliveries.Close(); err != nil {
		return err
	}
	return p.locations.Close()
}
