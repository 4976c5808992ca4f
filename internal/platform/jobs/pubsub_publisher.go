package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/cargodesk/api/internal/services"
)

// GoodsSubmittedEventType is attached to every goods submission message.
const GoodsSubmittedEventType = "shipment.goods_submitted"

// PubSubGoodsPublisher publishes goods submission events to a Pub/Sub topic.
type PubSubGoodsPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubGoodsPublisher constructs a Pub/Sub backed goods event publisher.
func NewPubSubGoodsPublisher(topic *pubsub.Topic) (*PubSubGoodsPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub goods publisher: topic is required")
	}
	return &PubSubGoodsPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishGoodsSubmitted sends the event and waits for the server-assigned message id.
func (p *PubSubGoodsPublisher) PublishGoodsSubmitted(ctx context.Context, event services.GoodsSubmittedEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub goods publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal goods event: %w", err)
	}

	attrs := map[string]string{"eventType": GoodsSubmittedEventType}
	setAttr(attrs, "shipmentId", event.ShipmentID)
	setAttr(attrs, "sessionId", event.SessionID)
	setAttr(attrs, "operatorId", event.OperatorID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish goods event: %w", err)
	}
	return id, nil
}

// TopicProbe reports whether the configured topic exists, for readiness checks.
func TopicProbe(topic *pubsub.Topic) func(context.Context) error {
	return func(ctx context.Context) error {
		if topic == nil {
			return errors.New("pubsub topic not configured")
		}
		ok, err := topic.Exists(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("pubsub topic %s not found", topic.ID())
		}
		return nil
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
