package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "pos.order.events"
	TopicDeadLetterQueue = "pos.order.events.dlq"
)

// Kafka headers для retry логики и маршрутизации
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// Envelope — конверт outbox-сообщения в топике событий заказов.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope заворачивает outbox-сообщение.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   publishedAt.UTC(),
	}
}

// ParseEnvelope парсит конверт из сообщения
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if envelope.EventType == "" {
		return Envelope{}, fmt.Errorf("envelope %q has no event type", envelope.ID)
	}
	return envelope, nil
}

// ParseOrderEvent парсит конверт и событие заказа внутри него.
func ParseOrderEvent(message *sarama.ConsumerMessage) (Envelope, domain.OrderEvent, error) {
	envelope, err := ParseEnvelope(message)
	if err != nil {
		return Envelope{}, domain.OrderEvent{}, err
	}

	var event domain.OrderEvent
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		return Envelope{}, domain.OrderEvent{}, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	if event.Type == "" {
		event.Type = domain.EventType(envelope.EventType)
	}
	return envelope, event, nil
}

// OrderEventHandler адаптирует обработчик событий заказов к MessageHandler.
// Сообщения, которые не удалось разобрать, считаются ошибкой обработки.
func OrderEventHandler(fn func(ctx context.Context, envelope Envelope, event domain.OrderEvent) error) MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		envelope, event, err := ParseOrderEvent(message)
		if err != nil {
			return err
		}
		return fn(ctx, envelope, event)
	}
}
