// Package external hands sampled discount alerts to the notification service.
package external

import (
	"context"
	"encoding/json"
	"fmt"

	sharedDomain "github.com/sakashimaa/freshsave/pkg/domain"
	"github.com/sakashimaa/freshsave/pkg/kafka"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	outboxDomain "github.com/sakashimaa/freshsave/pkg/outbox/domain"
	"github.com/sakashimaa/freshsave/pkg/utils"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const DefaultTopic = "notification_events"

type KafkaSender struct {
	producer kafka.Producer
	topic    string
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewKafkaSender(producer kafka.Producer, topic string, logger *zap.Logger) *KafkaSender {
	if topic == "" {
		topic = DefaultTopic
	}

	return &KafkaSender{
		producer: producer,
		topic:    topic,
		breaker:  utils.NewBreaker("notification-producer", utils.DefaultBreakerConfig(), logger),
		logger:   logger,
		tracer:   otel.Tracer("market/infrastructure/external"),
	}
}

// SendExternal publishes one alert per notification, keyed by recipient.
func (s *KafkaSender) SendExternal(ctx context.Context, recipient domain.Recipient, n domain.Notification) error {
	ctx, span := s.tracer.Start(ctx, "KafkaSender.SendExternal")
	defer span.End()

	span.SetAttributes(
		attribute.String("notification_id", n.ID.String()),
		attribute.String("recipient_id", recipient.ID.String()),
	)

	if recipient.Email == "" {
		return fmt.Errorf("%w: recipient %s has no email address", domain.ErrExternalDelivery, recipient.ID)
	}

	event := sharedDomain.DiscountAlertEvent{
		EventID:            n.ID.String(),
		NotificationID:     n.ID,
		RecipientID:        recipient.ID,
		RecipientEmail:     recipient.Email,
		RecipientName:      recipient.Name,
		Title:              n.Title,
		Message:            n.Message,
		DiscountPercentage: n.Data.DiscountPercentage,
		ActionURL:          n.Data.ActionURL,
		CreatedAt:          n.CreatedAt,
	}
	if n.Data.ItemID != nil {
		event.ItemID = *n.Data.ItemID
	}
	if n.Data.StoreID != nil {
		event.StoreID = *n.Data.StoreID
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrExternalDelivery, err)
	}
	envelope := outboxDomain.Envelope{
		Event:   sharedDomain.EventDiscountAlert,
		Payload: raw,
	}

	err = utils.RunWithBreaker(s.breaker, func() error {
		return s.producer.ProduceKeyed(ctx, s.topic, recipient.ID.String(), envelope)
	})
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Failed to publish discount alert",
			zap.String("notification_id", n.ID.String()),
			zap.Error(err),
		)

		return fmt.Errorf("%w: %v", domain.ErrExternalDelivery, err)
	}

	return nil
}
