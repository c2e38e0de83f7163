package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	sharedDomain "github.com/sakashimaa/freshsave/pkg/domain"
	"github.com/sakashimaa/freshsave/pkg/kafka"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	outboxDomain "github.com/sakashimaa/freshsave/pkg/outbox/domain"
	"go.uber.org/zap"
)

type DiscountAlertHandler interface {
	HandleDiscountAlert(ctx context.Context, event sharedDomain.DiscountAlertEvent) error
}

type Consumer struct {
	service DiscountAlertHandler
	logger  *zap.Logger
}

func NewConsumer(service DiscountAlertHandler, logger *zap.Logger) *Consumer {
	return &Consumer{
		service: service,
		logger:  logger,
	}
}

func (c *Consumer) Start(ctx context.Context, brokers []string, groupID, topic string) error {
	consumerGroup := kafka.NewConsumerGroup(
		brokers,
		groupID,
		[]string{topic},
		c.processMessage,
		c.logger,
		kafka.WithClientID("notification-service"),
	)

	return consumerGroup.Run(ctx)
}

// processMessage returns an error only when redelivery could help. Payloads
// that cannot be parsed are logged and skipped.
func (c *Consumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	mylogger.Debug(ctx, c.logger, "Processing message", zap.String("topic", msg.Topic))

	var wrapper outboxDomain.Envelope
	if err := json.Unmarshal(msg.Value, &wrapper); err != nil {
		mylogger.Error(ctx, c.logger, "Error unmarshalling wrapper", zap.Error(err))
		return nil
	}

	switch wrapper.Event {
	case sharedDomain.EventDiscountAlert:
		var event sharedDomain.DiscountAlertEvent
		if err := json.Unmarshal(wrapper.Payload, &event); err != nil {
			mylogger.Error(ctx, c.logger, "Error parsing discount alert", zap.Error(err))
			return nil
		}

		if err := c.service.HandleDiscountAlert(ctx, event); err != nil {
			mylogger.Error(ctx, c.logger, "Error processing discount alert",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			return err
		}
	default:
		mylogger.Debug(ctx, c.logger, "Ignored event type", zap.String("event", wrapper.Event))
	}

	return nil
}
