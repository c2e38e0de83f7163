package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// HandlerFunc processes one message. A nil return marks the offset.
type HandlerFunc func(ctx context.Context, msg *sarama.ConsumerMessage) error

type ConsumerGroup struct {
	brokers  []string
	groupID  string
	topics   []string
	handler  HandlerFunc
	clientID string
	backoff  time.Duration
	logger   *zap.Logger
}

type ConsumerOption func(*ConsumerGroup)

func WithClientID(id string) ConsumerOption {
	return func(c *ConsumerGroup) {
		if id != "" {
			c.clientID = id
		}
	}
}

// WithRetryBackoff sets the pause between a failed message and the next
// attempt to consume the claim.
func WithRetryBackoff(d time.Duration) ConsumerOption {
	return func(c *ConsumerGroup) {
		if d > 0 {
			c.backoff = d
		}
	}
}

func NewConsumerGroup(
	brokers []string,
	groupID string,
	topics []string,
	handler HandlerFunc,
	logger *zap.Logger,
	opts ...ConsumerOption,
) *ConsumerGroup {
	c := &ConsumerGroup{
		brokers:  brokers,
		groupID:  groupID,
		topics:   topics,
		handler:  handler,
		clientID: groupID,
		backoff:  time.Second,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *ConsumerGroup) config() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = c.clientID
	cfg.Version = sarama.V3_0_0_0
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	return cfg
}

// Run consumes until ctx is cancelled.
func (c *ConsumerGroup) Run(ctx context.Context) error {
	group, err := sarama.NewConsumerGroup(c.brokers, c.groupID, c.config())
	if err != nil {
		return fmt.Errorf("error creating consumer group %s: %w", c.groupID, err)
	}
	defer func() {
		if err := group.Close(); err != nil {
			mylogger.Error(ctx, c.logger, "Error closing consumer group", zap.Error(err))
		}
	}()

	go func() {
		for err := range group.Errors() {
			mylogger.Warn(ctx, c.logger, "Consumer group error", zap.String("group", c.groupID), zap.Error(err))
		}
	}()

	claims := &claimHandler{
		handler: c.handler,
		backoff: c.backoff,
		logger:  c.logger,
		tracer:  otel.Tracer("pkg/kafka/consumer"),
	}

	mylogger.Info(ctx, c.logger, "Consumer group started",
		zap.String("group", c.groupID),
		zap.Strings("topics", c.topics),
	)

	for {
		if err := group.Consume(ctx, c.topics, claims); err != nil {
			mylogger.Error(ctx, c.logger, "Consume session ended with error", zap.Error(err))
		}
		if ctx.Err() != nil {
			mylogger.Info(ctx, c.logger, "Consumer group stopping", zap.String("group", c.groupID))
			return nil
		}
	}
}

// claimHandler stops reading a claim on the first failed message without
// marking it, so the rejoined session starts again from that offset.
type claimHandler struct {
	handler HandlerFunc
	backoff time.Duration
	logger  *zap.Logger
	tracer  trace.Tracer
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			if err := h.handle(session.Context(), msg); err != nil {
				select {
				case <-session.Context().Done():
				case <-time.After(h.backoff):
				}
				return err
			}
			session.MarkMessage(msg, "")
		}
	}
}

func (h *claimHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ctx, span := h.startSpan(ctx, msg)
	defer span.End()

	err := h.handler(ctx, msg)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, h.logger, "Failed to process message",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
	}

	return err
}

func (h *claimHandler) startSpan(ctx context.Context, msg *sarama.ConsumerMessage) (context.Context, trace.Span) {
	carrier := make(propagation.MapCarrier, len(msg.Headers))
	for _, header := range msg.Headers {
		carrier[string(header.Key)] = string(header.Value)
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)

	return h.tracer.Start(ctx, "kafka.consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int("messaging.kafka.partition", int(msg.Partition)),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
}
