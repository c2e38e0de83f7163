package external_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	sharedDomain "github.com/sakashimaa/freshsave/pkg/domain"
	outboxDomain "github.com/sakashimaa/freshsave/pkg/outbox/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/infrastructure/external"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	topic, key string
	message    any
}

type fakeProducer struct {
	sent []published
	err  error
}

func (p *fakeProducer) ProduceMessage(ctx context.Context, topic string, message interface{}) error {
	return p.ProduceKeyed(ctx, topic, "", message)
}

func (p *fakeProducer) ProduceKeyed(_ context.Context, topic, key string, message interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{topic: topic, key: key, message: message})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func notification() (domain.Recipient, domain.Notification) {
	itemID, storeID := uuid.New(), uuid.New()
	recipient := domain.Recipient{ID: uuid.New(), Email: "ann@example.com", Name: "Ann"}

	return recipient, domain.Notification{
		ID:          uuid.New(),
		RecipientID: recipient.ID,
		Title:       "Kefir is 40% off",
		Message:     "Expires in 2 days",
		Data: domain.NotificationData{
			ItemID:             &itemID,
			StoreID:            &storeID,
			DiscountPercentage: 40,
			ActionURL:          "/products/" + itemID.String(),
		},
		CreatedAt: time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC),
	}
}

func TestSendExternalPublishesAlert(t *testing.T) {
	producer := &fakeProducer{}
	sender := external.NewKafkaSender(producer, "", zap.NewNop())
	recipient, n := notification()

	require.NoError(t, sender.SendExternal(context.Background(), recipient, n))
	require.Len(t, producer.sent, 1)

	msg := producer.sent[0]
	require.Equal(t, external.DefaultTopic, msg.topic)
	require.Equal(t, recipient.ID.String(), msg.key)

	envelope, ok := msg.message.(outboxDomain.Envelope)
	require.True(t, ok)
	require.Equal(t, sharedDomain.EventDiscountAlert, envelope.Event)

	var event sharedDomain.DiscountAlertEvent
	require.NoError(t, json.Unmarshal(envelope.Payload, &event))
	require.Equal(t, n.ID.String(), event.EventID)
	require.Equal(t, "ann@example.com", event.RecipientEmail)
	require.Equal(t, *n.Data.ItemID, event.ItemID)
	require.Equal(t, 40, event.DiscountPercentage)
}

func TestSendExternalRequiresEmail(t *testing.T) {
	producer := &fakeProducer{}
	sender := external.NewKafkaSender(producer, "alerts", zap.NewNop())
	recipient, n := notification()
	recipient.Email = ""

	err := sender.SendExternal(context.Background(), recipient, n)
	require.ErrorIs(t, err, domain.ErrExternalDelivery)
	require.Empty(t, producer.sent)
}

func TestSendExternalWrapsProducerError(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker unavailable")}
	sender := external.NewKafkaSender(producer, "alerts", zap.NewNop())
	recipient, n := notification()

	err := sender.SendExternal(context.Background(), recipient, n)
	require.ErrorIs(t, err, domain.ErrExternalDelivery)
}
