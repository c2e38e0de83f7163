package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/sakashimaa/freshsave/pkg/kafka"
	"github.com/sakashimaa/freshsave/pkg/outbox/domain"
	"github.com/sakashimaa/freshsave/pkg/outbox/repository"
	"github.com/sakashimaa/freshsave/pkg/outbox/worker"
	"github.com/sakashimaa/freshsave/pkg/testsuite"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type failingProducer struct {
	err error
}

func (p failingProducer) ProduceKeyed(context.Context, string, string, interface{}) error {
	return p.err
}

type OutboxSuite struct {
	testsuite.BaseSuite
	repo worker.OutboxRepository
}

func (s *OutboxSuite) SetupSuite() {
	if testing.Short() {
		s.T().Skip("integration test")
	}

	s.SetupInfrastructure("../../../services/market/migrations", testsuite.WithKafka())
	s.repo = repository.NewOutboxRepository(zap.NewNop())
}

func (s *OutboxSuite) TearDownSuite() {
	s.TearDownInfrastructure()
}

func (s *OutboxSuite) SetupTest() {
	s.TruncateTable("outbox")
}

func (s *OutboxSuite) save(topic, orderID string) *domain.OutboxEvent {
	event, err := domain.NewEvent(topic, "order", orderID, "OrderStatusChanged", map[string]string{
		"order_id": orderID,
		"to":       "confirmed",
	})
	s.Require().NoError(err)
	s.Require().NoError(s.repo.SaveOutboxEvent(s.Ctx, s.DbPool, event))

	return event
}

func (s *OutboxSuite) published(id int64) (bool, int64) {
	var (
		published bool
		attempts  int64
	)
	err := s.DbPool.QueryRow(s.Ctx, `SELECT published_at IS NOT NULL, attempts FROM outbox WHERE id = $1`, id).
		Scan(&published, &attempts)
	s.Require().NoError(err)

	return published, attempts
}

func (s *OutboxSuite) TestPublishesToKafka() {
	producer, err := kafka.NewProducer(s.KafkaBrokers, zap.NewNop())
	s.Require().NoError(err)
	defer producer.Close()

	event := s.save("order_events_it", "order-1")

	processor := worker.NewOutboxProcessor(s.DbPool, s.repo, producer, zap.NewNop())
	n, err := processor.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Require().Equal(1, n)

	published, _ := s.published(event.Id)
	s.Require().True(published)

	consumer, err := sarama.NewConsumer(s.KafkaBrokers, sarama.NewConfig())
	s.Require().NoError(err)
	defer consumer.Close()

	partition, err := consumer.ConsumePartition("order_events_it", 0, sarama.OffsetOldest)
	s.Require().NoError(err)
	defer partition.Close()

	select {
	case msg := <-partition.Messages():
		var envelope domain.Envelope
		s.Require().NoError(json.Unmarshal(msg.Value, &envelope))
		s.Require().Equal("OrderStatusChanged", envelope.Event)
		s.Require().Equal(event.Id, envelope.EventID)
		s.Require().Equal("order-1", string(msg.Key))
	case <-time.After(30 * time.Second):
		s.Fail("no message on order_events_it")
	}

	n, err = processor.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Require().Zero(n)
}

func (s *OutboxSuite) TestFailedPublishStaysQueued() {
	event := s.save("order_events_it", "order-2")

	broken := worker.NewOutboxProcessor(s.DbPool, s.repo, failingProducer{err: errors.New("broker down")}, zap.NewNop())
	n, err := broken.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Require().Zero(n)

	published, attempts := s.published(event.Id)
	s.Require().False(published)
	s.Require().Equal(int64(1), attempts)

	events, err := s.repo.GetUnpublishedEvents(s.Ctx, s.DbPool, 10)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Require().Equal(event.Id, events[0].Id)
}

func (s *OutboxSuite) TestPruneKeepsRecentAndPending() {
	old := s.save("order_events_it", "order-3")
	recent := s.save("order_events_it", "order-4")
	pending := s.save("order_events_it", "order-5")

	_, err := s.DbPool.Exec(s.Ctx, `UPDATE outbox SET published_at = NOW() - INTERVAL '10 days' WHERE id = $1`, old.Id)
	s.Require().NoError(err)
	s.Require().NoError(s.repo.MarkEventPublished(s.Ctx, s.DbPool, recent.Id))

	processor := worker.NewOutboxProcessor(s.DbPool, s.repo, failingProducer{}, zap.NewNop(), worker.WithRetention(7*24*time.Hour))
	deleted, err := processor.Prune(s.Ctx, time.Now())
	s.Require().NoError(err)
	s.Require().Equal(int64(1), deleted)

	var left []int64
	rows, err := s.DbPool.Query(s.Ctx, `SELECT id FROM outbox ORDER BY id`)
	s.Require().NoError(err)
	for rows.Next() {
		var id int64
		s.Require().NoError(rows.Scan(&id))
		left = append(left, id)
	}
	s.Require().NoError(rows.Err())
	s.Require().Equal([]int64{recent.Id, pending.Id}, left)
}

func TestOutboxSuite(t *testing.T) {
	suite.Run(t, new(OutboxSuite))
}
