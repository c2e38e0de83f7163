package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/freshsave/pkg/db"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	outboxDomain "github.com/sakashimaa/freshsave/pkg/outbox/domain"
	outboxRepository "github.com/sakashimaa/freshsave/pkg/outbox/repository"
	"github.com/sakashimaa/freshsave/pkg/outbox/worker"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Store is the Postgres unit of work. Repositories obtained from it directly
// run on the pool; inside WithinTx they share one pgx.Tx.
type Store struct {
	pool   *pgxpool.Pool
	outbox worker.OutboxRepository
	logger *zap.Logger
	tracer trace.Tracer
}

var _ repository.UnitOfWork = (*Store)(nil)

func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{
		pool:   pool,
		outbox: outboxRepository.NewOutboxRepository(logger),
		logger: logger,
		tracer: otel.Tracer("market/postgres"),
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Repos) error) error {
	ctx, span := s.tracer.Start(ctx, "Store.WithinTx")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Failed to begin transaction", zap.Error(err))

		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(cleanupCtx, s.logger, "Failed to rollback transaction", zap.Error(err))
		}
	}()

	if err := fn(s.bind(tx)); err != nil {
		return s.lockConflict(ctx, err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Failed to commit transaction", zap.Error(err))

		return s.lockConflict(ctx, fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

// lockConflict maps a deadlock or serialization abort to
// ErrConcurrentTransition.
func (s *Store) lockConflict(ctx context.Context, err error) error {
	if !db.IsLockConflict(err) {
		return err
	}

	mylogger.Warn(ctx, s.logger, "Transaction aborted by lock conflict", zap.Error(err))
	return fmt.Errorf("%w: %w", domain.ErrConcurrentTransition, err)
}

func (s *Store) Items() repository.ItemRepository                 { return s.bind(s.pool).Items() }
func (s *Store) Orders() repository.OrderRepository               { return s.bind(s.pool).Orders() }
func (s *Store) Stores() repository.StoreRepository               { return s.bind(s.pool).Stores() }
func (s *Store) Recipients() repository.RecipientRepository       { return s.bind(s.pool).Recipients() }
func (s *Store) Notifications() repository.NotificationRepository { return s.bind(s.pool).Notifications() }
func (s *Store) Outbox() repository.OutboxWriter                  { return s.bind(s.pool).Outbox() }

func (s *Store) bind(q db.Querier) repos {
	return repos{q: q, store: s}
}

type repos struct {
	q     db.Querier
	store *Store
}

func (r repos) Items() repository.ItemRepository {
	return &itemRepo{q: r.q, logger: r.store.logger, tracer: r.store.tracer}
}

func (r repos) Orders() repository.OrderRepository {
	return &orderRepo{q: r.q, logger: r.store.logger, tracer: r.store.tracer}
}

func (r repos) Stores() repository.StoreRepository {
	return &storeRepo{q: r.q, logger: r.store.logger, tracer: r.store.tracer}
}

func (r repos) Recipients() repository.RecipientRepository {
	return &recipientRepo{q: r.q, logger: r.store.logger, tracer: r.store.tracer}
}

func (r repos) Notifications() repository.NotificationRepository {
	return &notificationRepo{q: r.q, logger: r.store.logger, tracer: r.store.tracer}
}

func (r repos) Outbox() repository.OutboxWriter {
	return outboxWriter{q: r.q, repo: r.store.outbox}
}

type outboxWriter struct {
	q    db.Querier
	repo worker.OutboxRepository
}

func (w outboxWriter) Save(ctx context.Context, event *outboxDomain.OutboxEvent) error {
	return w.repo.SaveOutboxEvent(ctx, w.q, event)
}

func uuidStrings[T fmt.Stringer](ids []T) []string {
	res := make([]string, 0, len(ids))
	for _, id := range ids {
		res = append(res, id.String())
	}

	return res
}
