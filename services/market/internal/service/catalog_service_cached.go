package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"go.uber.org/zap"
)

const defaultCacheTTL = 10 * time.Minute

type cachedCatalogService struct {
	next        CatalogService
	redisClient redis.Cmdable
	cacheTTL    time.Duration
	logger      *zap.Logger
}

// CachedCatalogService is a CatalogService that also satisfies ItemInvalidator.
type CachedCatalogService interface {
	CatalogService
	ItemInvalidator
}

func NewCachedCatalogService(next CatalogService, redisClient redis.Cmdable, ttl time.Duration, logger *zap.Logger) CachedCatalogService {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &cachedCatalogService{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    ttl,
		logger:      logger,
	}
}

func itemKey(id uuid.UUID) string {
	return fmt.Sprintf("item:%s", id)
}

func (s *cachedCatalogService) GetItem(ctx context.Context, id uuid.UUID) (*domain.CatalogItem, error) {
	key := itemKey(id)

	val, err := s.redisClient.Get(ctx, key).Result()
	switch {
	case err == nil:
		var item domain.CatalogItem
		if err := json.Unmarshal([]byte(val), &item); err == nil {
			return &item, nil
		}
		mylogger.Warn(ctx, s.logger, "Dropping unreadable cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		mylogger.Warn(ctx, s.logger, "Cache read failed", zap.String("key", key), zap.Error(err))
	}

	item, err := s.next.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(item); err == nil {
		if err := s.redisClient.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
			mylogger.Warn(ctx, s.logger, "Cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	return item, nil
}

func (s *cachedCatalogService) CreateItem(ctx context.Context, actor domain.Actor, input CreateItemInput) (*domain.CatalogItem, error) {
	return s.next.CreateItem(ctx, actor, input)
}

func (s *cachedCatalogService) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.CatalogItem, int64, error) {
	return s.next.ListItems(ctx, filter)
}

func (s *cachedCatalogService) UpdateItem(ctx context.Context, actor domain.Actor, id uuid.UUID, update domain.ItemUpdate) (*domain.CatalogItem, error) {
	item, err := s.next.UpdateItem(ctx, actor, id, update)
	if err != nil {
		return nil, err
	}

	s.InvalidateItems(ctx, id)
	return item, nil
}

func (s *cachedCatalogService) Restock(ctx context.Context, actor domain.Actor, id uuid.UUID, qty int64) (*domain.CatalogItem, error) {
	item, err := s.next.Restock(ctx, actor, id, qty)
	if err != nil {
		return nil, err
	}

	s.InvalidateItems(ctx, id)
	return item, nil
}

func (s *cachedCatalogService) RemoveItem(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	if err := s.next.RemoveItem(ctx, actor, id); err != nil {
		return err
	}

	s.InvalidateItems(ctx, id)
	return nil
}

func (s *cachedCatalogService) PriceHistory(ctx context.Context, id uuid.UUID) ([]domain.PriceHistory, error) {
	return s.next.PriceHistory(ctx, id)
}

func (s *cachedCatalogService) InvalidateItems(ctx context.Context, ids ...uuid.UUID) {
	if len(ids) == 0 {
		return
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, itemKey(id))
	}

	if err := s.redisClient.Del(ctx, keys...).Err(); err != nil {
		mylogger.Warn(ctx, s.logger, "Cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
