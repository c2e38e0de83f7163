package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/metrics"
	"github.com/sakashimaa/freshsave/services/market/internal/repository/memory"
	"github.com/sakashimaa/freshsave/services/market/internal/service"
	markethttp "github.com/sakashimaa/freshsave/services/market/internal/transport/http"
	"github.com/sakashimaa/freshsave/services/market/internal/transport/http/handler"
	"github.com/sakashimaa/freshsave/services/market/internal/transport/http/middleware"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type RouterSuite struct {
	suite.Suite
	app      *fiber.App
	store    *memory.Store
	shop     domain.Store
	item     domain.CatalogItem
	owner    caller
	customer caller
	admin    caller
}

type caller struct {
	id      uuid.UUID
	role    domain.Role
	storeID uuid.UUID
}

func (s *RouterSuite) SetupTest() {
	ctx := context.Background()
	logger := zap.NewNop()
	s.store = memory.NewStore()

	s.shop = domain.Store{ID: uuid.New(), OwnerID: uuid.New(), Name: "Corner Market", City: "Lisbon", IsActive: true}
	s.Require().NoError(s.store.Stores().Create(ctx, &s.shop))

	now := time.Now()
	s.item = domain.CatalogItem{
		ID:            uuid.New(),
		StoreID:       s.shop.ID,
		Name:          "Greek Yogurt",
		Category:      "dairy",
		Unit:          "cup",
		OriginalPrice: decimal.RequireFromString("2.00"),
		Stock:         3,
		ExpiryDate:    now.Add(10 * 24 * time.Hour),
	}
	s.item.Refresh(now)
	s.Require().NoError(s.store.Items().Create(ctx, &s.item))

	s.owner = caller{id: s.shop.OwnerID, role: domain.RoleStoreOwner, storeID: s.shop.ID}
	s.customer = caller{id: uuid.New(), role: domain.RoleCustomer}
	s.admin = caller{id: uuid.New(), role: domain.RoleAdmin}

	m := metrics.New()
	orders := service.NewOrderService(s.store, service.OrderConfig{}, logger, service.WithOrderMetrics(m))
	catalog := service.NewCatalogService(s.store, logger, time.Now)
	fanout := service.NewFanoutService(s.store, nil, service.FanoutConfig{Metrics: m}, logger)
	sweep := service.NewSweepService(s.store, fanout, service.SweepConfig{}, logger, service.WithSweepMetrics(m))

	s.app = markethttp.NewApp(&markethttp.Handlers{
		Order:        handler.NewOrderHandler(orders, logger),
		Item:         handler.NewItemHandler(catalog, logger),
		Notification: handler.NewNotificationHandler(service.NewNotificationService(s.store.Notifications(), logger, time.Now), logger),
		Admin:        handler.NewAdminHandler(sweep, logger, time.Now),
	}, markethttp.Options{Registry: m.Registry})
}

func (s *RouterSuite) do(as *caller, method, path string, body any) (int, map[string]any) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set(middleware.HeaderUserID, as.id.String())
		req.Header.Set(middleware.HeaderRole, string(as.role))
		if as.storeID != uuid.Nil {
			req.Header.Set(middleware.HeaderStoreID, as.storeID.String())
		}
	}

	resp, err := s.app.Test(req, -1)
	s.Require().NoError(err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)

	out := map[string]any{}
	if len(raw) > 0 {
		s.Require().NoError(json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (s *RouterSuite) placeOrder(qty int) string {
	status, body := s.do(&s.customer, nethttp.MethodPost, "/api/orders", fiber.Map{
		"store_id": s.shop.ID.String(),
		"lines":    []fiber.Map{{"item_id": s.item.ID.String(), "quantity": qty}},
	})
	s.Require().Equal(fiber.StatusCreated, status, body)
	return body["id"].(string)
}

func (s *RouterSuite) TestHealth() {
	status, body := s.do(nil, nethttp.MethodGet, "/health", nil)
	s.Equal(fiber.StatusOK, status)
	s.Equal("ok", body["status"])
}

func (s *RouterSuite) TestMetricsEndpoint() {
	req := httptest.NewRequest(nethttp.MethodGet, "/metrics", nil)
	resp, err := s.app.Test(req, -1)
	s.Require().NoError(err)
	defer resp.Body.Close()

	s.Equal(fiber.StatusOK, resp.StatusCode)
}

func (s *RouterSuite) TestMissingIdentity() {
	status, body := s.do(nil, nethttp.MethodGet, "/api/orders", nil)
	s.Equal(fiber.StatusUnauthorized, status)
	s.Equal("UNAUTHORIZED", body["code"])

	ownerWithoutStore := caller{id: uuid.New(), role: domain.RoleStoreOwner}
	status, _ = s.do(&ownerWithoutStore, nethttp.MethodGet, "/api/orders", nil)
	s.Equal(fiber.StatusUnauthorized, status)
}

func (s *RouterSuite) TestCreateOrder() {
	status, body := s.do(&s.customer, nethttp.MethodPost, "/api/orders", fiber.Map{
		"store_id": s.shop.ID.String(),
		"lines":    []fiber.Map{{"item_id": s.item.ID.String(), "quantity": 2}},
	})
	s.Require().Equal(fiber.StatusCreated, status, body)
	s.Equal(string(domain.OrderStatusPending), body["status"])
	s.True(decimal.RequireFromString(body["total_amount"].(string)).Equal(decimal.NewFromInt(4)))

	status, body = s.do(&s.customer, nethttp.MethodGet, "/api/orders", nil)
	s.Equal(fiber.StatusOK, status)
	s.EqualValues(1, body["total"])
}

func (s *RouterSuite) TestCreateOrderValidation() {
	status, body := s.do(&s.customer, nethttp.MethodPost, "/api/orders", fiber.Map{
		"store_id": s.shop.ID.String(),
		"lines":    []fiber.Map{{"item_id": s.item.ID.String(), "quantity": 0}},
	})
	s.Equal(fiber.StatusBadRequest, status)
	s.Equal(string(domain.KindValidation), body["code"])
	s.Contains(body["fields"], "lines[0].quantity")

	status, body = s.do(&s.customer, nethttp.MethodPost, "/api/orders", fiber.Map{
		"store_id": s.shop.ID.String(),
		"lines":    []fiber.Map{},
	})
	s.Equal(fiber.StatusBadRequest, status)
	s.Equal(string(domain.KindValidation), body["code"])
}

func (s *RouterSuite) TestTransitionErrors() {
	id := s.placeOrder(2)

	status, body := s.do(&s.customer, nethttp.MethodPatch, "/api/orders/"+id+"/status", fiber.Map{"status": "confirmed"})
	s.Equal(fiber.StatusForbidden, status)
	s.Equal(string(domain.KindForbidden), body["code"])

	status, body = s.do(&s.owner, nethttp.MethodPatch, "/api/orders/"+id+"/status", fiber.Map{"status": "ready"})
	s.Equal(fiber.StatusConflict, status)
	s.Equal(string(domain.KindConflict), body["code"])

	status, _ = s.do(&s.owner, nethttp.MethodPatch, "/api/orders/"+id+"/status", fiber.Map{"status": "shipped"})
	s.Equal(fiber.StatusBadRequest, status)

	status, body = s.do(&s.owner, nethttp.MethodPatch, "/api/orders/"+id+"/status", fiber.Map{"status": "confirmed"})
	s.Require().Equal(fiber.StatusOK, status, body)
	status, body = s.do(&s.customer, nethttp.MethodPatch, "/api/orders/"+id+"/cancel", nil)
	s.Equal(fiber.StatusConflict, status)
	s.Equal(string(domain.KindConflict), body["code"])

	status, _ = s.do(&s.owner, nethttp.MethodGet, "/api/orders/"+uuid.NewString(), nil)
	s.Equal(fiber.StatusNotFound, status)

	status, _ = s.do(&s.owner, nethttp.MethodGet, "/api/orders/not-a-uuid", nil)
	s.Equal(fiber.StatusBadRequest, status)
}

func (s *RouterSuite) TestInsufficientStockDetail() {
	first := s.placeOrder(2)
	second := s.placeOrder(2)

	status, body := s.do(&s.owner, nethttp.MethodPatch, "/api/orders/"+first+"/status", fiber.Map{"status": "confirmed"})
	s.Require().Equal(fiber.StatusOK, status, body)
	s.Equal(string(domain.OrderStatusConfirmed), body["status"])

	status, body = s.do(&s.owner, nethttp.MethodPatch, "/api/orders/"+second+"/status", fiber.Map{"status": "confirmed"})
	s.Equal(fiber.StatusConflict, status)
	s.EqualValues(1, body["available"])
	s.EqualValues(2, body["requested"])
	s.EqualValues(0, body["line"])
}

func (s *RouterSuite) TestBuyerCancel() {
	id := s.placeOrder(1)

	status, body := s.do(&s.customer, nethttp.MethodPatch, "/api/orders/"+id+"/cancel", nil)
	s.Require().Equal(fiber.StatusOK, status, body)
	s.Equal(string(domain.OrderStatusCancelled), body["status"])
}

func (s *RouterSuite) TestItemRoutes() {
	status, body := s.do(&s.customer, nethttp.MethodGet, "/api/items/"+s.item.ID.String(), nil)
	s.Require().Equal(fiber.StatusOK, status)
	s.Equal("Greek Yogurt", body["name"])

	status, _ = s.do(&s.customer, nethttp.MethodPost, "/api/items/"+s.item.ID.String()+"/restock", fiber.Map{"quantity": 5})
	s.Equal(fiber.StatusForbidden, status)

	status, body = s.do(&s.owner, nethttp.MethodPost, "/api/items/"+s.item.ID.String()+"/restock", fiber.Map{"quantity": 5})
	s.Require().Equal(fiber.StatusOK, status, body)
	s.EqualValues(8, body["stock"])

	status, body = s.do(&s.owner, nethttp.MethodPost, "/api/items", fiber.Map{
		"name":           "Croissant",
		"category":       "bakery",
		"original_price": "1.20",
		"stock":          6,
		"expiry_date":    time.Now().Add(30 * time.Hour).Format(time.RFC3339),
	})
	s.Require().Equal(fiber.StatusCreated, status, body)
	s.Equal(s.shop.ID.String(), body["store_id"])
	s.Equal(string(domain.ItemStatusExpiring), body["status"])

	status, _ = s.do(&s.owner, nethttp.MethodGet, "/api/items/"+uuid.NewString()+"/price-history", nil)
	s.Equal(fiber.StatusNotFound, status)
}

func (s *RouterSuite) TestAdminSweep() {
	status, _ := s.do(&s.customer, nethttp.MethodPost, "/api/admin/sweep", nil)
	s.Equal(fiber.StatusForbidden, status)

	status, body := s.do(&s.admin, nethttp.MethodPost, "/api/admin/sweep", fiber.Map{"horizon_hours": 24 * 30})
	s.Require().Equal(fiber.StatusOK, status, body)
	s.EqualValues(1, body["discounted"])

	status, _ = s.do(&s.admin, nethttp.MethodPost, "/api/admin/sweep", fiber.Map{"horizon_hours": 10000})
	s.Equal(fiber.StatusBadRequest, status)
}

func (s *RouterSuite) TestNotifications() {
	status, body := s.do(&s.customer, nethttp.MethodGet, "/api/notifications", nil)
	s.Require().Equal(fiber.StatusOK, status)
	s.EqualValues(0, body["total"])

	status, body = s.do(&s.customer, nethttp.MethodPatch, "/api/notifications/read-all", nil)
	s.Require().Equal(fiber.StatusOK, status)
	s.EqualValues(0, body["marked"])

	status, _ = s.do(&s.customer, nethttp.MethodPatch, "/api/notifications/"+uuid.NewString()+"/read", nil)
	s.Equal(fiber.StatusNotFound, status)
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}
