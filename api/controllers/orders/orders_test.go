package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-escrow/api/middleware"
	"github.com/angelmondragon/marketplace-escrow/internal/escrow"
	internalorders "github.com/angelmondragon/marketplace-escrow/internal/orders"
	"github.com/angelmondragon/marketplace-escrow/internal/shippinglog"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
	"github.com/angelmondragon/marketplace-escrow/pkg/pagination"
)

type stubOrdersService struct {
	create         func(ctx context.Context, input internalorders.CreateOrderInput) (*internalorders.OrderView, error)
	get            func(ctx context.Context, orderID uuid.UUID, actor escrow.Actor) (*internalorders.OrderView, error)
	list           func(ctx context.Context, actor escrow.Actor, params pagination.Params) (*internalorders.OrderList, error)
	createShipment func(ctx context.Context, orderID uuid.UUID, actor escrow.Actor, serviceCode string) (*internalorders.OrderView, error)
	track          func(ctx context.Context, orderID uuid.UUID, actor escrow.Actor) (*internalorders.TrackingView, error)
	shippingLogs   func(ctx context.Context, orderID uuid.UUID, actor escrow.Actor, params pagination.Params) (*shippinglog.Page, error)
}

func (s *stubOrdersService) Create(ctx context.Context, input internalorders.CreateOrderInput) (*internalorders.OrderView, error) {
	return s.create(ctx, input)
}

func (s *stubOrdersService) Get(ctx context.Context, orderID uuid.UUID, actor escrow.Actor) (*internalorders.OrderView, error) {
	return s.get(ctx, orderID, actor)
}

func (s *stubOrdersService) List(ctx context.Context, actor escrow.Actor, params pagination.Params) (*internalorders.OrderList, error) {
	return s.list(ctx, actor, params)
}

func (s *stubOrdersService) CreateShipment(ctx context.Context, orderID uuid.UUID, actor escrow.Actor, serviceCode string) (*internalorders.OrderView, error) {
	return s.createShipment(ctx, orderID, actor, serviceCode)
}

func (s *stubOrdersService) Track(ctx context.Context, orderID uuid.UUID, actor escrow.Actor) (*internalorders.TrackingView, error) {
	return s.track(ctx, orderID, actor)
}

func (s *stubOrdersService) ShippingLogs(ctx context.Context, orderID uuid.UUID, actor escrow.Actor, params pagination.Params) (*shippinglog.Page, error) {
	return s.shippingLogs(ctx, orderID, actor, params)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "orders-controller-test"})
}

func authedRequest(method, target, body string, userID uuid.UUID, role enums.UserRole) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	ctx := middleware.WithUserID(req.Context(), userID.String())
	ctx = middleware.WithRole(ctx, string(role))
	return req.WithContext(ctx)
}

func withOrderID(req *http.Request, orderID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", orderID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeData(t *testing.T, resp *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func decodeErrorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return envelope.Error.Code
}

func TestCreateUsesCallerAsBuyer(t *testing.T) {
	buyerID := uuid.New()
	sellerID := uuid.New()
	productID := uuid.New()
	var captured internalorders.CreateOrderInput
	svc := &stubOrdersService{
		create: func(ctx context.Context, input internalorders.CreateOrderInput) (*internalorders.OrderView, error) {
			captured = input
			return &internalorders.OrderView{ID: uuid.New(), BuyerID: input.BuyerID, SellerID: input.SellerID}, nil
		},
	}

	body := `{"seller_id":"` + sellerID.String() + `","product_id":"` + productID.String() + `","total_amount":"5000","service_fee":"150","verification_level":"basic","shipping_method":"shipbubble"}`
	req := authedRequest(http.MethodPost, "/api/v1/orders", body, buyerID, enums.UserRoleUser)
	resp := httptest.NewRecorder()

	Create(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if captured.BuyerID != buyerID || captured.SellerID != sellerID || captured.ProductID != productID {
		t.Fatalf("unexpected ids %+v", captured)
	}
	if !captured.TotalAmount.Equal(decimal.NewFromInt(5000)) || !captured.ServiceFee.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("unexpected amounts %s/%s", captured.TotalAmount, captured.ServiceFee)
	}
	if captured.VerificationLevel != enums.VerificationLevelBasic {
		t.Fatalf("unexpected verification level %s", captured.VerificationLevel)
	}
}

func TestCreateRejectsForeignBuyerForUsers(t *testing.T) {
	svc := &stubOrdersService{
		create: func(ctx context.Context, input internalorders.CreateOrderInput) (*internalorders.OrderView, error) {
			t.Fatal("create should not be called")
			return nil, nil
		},
	}
	body := `{"buyer_id":"` + uuid.NewString() + `","seller_id":"` + uuid.NewString() + `","product_id":"` + uuid.NewString() + `","total_amount":"5000","verification_level":"basic"}`
	req := authedRequest(http.MethodPost, "/api/v1/orders", body, uuid.New(), enums.UserRoleUser)
	resp := httptest.NewRecorder()

	Create(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestCreateValidatesVerificationLevel(t *testing.T) {
	svc := &stubOrdersService{}
	body := `{"seller_id":"` + uuid.NewString() + `","product_id":"` + uuid.NewString() + `","total_amount":"5000","verification_level":"gold"}`
	req := authedRequest(http.MethodPost, "/api/v1/orders", body, uuid.New(), enums.UserRoleUser)
	resp := httptest.NewRecorder()

	Create(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestCreateRequiresUserContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()

	Create(&stubOrdersService{}, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestDetailPassesActorAndOrder(t *testing.T) {
	userID := uuid.New()
	orderID := uuid.New()
	svc := &stubOrdersService{
		get: func(ctx context.Context, id uuid.UUID, actor escrow.Actor) (*internalorders.OrderView, error) {
			if id != orderID || actor.UserID != userID {
				t.Fatalf("unexpected args %s %+v", id, actor)
			}
			return &internalorders.OrderView{ID: id}, nil
		},
	}
	req := withOrderID(authedRequest(http.MethodGet, "/api/v1/orders/"+orderID.String(), "", userID, enums.UserRoleUser), orderID.String())
	resp := httptest.NewRecorder()

	Detail(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var view internalorders.OrderView
	decodeData(t, resp, &view)
	if view.ID != orderID {
		t.Fatalf("unexpected order %s", view.ID)
	}
}

func TestDetailInvalidOrderID(t *testing.T) {
	req := withOrderID(authedRequest(http.MethodGet, "/api/v1/orders/nope", "", uuid.New(), enums.UserRoleUser), "nope")
	resp := httptest.NewRecorder()

	Detail(&stubOrdersService{}, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestDetailNotFound(t *testing.T) {
	svc := &stubOrdersService{
		get: func(ctx context.Context, id uuid.UUID, actor escrow.Actor) (*internalorders.OrderView, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		},
	}
	orderID := uuid.NewString()
	req := withOrderID(authedRequest(http.MethodGet, "/api/v1/orders/"+orderID, "", uuid.New(), enums.UserRoleUser), orderID)
	resp := httptest.NewRecorder()

	Detail(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp); code != string(pkgerrors.CodeNotFound) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestListParsesPagination(t *testing.T) {
	svc := &stubOrdersService{
		list: func(ctx context.Context, actor escrow.Actor, params pagination.Params) (*internalorders.OrderList, error) {
			if params.Limit != 10 || params.Cursor != "abc" {
				t.Fatalf("unexpected params %+v", params)
			}
			return &internalorders.OrderList{NextCursor: "next"}, nil
		},
	}
	req := authedRequest(http.MethodGet, "/api/v1/orders?limit=10&cursor=abc", "", uuid.New(), enums.UserRoleUser)
	resp := httptest.NewRecorder()

	List(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestListRejectsBadLimit(t *testing.T) {
	req := authedRequest(http.MethodGet, "/api/v1/orders?limit=0", "", uuid.New(), enums.UserRoleUser)
	resp := httptest.NewRecorder()

	List(&stubOrdersService{}, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestCreateShipmentForwardsServiceCode(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrdersService{
		createShipment: func(ctx context.Context, id uuid.UUID, actor escrow.Actor, serviceCode string) (*internalorders.OrderView, error) {
			if serviceCode != "gig-express" {
				t.Fatalf("unexpected service code %q", serviceCode)
			}
			return &internalorders.OrderView{ID: id}, nil
		},
	}
	req := withOrderID(authedRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/shipment", `{"service_code":" gig-express "}`, uuid.New(), enums.UserRoleUser), orderID.String())
	resp := httptest.NewRecorder()

	CreateShipment(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestCreateShipmentWithoutBody(t *testing.T) {
	orderID := uuid.New()
	called := false
	svc := &stubOrdersService{
		createShipment: func(ctx context.Context, id uuid.UUID, actor escrow.Actor, serviceCode string) (*internalorders.OrderView, error) {
			called = true
			if serviceCode != "" {
				t.Fatalf("expected empty service code, got %q", serviceCode)
			}
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "shipping provider unavailable")
		},
	}
	req := withOrderID(authedRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/shipment", "", uuid.New(), enums.UserRoleUser), orderID.String())
	resp := httptest.NewRecorder()

	CreateShipment(svc, testLogger()).ServeHTTP(resp, req)

	if !called {
		t.Fatal("expected service call")
	}
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestTrackingReturnsView(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrdersService{
		track: func(ctx context.Context, id uuid.UUID, actor escrow.Actor) (*internalorders.TrackingView, error) {
			return &internalorders.TrackingView{OrderID: id, ShippingStatus: enums.ShippingStatusInTransit, Stale: true}, nil
		},
	}
	req := withOrderID(authedRequest(http.MethodGet, "/api/v1/orders/"+orderID.String()+"/tracking", "", uuid.New(), enums.UserRoleUser), orderID.String())
	resp := httptest.NewRecorder()

	Tracking(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var view internalorders.TrackingView
	decodeData(t, resp, &view)
	if !view.Stale || view.ShippingStatus != enums.ShippingStatusInTransit {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestShippingLogsPassesCursor(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrdersService{
		shippingLogs: func(ctx context.Context, id uuid.UUID, actor escrow.Actor, params pagination.Params) (*shippinglog.Page, error) {
			if params.Cursor != "c1" || params.Limit != pagination.DefaultLimit {
				t.Fatalf("unexpected params %+v", params)
			}
			return &shippinglog.Page{}, nil
		},
	}
	req := withOrderID(authedRequest(http.MethodGet, "/api/v1/orders/"+orderID.String()+"/shipping-logs?cursor=c1", "", uuid.New(), enums.UserRoleAdmin), orderID.String())
	resp := httptest.NewRecorder()

	ShippingLogs(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestNilServiceReturnsInternal(t *testing.T) {
	req := authedRequest(http.MethodGet, "/api/v1/orders", "", uuid.New(), enums.UserRoleUser)
	resp := httptest.NewRecorder()

	List(nil, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}
