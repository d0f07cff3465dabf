package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/Diintechteam2/mobishaala-backend/internal/middleware"
	"github.com/Diintechteam2/mobishaala-backend/internal/model"
	"github.com/Diintechteam2/mobishaala-backend/internal/paytm"
	"github.com/Diintechteam2/mobishaala-backend/internal/repository"
	"github.com/Diintechteam2/mobishaala-backend/internal/service"
)

type stubService struct {
	createOrderResult *service.CreateOrderResult
	createOrderErr    error

	callbackStatus  model.OrderStatus
	callbackErr     error
	callbackPayload map[string]any

	order    *model.Order
	orderErr error

	payments    []model.Order
	paymentsErr error

	institute    *model.Institute
	instituteErr error
	institutes   []model.Institute

	setPaymentsErr error

	lead    *model.Lead
	leadErr error
	leads   []model.Lead

	registerID  int64
	registerErr error
	authID      int64
	authErr     error
}

func (s *stubService) CreateOrder(ctx context.Context, in service.CreateOrderInput) (*service.CreateOrderResult, error) {
	return s.createOrderResult, s.createOrderErr
}

func (s *stubService) ProcessCallback(ctx context.Context, payload map[string]any) (model.OrderStatus, error) {
	s.callbackPayload = payload
	return s.callbackStatus, s.callbackErr
}

func (s *stubService) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubService) ListPayments(ctx context.Context) ([]model.Order, error) {
	return s.payments, s.paymentsErr
}

func (s *stubService) ListPaymentsByInstitute(ctx context.Context, instituteID string) ([]model.Order, error) {
	return s.payments, s.paymentsErr
}

func (s *stubService) RegisterInstitute(ctx context.Context, in service.RegisterInstituteInput) (*model.Institute, error) {
	return s.institute, s.instituteErr
}

func (s *stubService) GetInstitute(ctx context.Context, instituteID string) (*model.Institute, error) {
	return s.institute, s.instituteErr
}

func (s *stubService) ListInstitutes(ctx context.Context, onlyActive bool) ([]model.Institute, error) {
	return s.institutes, s.instituteErr
}

func (s *stubService) SetInstitutePayments(ctx context.Context, instituteID string, enabled bool) error {
	return s.setPaymentsErr
}

func (s *stubService) CreateLead(ctx context.Context, in service.CreateLeadInput) (*model.Lead, error) {
	return s.lead, s.leadErr
}

func (s *stubService) ListLeadsByInstitute(ctx context.Context, instituteID string) ([]model.Lead, error) {
	return s.leads, s.leadErr
}

func (s *stubService) RegisterAdmin(ctx context.Context, email, password string) (int64, error) {
	return s.registerID, s.registerErr
}

func (s *stubService) AuthenticateAdmin(ctx context.Context, email, password string) (int64, error) {
	return s.authID, s.authErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, res *http.Response) envelope {
	t.Helper()

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestCreateOrder_Created(t *testing.T) {
	svc := &stubService{
		createOrderResult: &service.CreateOrderResult{
			OrderID:     "MSH-1700000000000-123456",
			TxnToken:    "token-123",
			Amount:      "499.00",
			CallbackURL: "http://localhost/api/payments/paytm/callback?orderId=MSH-1700000000000-123456",
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(createOrderRequest{
		InstituteID: "T1",
		CourseID:    "C1",
		CourseTitle: "Algebra",
		Amount:      499.00,
		StudentName: "Asha",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/payments/order", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	env := decodeEnvelope(t, res)
	if !env.Success {
		t.Fatalf("success = false, want true")
	}

	var resp createOrderResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if resp.OrderID != "MSH-1700000000000-123456" {
		t.Fatalf("orderId = %s", resp.OrderID)
	}
	if resp.TxnToken != "token-123" {
		t.Fatalf("txnToken = %s", resp.TxnToken)
	}
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", service.ErrValidation, http.StatusBadRequest},
		{"institute not found", repository.ErrInstituteNotFound, http.StatusNotFound},
		{"payments disabled", service.ErrPaymentsDisabled, http.StatusBadRequest},
		{"gateway rejected", service.ErrGateway, http.StatusBadGateway},
		{"internal", context.DeadlineExceeded, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{createOrderErr: tt.err})

			body, _ := json.Marshal(createOrderRequest{InstituteID: "T1"})
			req := httptest.NewRequest(http.MethodPost, "/api/payments/order", bytes.NewReader(body))
			rec := httptest.NewRecorder()

			h.CreateOrder(rec, req)

			res := rec.Result()
			defer res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
			if env := decodeEnvelope(t, res); env.Success {
				t.Fatalf("success = true, want false")
			}
		})
	}
}

func TestPaytmCallback_JSONBody(t *testing.T) {
	svc := &stubService{callbackStatus: model.OrderStatusPaid}
	h := newTestHandler(t, svc)

	body := []byte(`{"ORDERID":"MSH-1-1","STATUS":"TXN_SUCCESS","CHECKSUMHASH":"abc"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/payments/paytm/callback", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.callbackPayload["ORDERID"] != "MSH-1-1" {
		t.Fatalf("payload ORDERID = %v", svc.callbackPayload["ORDERID"])
	}
}

func TestPaytmCallback_FormBody(t *testing.T) {
	svc := &stubService{callbackStatus: model.OrderStatusPaid}
	h := newTestHandler(t, svc)

	form := url.Values{}
	form.Set("ORDERID", "MSH-1-1")
	form.Set("STATUS", "TXN_SUCCESS")
	form.Set("CHECKSUMHASH", "abc")

	req := httptest.NewRequest(http.MethodPost, "/api/payments/paytm/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.callbackPayload["STATUS"] != "TXN_SUCCESS" {
		t.Fatalf("payload STATUS = %v", svc.callbackPayload["STATUS"])
	}
}

func TestPaytmCallback_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"checksum mismatch", service.ErrChecksumMismatch, http.StatusBadRequest},
		{"unknown payload", paytm.ErrUnknownPayload, http.StatusBadRequest},
		{"unknown order", repository.ErrOrderNotFound, http.StatusNotFound},
		{"internal", context.DeadlineExceeded, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{callbackErr: tt.err})

			body := []byte(`{"ORDERID":"MSH-1-1"}`)
			req := httptest.NewRequest(http.MethodPost, "/api/payments/paytm/callback", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			h.PaytmCallback(rec, req)

			res := rec.Result()
			defer res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
		})
	}
}

func TestPaytmCallback_UnparseableBody(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/payments/paytm/callback", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.PaytmCallback(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestGetOrderStatus_NoBuyerPII(t *testing.T) {
	svc := &stubService{
		order: &model.Order{
			OrderID:      "MSH-1-1",
			CourseTitle:  "Algebra",
			Status:       model.OrderStatusPaid,
			StudentName:  "Asha",
			StudentEmail: "a@x.com",
			StudentPhone: "9999999999",
		},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/payments/order/MSH-1-1", nil)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	env := decodeEnvelope(t, res)

	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data["orderId"] != "MSH-1-1" || data["status"] != "paid" {
		t.Fatalf("unexpected data: %v", data)
	}
	for _, forbidden := range []string{"studentName", "studentEmail", "studentPhone"} {
		if _, ok := data[forbidden]; ok {
			t.Fatalf("response must not expose %s", forbidden)
		}
	}
}

func TestGetOrderStatus_NotFound(t *testing.T) {
	h := newTestHandler(t, &stubService{orderErr: repository.ErrOrderNotFound})

	req := httptest.NewRequest(http.MethodGet, "/api/payments/order/MSH-404-404", nil)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestListPayments_RequiresAuth(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/payments/", nil)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestListPayments_WithToken(t *testing.T) {
	svc := &stubService{
		payments: []model.Order{
			{OrderID: "MSH-1-1", Status: model.OrderStatusPaid, AmountPaise: 49900},
		},
	}

	auth := middleware.NewAuthMiddleware("test-secret")
	logger := zap.NewNop()
	h := NewHandler(svc, logger, auth)

	token, err := auth.IssueToken(1)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/payments/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	env := decodeEnvelope(t, res)

	var orders []orderResponse
	if err := json.Unmarshal(env.Data, &orders); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(orders) != 1 || orders[0].Amount != 499.00 {
		t.Fatalf("unexpected orders: %+v", orders)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	h := newTestHandler(t, &stubService{authErr: service.ErrInvalidCredentials})

	body, _ := json.Marshal(credentialsRequest{Email: "admin@mobishaala.com", Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestRegister_EmailNotAllowed(t *testing.T) {
	h := newTestHandler(t, &stubService{registerErr: service.ErrEmailNotAllowed})

	body, _ := json.Marshal(credentialsRequest{Email: "intruder@x.com", Password: "pass"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}

func TestRegisterInstitute_Created(t *testing.T) {
	svc := &stubService{
		institute: &model.Institute{
			InstituteID:  "AB12CD34EF56",
			BusinessName: "Test Institute",
			Status:       model.InstituteStatusDraft,
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(registerInstituteRequest{BusinessName: "Test Institute"})
	req := httptest.NewRequest(http.MethodPost, "/api/institutes/", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	env := decodeEnvelope(t, res)

	var inst instituteResponse
	if err := json.Unmarshal(env.Data, &inst); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if inst.InstituteID != "AB12CD34EF56" {
		t.Fatalf("instituteId = %s", inst.InstituteID)
	}
}

func TestCreateCallbackLead_Created(t *testing.T) {
	svc := &stubService{
		lead: &model.Lead{
			ID:          1,
			InstituteID: "T1",
			Type:        model.LeadTypeCallback,
			Name:        "Asha",
			Status:      model.LeadStatusNew,
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(leadRequest{InstituteID: "T1", Name: "Asha", Email: "a@x.com", Phone: "9999999999"})
	req := httptest.NewRequest(http.MethodPost, "/api/leads/callback", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if env := decodeEnvelope(t, res); !env.Success {
		t.Fatalf("success = false, want true")
	}
}
