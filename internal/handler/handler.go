// Package handler содержит HTTP-обработчики API сервиса mobishaala.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Diintechteam2/mobishaala-backend/internal/middleware"
	"github.com/Diintechteam2/mobishaala-backend/internal/model"
	"github.com/Diintechteam2/mobishaala-backend/internal/paytm"
	"github.com/Diintechteam2/mobishaala-backend/internal/repository"
	"github.com/Diintechteam2/mobishaala-backend/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateOrder(ctx context.Context, in service.CreateOrderInput) (*service.CreateOrderResult, error)
	ProcessCallback(ctx context.Context, payload map[string]any) (model.OrderStatus, error)
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	ListPayments(ctx context.Context) ([]model.Order, error)
	ListPaymentsByInstitute(ctx context.Context, instituteID string) ([]model.Order, error)

	RegisterInstitute(ctx context.Context, in service.RegisterInstituteInput) (*model.Institute, error)
	GetInstitute(ctx context.Context, instituteID string) (*model.Institute, error)
	ListInstitutes(ctx context.Context, onlyActive bool) ([]model.Institute, error)
	SetInstitutePayments(ctx context.Context, instituteID string, enabled bool) error

	CreateLead(ctx context.Context, in service.CreateLeadInput) (*model.Lead, error)
	ListLeadsByInstitute(ctx context.Context, instituteID string) ([]model.Lead, error)

	RegisterAdmin(ctx context.Context, email, password string) (int64, error)
	AuthenticateAdmin(ctx context.Context, email, password string) (int64, error)
}

// Handler реализует HTTP-обработчики API сервиса mobishaala.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// writeJSON отправляет успешный ответ в стандартном конверте API.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    data,
	})
}

// writeError отправляет ответ об ошибке в стандартном конверте API.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": message,
	})
}

// Health сообщает о готовности сервиса.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию администратора платформы.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, err := h.service.RegisterAdmin(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrEmailNotAllowed):
			writeError(w, http.StatusForbidden, "registration is not allowed for this email")
		case errors.Is(err, repository.ErrUserExists):
			writeError(w, http.StatusConflict, "user already exists")
		default:
			h.logger.Error("register admin error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	token, err := h.authMiddleware.IssueToken(userID)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"token": token})
}

// Login выполняет аутентификацию администратора и выпуск токена.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	userID, err := h.service.AuthenticateAdmin(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrEmailNotAllowed):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			h.logger.Error("login error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	token, err := h.authMiddleware.IssueToken(userID)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Verify подтверждает валидность токена текущего администратора.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"userId": userID})
}

type createOrderRequest struct {
	InstituteID  string  `json:"instituteId"`
	CourseID     string  `json:"courseId"`
	CourseTitle  string  `json:"courseTitle"`
	Amount       float64 `json:"amount"`
	StudentName  string  `json:"studentName"`
	StudentEmail string  `json:"studentEmail"`
	StudentPhone string  `json:"studentPhone"`
	City         string  `json:"city"`
	Notes        string  `json:"notes"`
}

type createOrderResponse struct {
	OrderID     string `json:"orderId"`
	TxnToken    string `json:"txnToken"`
	Amount      string `json:"amount"`
	CallbackURL string `json:"callbackUrl"`
}

// CreateOrder создаёт платёжный заказ и возвращает транзакционный токен шлюза.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.service.CreateOrder(r.Context(), service.CreateOrderInput{
		InstituteID:  req.InstituteID,
		CourseID:     req.CourseID,
		CourseTitle:  req.CourseTitle,
		Amount:       req.Amount,
		StudentName:  req.StudentName,
		StudentEmail: req.StudentEmail,
		StudentPhone: req.StudentPhone,
		City:         req.City,
		Notes:        req.Notes,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, repository.ErrInstituteNotFound):
			writeError(w, http.StatusNotFound, "institute not found")
		case errors.Is(err, service.ErrPaymentsDisabled):
			writeError(w, http.StatusBadRequest, "payments are not enabled for this institute")
		case errors.Is(err, service.ErrGateway):
			h.logger.Error("gateway initiation error", zap.Error(err))
			writeError(w, http.StatusBadGateway, "payment gateway rejected the order")
		default:
			h.logger.Error("create order error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResponse{
		OrderID:     res.OrderID,
		TxnToken:    res.TxnToken,
		Amount:      res.Amount,
		CallbackURL: res.CallbackURL,
	})
}

// PaytmCallback принимает асинхронное уведомление шлюза о результате платежа.
func (h *Handler) PaytmCallback(w http.ResponseWriter, r *http.Request) {
	payload, err := parseCallbackPayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unparseable callback payload")
		return
	}

	status, err := h.service.ProcessCallback(r.Context(), payload)
	if err != nil {
		switch {
		case errors.Is(err, paytm.ErrUnknownPayload), errors.Is(err, service.ErrChecksumMismatch):
			writeError(w, http.StatusBadRequest, "callback rejected")
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		default:
			h.logger.Error("process callback error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// parseCallbackPayload читает payload уведомления: шлюз присылает либо JSON,
// либо form-encoded тело в зависимости от режима интеграции.
func parseCallbackPayload(r *http.Request) (map[string]any, error) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}

	if mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		payload := make(map[string]any, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				payload[k] = v[0]
			}
		}
		return payload, nil
	}

	var payload map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

type orderStatusResponse struct {
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	CourseTitle string `json:"courseTitle"`
}

// GetOrderStatus возвращает статус заказа для опроса клиентом.
// Данные покупателя в ответ не включаются.
func (h *Handler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.String("orderID", orderID))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, orderStatusResponse{
		OrderID:     order.OrderID,
		Status:      string(order.Status),
		CourseTitle: order.CourseTitle,
	})
}

type orderResponse struct {
	OrderID      string          `json:"orderId"`
	InstituteID  string          `json:"instituteId"`
	CourseID     string          `json:"courseId"`
	CourseTitle  string          `json:"courseTitle"`
	Amount       float64         `json:"amount"`
	StudentName  string          `json:"studentName"`
	StudentEmail string          `json:"studentEmail"`
	StudentPhone string          `json:"studentPhone"`
	City         string          `json:"city,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	Status       string          `json:"status"`
	Gateway      json.RawMessage `json:"gatewayDetails"`
	CreatedAt    string          `json:"createdAt"`
	UpdatedAt    string          `json:"updatedAt"`
}

func toOrderResponses(orders []model.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, orderResponse{
			OrderID:      o.OrderID,
			InstituteID:  o.InstituteID,
			CourseID:     o.CourseID,
			CourseTitle:  o.CourseTitle,
			Amount:       o.Amount(),
			StudentName:  o.StudentName,
			StudentEmail: o.StudentEmail,
			StudentPhone: o.StudentPhone,
			City:         o.City,
			Notes:        o.Notes,
			Status:       string(o.Status),
			Gateway:      o.Gateway,
			CreatedAt:    o.CreatedAt.Format(time.RFC3339),
			UpdatedAt:    o.UpdatedAt.Format(time.RFC3339),
		})
	}
	return resp
}

// ListPayments возвращает все платёжные заказы платформы.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListPayments(r.Context())
	if err != nil {
		h.logger.Error("list payments error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponses(orders))
}

// ListInstitutePayments возвращает платёжные заказы указанного института.
func (h *Handler) ListInstitutePayments(w http.ResponseWriter, r *http.Request) {
	instituteID := chi.URLParam(r, "instituteId")

	orders, err := h.service.ListPaymentsByInstitute(r.Context(), instituteID)
	if err != nil {
		h.logger.Error("list institute payments error", zap.Error(err), zap.String("instituteID", instituteID))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponses(orders))
}

type registerInstituteRequest struct {
	BusinessName string `json:"businessName"`
	OwnerName    string `json:"ownerName"`
	Email        string `json:"email"`
	MobileNumber string `json:"mobileNumber"`
	City         string `json:"city"`
}

type instituteResponse struct {
	InstituteID  string `json:"instituteId"`
	BusinessName string `json:"businessName"`
	OwnerName    string `json:"ownerName,omitempty"`
	Email        string `json:"email,omitempty"`
	MobileNumber string `json:"mobileNumber,omitempty"`
	City         string `json:"city,omitempty"`
	PaytmEnabled bool   `json:"paytmEnabled"`
	Status       string `json:"status"`
}

func toInstituteResponse(inst *model.Institute) instituteResponse {
	return instituteResponse{
		InstituteID:  inst.InstituteID,
		BusinessName: inst.BusinessName,
		OwnerName:    inst.OwnerName,
		Email:        inst.Email,
		MobileNumber: inst.MobileNumber,
		City:         inst.City,
		PaytmEnabled: inst.PaytmEnabled,
		Status:       string(inst.Status),
	}
}

// RegisterInstitute регистрирует новый институт на платформе.
func (h *Handler) RegisterInstitute(w http.ResponseWriter, r *http.Request) {
	var req registerInstituteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inst, err := h.service.RegisterInstitute(r.Context(), service.RegisterInstituteInput{
		BusinessName: req.BusinessName,
		OwnerName:    req.OwnerName,
		Email:        req.Email,
		MobileNumber: req.MobileNumber,
		City:         req.City,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, repository.ErrInstituteExists):
			writeError(w, http.StatusConflict, "institute already exists")
		default:
			h.logger.Error("register institute error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toInstituteResponse(inst))
}

// GetInstitute возвращает публичную карточку института.
func (h *Handler) GetInstitute(w http.ResponseWriter, r *http.Request) {
	instituteID := chi.URLParam(r, "instituteId")

	inst, err := h.service.GetInstitute(r.Context(), instituteID)
	if err != nil {
		if errors.Is(err, repository.ErrInstituteNotFound) {
			writeError(w, http.StatusNotFound, "institute not found")
			return
		}
		h.logger.Error("get institute error", zap.Error(err), zap.String("instituteID", instituteID))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toInstituteResponse(inst))
}

// ListInstitutes возвращает список институтов платформы.
func (h *Handler) ListInstitutes(w http.ResponseWriter, r *http.Request) {
	onlyActive := r.URL.Query().Get("status") == "Active"

	institutes, err := h.service.ListInstitutes(r.Context(), onlyActive)
	if err != nil {
		h.logger.Error("list institutes error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]instituteResponse, 0, len(institutes))
	for i := range institutes {
		resp = append(resp, toInstituteResponse(&institutes[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type setPaymentsRequest struct {
	Enabled bool `json:"enabled"`
}

// SetInstitutePayments включает или выключает приём платежей институтом.
func (h *Handler) SetInstitutePayments(w http.ResponseWriter, r *http.Request) {
	instituteID := chi.URLParam(r, "instituteId")

	var req setPaymentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.service.SetInstitutePayments(r.Context(), instituteID, req.Enabled); err != nil {
		if errors.Is(err, repository.ErrInstituteNotFound) {
			writeError(w, http.StatusNotFound, "institute not found")
			return
		}
		h.logger.Error("set institute payments error", zap.Error(err), zap.String("instituteID", instituteID))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"instituteId":  instituteID,
		"paytmEnabled": req.Enabled,
	})
}

type leadRequest struct {
	InstituteID string  `json:"instituteId"`
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	Phone       string  `json:"phone"`
	City        string  `json:"city"`
	FocusArea   string  `json:"focusArea"`
	Message     string  `json:"message"`
	CourseID    string  `json:"courseId"`
	CourseTitle string  `json:"courseTitle"`
	Price       float64 `json:"price"`
}

type leadResponse struct {
	ID          int64  `json:"id"`
	InstituteID string `json:"instituteId"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	City        string `json:"city,omitempty"`
	FocusArea   string `json:"focusArea,omitempty"`
	Message     string `json:"message,omitempty"`
	CourseID    string `json:"courseId,omitempty"`
	CourseTitle string `json:"courseTitle,omitempty"`
	Status      string `json:"status"`
}

func toLeadResponse(l *model.Lead) leadResponse {
	return leadResponse{
		ID:          l.ID,
		InstituteID: l.InstituteID,
		Type:        string(l.Type),
		Name:        l.Name,
		Email:       l.Email,
		Phone:       l.Phone,
		City:        l.City,
		FocusArea:   l.FocusArea,
		Message:     l.Message,
		CourseID:    l.CourseID,
		CourseTitle: l.CourseTitle,
		Status:      string(l.Status),
	}
}

func (h *Handler) createLead(w http.ResponseWriter, r *http.Request, leadType model.LeadType) {
	var req leadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	lead, err := h.service.CreateLead(r.Context(), service.CreateLeadInput{
		InstituteID: req.InstituteID,
		Type:        leadType,
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		City:        req.City,
		FocusArea:   req.FocusArea,
		Message:     req.Message,
		CourseID:    req.CourseID,
		CourseTitle: req.CourseTitle,
		Price:       req.Price,
	})
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("create lead error", zap.Error(err), zap.String("type", string(leadType)))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, toLeadResponse(lead))
}

// CreateCallbackLead принимает заявку на обратный звонок.
func (h *Handler) CreateCallbackLead(w http.ResponseWriter, r *http.Request) {
	h.createLead(w, r, model.LeadTypeCallback)
}

// CreateCoursePurchaseLead принимает заявку на покупку курса.
func (h *Handler) CreateCoursePurchaseLead(w http.ResponseWriter, r *http.Request) {
	h.createLead(w, r, model.LeadTypeCoursePurchase)
}

// ListInstituteLeads возвращает заявки указанного института.
func (h *Handler) ListInstituteLeads(w http.ResponseWriter, r *http.Request) {
	instituteID := chi.URLParam(r, "instituteId")

	leads, err := h.service.ListLeadsByInstitute(r.Context(), instituteID)
	if err != nil {
		h.logger.Error("list leads error", zap.Error(err), zap.String("instituteID", instituteID))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]leadResponse, 0, len(leads))
	for i := range leads {
		resp = append(resp, toLeadResponse(&leads[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}
