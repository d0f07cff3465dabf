// Package service реализует бизнес-логику платформы mobishaala, включая
// жизненный цикл платёжного заказа и обработку callback-уведомлений шлюза.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/Diintechteam2/mobishaala-backend/internal/config"
	"github.com/Diintechteam2/mobishaala-backend/internal/idgen"
	"github.com/Diintechteam2/mobishaala-backend/internal/model"
	"github.com/Diintechteam2/mobishaala-backend/internal/paytm"
	"github.com/Diintechteam2/mobishaala-backend/internal/repository"
	"github.com/Diintechteam2/mobishaala-backend/internal/validation"
)

// ErrValidation возвращается при некорректных входных данных.
var (
	ErrValidation = errors.New("validation failed")
	// ErrPaymentsDisabled возвращается, если институт не принимает платежи через шлюз.
	ErrPaymentsDisabled = errors.New("payments are not enabled for institute")
	// ErrChecksumMismatch возвращается, когда контрольная сумма callback-уведомления не сошлась.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrGateway возвращается при ошибке обращения к платёжному шлюзу.
	ErrGateway = errors.New("payment gateway error")
	// ErrEmailNotAllowed возвращается при попытке входа с не разрешённого email.
	ErrEmailNotAllowed = errors.New("email is not allowed")
	// ErrInvalidCredentials возвращается при неверной паре email/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const instituteIDAttempts = 10

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrderByID(ctx context.Context, orderID string) (*model.Order, error)
	UpdateOrderStatusAndMerge(ctx context.Context, orderID string, status model.OrderStatus, patch []byte) (model.OrderStatus, error)
	ListOrders(ctx context.Context) ([]model.Order, error)
	ListOrdersByInstitute(ctx context.Context, instituteID string) ([]model.Order, error)

	CreateInstitute(ctx context.Context, inst *model.Institute) error
	GetInstituteByID(ctx context.Context, instituteID string) (*model.Institute, error)
	InstituteIDExists(ctx context.Context, instituteID string) (bool, error)
	ListInstitutes(ctx context.Context, onlyActive bool) ([]model.Institute, error)
	SetInstitutePaytmEnabled(ctx context.Context, instituteID string, enabled bool) error

	CreateUser(ctx context.Context, email string, passwordHash []byte) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)

	CreateLead(ctx context.Context, lead *model.Lead) (int64, error)
	ListLeadsByInstitute(ctx context.Context, instituteID string) ([]model.Lead, error)
}

// Gateway описывает контракт клиента платёжного шлюза.
type Gateway interface {
	InitiateTransaction(ctx context.Context, req paytm.InitiateRequest) (string, error)
}

// Service содержит бизнес-логику платформы mobishaala.
type Service struct {
	repo         Repository
	gateway      Gateway
	logger       *zap.Logger
	merchantKey  []byte
	callbackURL  string
	allowedEmail string
}

// NewService создаёт сервис с указанным репозиторием, клиентом шлюза
// и конфигурацией. Реквизиты шлюза передаются явно: бизнес-логика не
// читает окружение процесса.
func NewService(repo Repository, gateway Gateway, logger *zap.Logger, cfg *config.Config) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:         repo,
		gateway:      gateway,
		logger:       logger,
		merchantKey:  []byte(cfg.Paytm.MerchantKey),
		callbackURL:  cfg.Paytm.CallbackURL,
		allowedEmail: strings.ToLower(cfg.AllowedAdminEmail),
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreateOrderInput описывает запрос на создание платёжного заказа.
type CreateOrderInput struct {
	InstituteID  string
	CourseID     string
	CourseTitle  string
	Amount       float64
	StudentName  string
	StudentEmail string
	StudentPhone string
	City         string
	Notes        string
}

// CreateOrderResult содержит данные для запуска оплаты на стороне клиента.
type CreateOrderResult struct {
	OrderID     string
	TxnToken    string
	Amount      string
	CallbackURL string
}

// CreateOrder создаёт платёжный заказ: проверяет входные данные и право
// института принимать платежи, выпускает идентификатор, сохраняет заказ
// в статусе initiated и запрашивает у шлюза транзакционный токен.
// При отказе шлюза заказ переводится в конечный статус failed, чтобы в
// хранилище не оставался initiated-заказ без токена.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	if err := validateOrderInput(in); err != nil {
		return nil, err
	}

	inst, err := s.repo.GetInstituteByID(ctx, in.InstituteID)
	if err != nil {
		return nil, err
	}
	if !inst.PaytmEnabled {
		return nil, fmt.Errorf("%w: %s", ErrPaymentsDisabled, in.InstituteID)
	}

	orderID := idgen.NewOrderID()
	amountStr := fmt.Sprintf("%.2f", in.Amount)
	callbackURL := s.callbackURL + "?orderId=" + orderID

	order := &model.Order{
		OrderID:      orderID,
		InstituteID:  in.InstituteID,
		CourseID:     in.CourseID,
		CourseTitle:  in.CourseTitle,
		AmountPaise:  int64(math.Round(in.Amount * 100)),
		StudentName:  in.StudentName,
		StudentEmail: in.StudentEmail,
		StudentPhone: in.StudentPhone,
		City:         in.City,
		Notes:        in.Notes,
		Status:       model.OrderStatusInitiated,
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	token, err := s.gateway.InitiateTransaction(ctx, paytm.InitiateRequest{
		OrderID:     orderID,
		Amount:      amountStr,
		CallbackURL: callbackURL,
		CustomerID:  customerID(in),
		Email:       in.StudentEmail,
		Phone:       in.StudentPhone,
	})
	if err != nil {
		s.markInitiationFailed(ctx, orderID, err)
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	patch, _ := json.Marshal(map[string]string{"txnToken": token})
	if _, err := s.repo.UpdateOrderStatusAndMerge(ctx, orderID, model.OrderStatusInitiated, patch); err != nil {
		return nil, err
	}

	return &CreateOrderResult{
		OrderID:     orderID,
		TxnToken:    token,
		Amount:      amountStr,
		CallbackURL: callbackURL,
	}, nil
}

// markInitiationFailed переводит заказ в конечный статус failed после отказа
// шлюза. Ошибка обновления не скрывает исходную ошибку шлюза.
func (s *Service) markInitiationFailed(ctx context.Context, orderID string, cause error) {
	patch, _ := json.Marshal(map[string]string{"initError": cause.Error()})
	if _, err := s.repo.UpdateOrderStatusAndMerge(ctx, orderID, model.OrderStatusFailed, patch); err != nil {
		s.logger.Error("mark order failed after gateway error",
			zap.String("orderID", orderID), zap.Error(err))
	}
}

func validateOrderInput(in CreateOrderInput) error {
	switch {
	case in.InstituteID == "":
		return fmt.Errorf("%w: instituteId is required", ErrValidation)
	case in.CourseID == "":
		return fmt.Errorf("%w: courseId is required", ErrValidation)
	case in.CourseTitle == "":
		return fmt.Errorf("%w: courseTitle is required", ErrValidation)
	case in.StudentName == "":
		return fmt.Errorf("%w: student name is required", ErrValidation)
	case !validation.IsValidAmount(in.Amount):
		return fmt.Errorf("%w: amount must be a positive number", ErrValidation)
	}
	return nil
}

func customerID(in CreateOrderInput) string {
	if in.StudentEmail != "" {
		return in.StudentEmail
	}
	if in.StudentPhone != "" {
		return in.StudentPhone
	}
	return in.StudentName
}

// ProcessCallback обрабатывает callback-уведомление шлюза: нормализует
// payload, проверяет контрольную сумму, находит заказ и атомарно применяет
// переход статуса. Операция идемпотентна: повторная доставка того же
// уведомления возвращает тот же итоговый статус без ошибки, а конечные
// статусы paid и failed не понижаются.
func (s *Service) ProcessCallback(ctx context.Context, payload map[string]any) (model.OrderStatus, error) {
	data, err := paytm.NormalizeCallback(payload)
	if err != nil {
		s.logger.Warn("unrecognized payment callback payload",
			zap.Strings("keys", payloadKeys(payload)))
		return "", err
	}

	if !paytm.Verify(data.Fields, s.merchantKey, data.Checksum) {
		s.logger.Warn("payment callback checksum mismatch",
			zap.String("orderID", data.OrderID),
			zap.Strings("fields", fieldKeys(data.Fields)))
		return "", fmt.Errorf("%w: order %s", ErrChecksumMismatch, data.OrderID)
	}

	newStatus := statusFromGatewayResult(data.Fields[paytm.FieldStatus])

	patch, err := callbackPatch(data.Fields)
	if err != nil {
		return "", fmt.Errorf("encode gateway details: %w", err)
	}

	finalStatus, err := s.repo.UpdateOrderStatusAndMerge(ctx, data.OrderID, newStatus, patch)
	if err != nil {
		return "", err
	}

	s.logger.Info("payment callback processed",
		zap.String("orderID", data.OrderID),
		zap.String("gatewayStatus", data.Fields[paytm.FieldStatus]),
		zap.String("status", string(finalStatus)))

	return finalStatus, nil
}

// statusFromGatewayResult отображает код результата шлюза на статус заказа.
// Нераспознанный код трактуется как отказ.
func statusFromGatewayResult(result string) model.OrderStatus {
	switch result {
	case "TXN_SUCCESS":
		return model.OrderStatusPaid
	case "PENDING":
		return model.OrderStatusPending
	default:
		return model.OrderStatusFailed
	}
}

// callbackPatch собирает дополнение метаданных шлюза из полей уведомления.
func callbackPatch(fields map[string]string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"txnId":     fields[paytm.FieldTxnID],
		"bankTxnId": fields[paytm.FieldBankTxnID],
		"respCode":  fields[paytm.FieldRespCode],
		"respMsg":   fields[paytm.FieldRespMsg],
		"result":    fields,
	})
}

func payloadKeys(payload map[string]any) []string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	return keys
}

func fieldKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	return keys
}

// GetOrder возвращает платёжный заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return s.repo.GetOrderByID(ctx, orderID)
}

// ListPayments возвращает все платёжные заказы.
func (s *Service) ListPayments(ctx context.Context) ([]model.Order, error) {
	return s.repo.ListOrders(ctx)
}

// ListPaymentsByInstitute возвращает платёжные заказы указанного института.
func (s *Service) ListPaymentsByInstitute(ctx context.Context, instituteID string) ([]model.Order, error) {
	return s.repo.ListOrdersByInstitute(ctx, instituteID)
}

// RegisterInstituteInput описывает запрос на регистрацию института.
type RegisterInstituteInput struct {
	BusinessName string
	OwnerName    string
	Email        string
	MobileNumber string
	City         string
}

// RegisterInstitute регистрирует новый институт. Идентификатор выпускается
// с проверкой уникальности по хранилищу: в отличие от идентификатора заказа,
// короткий алфавитно-цифровой код допускает коллизии.
func (s *Service) RegisterInstitute(ctx context.Context, in RegisterInstituteInput) (*model.Institute, error) {
	switch {
	case in.BusinessName == "":
		return nil, fmt.Errorf("%w: business name is required", ErrValidation)
	case in.Email != "" && !validation.IsValidEmail(in.Email):
		return nil, fmt.Errorf("%w: invalid email", ErrValidation)
	case in.MobileNumber != "" && !validation.IsValidMobileNumber(in.MobileNumber):
		return nil, fmt.Errorf("%w: mobile number must be 10 digits", ErrValidation)
	}

	var instituteID string
	for attempt := 0; attempt < instituteIDAttempts; attempt++ {
		candidate := idgen.NewInstituteID()
		exists, err := s.repo.InstituteIDExists(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if !exists {
			instituteID = candidate
			break
		}
	}
	if instituteID == "" {
		return nil, fmt.Errorf("generate institute id: attempts exhausted")
	}

	inst := &model.Institute{
		InstituteID:  instituteID,
		BusinessName: in.BusinessName,
		OwnerName:    in.OwnerName,
		Email:        strings.ToLower(in.Email),
		MobileNumber: in.MobileNumber,
		City:         in.City,
		Status:       model.InstituteStatusDraft,
	}

	if err := s.repo.CreateInstitute(ctx, inst); err != nil {
		return nil, err
	}

	return inst, nil
}

// GetInstitute возвращает институт по идентификатору.
func (s *Service) GetInstitute(ctx context.Context, instituteID string) (*model.Institute, error) {
	return s.repo.GetInstituteByID(ctx, instituteID)
}

// ListInstitutes возвращает список институтов.
func (s *Service) ListInstitutes(ctx context.Context, onlyActive bool) ([]model.Institute, error) {
	return s.repo.ListInstitutes(ctx, onlyActive)
}

// SetInstitutePayments включает или выключает приём платежей институтом.
func (s *Service) SetInstitutePayments(ctx context.Context, instituteID string, enabled bool) error {
	return s.repo.SetInstitutePaytmEnabled(ctx, instituteID, enabled)
}

// CreateLeadInput описывает заявку от посетителя страницы института.
type CreateLeadInput struct {
	InstituteID string
	Type        model.LeadType
	Name        string
	Email       string
	Phone       string
	City        string
	FocusArea   string
	Message     string
	CourseID    string
	CourseTitle string
	Price       float64
}

// CreateLead сохраняет заявку потенциального студента.
func (s *Service) CreateLead(ctx context.Context, in CreateLeadInput) (*model.Lead, error) {
	switch {
	case in.InstituteID == "":
		return nil, fmt.Errorf("%w: instituteId is required", ErrValidation)
	case in.Name == "" || in.Email == "" || in.Phone == "":
		return nil, fmt.Errorf("%w: name, email and phone are required", ErrValidation)
	case in.Type != model.LeadTypeCallback && in.Type != model.LeadTypeCoursePurchase:
		return nil, fmt.Errorf("%w: unknown lead type %q", ErrValidation, in.Type)
	case in.Type == model.LeadTypeCoursePurchase && in.CourseID == "":
		return nil, fmt.Errorf("%w: courseId is required", ErrValidation)
	}

	lead := &model.Lead{
		InstituteID: strings.TrimSpace(in.InstituteID),
		Type:        in.Type,
		Name:        strings.TrimSpace(in.Name),
		Email:       strings.TrimSpace(in.Email),
		Phone:       strings.TrimSpace(in.Phone),
		City:        strings.TrimSpace(in.City),
		FocusArea:   strings.TrimSpace(in.FocusArea),
		Message:     strings.TrimSpace(in.Message),
		CourseID:    strings.TrimSpace(in.CourseID),
		CourseTitle: strings.TrimSpace(in.CourseTitle),
		PricePaise:  int64(math.Round(in.Price * 100)),
		Status:      model.LeadStatusNew,
	}

	id, err := s.repo.CreateLead(ctx, lead)
	if err != nil {
		return nil, err
	}
	lead.ID = id

	return lead, nil
}

// ListLeadsByInstitute возвращает заявки указанного института.
func (s *Service) ListLeadsByInstitute(ctx context.Context, instituteID string) ([]model.Lead, error) {
	return s.repo.ListLeadsByInstitute(ctx, instituteID)
}

// RegisterAdmin создаёт администратора платформы. Регистрация разрешена
// только для заранее заданного email.
func (s *Service) RegisterAdmin(ctx context.Context, email, password string) (int64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return 0, fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	if s.allowedEmail != "" && email != s.allowedEmail {
		return 0, fmt.Errorf("%w: %s", ErrEmailNotAllowed, email)
	}

	hashed := hashPassword(email, password)
	id, err := s.repo.CreateUser(ctx, email, hashed)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateAdmin проверяет email и пароль администратора и возвращает
// его идентификатор.
func (s *Service) AuthenticateAdmin(ctx context.Context, email, password string) (int64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if s.allowedEmail != "" && email != s.allowedEmail {
		return 0, fmt.Errorf("%w: %s", ErrEmailNotAllowed, email)
	}

	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	hashed := hashPassword(email, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(email, password string) []byte {
	sum := sha256.Sum256([]byte(email + ":" + password))
	return sum[:]
}
