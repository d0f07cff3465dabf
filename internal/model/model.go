// Package model содержит доменные сущности платформы mobishaala.
package model

import (
	"encoding/json"
	"time"
)

// OrderStatus описывает статус платёжного заказа.
type OrderStatus string

const (
	OrderStatusInitiated OrderStatus = "initiated"
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
)

// IsTerminal сообщает, является ли статус конечным. После конечного статуса
// повторные callback-уведомления дополняют только метаданные шлюза.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusFailed
}

// Order описывает одну попытку покупки курса, отслеживаемую от инициализации
// транзакции в шлюзе до итогового статуса расчёта.
type Order struct {
	OrderID      string
	InstituteID  string
	CourseID     string
	CourseTitle  string
	AmountPaise  int64
	StudentName  string
	StudentEmail string
	StudentPhone string
	City         string
	Notes        string
	Status       OrderStatus
	Gateway      json.RawMessage
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Amount возвращает сумму заказа в рупиях.
func (o *Order) Amount() float64 {
	return float64(o.AmountPaise) / 100
}

// InstituteStatus описывает статус публикации института.
type InstituteStatus string

const (
	InstituteStatusDraft    InstituteStatus = "Draft"
	InstituteStatusActive   InstituteStatus = "Active"
	InstituteStatusArchived InstituteStatus = "Archived"
)

// Institute представляет институт — арендатора платформы, в рамках которого
// публикуются курсы и принимаются платежи.
type Institute struct {
	InstituteID  string
	BusinessName string
	OwnerName    string
	Email        string
	MobileNumber string
	City         string
	PaytmEnabled bool
	Status       InstituteStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LeadType описывает тип заявки от потенциального студента.
type LeadType string

const (
	LeadTypeCallback       LeadType = "callback"
	LeadTypeCoursePurchase LeadType = "course_purchase"
)

// LeadStatus описывает статус обработки заявки.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusEnrolled  LeadStatus = "enrolled"
)

// Lead описывает заявку, оставленную посетителем страницы института.
type Lead struct {
	ID          int64
	InstituteID string
	Type        LeadType
	Name        string
	Email       string
	Phone       string
	City        string
	FocusArea   string
	Message     string
	CourseID    string
	CourseTitle string
	PricePaise  int64
	Status      LeadStatus
	CreatedAt   time.Time
}

// User представляет администратора платформы.
type User struct {
	ID           int64
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}
