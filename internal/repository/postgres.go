// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/Diintechteam2/mobishaala-backend/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderExists возвращается при попытке создать заказ с уже существующим идентификатором.
var (
	ErrOrderExists = errors.New("order already exists")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInstituteExists возвращается при попытке создать институт с занятым идентификатором.
	ErrInstituteExists = errors.New("institute already exists")
	// ErrInstituteNotFound возвращается, если институт не найден.
	ErrInstituteNotFound = errors.New("institute not found")
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим email.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при сериализационных конфликтах, дедлоках
// и временных сетевых ошибках.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewConstant(time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateOrder сохраняет новый платёжный заказ.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	gateway := o.Gateway
	if len(gateway) == 0 {
		gateway = []byte(`{}`)
	}

	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO orders
			 (order_id, institute_id, course_id, course_title, amount_paise,
			  student_name, student_email, student_phone, city, notes, status, gateway)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			o.OrderID, o.InstituteID, o.CourseID, o.CourseTitle, o.AmountPaise,
			o.StudentName, o.StudentEmail, o.StudentPhone, o.City, o.Notes,
			string(o.Status), gateway,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrOrderExists, o.OrderID)
			}
			return fmt.Errorf("insert order: %w", err)
		}
		return nil
	})
}

// GetOrderByID возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, orderID string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT order_id, institute_id, course_id, course_title, amount_paise,
		        student_name, student_email, student_phone, city, notes,
		        status, gateway, created_at, updated_at
		 FROM orders WHERE order_id = $1`,
		orderID,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	return o, nil
}

// UpdateOrderStatusAndMerge атомарно переводит заказ в новый статус и
// дополняет метаданные шлюза. Конечные статусы paid и failed не
// перезаписываются: для них обновляются только метаданные. Возвращает
// статус заказа после применения обновления.
func (r *PostgresRepository) UpdateOrderStatusAndMerge(ctx context.Context, orderID string, status model.OrderStatus, patch []byte) (model.OrderStatus, error) {
	if len(patch) == 0 {
		patch = []byte(`{}`)
	}

	var final string

	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`UPDATE orders
			 SET status = CASE WHEN status IN ($3, $4) THEN status ELSE $2 END,
			     gateway = gateway || $5::jsonb,
			     updated_at = now()
			 WHERE order_id = $1
			 RETURNING status`,
			orderID, string(status),
			string(model.OrderStatusPaid), string(model.OrderStatusFailed),
			patch,
		).Scan(&final)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrOrderNotFound
		}
		return "", fmt.Errorf("update order: %w", err)
	}

	return model.OrderStatus(final), nil
}

// ListOrders возвращает все платёжные заказы, новые первыми.
func (r *PostgresRepository) ListOrders(ctx context.Context) ([]model.Order, error) {
	return r.listOrders(ctx,
		`SELECT order_id, institute_id, course_id, course_title, amount_paise,
		        student_name, student_email, student_phone, city, notes,
		        status, gateway, created_at, updated_at
		 FROM orders ORDER BY created_at DESC`)
}

// ListOrdersByInstitute возвращает платёжные заказы указанного института, новые первыми.
func (r *PostgresRepository) ListOrdersByInstitute(ctx context.Context, instituteID string) ([]model.Order, error) {
	return r.listOrders(ctx,
		`SELECT order_id, institute_id, course_id, course_title, amount_paise,
		        student_name, student_email, student_phone, city, notes,
		        status, gateway, created_at, updated_at
		 FROM orders WHERE institute_id = $1 ORDER BY created_at DESC`,
		instituteID)
}

func (r *PostgresRepository) listOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		status string
	)

	err := row.Scan(&o.OrderID, &o.InstituteID, &o.CourseID, &o.CourseTitle, &o.AmountPaise,
		&o.StudentName, &o.StudentEmail, &o.StudentPhone, &o.City, &o.Notes,
		&status, &o.Gateway, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	o.Status = model.OrderStatus(status)
	return &o, nil
}

// CreateInstitute сохраняет новый институт.
func (r *PostgresRepository) CreateInstitute(ctx context.Context, inst *model.Institute) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO institutes
		 (institute_id, business_name, owner_name, email, mobile_number, city, paytm_enabled, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inst.InstituteID, inst.BusinessName, inst.OwnerName, inst.Email,
		inst.MobileNumber, inst.City, inst.PaytmEnabled, string(inst.Status),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrInstituteExists, inst.InstituteID)
		}
		return fmt.Errorf("insert institute: %w", err)
	}
	return nil
}

// GetInstituteByID возвращает институт по идентификатору.
func (r *PostgresRepository) GetInstituteByID(ctx context.Context, instituteID string) (*model.Institute, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT institute_id, business_name, owner_name, email, mobile_number,
		        city, paytm_enabled, status, created_at, updated_at
		 FROM institutes WHERE institute_id = $1`,
		instituteID,
	)

	var (
		inst   model.Institute
		status string
	)
	err := row.Scan(&inst.InstituteID, &inst.BusinessName, &inst.OwnerName, &inst.Email,
		&inst.MobileNumber, &inst.City, &inst.PaytmEnabled, &status,
		&inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInstituteNotFound
		}
		return nil, fmt.Errorf("get institute: %w", err)
	}

	inst.Status = model.InstituteStatus(status)
	return &inst, nil
}

// InstituteIDExists сообщает, занят ли идентификатор института.
func (r *PostgresRepository) InstituteIDExists(ctx context.Context, instituteID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM institutes WHERE institute_id = $1)`,
		instituteID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check institute id: %w", err)
	}
	return exists, nil
}

// ListInstitutes возвращает институты, новые первыми. При onlyActive
// возвращаются только опубликованные.
func (r *PostgresRepository) ListInstitutes(ctx context.Context, onlyActive bool) ([]model.Institute, error) {
	query := `SELECT institute_id, business_name, owner_name, email, mobile_number,
	                 city, paytm_enabled, status, created_at, updated_at
	          FROM institutes ORDER BY created_at DESC`
	args := []any{}

	if onlyActive {
		query = `SELECT institute_id, business_name, owner_name, email, mobile_number,
		                city, paytm_enabled, status, created_at, updated_at
		         FROM institutes WHERE status = $1 ORDER BY created_at DESC`
		args = append(args, string(model.InstituteStatusActive))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select institutes: %w", err)
	}
	defer rows.Close()

	var institutes []model.Institute
	for rows.Next() {
		var (
			inst   model.Institute
			status string
		)
		if err := rows.Scan(&inst.InstituteID, &inst.BusinessName, &inst.OwnerName, &inst.Email,
			&inst.MobileNumber, &inst.City, &inst.PaytmEnabled, &status,
			&inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan institute: %w", err)
		}
		inst.Status = model.InstituteStatus(status)
		institutes = append(institutes, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return institutes, nil
}

// SetInstitutePaytmEnabled включает или выключает приём платежей институтом.
func (r *PostgresRepository) SetInstitutePaytmEnabled(ctx context.Context, instituteID string, enabled bool) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE institutes SET paytm_enabled = $2, updated_at = now() WHERE institute_id = $1`,
		instituteID, enabled,
	)
	if err != nil {
		return fmt.Errorf("update institute: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrInstituteNotFound
	}
	return nil
}

// CreateUser создаёт нового администратора.
func (r *PostgresRepository) CreateUser(ctx context.Context, email string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id`,
		email, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByEmail возвращает администратора по email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`,
		email,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// CreateLead сохраняет новую заявку и возвращает её идентификатор.
func (r *PostgresRepository) CreateLead(ctx context.Context, lead *model.Lead) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO leads
		 (institute_id, type, name, email, phone, city, focus_area, message,
		  course_id, course_title, price_paise, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		lead.InstituteID, string(lead.Type), lead.Name, lead.Email, lead.Phone,
		lead.City, lead.FocusArea, lead.Message, lead.CourseID, lead.CourseTitle,
		lead.PricePaise, string(lead.Status),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert lead: %w", err)
	}
	return id, nil
}

// ListLeadsByInstitute возвращает заявки указанного института, новые первыми.
func (r *PostgresRepository) ListLeadsByInstitute(ctx context.Context, instituteID string) ([]model.Lead, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, institute_id, type, name, email, phone, city, focus_area,
		        message, course_id, course_title, price_paise, status, created_at
		 FROM leads WHERE institute_id = $1 ORDER BY created_at DESC`,
		instituteID,
	)
	if err != nil {
		return nil, fmt.Errorf("select leads: %w", err)
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		var (
			lead       model.Lead
			leadType   string
			leadStatus string
		)
		if err := rows.Scan(&lead.ID, &lead.InstituteID, &leadType, &lead.Name, &lead.Email,
			&lead.Phone, &lead.City, &lead.FocusArea, &lead.Message, &lead.CourseID,
			&lead.CourseTitle, &lead.PricePaise, &leadStatus, &lead.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		lead.Type = model.LeadType(leadType)
		lead.Status = model.LeadStatus(leadStatus)
		leads = append(leads, lead)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return leads, nil
}
