package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-sales-approvals/internal/approval"
	"github.com/pesio-ai/be-sales-approvals/internal/platform/database"
	"github.com/pesio-ai/be-sales-approvals/internal/platform/errors"
)

// OrderRepository handles sales order data operations.
type OrderRepository struct {
	db *database.DB
}

// NewOrderRepository creates a new order repository.
func NewOrderRepository(db *database.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `
	id, name, customer_name, currency, total_amount::text, status,
	approval_required, approval_level,
	created_by, approved_by, approved_at, version, created_at, updated_at
`

// Create inserts a new order and fills in its generated fields.
func (r *OrderRepository) Create(ctx context.Context, o *approval.Order) error {
	query := `
		INSERT INTO sales_orders (name, customer_name, currency, total_amount, status,
		                          approval_required, approval_level, created_by)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
		RETURNING id, version, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		o.Name,
		o.CustomerName,
		o.Currency,
		o.TotalAmount.String(),
		string(o.Status),
		o.ApprovalRequired,
		o.ApprovalLevel,
		o.CreatedBy,
	).Scan(&o.ID, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create sales order")
	}
	return nil
}

// GetByID retrieves an order.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*approval.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM sales_orders WHERE id = $1`

	o, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("sales_order", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get sales order")
	}
	return o, nil
}

// List returns orders, newest first, optionally filtered by status.
func (r *OrderRepository) List(ctx context.Context, status *approval.Status, limit, offset int) ([]*approval.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM sales_orders`
	args := []any{}
	if status != nil {
		query += " WHERE status = $1"
		args = append(args, string(*status))
	}
	query += " ORDER BY created_at DESC"
	args = append(args, limit, offset)
	if status != nil {
		query += " LIMIT $2 OFFSET $3"
	} else {
		query += " LIMIT $1 OFFSET $2"
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list sales orders")
	}
	defer rows.Close()

	var orders []*approval.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan sales order")
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Update writes the mutable fields of o if nobody else changed the row since it
// was read. On success o.Version is advanced.
func (r *OrderRepository) Update(ctx context.Context, o *approval.Order) error {
	query := `
		UPDATE sales_orders
		SET total_amount      = $3::numeric,
		    status            = $4,
		    approval_required = $5,
		    approval_level    = $6,
		    approved_by       = $7,
		    approved_at       = $8,
		    version           = version + 1,
		    updated_at        = $9
		WHERE id = $1 AND version = $2
		RETURNING version
	`

	err := r.db.QueryRow(ctx, query,
		o.ID,
		o.Version,
		o.TotalAmount.String(),
		string(o.Status),
		o.ApprovalRequired,
		o.ApprovalLevel,
		o.ApprovedBy,
		o.ApprovedAt,
		o.UpdatedAt,
	).Scan(&o.Version)
	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeConflict, "sales order was modified concurrently")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update sales order")
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type orderScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row orderScanner) (*approval.Order, error) {
	o := &approval.Order{}
	var (
		amount     string
		status     string
		approvedAt *time.Time
	)

	err := row.Scan(
		&o.ID,
		&o.Name,
		&o.CustomerName,
		&o.Currency,
		&amount,
		&status,
		&o.ApprovalRequired,
		&o.ApprovalLevel,
		&o.CreatedBy,
		&o.ApprovedBy,
		&approvedAt,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.TotalAmount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	o.Status = approval.Status(status)
	o.ApprovedAt = approvedAt
	return o, nil
}
