package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/orders-kafka/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	// timestampPrecision — точность timestamptz в PostgreSQL.
	timestampPrecision = time.Microsecond
)

const selectOrderColumns = `
	SELECT id, customer_name, customer_email, order_date, status, total_amount_minor,
	       shipping_address, tracking_number, processed_date, shipped_date, delivered_date, notes
	FROM orders`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
// Позиции записываются один раз при Add и дальше не меняются.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Get(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, selectOrderColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

func (r *orderRepository) GetRecent(ctx context.Context, count int) ([]domain.Order, error) {
	if count <= 0 {
		return []domain.Order{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, selectOrderColumns+` ORDER BY order_date DESC, id DESC LIMIT $1`, count)
	if err != nil {
		return nil, fmt.Errorf("list recent orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, count)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (r *orderRepository) Add(ctx context.Context, order domain.Order) (result domain.Order, err error) {
	if order.ID == uuid.Nil {
		return domain.Order{}, domain.ErrInvalidOrder
	}
	order = toStorePrecision(order)

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, customer_name, customer_email, order_date, status, total_amount_minor,
			shipping_address, tracking_number, processed_date, shipped_date, delivered_date, notes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		order.ID, order.CustomerName, order.CustomerEmail, order.OrderDate, int(order.Status),
		int64(order.TotalAmount), order.ShippingAddress, order.TrackingNumber,
		order.ProcessedDate, order.ShippedDate, order.DeliveredDate, order.Notes,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Order{}, domain.ErrOrderAlreadyExists
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	for pos, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, position, product_id, product_name, quantity, unit_price_minor
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			item.ID, order.ID, pos, item.ProductID, item.ProductName, item.Quantity, int64(item.UnitPrice),
		); err != nil {
			return domain.Order{}, fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit add order: %w", err)
	}
	return order.Clone(), nil
}

// Update переписывает строку заказа целиком; позиции не трогает.
func (r *orderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	if order.ID == uuid.Nil {
		return domain.Order{}, domain.ErrInvalidOrder
	}
	order = toStorePrecision(order)

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET customer_name = $2,
		    customer_email = $3,
		    order_date = $4,
		    status = $5,
		    total_amount_minor = $6,
		    shipping_address = $7,
		    tracking_number = $8,
		    processed_date = $9,
		    shipped_date = $10,
		    delivered_date = $11,
		    notes = $12
		WHERE id = $1
	`,
		order.ID, order.CustomerName, order.CustomerEmail, order.OrderDate, int(order.Status),
		int64(order.TotalAmount), order.ShippingAddress, order.TrackingNumber,
		order.ProcessedDate, order.ShippedDate, order.DeliveredDate, order.Notes,
	)
	if err != nil {
		return domain.Order{}, fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (r *orderRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check order exists: %w", err)
	}
	return exists, nil
}

// Delete удаляет заказ; позиции уходят каскадом.
func (r *orderRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, product_name, quantity, unit_price_minor
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		item := domain.OrderItem{OrderID: orderID}
		var price int64
		if err := rows.Scan(&item.ID, &item.ProductID, &item.ProductName, &item.Quantity, &price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.UnitPrice = domain.Money(price)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status int
		total  int64
	)
	var processed, shipped, delivered sql.NullTime
	if err := row.Scan(
		&order.ID, &order.CustomerName, &order.CustomerEmail, &order.OrderDate, &status, &total,
		&order.ShippingAddress, &order.TrackingNumber, &processed, &shipped, &delivered, &order.Notes,
	); err != nil {
		return domain.Order{}, err
	}

	order.OrderDate = order.OrderDate.UTC()
	order.Status = domain.OrderStatus(status)
	order.TotalAmount = domain.Money(total)
	order.ProcessedDate = nullTimePtr(processed)
	order.ShippedDate = nullTimePtr(shipped)
	order.DeliveredDate = nullTimePtr(delivered)
	return order, nil
}

// toStorePrecision обрезает отметки времени до микросекунд, чтобы Add и
// Update возвращали ровно то, что потом прочитает Get.
func toStorePrecision(order domain.Order) domain.Order {
	out := order.Clone()
	out.OrderDate = out.OrderDate.Truncate(timestampPrecision)
	for _, ts := range []*time.Time{out.ProcessedDate, out.ShippedDate, out.DeliveredDate} {
		if ts != nil {
			*ts = ts.Truncate(timestampPrecision)
		}
	}
	return out
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
