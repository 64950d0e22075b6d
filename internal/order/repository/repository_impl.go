package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storefront/internal/order/domain"
	"gorm.io/gorm"
)

const orderColumns = `id, user_id, status, total, currency, shipping_address,
	idempotency_key, payment_intent_id, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.UserID,
		order.Status,
		order.Total,
		order.Currency,
		order.ShippingAddress,
		order.IdempotencyKey,
		order.PaymentIntentID,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
	if err != nil {
		return err
	}

	for _, item := range order.Items {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO order_items (order_id, line_no, product_id, product_name, quantity, unit_price)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			order.ID,
			item.LineNo,
			item.ProductID,
			item.ProductName,
			item.Quantity,
			item.UnitPrice,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`,
		id,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, userID snowflake.ID, key string) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders
		 WHERE user_id = ? AND idempotency_key = ?`,
		userID, key,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) FindItems(ctx context.Context, db *gorm.DB, orderIDs []snowflake.ID) (map[snowflake.ID][]domain.Item, error) {
	out := make(map[snowflake.ID][]domain.Item, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}

	var items []domain.Item
	err := db.WithContext(ctx).Raw(
		`SELECT order_id, line_no, product_id, product_name, quantity, unit_price
		 FROM order_items
		 WHERE order_id IN ?
		 ORDER BY order_id, line_no`,
		orderIDs,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		out[item.OrderID] = append(out[item.OrderID], item)
	}
	return out, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *filter.UserID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.BeforeID != 0 {
		where = append(where, "id < ?")
		args = append(args, filter.BeforeID)
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	// snowflake ids grow with creation time
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var orders []domain.Order
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) FindStalePending(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders
		 WHERE status = ? AND payment_intent_id IS NULL AND created_at < ?
		 ORDER BY id ASC
		 LIMIT ?`,
		domain.StatusPending, cutoff, limit,
	).Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) CompareAndSetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.Status, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to, at, id, from,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) SetPaymentIntent(ctx context.Context, db *gorm.DB, id snowflake.ID, intentID string, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders SET payment_intent_id = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		intentID, at, id, domain.StatusPending,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB) (map[domain.Status]int64, error) {
	var rows []struct {
		Status domain.Status
		Count  int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS count FROM orders GROUP BY status`,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[domain.Status]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (r *repo) SumTotals(ctx context.Context, db *gorm.DB, statuses []domain.Status) (decimal.Decimal, error) {
	if len(statuses) == 0 {
		return decimal.Zero, nil
	}
	var row struct {
		Total decimal.Decimal
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(total), 0) AS total FROM orders WHERE status IN ?`,
		statuses,
	).Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	return row.Total, nil
}
