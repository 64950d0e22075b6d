package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/notification/domain"
	"gorm.io/gorm"
)

const columns = `id, user_id, message, type, order_id, is_read, created_at, read_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, n *domain.Notification) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO notifications (`+columns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Message, n.Type, n.OrderID, n.IsRead, n.CreatedAt, n.ReadAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Notification, error) {
	query := `SELECT ` + columns + ` FROM notifications WHERE user_id = ?`
	args := []any{filter.UserID}
	if filter.IsRead != nil {
		query += ` AND is_read = ?`
		args = append(args, *filter.IsRead)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var items []domain.Notification
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountUnread(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = ?`,
		userID, false,
	).Scan(&count).Error
	return count, err
}

// MarkRead reports whether the row exists for the user. Already read rows
// keep their original read_at.
func (r *repo) MarkRead(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE notifications SET is_read = ?, read_at = ?
		 WHERE id = ? AND user_id = ? AND is_read = ?`,
		true, at, id, userID, false,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM notifications WHERE id = ? AND user_id = ?`,
		id, userID,
	).Scan(&count).Error
	return count > 0, err
}

func (r *repo) MarkAllRead(ctx context.Context, db *gorm.DB, userID snowflake.ID, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE notifications SET is_read = ?, read_at = ?
		 WHERE user_id = ? AND is_read = ?`,
		true, at, userID, false,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM notifications WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) UserExists(ctx context.Context, db *gorm.DB, userID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM users WHERE id = ?`,
		userID,
	).Scan(&count).Error
	return count > 0, err
}
