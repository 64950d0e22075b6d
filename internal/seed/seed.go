// Package seed bootstraps a fresh database with an admin account and an
// optional sample catalog. Every function is safe to run on each start.
package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	authdomain "github.com/smallbiznis/storefront/internal/auth/domain"
	"github.com/smallbiznis/storefront/internal/auth/password"
	"github.com/smallbiznis/storefront/internal/usercontext"
	"gorm.io/gorm"
)

const defaultAdminDisplay = "Store Admin"

type sampleProduct struct {
	name  string
	price string
}

var sampleCatalog = []sampleProduct{
	{name: "Ceramic Mug", price: "12.50"},
	{name: "Canvas Poster", price: "17.50"},
	{name: "Cotton Tote", price: "9.00"},
}

// EnsureAdmin creates the admin account when email is unused. An existing
// account with that email is promoted to admin.
func EnsureAdmin(ctx context.Context, db *gorm.DB, node *snowflake.Node, email, plain string) error {
	if db == nil || node == nil {
		return errors.New("seed database handle is required")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || plain == "" {
		return nil
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user authdomain.User
		err := tx.Where("lower(email) = ?", email).First(&user).Error
		if err == nil {
			if user.Role == usercontext.RoleAdmin {
				return nil
			}
			return tx.Model(&authdomain.User{}).
				Where("id = ?", user.ID).
				Updates(map[string]any{"role": usercontext.RoleAdmin, "updated_at": time.Now().UTC()}).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		hashed, err := password.Hash(plain)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		user = authdomain.User{
			ID:           node.Generate(),
			Email:        email,
			DisplayName:  defaultAdminDisplay,
			PasswordHash: hashed,
			Role:         usercontext.RoleAdmin,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.Create(&user).Error
	})
}

// EnsureSampleCatalog inserts a few products into an empty catalog.
func EnsureSampleCatalog(ctx context.Context, db *gorm.DB, node *snowflake.Node, currency string) error {
	if db == nil || node == nil {
		return errors.New("seed database handle is required")
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = "usd"
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Raw(`SELECT COUNT(*) FROM products`).Scan(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		now := time.Now().UTC()
		for _, p := range sampleCatalog {
			err := tx.Exec(
				`INSERT INTO products (id, name, price, currency, active, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
				node.Generate(), p.name, decimal.RequireFromString(p.price), currency, true, now,
			).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}
