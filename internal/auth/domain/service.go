package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/usercontext"
)

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*TokenPair, error)
	Login(ctx context.Context, req LoginRequest) (*TokenPair, error)
	// Refresh rotates the refresh token. The presented token is revoked.
	Refresh(ctx context.Context, req RefreshRequest) (*TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	// Authenticate verifies an access token without touching storage.
	Authenticate(ctx context.Context, accessToken string) (usercontext.Principal, error)
	GetUser(ctx context.Context, id snowflake.ID) (*User, error)
}

type RegisterRequest struct {
	Email       string
	Password    string
	DisplayName string
	UserAgent   string
	IPAddress   string
}

type LoginRequest struct {
	Email     string
	Password  string
	UserAgent string
	IPAddress string
}

type RefreshRequest struct {
	RefreshToken string
	UserAgent    string
	IPAddress    string
}
