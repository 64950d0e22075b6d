package authorization

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/storetest"
	"github.com/smallbiznis/storefront/internal/usercontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewEnforcer(storetest.OpenDB(t))
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAdminAllowed(t *testing.T) {
	svc := newTestService(t)
	ctx := usercontext.WithPrincipal(context.Background(), usercontext.Principal{
		UserID: snowflake.ID(1),
		Role:   usercontext.RoleAdmin,
	})

	assert.NoError(t, svc.Authorize(ctx, ObjectOrder, ActionOrderUpdateStatus))
	assert.NoError(t, svc.Authorize(ctx, ObjectNotification, ActionNotificationSend))
}

func TestCustomerDenied(t *testing.T) {
	svc := newTestService(t)
	ctx := usercontext.WithPrincipal(context.Background(), usercontext.Principal{
		UserID: snowflake.ID(2),
		Role:   usercontext.RoleCustomer,
	})

	assert.ErrorIs(t, svc.Authorize(ctx, ObjectOrder, ActionOrderViewAll), ErrForbidden)
}

func TestRoleDowngradeTakesEffect(t *testing.T) {
	svc := newTestService(t)
	admin := usercontext.WithPrincipal(context.Background(), usercontext.Principal{UserID: snowflake.ID(3), Role: usercontext.RoleAdmin})
	customer := usercontext.WithPrincipal(context.Background(), usercontext.Principal{UserID: snowflake.ID(3), Role: usercontext.RoleCustomer})

	require.NoError(t, svc.Authorize(admin, ObjectOrder, ActionOrderStats))
	assert.ErrorIs(t, svc.Authorize(customer, ObjectOrder, ActionOrderStats), ErrForbidden)
}

func TestMissingPrincipal(t *testing.T) {
	svc := newTestService(t)
	assert.ErrorIs(t, svc.Authorize(context.Background(), ObjectOrder, ActionOrderStats), ErrInvalidActor)
}
