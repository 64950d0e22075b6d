package token

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/auth/domain"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/usercontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	issuer := NewStaticIssuer("secret", "storefront", 15*time.Minute, clk)

	raw, expiresAt, err := issuer.Issue(snowflake.ID(1001), usercontext.RoleCustomer)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(15*time.Minute), expiresAt)

	p, err := issuer.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(1001), p.UserID)
	assert.Equal(t, usercontext.RoleCustomer, p.Role)
}

func TestVerifyExpired(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	issuer := NewStaticIssuer("secret", "storefront", time.Minute, clk)

	raw, _, err := issuer.Issue(snowflake.ID(7), usercontext.RoleAdmin)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	_, err = issuer.Verify(raw)
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	raw, _, err := NewStaticIssuer("other", "storefront", time.Minute, clk).Issue(snowflake.ID(7), usercontext.RoleAdmin)
	require.NoError(t, err)

	_, err = NewStaticIssuer("secret", "storefront", time.Minute, clk).Verify(raw)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	_, err = NewStaticIssuer("secret", "storefront", time.Minute, clk).Verify("not-a-jwt")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	raw, _, err := NewStaticIssuer("secret", "elsewhere", time.Minute, clk).Issue(snowflake.ID(7), usercontext.RoleCustomer)
	require.NoError(t, err)

	_, err = NewStaticIssuer("secret", "storefront", time.Minute, clk).Verify(raw)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}
