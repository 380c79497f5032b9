package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pix-checkout-api/models"
)

func TestIssueAndValidate(t *testing.T) {
	svc := NewJWTService("secret", "pix-checkout-api")

	resp, err := svc.IssueToken(models.Operator{Subject: "ops", Role: models.RoleOperator})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 3600, resp.ExpiresIn)

	op, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ops", op.Subject)
	assert.Equal(t, models.RoleOperator, op.Role)
}

func TestValidateRejects(t *testing.T) {
	svc := NewJWTService("secret", "pix-checkout-api")
	op := models.Operator{Subject: "ops", Role: models.RoleOperator}

	other := NewJWTService("other-secret", "pix-checkout-api")
	forged, err := other.GenerateToken(op, time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := NewJWTService("secret", "someone-else")
	token, err := wrongIssuer.GenerateToken(op, time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	past := NewJWTService("secret", "pix-checkout-api")
	past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := past.GenerateToken(op, time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrTokenExpired)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{TokenType: "access"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDisabledWithoutSecret(t *testing.T) {
	svc := NewJWTService("", "pix-checkout-api")
	assert.False(t, svc.Enabled())
	_, err := svc.IssueToken(models.Operator{Subject: "ops"})
	assert.Error(t, err)
}
