package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/college-timetable-api/internal/models"
	appErrors "github.com/noah-isme/college-timetable-api/pkg/errors"
)

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims models.JWTClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestValidateToken(t *testing.T) {
	svc := NewTokenService("secret", "college")
	now := time.Now()
	claims := models.JWTClaims{
		UserID: "u1",
		Role:   models.RoleStaff,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "college",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	parsed, err := svc.ValidateToken(signToken(t, jwt.SigningMethodHS256, []byte("secret"), claims))
	require.NoError(t, err)
	assert.Equal(t, "u1", parsed.UserID)
	assert.Equal(t, models.RoleStaff, parsed.Role)

	_, err = svc.ValidateToken(signToken(t, jwt.SigningMethodHS256, []byte("other"), claims))
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	_, err = svc.ValidateToken(signToken(t, jwt.SigningMethodHS512, []byte("secret"), claims))
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	expired := claims
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	_, err = svc.ValidateToken(signToken(t, jwt.SigningMethodHS256, []byte("secret"), expired))
	assert.Error(t, err)

	foreign := claims
	foreign.Issuer = "elsewhere"
	_, err = svc.ValidateToken(signToken(t, jwt.SigningMethodHS256, []byte("secret"), foreign))
	assert.Error(t, err)

	unknownRole := claims
	unknownRole.Role = "PARENT"
	_, err = svc.ValidateToken(signToken(t, jwt.SigningMethodHS256, []byte("secret"), unknownRole))
	assert.Error(t, err)
}
