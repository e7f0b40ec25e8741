package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := NewService("secret", time.Minute)
	userID := uuid.New()

	token, err := svc.GenerateAccessToken(userID, RoleVendor)
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, RoleVendor, claims.Role)
}

func TestValidateAccessTokenRejects(t *testing.T) {
	svc := NewService("secret", time.Minute)
	token, err := NewService("other", time.Minute).GenerateAccessToken(uuid.New(), RoleCustomer)
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewService("secret", time.Nanosecond).GenerateAccessToken(uuid.New(), RoleCustomer)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = svc.ValidateAccessToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
