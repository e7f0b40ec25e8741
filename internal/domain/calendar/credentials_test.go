package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenUsesStoredToken(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")

	token, err := f.creds.AccessToken(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, "access", token)
	assert.Zero(t, f.refresher.calls)
	assert.NotEqual(t, "access", a.AccessToken, "token must be stored sealed")
}

func TestAccessTokenRefreshesWhenExpiring(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	soon := time.Now().Add(30 * time.Second)
	a.TokenExpiresAt = &soon

	token, err := f.creds.AccessToken(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, 1, f.refresher.calls)

	stored, err := f.repo.GetAccount(context.Background(), a.ID)
	require.NoError(t, err)
	again, err := f.creds.AccessToken(context.Background(), stored)
	require.NoError(t, err)
	assert.Equal(t, "fresh", again)
	assert.Equal(t, 1, f.refresher.calls)
}

func TestAccessTokenWithoutRefreshToken(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	past := time.Now().Add(-time.Minute)
	require.NoError(t, f.creds.Seal(a, "access", "", &past))

	_, err := f.creds.AccessToken(context.Background(), a)
	assert.ErrorIs(t, err, ErrCredentialUnavailable)
}

func TestAccessTokenRejectsTamperedToken(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	a.AccessToken = "not-sealed"

	_, err := f.creds.AccessToken(context.Background(), a)
	assert.ErrorIs(t, err, ErrCredentialUnavailable)
}
