package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/studiobook/studiobook-api/internal/pkg/calendarapi"
	"github.com/studiobook/studiobook-api/internal/pkg/secretbox"
)

// refreshSkew refreshes tokens slightly before the provider would reject them.
const refreshSkew = time.Minute

// TokenRefresher exchanges a refresh token for a new access token.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*calendarapi.Token, error)
}

// CredentialSource hands out a valid access token for an account or fails.
type CredentialSource struct {
	repo      Repository
	box       *secretbox.Box
	refresher TokenRefresher
	now       func() time.Time
}

// NewCredentialSource creates a credential source.
func NewCredentialSource(repo Repository, box *secretbox.Box, refresher TokenRefresher) *CredentialSource {
	return &CredentialSource{repo: repo, box: box, refresher: refresher, now: time.Now}
}

// Seal encrypts a token pair for storage on an account.
func (s *CredentialSource) Seal(a *Account, access, refresh string, expiresAt *time.Time) error {
	sealedAccess, err := s.box.Seal(access)
	if err != nil {
		return err
	}
	sealedRefresh, err := s.box.Seal(refresh)
	if err != nil {
		return err
	}
	a.AccessToken = sealedAccess
	a.RefreshToken = sealedRefresh
	a.TokenExpiresAt = expiresAt
	return nil
}

// AccessToken returns a usable access token, refreshing and persisting a new one when
// the stored token is about to expire.
func (s *CredentialSource) AccessToken(ctx context.Context, a *Account) (string, error) {
	access, err := s.box.Open(a.AccessToken)
	if err != nil {
		log.Error().Err(err).Str("account_id", a.ID.String()).Msg("Failed to open calendar access token")
		return "", ErrCredentialUnavailable
	}
	if access != "" && (a.TokenExpiresAt == nil || s.now().Add(refreshSkew).Before(*a.TokenExpiresAt)) {
		return access, nil
	}

	refresh, err := s.box.Open(a.RefreshToken)
	if err != nil || refresh == "" || s.refresher == nil {
		return "", ErrCredentialUnavailable
	}

	tok, err := s.refresher.RefreshToken(ctx, refresh)
	if err != nil {
		if errors.Is(err, calendarapi.ErrUnauthorized) {
			return "", ErrCredentialUnavailable
		}
		return "", err
	}

	expiresAt := tok.ExpiresAt
	if err := s.Seal(a, tok.AccessToken, tok.RefreshToken, &expiresAt); err != nil {
		return "", err
	}
	if err := s.repo.UpdateTokens(ctx, a.ID, a.AccessToken, a.RefreshToken, a.TokenExpiresAt); err != nil {
		return "", err
	}

	log.Info().Str("account_id", a.ID.String()).Msg("Calendar token refreshed")
	return tok.AccessToken, nil
}
