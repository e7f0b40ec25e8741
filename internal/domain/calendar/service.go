package calendar

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/studiobook/studiobook-api/internal/domain/availability"
	"github.com/studiobook/studiobook-api/internal/pkg/jwt"
)

// ConnectInput is a calendar the vendor authorized on the provider side.
type ConnectInput struct {
	ResourceID   uuid.UUID
	CalendarID   string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// Service manages connected calendar accounts on behalf of vendors.
type Service struct {
	repo       Repository
	resources  availability.Repository
	creds      *CredentialSource
	reconciler *Reconciler
}

// NewService creates the account service.
func NewService(repo Repository, resources availability.Repository, creds *CredentialSource, reconciler *Reconciler) *Service {
	return &Service{repo: repo, resources: resources, creds: creds, reconciler: reconciler}
}

// Connect stores a new account for one of the vendor's resources. The tokens are sealed
// before they reach the repository.
func (s *Service) Connect(ctx context.Context, vendorID uuid.UUID, role string, in ConnectInput) (*Account, error) {
	res, err := s.resources.GetResource(ctx, in.ResourceID)
	if err != nil {
		return nil, err
	}
	if role != jwt.RoleAdmin && res.VendorID != vendorID {
		return nil, ErrForbidden
	}

	a := &Account{
		ID:         uuid.New(),
		VendorID:   res.VendorID,
		ResourceID: res.ID,
		CalendarID: in.CalendarID,
		IsActive:   true,
	}
	if err := s.creds.Seal(a, in.AccessToken, in.RefreshToken, in.ExpiresAt); err != nil {
		return nil, err
	}
	if err := s.repo.SaveAccount(ctx, a); err != nil {
		return nil, err
	}

	log.Info().
		Str("account_id", a.ID.String()).
		Str("resource_id", a.ResourceID.String()).
		Msg("Calendar connected")
	return a, nil
}

// List returns the vendor's accounts.
func (s *Service) List(ctx context.Context, vendorID uuid.UUID) ([]*Account, error) {
	return s.repo.ListAccountsByVendor(ctx, vendorID)
}

// Sync runs an on-demand reconciliation of one account.
func (s *Service) Sync(ctx context.Context, vendorID uuid.UUID, role string, id uuid.UUID) (*SyncResult, error) {
	a, err := s.owned(ctx, vendorID, role, id)
	if err != nil {
		return nil, err
	}
	if !a.IsActive {
		return nil, ErrAccountNotFound
	}
	return s.reconciler.SyncAccount(ctx, a)
}

// Disconnect deactivates the account and frees every slot its events blocked.
func (s *Service) Disconnect(ctx context.Context, vendorID uuid.UUID, role string, id uuid.UUID) error {
	a, err := s.owned(ctx, vendorID, role, id)
	if err != nil {
		return err
	}

	a.IsActive = false
	a.AccessToken, a.RefreshToken, a.TokenExpiresAt = "", "", nil
	a.SyncToken = ""
	if err := s.repo.SaveAccount(ctx, a); err != nil {
		return err
	}

	released, err := s.reconciler.Release(ctx, a)
	if err != nil {
		return err
	}
	log.Info().Str("account_id", a.ID.String()).Int("released", released).Msg("Calendar disconnected")
	return nil
}

func (s *Service) owned(ctx context.Context, vendorID uuid.UUID, role string, id uuid.UUID) (*Account, error) {
	a, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if role != jwt.RoleAdmin && a.VendorID != vendorID {
		return nil, ErrForbidden
	}
	return a, nil
}
