package notification

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const deliveryTimeout = 5 * time.Second

// Pusher delivers a payload to a user's live connections.
type Pusher interface {
	SendToUser(userID uuid.UUID, payload any) error
}

// Service stores notifications and pushes them to connected clients.
type Service struct {
	repo   Repository
	pusher Pusher
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewService creates notification service. repo and pusher may be nil.
func NewService(repo Repository, pusher Pusher) *Service {
	return &Service{repo: repo, pusher: pusher, now: time.Now}
}

// Notify delivers kind to the recipient in the background. Failures are logged and never
// reach the caller.
func (s *Service) Notify(ctx context.Context, kind string, recipientID uuid.UUID, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("Failed to encode notification payload")
		return
	}
	n := &Notification{
		ID:        uuid.New(),
		UserID:    recipientID,
		Kind:      kind,
		Payload:   raw,
		CreatedAt: s.now(),
	}

	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
		defer cancel()
		s.deliver(ctx, n)
	}()
}

func (s *Service) deliver(ctx context.Context, n *Notification) {
	if s.repo != nil {
		if err := s.repo.Create(ctx, n); err != nil {
			log.Error().Err(err).
				Str("user_id", n.UserID.String()).
				Str("kind", n.Kind).
				Msg("Failed to store notification")
		}
	}

	if s.pusher == nil {
		return
	}
	event := WSEvent{Type: EventNotification, Data: NewNotificationResponse(n)}
	if err := s.pusher.SendToUser(n.UserID, event); err != nil {
		log.Warn().Err(err).
			Str("user_id", n.UserID.String()).
			Str("kind", n.Kind).
			Msg("Failed to push notification")
	}
}

// Wait blocks until every pending delivery has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// List returns notifications for user
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// UnreadCount returns unread count
func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	return s.repo.CountUnreadByUser(ctx, userID)
}

// MarkAsRead marks one of the user's notifications as read
func (s *Service) MarkAsRead(ctx context.Context, userID, id uuid.UUID) error {
	if s.repo == nil {
		return ErrNotFound
	}
	return s.repo.MarkAsRead(ctx, userID, id)
}

// MarkAllAsRead marks all notifications as read
func (s *Service) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	if s.repo == nil {
		return nil
	}
	return s.repo.MarkAllAsRead(ctx, userID)
}
