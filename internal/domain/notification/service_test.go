package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingPusher struct{}

func (failingPusher) SendToUser(uuid.UUID, any) error { return errors.New("offline") }

func TestNotifyPersistsAndPushes(t *testing.T) {
	hub := startHub(t)
	repo := NewMemoryRepository()
	svc := NewService(repo, hub)
	userID := uuid.New()
	conn := connect(hub, userID)
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)

	svc.Notify(context.Background(), "reservation.confirmed", userID, map[string]any{"reservation_id": "r-1"})
	svc.Wait()

	event := waitEvent(t, conn.Send)
	assert.Equal(t, EventNotification, event["type"])
	data := event["data"].(map[string]any)
	assert.Equal(t, "reservation.confirmed", data["kind"])

	list, err := svc.List(context.Background(), userID, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "r-1", list[0].Data()["reservation_id"])

	count, err := svc.UnreadCount(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNotifySurvivesCancelledCaller(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, failingPusher{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	userID := uuid.New()
	svc.Notify(ctx, "reservation.expired", userID, nil)
	svc.Wait()

	count, err := svc.UnreadCount(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMarkAsReadIsScopedToOwner(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, nil)
	owner := uuid.New()
	svc.Notify(context.Background(), "reservation.requested", owner, nil)
	svc.Wait()

	list, err := svc.List(context.Background(), owner, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	err = svc.MarkAsRead(context.Background(), uuid.New(), list[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.MarkAsRead(context.Background(), owner, list[0].ID))
	count, err := svc.UnreadCount(context.Background(), owner)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCleanupRemovesOldNotifications(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	userID := uuid.New()
	old := time.Now().AddDate(0, 0, -100)
	ancient := time.Now().AddDate(0, 0, -200)

	require.NoError(t, repo.Create(ctx, &Notification{ID: uuid.New(), UserID: userID, Kind: "a", IsRead: true, CreatedAt: old}))
	require.NoError(t, repo.Create(ctx, &Notification{ID: uuid.New(), UserID: userID, Kind: "b", CreatedAt: old}))
	require.NoError(t, repo.Create(ctx, &Notification{ID: uuid.New(), UserID: userID, Kind: "c", CreatedAt: ancient}))
	require.NoError(t, repo.Create(ctx, &Notification{ID: uuid.New(), UserID: userID, Kind: "d", IsRead: true, CreatedAt: time.Now()}))

	deleted, err := NewCleanupJob(repo, 90).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	left, err := repo.ListByUser(ctx, userID, 10, 0)
	require.NoError(t, err)
	kinds := []string{left[0].Kind, left[1].Kind}
	assert.ElementsMatch(t, []string{"b", "d"}, kinds)
}
