package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiobook/studiobook-api/internal/pkg/storage"
)

func TestReportAndList(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	day := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store)
	svc.now = func() time.Time { return day }

	require.NoError(t, svc.Report(ctx, Incident{
		Kind:    KindRefundFailed,
		Subject: "reservation/123",
		Message: "card_declined",
		Details: map[string]string{"amount": "5000"},
	}))

	got, err := svc.List(ctx, day)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, KindRefundFailed, got[0].Kind)
	assert.Equal(t, "card_declined", got[0].Message)
	assert.Equal(t, "5000", got[0].Details["amount"])

	other, err := svc.List(ctx, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, other)
}
