package reservation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusExpired, true},
		{StatusPending, StatusPaymentFailed, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusRejected, true},
		{StatusConfirmed, StatusExpired, false},
		{StatusConfirmed, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusExpired, StatusCancelled, false},
		{StatusPaymentFailed, StatusConfirmed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []Status{StatusCancelled, StatusExpired, StatusRejected, StatusPaymentFailed} {
		assert.True(t, s.Terminal(), s)
	}
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusConfirmed.Terminal())
}

func TestTransitionClearsExpiry(t *testing.T) {
	r := &Reservation{Status: StatusPending, ExpiresAt: new(time.Time)}

	require.NoError(t, r.transition(StatusConfirmed))
	assert.Nil(t, r.ExpiresAt)

	err := r.transition(StatusPending)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusConfirmed, te.From)
	assert.Equal(t, StatusPending, te.To)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, StatusConfirmed, r.Status)
}

func TestRecomputeTotal(t *testing.T) {
	r := &Reservation{ItemPrice: 1200, Discount: 200, TimeSlots: []string{"10:00", "11:00", "12:00"}}
	r.RecomputeTotal()
	assert.Equal(t, int64(3400), r.TotalPrice)

	r.TimeSlots = r.TimeSlots[:1]
	r.RecomputeTotal()
	assert.Equal(t, int64(1000), r.TotalPrice)
}
