package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusShipped, false},
		{StatusPending, StatusDelivered, false},
		{StatusConfirmed, StatusShipped, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusPending, false},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusCancelled, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusDelivered, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusCancelled, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+" to "+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestParseStatus(t *testing.T) {
	for _, valid := range []string{"pending", "confirmed", "shipped", "delivered", "cancelled"} {
		status, err := ParseStatus(valid)
		require.NoError(t, err)
		assert.Equal(t, valid, status.String())
	}

	_, err := ParseStatus("refunded")
	assert.ErrorIs(t, err, ErrUnknownStatus)

	_, err = ParseStatus("")
	assert.ErrorIs(t, err, ErrUnknownStatus)
}
