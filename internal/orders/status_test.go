package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusPending, StatusProcessing},
		{StatusPending, StatusCancelled},
		{StatusProcessing, StatusShipped},
		{StatusProcessing, StatusCancelled},
		{StatusShipped, StatusDelivered},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	rejected := [][2]Status{
		{StatusDelivered, StatusProcessing},
		{StatusDelivered, StatusCancelled},
		{StatusCancelled, StatusPending},
		{StatusShipped, StatusCancelled},
		{StatusPending, StatusShipped},
		{StatusPending, StatusPending},
	}
	for _, tr := range rejected {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("Shipped")
	assert.NoError(t, err)
	assert.Equal(t, StatusShipped, st)

	_, err = ParseStatus("shipped")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
