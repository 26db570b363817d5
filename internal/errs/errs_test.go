package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("create: %w", Invalid("body", "must not be blank"))
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Equal(t, "create: body: must not be blank", err.Error())

	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
	assert.Equal(t, "body", ve.Field)
}

func TestTransitionErrorMatchesSentinel(t *testing.T) {
	err := &TransitionError{From: "closed", To: "in_progress"}
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, "cannot move ticket from closed to in_progress", err.Error())
}
