package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindRetryable(t *testing.T) {
	assert.True(t, KindTimeout.Retryable())
	assert.True(t, KindTransient.Retryable())
	assert.False(t, KindInvalidInput.Retryable())
	assert.False(t, KindResourceLimitExceeded.Retryable())
}

func TestErrorWrapAndIs(t *testing.T) {
	inner := fmt.Errorf("connection reset")
	wrapped := Transient("sync.upsert", inner)

	assert.ErrorIs(t, wrapped, wrapped)
	assert.True(t, errors.Is(wrapped, New(KindTransient, "", nil)))
	assert.False(t, errors.Is(wrapped, New(KindPermanent, "", nil)))
	assert.ErrorIs(t, wrapped, inner)
}

func TestOf(t *testing.T) {
	err := ResourceLimitExceeded("process.spawn", nil)
	assert.Equal(t, KindResourceLimitExceeded, Of(err))
	assert.Equal(t, KindUnknown, Of(fmt.Errorf("plain error")))

	outer := fmt.Errorf("spawn failed: %w", err)
	assert.Equal(t, KindResourceLimitExceeded, Of(outer))
}
