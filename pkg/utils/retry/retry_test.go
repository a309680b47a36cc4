package retry

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestTrySucceedsOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := Times(5).Try(func(attempt uint) error {
		attempts++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestTryRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	err := Times(5).Try(func(attempt uint) error {
		attempts++
		if attempts < 3 {
			return errors.Errorf("not ready yet")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestTryReturnsLastErrorWhenExhausted(t *testing.T) {
	attempts := 0
	err := Times(3).Try(func(attempt uint) error {
		attempts++
		return errors.Errorf("attempt %d failed", attempt)
	})
	assert.EqualError(t, err, "attempt 2 failed")
	assert.Equal(t, 3, attempts)
}

func TestTryWithoutAction(t *testing.T) {
	assert.Error(t, Times(3).Try(nil))
}
