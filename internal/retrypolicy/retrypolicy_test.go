package retrypolicy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ivmironov/order-saga/internal/retrypolicy"
	"github.com/stretchr/testify/assert"
)

func TestPolicy_SucceedsAfterTransientFailures(t *testing.T) {
	p := retrypolicy.New(3, time.Millisecond, 5*time.Millisecond)

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}

		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicy_GivesUpAfterMaxAttempts(t *testing.T) {
	p := retrypolicy.New(3, time.Millisecond, 5*time.Millisecond)

	errBroken := errors.New("broker unreachable")
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++

		return errBroken
	})

	assert.Error(t, err)
	assert.ErrorIs(t, err, errBroken)
	assert.Equal(t, 3, calls)
}

func TestPolicy_StopsOnContextCancel(t *testing.T) {
	p := retrypolicy.New(10, 50*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := p.Do(ctx, func(ctx context.Context) error {
		calls++

		return errors.New("still down")
	})

	assert.Error(t, err)
	assert.LessOrEqual(t, calls, 3)
}
