package memory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ivmironov/order-saga/internal/broker"
	"github.com/ivmironov/order-saga/internal/broker/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_OrderingPerKey(t *testing.T) {
	b := memory.NewBroker(memory.WithPartitions(4))
	defer b.Close()

	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	err := b.Subscribe(ctx, "orders.test", "group-a", func(ctx context.Context, msg broker.Message) error {
		mu.Lock()
		got = append(got, string(msg.Payload))
		mu.Unlock()

		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish(ctx, "orders.test", "order-42", []byte(fmt.Sprintf("m%d", i))))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(got) == 10
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < 10; i++ {
		assert.Equal(t, fmt.Sprintf("m%d", i), got[i])
	}
}

func TestBroker_SeparateGroupsEachReceive(t *testing.T) {
	b := memory.NewBroker()
	defer b.Close()

	ctx := context.Background()

	var mu sync.Mutex
	counts := map[string]int{}
	handler := func(group string) broker.Handler {
		return func(ctx context.Context, msg broker.Message) error {
			mu.Lock()
			counts[group]++
			mu.Unlock()

			return nil
		}
	}

	require.NoError(t, b.Subscribe(ctx, "facts", "group-a", handler("group-a")))
	require.NoError(t, b.Subscribe(ctx, "facts", "group-b", handler("group-b")))

	require.NoError(t, b.Publish(ctx, "facts", "k1", []byte("payload")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return counts["group-a"] == 1 && counts["group-b"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroker_SecondMemberOfGroupDoesNotDuplicate(t *testing.T) {
	b := memory.NewBroker()
	defer b.Close()

	ctx := context.Background()

	var mu sync.Mutex
	total := 0
	handler := func(ctx context.Context, msg broker.Message) error {
		mu.Lock()
		total++
		mu.Unlock()

		return nil
	}

	require.NoError(t, b.Subscribe(ctx, "facts", "shared", handler))
	require.NoError(t, b.Subscribe(ctx, "facts", "shared", handler))

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(ctx, "facts", fmt.Sprintf("k%d", i), []byte("p")))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return total == 5
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, total)
}

func TestBroker_RedeliversUntilHandlerSucceeds(t *testing.T) {
	b := memory.NewBroker(memory.WithRedeliverDelay(5 * time.Millisecond))
	defer b.Close()

	ctx := context.Background()

	var mu sync.Mutex
	var attempts []int
	err := b.Subscribe(ctx, "flaky", "group-a", func(ctx context.Context, msg broker.Message) error {
		mu.Lock()
		attempts = append(attempts, msg.Attempt)
		n := len(attempts)
		mu.Unlock()
		if n < 3 {
			return errors.New("boom")
		}

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "flaky", "k", []byte("p")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(attempts) == 3
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestBroker_RedeliveryDoesNotBlockOtherPartitions(t *testing.T) {
	b := memory.NewBroker(memory.WithPartitions(8), memory.WithRedeliverDelay(time.Hour))
	defer b.Close()

	ctx := context.Background()

	var mu sync.Mutex
	delivered := map[string]bool{}
	err := b.Subscribe(ctx, "mixed", "group-a", func(ctx context.Context, msg broker.Message) error {
		if msg.Key == "poison" {
			return errors.New("cannot process")
		}
		mu.Lock()
		delivered[msg.Key] = true
		mu.Unlock()

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "mixed", "poison", []byte("p")))
	// Keys chosen freely; with 8 partitions most will not share the poison partition.
	for i := 0; i < 20; i++ {
		require.NoError(t, b.Publish(ctx, "mixed", fmt.Sprintf("ok-%d", i), []byte("p")))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(delivered) >= 10
	}, 2*time.Second, 10*time.Millisecond)
}
