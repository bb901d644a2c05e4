package idem

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/tripguard/clock"
	"github.com/ceyewan/tripguard/testkit"
)

type confirmation struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func newGuards(t *testing.T) map[string]*Guard {
	t.Helper()
	_, client := testkit.NewRedisClient(t)

	redisGuard, err := New(&Config{Driver: DriverRedis}, WithRedis(client),
		WithLogger(testkit.NewLogger()), WithMeter(testkit.NewMeter(t)))
	require.NoError(t, err)

	memoryGuard, err := New(&Config{Driver: DriverMemory}, WithLogger(testkit.NewLogger()))
	require.NoError(t, err)

	return map[string]*Guard{"redis": redisGuard, "memory": memoryGuard}
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrConfigNil)

	_, err = New(&Config{Driver: "etcd"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(&Config{})
	assert.ErrorIs(t, err, ErrRedisRequired)
}

func TestDoReplaysSuccessfulResult(t *testing.T) {
	for name, g := range newGuards(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var calls atomic.Int32
			fn := func(context.Context) (*confirmation, error) {
				calls.Add(1)
				return &confirmation{OrderID: "ord_1", Status: "confirmed"}, nil
			}

			first, replayed, err := Do(ctx, g, "booking:br_1", fn)
			require.NoError(t, err)
			assert.False(t, replayed)
			assert.Equal(t, "ord_1", first.OrderID)

			second, replayed, err := Do(ctx, g, "booking:br_1", fn)
			require.NoError(t, err)
			assert.True(t, replayed)
			assert.Equal(t, first, second)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestDoDoesNotCacheErrors(t *testing.T) {
	for name, g := range newGuards(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			boom := errors.New("payment declined")

			_, _, err := Do(ctx, g, "booking:br_2", func(context.Context) (*confirmation, error) {
				return nil, boom
			})
			assert.ErrorIs(t, err, boom)

			got, replayed, err := Do(ctx, g, "booking:br_2", func(context.Context) (*confirmation, error) {
				return &confirmation{OrderID: "ord_2"}, nil
			})
			require.NoError(t, err)
			assert.False(t, replayed)
			assert.Equal(t, "ord_2", got.OrderID)
		})
	}
}

func TestExecuteRejectsConcurrentDuplicate(t *testing.T) {
	for name, g := range newGuards(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			started := make(chan struct{})
			release := make(chan struct{})

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := g.Execute(ctx, "booking:br_3", func(context.Context) ([]byte, error) {
					close(started)
					<-release
					return []byte(`{"order_id":"ord_3"}`), nil
				})
				assert.NoError(t, err)
			}()

			<-started
			_, _, err := g.Execute(ctx, "booking:br_3", func(context.Context) ([]byte, error) {
				t.Error("duplicate must not execute")
				return nil, nil
			})
			assert.ErrorIs(t, err, ErrConcurrentRequest)

			close(release)
			wg.Wait()

			raw, replayed, err := g.Execute(ctx, "booking:br_3", func(context.Context) ([]byte, error) {
				t.Error("completed key must replay")
				return nil, nil
			})
			require.NoError(t, err)
			assert.True(t, replayed)
			assert.JSONEq(t, `{"order_id":"ord_3"}`, string(raw))
		})
	}
}

func TestExecuteEmptyKey(t *testing.T) {
	g := newGuards(t)["memory"]
	_, _, err := g.Execute(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrKeyEmpty)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	s := newMemoryStore("t:", clk)

	token, ok, err := s.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lock is held")

	clk.Advance(2 * time.Minute)
	assert.ErrorIs(t, s.SetResult(ctx, "k", []byte("x"), time.Hour, token), errLockLost,
		"expired lock cannot store a result")

	token, ok, err = s.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "expired lock can be re-acquired")
	require.NoError(t, s.SetResult(ctx, "k", []byte("x"), time.Hour, token))

	got, err := s.GetResult(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)

	clk.Advance(time.Hour)
	_, err = s.GetResult(ctx, "k")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestRedisUnlockRequiresToken(t *testing.T) {
	ctx := context.Background()
	mr, client := testkit.NewRedisClient(t)
	s := newRedisStore(client, "t:")

	_, ok, err := s.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Unlock(ctx, "k", LockToken("someone-else")))
	assert.True(t, mr.Exists("t:k:lock"), "foreign token must not release the lock")

	assert.ErrorIs(t, s.SetResult(ctx, "k", []byte("x"), time.Hour, LockToken("someone-else")), errLockLost)
}
