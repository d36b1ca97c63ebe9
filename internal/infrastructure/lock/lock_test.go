package lock

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mobomo/C2/internal/application/port"
)

func exerciseMutualExclusion(t *testing.T, l port.Locker, key string) {
	t.Helper()
	ctx := context.Background()

	var mu sync.Mutex
	inside, maxInside, total := 0, 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, key)
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			inside--
			total++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Equal(t, 8, total)
}

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	exerciseMutualExclusion(t, NewMemoryLocker(), "proposal:1")
}

func TestMemoryLocker_IndependentKeys(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "proposal:1")
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := l.Lock(ctx, "proposal:2")
		if err == nil {
			unlockB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("a different key must not block")
	}
}

func TestMemoryLocker_ContextCancel(t *testing.T) {
	l := NewMemoryLocker()
	unlock, err := l.Lock(context.Background(), "proposal:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "proposal:1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op

	again, err := l.Lock(context.Background(), "proposal:1")
	require.NoError(t, err)
	again()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.slots)
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	addr := os.Getenv("C2_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("C2_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	require.NoError(t, rdb.Ping(context.Background()).Err())

	l := NewRedisLocker(rdb, RedisConfig{Prefix: "c2:test:", PollInterval: time.Millisecond}, zap.NewNop())
	exerciseMutualExclusion(t, l, "proposal:"+time.Now().Format("150405.000000"))
}
