package chat

import (
	"context"
	"testing"
	"time"

	"arxivchat/internal/util"

	"github.com/stretchr/testify/require"
)

func TestLocalLockerSerializes(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "s1")
	require.ErrorIs(t, err, util.ErrSessionBusy)

	other, err := l.Lock(context.Background(), "s2")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := l.Lock(context.Background(), "s1")
	require.NoError(t, err)
	again()
	require.Empty(t, l.slots)
}

func TestRedisLockerWaitsForRelease(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := NewRedisLocker(client, time.Minute)
	l.poll = 5 * time.Millisecond

	unlock, err := l.Lock(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "s1")
	require.ErrorIs(t, err, util.ErrSessionBusy)

	done := make(chan error, 1)
	go func() {
		u, err := l.Lock(context.Background(), "s1")
		if err == nil {
			u()
		}
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	unlock()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second holder never acquired the lock")
	}
}

func TestRedisLockerStaleReleaseKeepsNewHolder(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := NewRedisLocker(client, 50*time.Millisecond)

	staleUnlock, err := l.Lock(context.Background(), "s1")
	require.NoError(t, err)
	mr.FastForward(time.Second)

	fresh, err := l.Lock(context.Background(), "s1")
	require.NoError(t, err)
	staleUnlock()
	require.True(t, mr.Exists(lockPrefix+"s1"))
	fresh()
	require.False(t, mr.Exists(lockPrefix+"s1"))
}

func TestRedisLockerExtendsLeaseWhileHeld(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := NewRedisLocker(client, 90*time.Millisecond)
	name := lockPrefix + "s1"

	unlock, err := l.Lock(context.Background(), "s1")
	require.NoError(t, err)
	defer unlock()

	mr.FastForward(60 * time.Millisecond)
	require.Eventually(t, func() bool {
		return mr.TTL(name) > 60*time.Millisecond
	}, 2*time.Second, 5*time.Millisecond)
	mr.FastForward(60 * time.Millisecond)
	require.True(t, mr.Exists(name))
}

func TestRedisLockerExtendChecksOwner(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := NewRedisLocker(client, time.Minute)
	name := lockPrefix + "s1"

	unlock, err := l.Lock(context.Background(), "s1")
	require.NoError(t, err)

	held, err := l.extend(context.Background(), name, "someone-else")
	require.NoError(t, err)
	require.False(t, held)

	unlock()
	held, err = l.extend(context.Background(), name, "someone-else")
	require.NoError(t, err)
	require.False(t, held)
}
