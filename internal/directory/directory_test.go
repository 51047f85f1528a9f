package directory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type countingLookup struct {
	users    map[int64]string
	emails   map[int64]string
	products map[int64]string
	calls    atomic.Int64
}

func (l *countingLookup) UserName(ctx context.Context, userID int64) (string, error) {
	l.calls.Add(1)
	name, ok := l.users[userID]
	if !ok {
		return "", ErrNotFound
	}
	return name, nil
}

func (l *countingLookup) UserEmail(ctx context.Context, userID int64) (string, error) {
	l.calls.Add(1)
	email, ok := l.emails[userID]
	if !ok {
		return "", ErrNotFound
	}
	return email, nil
}

func (l *countingLookup) ProductDescription(ctx context.Context, productID int64) (string, error) {
	l.calls.Add(1)
	desc, ok := l.products[productID]
	if !ok {
		return "", ErrNotFound
	}
	return desc, nil
}

func newTestLookup() *countingLookup {
	return &countingLookup{
		users:    map[int64]string{1: "Marta Reyes"},
		emails:   map[int64]string{1: "marta@andino.local"},
		products: map[int64]string{100: "Alfajor artesanal 60g"},
	}
}

func TestUserNameCachesInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	lookup := newTestLookup()
	svc := NewService(lookup, client, time.Minute, nil)

	name, err := svc.UserName(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "Marta Reyes", name)
	require.EqualValues(t, 1, lookup.calls.Load())

	// Second call is served from redis.
	name, err = svc.UserName(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "Marta Reyes", name)
	require.EqualValues(t, 1, lookup.calls.Load())

	require.True(t, mr.Exists("directory:user:1"))
}

func TestCacheExpiryReloads(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	lookup := newTestLookup()
	svc := NewService(lookup, client, time.Minute, nil)

	_, err := svc.ProductDescription(context.Background(), 100)
	require.NoError(t, err)
	require.EqualValues(t, 1, lookup.calls.Load())

	mr.FastForward(2 * time.Minute)

	desc, err := svc.ProductDescription(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, "Alfajor artesanal 60g", desc)
	require.EqualValues(t, 2, lookup.calls.Load())
}

func TestNilClientSkipsCaching(t *testing.T) {
	lookup := newTestLookup()
	svc := NewService(lookup, nil, time.Minute, nil)

	for i := 0; i < 3; i++ {
		email, err := svc.UserEmail(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, "marta@andino.local", email)
	}
	require.EqualValues(t, 3, lookup.calls.Load())
}

func TestMissPropagatesNotFound(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc := NewService(newTestLookup(), client, time.Minute, nil)

	_, err := svc.UserName(context.Background(), 999)
	require.ErrorIs(t, err, ErrNotFound)
	// Failed lookups are not cached.
	require.False(t, mr.Exists("directory:user:999"))
}

func TestRedisDownDegradesToDirectLookup(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 10 * time.Millisecond})
	lookup := newTestLookup()
	svc := NewService(lookup, client, time.Minute, nil)

	name, err := svc.UserName(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "Marta Reyes", name)
	require.EqualValues(t, 1, lookup.calls.Load())
}
