// Package directory resolves user names and product descriptions from the
// surrounding application's master data. The subsystem only reads these; a
// redis cache keeps the hot lookups off the master-data tables.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound indicates the user or product does not exist.
var ErrNotFound = errors.New("directory: not found")

// Repository reads master data from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UserName returns the display name for a user id.
func (r *Repository) UserName(ctx context.Context, userID int64) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT name FROM users WHERE id = $1`, userID).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return name, nil
}

// UserEmail returns the notification address for a user id.
func (r *Repository) UserEmail(ctx context.Context, userID int64) (string, error) {
	var email string
	err := r.pool.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return email, nil
}

// ProductDescription returns the description for a product id.
func (r *Repository) ProductDescription(ctx context.Context, productID int64) (string, error) {
	var desc string
	err := r.pool.QueryRow(ctx, `SELECT description FROM products WHERE id = $1`, productID).Scan(&desc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return desc, nil
}

// LookupPort is the raw lookup behind the cache.
type LookupPort interface {
	UserName(ctx context.Context, userID int64) (string, error)
	UserEmail(ctx context.Context, userID int64) (string, error)
	ProductDescription(ctx context.Context, productID int64) (string, error)
}

// Service caches lookups in redis and collapses concurrent misses with
// singleflight. Redis being down degrades to direct lookups with a warning;
// it never fails a business operation.
type Service struct {
	lookup LookupPort
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewService constructs the directory service. client may be nil to disable
// caching entirely.
func NewService(lookup LookupPort, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{lookup: lookup, client: client, ttl: ttl, logger: logger}
}

// UserName resolves a user's display name.
func (s *Service) UserName(ctx context.Context, userID int64) (string, error) {
	key := fmt.Sprintf("directory:user:%d", userID)
	return s.cached(ctx, key, func(ctx context.Context) (string, error) {
		return s.lookup.UserName(ctx, userID)
	})
}

// UserEmail resolves a user's notification address.
func (s *Service) UserEmail(ctx context.Context, userID int64) (string, error) {
	key := fmt.Sprintf("directory:user-email:%d", userID)
	return s.cached(ctx, key, func(ctx context.Context) (string, error) {
		return s.lookup.UserEmail(ctx, userID)
	})
}

// ProductDescription resolves a product's description.
func (s *Service) ProductDescription(ctx context.Context, productID int64) (string, error) {
	key := fmt.Sprintf("directory:product:%d", productID)
	return s.cached(ctx, key, func(ctx context.Context) (string, error) {
		return s.lookup.ProductDescription(ctx, productID)
	})
}

func (s *Service) cached(ctx context.Context, key string, load func(context.Context) (string, error)) (string, error) {
	if s.client != nil {
		val, err := s.client.Get(ctx, key).Result()
		if err == nil {
			return val, nil
		}
		if err != redis.Nil {
			s.logger.Warn("directory cache get", slog.String("key", key), slog.Any("error", err))
		}
	}
	resultChan := s.group.DoChan(key, func() (interface{}, error) {
		val, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		if s.client != nil {
			if serr := s.client.Set(context.WithoutCancel(ctx), key, val, s.ttl).Err(); serr != nil {
				s.logger.Warn("directory cache set", slog.String("key", key), slog.Any("error", serr))
			}
		}
		return val, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}
