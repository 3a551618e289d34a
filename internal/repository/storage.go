package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/bidlink/marketplace-core/internal/database"
	"github.com/bidlink/marketplace-core/internal/model"
	redisclient "github.com/bidlink/marketplace-core/internal/redis"
)

// StorageRepository is the durable key/value mirror behind the credential store.
type StorageRepository interface {
	Get(ctx context.Context, key string) (*model.StoredValue, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// OpenStorage picks a backend from the store url. The returned closer
// releases the backend connection.
func OpenStorage(ctx context.Context, storeURL string) (StorageRepository, io.Closer, error) {
	switch {
	case storeURL == "" || strings.HasPrefix(storeURL, "memory://"):
		return NewMemoryStorageRepository(), io.NopCloser(nil), nil

	case strings.HasPrefix(storeURL, "redis://"), strings.HasPrefix(storeURL, "rediss://"):
		client, err := redisclient.NewClient(ctx, storeURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis storage: %w", err)
		}
		log.Info().Msg("credential mirror: redis")
		return NewRedisStorageRepository(client.Client), client, nil

	default:
		db, err := database.Connect(ctx, storeURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open sql storage: %w", err)
		}
		log.Info().Str("driver", db.DriverName()).Msg("credential mirror: sql")
		return NewSQLStorageRepository(db), db, nil
	}
}

// SQL

type sqlStorageRepo struct {
	db database.DBTX
}

func NewSQLStorageRepository(db database.DBTX) StorageRepository {
	return &sqlStorageRepo{db: db}
}

func (r *sqlStorageRepo) Get(ctx context.Context, key string) (*model.StoredValue, error) {
	var v model.StoredValue
	err := r.db.GetContext(ctx, &v, r.db.Rebind(`
		SELECT key, value, updated_at FROM kv_store WHERE key = ?
	`), key)
	return optional(&v, err)
}

// optional maps sql.ErrNoRows to a missing value.
func optional[T any](v *T, err error) (*T, error) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read stored value: %w", err)
	}
	return v, nil
}

func (r *sqlStorageRepo) Put(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO kv_store (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`), key, value, time.Now().UnixMilli())
	return err
}

func (r *sqlStorageRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM kv_store WHERE key = ?`), key)
	return err
}

// Redis

type redisStorageRepo struct {
	client *goredis.Client
}

func NewRedisStorageRepository(client *goredis.Client) StorageRepository {
	return &redisStorageRepo{client: client}
}

func (r *redisStorageRepo) Get(ctx context.Context, key string) (*model.StoredValue, error) {
	fields, err := r.client.HGetAll(ctx, redisclient.StorageKey(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	value, ok := fields["value"]
	if !ok {
		return nil, nil
	}

	v := &model.StoredValue{Key: key, Value: value}
	fmt.Sscan(fields["updated_at"], &v.UpdatedAt)
	return v, nil
}

func (r *redisStorageRepo) Put(ctx context.Context, key, value string) error {
	return r.client.HSet(ctx, redisclient.StorageKey(key),
		"value", value,
		"updated_at", time.Now().UnixMilli(),
	).Err()
}

func (r *redisStorageRepo) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisclient.StorageKey(key)).Err()
}

// Memory

type memoryStorageRepo struct {
	mu     sync.RWMutex
	values map[string]model.StoredValue
}

func NewMemoryStorageRepository() StorageRepository {
	return &memoryStorageRepo{values: make(map[string]model.StoredValue)}
}

func (r *memoryStorageRepo) Get(ctx context.Context, key string) (*model.StoredValue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (r *memoryStorageRepo) Put(ctx context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = model.StoredValue{Key: key, Value: value, UpdatedAt: time.Now().UnixMilli()}
	return nil
}

func (r *memoryStorageRepo) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, key)
	return nil
}
