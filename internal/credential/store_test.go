package credential

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bidlink/marketplace-core/internal/config"
	"github.com/bidlink/marketplace-core/internal/model"
	"github.com/bidlink/marketplace-core/internal/repository"
	"github.com/bidlink/marketplace-core/internal/util"
)

type mockStorageRepo struct {
	mock.Mock
}

func (m *mockStorageRepo) Get(ctx context.Context, key string) (*model.StoredValue, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StoredValue), args.Error(1)
}

func (m *mockStorageRepo) Put(ctx context.Context, key, value string) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *mockStorageRepo) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func TestStore_SetAndClear(t *testing.T) {
	ctx := context.Background()

	t.Run("set updates memory and mirror", func(t *testing.T) {
		repo := repository.NewMemoryStorageRepository()
		store := NewStore(repo, nil)

		require.NoError(t, store.Set(ctx, "tok-1", "user-1"))

		assert.Equal(t, "tok-1", store.Token())
		assert.Equal(t, "user-1", store.UserID())
		assert.Equal(t, model.SessionAuthenticated, store.Snapshot().State)

		stored, err := repo.Get(ctx, config.AuthStorageKey)
		require.NoError(t, err)
		require.NotNil(t, stored)

		var doc model.AuthStorage
		require.NoError(t, json.Unmarshal([]byte(stored.Value), &doc))
		assert.Equal(t, "tok-1", doc.State.Token)
		assert.Equal(t, "user-1", doc.State.UserID)
	})

	t.Run("set token keeps user id", func(t *testing.T) {
		store := NewStore(nil, nil)
		require.NoError(t, store.Set(ctx, "tok-1", "user-1"))
		require.NoError(t, store.SetToken(ctx, "tok-2"))

		assert.Equal(t, "tok-2", store.Token())
		assert.Equal(t, "user-1", store.UserID())
	})

	t.Run("clear removes memory and mirror", func(t *testing.T) {
		repo := repository.NewMemoryStorageRepository()
		store := NewStore(repo, nil)
		require.NoError(t, store.Set(ctx, "tok-1", "user-1"))

		require.NoError(t, store.Clear(ctx))

		assert.Empty(t, store.Token())
		assert.Equal(t, model.SessionUnauthenticated, store.Snapshot().State)
		stored, err := repo.Get(ctx, config.AuthStorageKey)
		require.NoError(t, err)
		assert.Nil(t, stored)
	})

	t.Run("mirror failure keeps token in memory", func(t *testing.T) {
		repo := new(mockStorageRepo)
		repo.On("Put", ctx, config.AuthStorageKey, mock.Anything).Return(errors.New("disk full"))
		store := NewStore(repo, nil)

		err := store.Set(ctx, "tok-1", "user-1")

		assert.Error(t, err)
		assert.Equal(t, "tok-1", store.Token())
		repo.AssertExpectations(t)
	})
}

// slowFirstPut delays the first Put so a later mutation can overtake it.
type slowFirstPut struct {
	repository.StorageRepository
	delay time.Duration
	once  sync.Once
}

func (r *slowFirstPut) Put(ctx context.Context, key, value string) error {
	r.once.Do(func() { time.Sleep(r.delay) })
	return r.StorageRepository.Put(ctx, key, value)
}

func TestStore_MirrorFollowsLastWriter(t *testing.T) {
	ctx := context.Background()

	t.Run("clear overtaking a slow set leaves the mirror empty", func(t *testing.T) {
		repo := &slowFirstPut{StorageRepository: repository.NewMemoryStorageRepository(), delay: 200 * time.Millisecond}
		store := NewStore(repo, nil)

		done := make(chan error, 1)
		go func() { done <- store.Set(ctx, "old-token", "user-1") }()

		time.Sleep(50 * time.Millisecond)
		require.NoError(t, store.Clear(ctx))
		require.NoError(t, <-done)

		assert.Empty(t, store.Token())

		restored := NewStore(repo, nil)
		require.NoError(t, restored.Restore(ctx))
		assert.Empty(t, restored.Token())
	})

	t.Run("a newer set overtaking a slow set wins", func(t *testing.T) {
		repo := &slowFirstPut{StorageRepository: repository.NewMemoryStorageRepository(), delay: 100 * time.Millisecond}
		store := NewStore(repo, nil)

		done := make(chan error, 1)
		go func() { done <- store.Set(ctx, "old-token", "user-1") }()

		time.Sleep(20 * time.Millisecond)
		require.NoError(t, store.Set(ctx, "new-token", "user-1"))
		require.NoError(t, <-done)

		restored := NewStore(repo, nil)
		require.NoError(t, restored.Restore(ctx))
		assert.Equal(t, "new-token", restored.Token())
		assert.Equal(t, store.Token(), restored.Token())
	})
}

func TestStore_Subscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("listeners receive every change", func(t *testing.T) {
		store := NewStore(nil, nil)
		var got []model.Session
		unsubscribe := store.Subscribe(func(s model.Session) {
			got = append(got, s)
		})
		defer unsubscribe()

		require.NoError(t, store.Set(ctx, "tok-1", "user-1"))
		require.NoError(t, store.Clear(ctx))

		require.Len(t, got, 2)
		assert.Equal(t, "tok-1", got[0].Token)
		assert.Equal(t, model.SessionAuthenticated, got[0].State)
		assert.Equal(t, model.SessionUnauthenticated, got[1].State)
	})

	t.Run("unsubscribed listener is not called", func(t *testing.T) {
		store := NewStore(nil, nil)
		calls := 0
		unsubscribe := store.Subscribe(func(model.Session) { calls++ })
		unsubscribe()

		require.NoError(t, store.Set(ctx, "tok-1", "user-1"))
		assert.Equal(t, 0, calls)
	})

	t.Run("listener may read the store without deadlock", func(t *testing.T) {
		store := NewStore(nil, nil)
		var seen string
		store.Subscribe(func(model.Session) { seen = store.Token() })

		require.NoError(t, store.Set(ctx, "tok-1", "user-1"))
		assert.Equal(t, "tok-1", seen)
	})

	t.Run("concurrent writers end with one of the written values", func(t *testing.T) {
		store := NewStore(nil, nil)
		var wg sync.WaitGroup
		for _, tok := range []string{"a", "b", "c", "d"} {
			wg.Add(1)
			go func(tok string) {
				defer wg.Done()
				store.Set(ctx, tok, "user")
			}(tok)
		}
		wg.Wait()
		assert.Contains(t, []string{"a", "b", "c", "d"}, store.Token())
	})
}

func TestStore_Restore(t *testing.T) {
	ctx := context.Background()

	t.Run("restores plain document", func(t *testing.T) {
		repo := repository.NewMemoryStorageRepository()
		require.NoError(t, repo.Put(ctx, config.AuthStorageKey, `{"state":{"token":"tok-1","userId":"user-1"},"version":0}`))
		store := NewStore(repo, nil)

		require.NoError(t, store.Restore(ctx))

		assert.Equal(t, "tok-1", store.Token())
		assert.Equal(t, "user-1", store.UserID())
	})

	t.Run("restores double encoded document", func(t *testing.T) {
		inner := `{"state":{"token":"tok-2"},"version":0}`
		outer, err := json.Marshal(inner)
		require.NoError(t, err)

		repo := repository.NewMemoryStorageRepository()
		require.NoError(t, repo.Put(ctx, config.AuthStorageKey, string(outer)))
		store := NewStore(repo, nil)

		require.NoError(t, store.Restore(ctx))
		assert.Equal(t, "tok-2", store.Token())
	})

	t.Run("garbage leaves store unauthenticated", func(t *testing.T) {
		repo := repository.NewMemoryStorageRepository()
		require.NoError(t, repo.Put(ctx, config.AuthStorageKey, `not json`))
		store := NewStore(repo, nil)

		require.NoError(t, store.Restore(ctx))
		assert.Empty(t, store.Token())
	})

	t.Run("backend failure is returned", func(t *testing.T) {
		repo := new(mockStorageRepo)
		repo.On("Get", ctx, config.AuthStorageKey).Return(nil, errors.New("connection refused"))
		store := NewStore(repo, nil)

		assert.Error(t, store.Restore(ctx))
	})

	t.Run("sealed mirror round trips", func(t *testing.T) {
		sealer, err := util.NewSealer(strings.Repeat("0f", 32))
		require.NoError(t, err)
		repo := repository.NewMemoryStorageRepository()

		writer := NewStore(repo, sealer)
		require.NoError(t, writer.Set(ctx, "tok-3", "user-3"))

		stored, err := repo.Get(ctx, config.AuthStorageKey)
		require.NoError(t, err)
		assert.NotContains(t, stored.Value, "tok-3")

		reader := NewStore(repo, sealer)
		require.NoError(t, reader.Restore(ctx))
		assert.Equal(t, "tok-3", reader.Token())
	})

	t.Run("unsealable mirror is ignored", func(t *testing.T) {
		sealer, err := util.NewSealer(strings.Repeat("0f", 32))
		require.NoError(t, err)
		repo := repository.NewMemoryStorageRepository()
		require.NoError(t, repo.Put(ctx, config.AuthStorageKey, `{"state":{"token":"plain"}}`))

		store := NewStore(repo, sealer)
		require.NoError(t, store.Restore(ctx))
		assert.Empty(t, store.Token())
	})
}

func TestDecodeAuthStorage(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantToken string
		wantErr   bool
	}{
		{"plain", `{"state":{"token":"a"}}`, "a", false},
		{"double encoded", `"{\"state\":{\"token\":\"b\"}}"`, "b", false},
		{"string of garbage", `"nope"`, "", true},
		{"not json", `nope`, "", true},
		{"empty state", `{}`, "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			state, err := DecodeAuthStorage(tc.raw)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantToken, state.Token)
		})
	}
}
