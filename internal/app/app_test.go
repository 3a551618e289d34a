package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidlink/marketplace-core/internal/config"
	"github.com/bidlink/marketplace-core/internal/httputil"
	"github.com/bidlink/marketplace-core/internal/live"
	"github.com/bidlink/marketplace-core/internal/model"
)

func testConfig(apiURL, storeURL string) *config.Config {
	return &config.Config{
		APIBaseURL:            apiURL,
		RequestTimeoutSeconds: 2,
		CredentialStoreURL:    storeURL,
		ConfirmIntervalMillis: 1000,
		MaxReconnects:         1,
		UserType:              "professional",
	}
}

func TestNew_RestoresSealedSessionFromSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig("http://127.0.0.1:1", "sqlite://"+filepath.Join(t.TempDir(), "mirror.db"))
	cfg.EncryptionKey = strings.Repeat("ab", 32)

	first, err := New(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, model.SessionUnauthenticated, first.Session.State())
	require.NoError(t, first.Store.Set(ctx, "tok-1", "me"))
	require.NoError(t, first.Close())

	second, err := New(ctx, cfg)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, "tok-1", second.Store.Token())
	assert.Equal(t, "me", second.Store.UserID())
	assert.Equal(t, model.SessionAuthenticated, second.Session.State())
}

func TestNew_RejectsBadStore(t *testing.T) {
	_, err := New(context.Background(), testConfig("http://127.0.0.1:1", "ftp://nowhere"))
	assert.Error(t, err)
}

func TestApp_SessionChanges(t *testing.T) {
	t.Run("publishes the session without its token", func(t *testing.T) {
		core, err := New(context.Background(), testConfig("http://127.0.0.1:1", "memory://"))
		require.NoError(t, err)
		defer core.Close()

		client := core.Hub.Subscribe(live.SessionKey)
		require.NoError(t, core.Store.Set(context.Background(), "tok-1", "me"))

		select {
		case ev := <-client.Events:
			assert.Equal(t, "session", ev.Type)
			assert.Contains(t, string(ev.Data), `"state":"authenticated"`)
			assert.NotContains(t, string(ev.Data), "tok-1")
		case <-time.After(time.Second):
			t.Fatal("no session event published")
		}
	})

	t.Run("logout closes open conversations", func(t *testing.T) {
		r := chi.NewRouter()
		r.Get("/contacts/{id}", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteJSON(w, http.StatusOK, model.Contact{ID: chi.URLParam(r, "id")})
		})
		api := httptest.NewServer(r)
		defer api.Close()

		core, err := New(context.Background(), testConfig(api.URL, "memory://"))
		require.NoError(t, err)
		defer core.Close()

		require.NoError(t, core.Store.Set(context.Background(), "tok-1", "me"))
		eng, err := core.Chats.Open(context.Background(), "c-1")
		require.NoError(t, err)
		require.Equal(t, 1, core.Chats.Len())

		require.NoError(t, core.Store.Clear(context.Background()))

		assert.Eventually(t, func() bool {
			return core.Chats.Len() == 0 && eng.Closed()
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestApp_StartJobs(t *testing.T) {
	core, err := New(context.Background(), testConfig("http://127.0.0.1:1", "memory://"))
	require.NoError(t, err)

	core.StartJobs()
	core.StartJobs()
	require.NoError(t, core.Close())
}
