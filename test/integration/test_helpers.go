//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-token-auth/internal/cache"
	"go-token-auth/internal/config"
	"go-token-auth/internal/database"
	"go-token-auth/internal/event"
	"go-token-auth/internal/handler"
	"go-token-auth/internal/middleware"
	"go-token-auth/internal/repository"
	"go-token-auth/internal/router"
	"go-token-auth/internal/service"
	"go-token-auth/internal/token"
)

// openTestDB connects to TEST_DATABASE_URL, applies migrations and empties
// the tables. Tests skip when the variable is unset.
func openTestDB(t *testing.T) *database.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.New(ctx, url, 10, 1)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(ctx))

	_, err = db.Pool.Exec(ctx, `TRUNCATE auth_audit, refresh_tokens, users CASCADE`)
	require.NoError(t, err)

	return db
}

type testEnv struct {
	server *httptest.Server
	db     *database.DB
	audit  *repository.AuditRepository
}

func newServer(t *testing.T) *testEnv {
	t.Helper()

	db := openTestDB(t)

	mgr, err := token.NewManager(token.Options{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "integration",
	})
	require.NoError(t, err)

	users := repository.NewUserRepository(db.Pool)
	tokens := repository.NewTokenRepository(db.Pool)
	auditRepo := repository.NewAuditRepository(db.Pool)

	bus := event.NewBus()
	auditService := service.NewAuditService(auditRepo)
	ctx, cancel := context.WithCancel(context.Background())
	done := auditService.Run(ctx, bus)
	t.Cleanup(func() {
		cancel()
		<-done
	})

	authService := service.NewAuthService(users, tokens, mgr, service.NewPasswordHasher(bcrypt.MinCost), bus)
	profileService := service.NewProfileService(users, cache.NoopProfileCache{}, bus)

	cfg := &config.Config{
		CORSOrigins:      []string{"*"},
		RequestTimeout:   10 * time.Second,
		RateLimitRPM:     0,
		AuthRateLimitRPM: 10000,
	}

	server := httptest.NewServer(router.New(cfg, middleware.NewAuthMiddleware(authService), router.Handlers{
		Auth:    handler.NewAuthHandler(authService),
		Profile: handler.NewProfileHandler(profileService, auditService),
		Health:  handler.NewHealthHandler(db),
		Docs:    handler.NewDocsHandler(),
	}))
	t.Cleanup(server.Close)

	return &testEnv{server: server, db: db, audit: auditRepo}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func doAuthRequest(t *testing.T, method string, url string, accessToken string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

type loginBody struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func registerAndLogin(t *testing.T, env *testEnv, email string) loginBody {
	t.Helper()

	resp := postJSON(t, env.server.URL+"/register", map[string]string{
		"email": email, "password": "s3cretpass", "name": "Integration",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, env.server.URL+"/login", map[string]string{"email": email, "password": "s3cretpass"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed loginBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	require.NotEmpty(t, parsed.AccessToken)
	require.NotEmpty(t, parsed.RefreshToken)
	return parsed
}
