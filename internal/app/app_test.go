package app

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/bidhouse/internal/apperror"
	"github.com/keyxmakerx/bidhouse/internal/config"
)

func newTestApp(t *testing.T) (*App, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		Env:         "development",
		BaseURL:     "http://localhost:8080",
		CORSOrigins: []string{"http://localhost:8080"},
		Auth: config.AuthConfig{
			SecretKey:  "test-secret-key-test-secret-key-0",
			CodeLength: 6,
		},
	}
	return New(cfg, db, rdb), mock, mr
}

func serve(a *App, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestErrorHandler_Envelope(t *testing.T) {
	a, _, _ := newTestApp(t)

	cases := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"conflict", apperror.NewConflict("email already registered"), http.StatusConflict, "email already registered"},
		{"expired", apperror.NewExpired("code has expired"), http.StatusGone, "code has expired"},
		{"dispatch", apperror.NewDispatchFailure("mail server refused"), http.StatusBadGateway, "mail server refused"},
		{"persistence hides cause", apperror.NewPersistence(errors.New("dial tcp: refused")), http.StatusInternalServerError, "internal error"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "internal error"},
		{"echo error", echo.NewHTTPError(http.StatusMethodNotAllowed, "method not allowed"), http.StatusMethodNotAllowed, "method not allowed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := a.Echo.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", nil), rec)

			a.errorHandler(tc.err, c)

			assert.Equal(t, tc.code, rec.Code)
			assert.JSONEq(t, `{"success":false,"message":"`+tc.message+`"}`, rec.Body.String())
			assert.NotContains(t, rec.Body.String(), "dial tcp")
		})
	}
}

func TestRoutes_HealthAndReady(t *testing.T) {
	a, mock, _ := newTestApp(t)
	a.RegisterRoutes()

	rec := serve(a, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	mock.ExpectPing()
	rec = serve(a, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoutes_ReadyFailsWhenRedisDown(t *testing.T) {
	a, mock, mr := newTestApp(t)
	a.RegisterRoutes()
	mr.Close()

	mock.ExpectPing()
	rec := serve(a, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRoutes_Metrics(t *testing.T) {
	a, _, _ := newTestApp(t)
	a.RegisterRoutes()
	a.Metrics.Login("bidder", "success")

	rec := serve(a, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bidhouse_")
}

func TestRoutes_OperatorRequiresToken(t *testing.T) {
	a, _, _ := newTestApp(t)
	a.RegisterRoutes()

	rec := serve(a, http.MethodGet, "/api/v1/operator/security-events")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestRoutes_SecurityHeadersAndRequestID(t *testing.T) {
	a, _, _ := newTestApp(t)
	a.RegisterRoutes()

	rec := serve(a, http.MethodGet, "/healthz")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}
