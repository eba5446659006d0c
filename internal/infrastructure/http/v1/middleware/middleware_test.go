package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orseries/internal/core/apperror"
	appctx "orseries/internal/core/context"
	"orseries/internal/infrastructure/storage/postgres"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeValidator struct {
	users map[string]*appctx.UserContext
}

func (v fakeValidator) ValidateToken(token string) (*appctx.UserContext, error) {
	if u, ok := v.users[token]; ok {
		return u, nil
	}
	return nil, errors.New("bad token")
}

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(), Trace(), ErrorHandler())
	r.Use(mw...)
	return r
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAuth(t *testing.T) {
	validator := fakeValidator{users: map[string]*appctx.UserContext{
		"cashier": {UserID: 7, Roles: []string{appctx.RoleCashier}},
		"admin":   {UserID: 1, Roles: []string{appctx.RoleAdmin}},
	}}

	r := newEngine(Auth(validator))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": appctx.GetUserID(c.Request.Context())})
	})
	r.GET("/admin", RequireRole(appctx.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{"missing header", "/me", "", http.StatusUnauthorized, apperror.CodeUnauthorized},
		{"wrong scheme", "/me", "Basic abc", http.StatusUnauthorized, apperror.CodeUnauthorized},
		{"bad token", "/me", "Bearer nope", http.StatusUnauthorized, apperror.CodeUnauthorized},
		{"ok", "/me", "Bearer cashier", http.StatusOK, ""},
		{"lowercase scheme", "/me", "bearer cashier", http.StatusOK, ""},
		{"role denied", "/admin", "Bearer cashier", http.StatusForbidden, apperror.CodeForbidden},
		{"role granted", "/admin", "Bearer admin", http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decode(t, w)["code"])
			}
		})
	}
}

func TestErrorHandler(t *testing.T) {
	r := newEngine()
	r.GET("/app", func(c *gin.Context) {
		_ = c.Error(apperror.NewSeriesLimitReached("2025", 3, 100))
	})
	r.GET("/plain", func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
	})
	r.GET("/panic", func(c *gin.Context) {
		panic("kaboom")
	})

	t.Run("app error", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/app", nil))
		assert.Equal(t, http.StatusConflict, w.Code)
		body := decode(t, w)
		assert.Equal(t, apperror.CodeSeriesLimitReached, body["code"])
	})

	t.Run("unknown error hides cause", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/plain", nil)
		req.Header.Set(HeaderRequestID, "req-1")
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "boom")
		assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
	})

	t.Run("panic", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, apperror.CodeInternal, decode(t, w)["code"])
	})
}

type storedResponse struct {
	status int
	body   []byte
}

type fakeIdempotencyStore struct {
	acquired  []string
	completed map[string]storedResponse
	failed    map[string]int
	released  []string
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{completed: map[string]storedResponse{}, failed: map[string]int{}}
}

func (s *fakeIdempotencyStore) AcquireKey(_ context.Context, key, _, _, _ string) (*postgres.IdempotencyReplay, error) {
	if r, ok := s.completed[key]; ok {
		return &postgres.IdempotencyReplay{StatusCode: r.status, ContentType: "application/json", Body: r.body}, nil
	}
	s.acquired = append(s.acquired, key)
	return nil, nil
}

func (s *fakeIdempotencyStore) CompleteKey(_ context.Context, key string, statusCode int, _ string, response any) error {
	body, err := json.Marshal(response)
	if err != nil {
		return err
	}
	s.completed[key] = storedResponse{status: statusCode, body: body}
	return nil
}

func (s *fakeIdempotencyStore) FailKey(_ context.Context, key string, statusCode int, _ string, response any) error {
	body, err := json.Marshal(response)
	if err != nil {
		return err
	}
	s.failed[key] = statusCode
	s.completed[key] = storedResponse{status: statusCode, body: body}
	return nil
}

func (s *fakeIdempotencyStore) ReleaseKey(_ context.Context, key string) error {
	s.released = append(s.released, key)
	return nil
}

func TestIdempotency_ReplaysCompletedResponse(t *testing.T) {
	store := newFakeIdempotencyStore()
	calls := 0

	r := newEngine(Idempotency(store))
	r.POST("/generate", func(c *gin.Context) {
		calls++
		resp := gin.H{"or_number": "OR000001", "call": calls}
		CompleteIdempotency(c, http.StatusCreated, "application/json", resp)
		c.JSON(http.StatusCreated, resp)
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{}`))
		req.Header.Set(HeaderIdempotencyKey, "k1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	first := send()
	second := send()

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
}

func TestIdempotency_StoresFailure(t *testing.T) {
	store := newFakeIdempotencyStore()
	calls := 0

	r := newEngine(Idempotency(store))
	r.POST("/generate", func(c *gin.Context) {
		calls++
		_ = c.Error(apperror.NewDuplicateOrNumber("OR000001"))
	})

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{}`))
		req.Header.Set(HeaderIdempotencyKey, "k2")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusConflict, w.Code)
	}

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusConflict, store.failed["k2"])
	assert.Empty(t, store.released)
}

func TestIdempotency_ReleasesKeyOnTransientError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"transaction conflict", apperror.NewTransactionConflict("lock timeout"), http.StatusServiceUnavailable},
		{"no active series", apperror.NewNoActiveSeries(), http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeIdempotencyStore()
			calls := 0

			r := newEngine(Idempotency(store))
			r.POST("/generate", func(c *gin.Context) {
				calls++
				if calls == 1 {
					_ = c.Error(tt.err)
					return
				}
				resp := gin.H{"or_number": "OR000001"}
				CompleteIdempotency(c, http.StatusCreated, "application/json", resp)
				c.JSON(http.StatusCreated, resp)
			})

			send := func() *httptest.ResponseRecorder {
				req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{}`))
				req.Header.Set(HeaderIdempotencyKey, "k4")
				w := httptest.NewRecorder()
				r.ServeHTTP(w, req)
				return w
			}

			assert.Equal(t, tt.status, send().Code)
			retry := send()

			assert.Equal(t, 2, calls)
			assert.Equal(t, http.StatusCreated, retry.Code)
			assert.Empty(t, retry.Header().Get("Idempotent-Replay"))
			assert.Equal(t, []string{"k4"}, store.released)
			assert.NotContains(t, store.failed, "k4")
		})
	}
}

func TestIdempotency_SkipsWithoutKeyOrOnGet(t *testing.T) {
	store := newFakeIdempotencyStore()

	r := newEngine(Idempotency(store))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderIdempotencyKey, "k3")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Empty(t, store.acquired)
}
