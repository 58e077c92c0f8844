package http

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthz(t *testing.T) {
	s := newStack(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, string(decodeEnvelope(t, rec).Data))

	s.pinger.err = errors.New("connection refused")
	rec = s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Database unavailable", decodeEnvelope(t, rec).Message)
}

func TestRouter_UnknownRoutes(t *testing.T) {
	s := newStack(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/users/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "Route not found", env.Message)

	rec = s.do(httptest.NewRequest(http.MethodDelete, "/api/v1/users/login", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_CORSActualRequest(t *testing.T) {
	s := newStack(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := s.do(req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "X-Request-Id")
}

func TestRouter_CORSPreflight(t *testing.T) {
	s := newStack(t)

	tests := []struct {
		name   string
		origin string
		allow  string
	}{
		{"configured origin", "https://app.example.com", "https://app.example.com"},
		{"foreign origin", "https://evil.example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/v1/users/login", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", "Content-Type")

			rec := s.do(req)
			assert.Equal(t, tt.allow, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCorsOptions_WildcardDropsCredentials(t *testing.T) {
	assert.False(t, corsOptions("*").AllowCredentials)
	assert.True(t, corsOptions("https://app.example.com").AllowCredentials)
}

func TestRecoverer(t *testing.T) {
	h := recoverer(logging.Nop{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, msgInternal, decodeEnvelope(t, rec).Message)
}

func TestRecoverer_RepanicsAbortHandler(t *testing.T) {
	h := recoverer(logging.Nop{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

type recordingLogger struct {
	logging.Nop
	errors []string
}

func (l *recordingLogger) Error(_ context.Context, msg string, _ ...any) {
	l.errors = append(l.errors, msg)
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
		logged  bool
	}{
		{"validation", common.Validation("bad", "field is required"), http.StatusBadRequest, "bad", false},
		{"conflict", common.Conflict("taken"), http.StatusConflict, "taken", false},
		{"already exists", common.NewError(common.ErrorAlreadyExists, "dup"), http.StatusConflict, "dup", false},
		{"not found", common.NotFound("missing"), http.StatusNotFound, "missing", false},
		{"unauthorized", common.Unauthorized("who"), http.StatusUnauthorized, "who", false},
		{"internal", common.Internal("db down", errors.New("dial tcp")), http.StatusInternalServerError, msgInternal, true},
		{"plain error", errors.New("unexpected"), http.StatusInternalServerError, msgInternal, true},
		{"body too large", &http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge, "Request body too large", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &recordingLogger{}
			h := wrap(logger, func(http.ResponseWriter, *http.Request) error { return tt.err })

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			require.Equal(t, tt.status, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.Equal(t, tt.message, env.Message)
			assert.Equal(t, tt.status, env.StatusCode)
			assert.Equal(t, tt.logged, len(logger.errors) > 0)
			assert.NotContains(t, rec.Body.String(), "dial tcp")
		})
	}
}

func TestWrap_ValidationDetails(t *testing.T) {
	h := wrap(logging.Nop{}, func(http.ResponseWriter, *http.Request) error {
		return common.Validation("All fields are required", "email is required")
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(nil)))

	assert.Equal(t, []string{"email is required"}, decodeEnvelope(t, rec).Errors)
}

func TestAccessToken(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		header string
		want   string
	}{
		{"none", "", "", ""},
		{"cookie", "c", "", "c"},
		{"bearer", "", "Bearer h", "h"},
		{"lowercase scheme", "", "bearer h", "h"},
		{"cookie wins", "c", "Bearer h", "c"},
		{"basic auth ignored", "", "Basic dXNlcjpwdw==", ""},
		{"bare prefix", "", "Bearer ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: common.AccessTokenCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(common.AuthorizationHeaderName, tt.header)
			}
			assert.Equal(t, tt.want, accessToken(req))
		})
	}
}
