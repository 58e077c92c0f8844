package http

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	msgUnauthorizedRequest = "Unauthorized request"
	msgInvalidAccessToken  = "Invalid Access Token"
)

type userCtxKey struct{}

// WithUser returns a copy of ctx carrying the authenticated user.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFrom returns the user stored by the authentication middleware.
func UserFrom(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userCtxKey{}).(*models.User)
	return u, ok && u != nil
}

// requestLogger logs one line per request once the response is written.
func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			logger.Info(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
				"remote", r.RemoteAddr,
			)
		})
	}
}

// recoverer turns a panic into the 500 envelope.
func recoverer(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.Error(r.Context(), "panic recovered",
					"panic", rec,
					"path", r.URL.Path,
					"request_id", middleware.GetReqID(r.Context()),
					"stack", string(debug.Stack()),
				)
				respondError(w, http.StatusInternalServerError, msgInternal, nil)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// AccessVerifier is implemented by auth.TokenManager.
type AccessVerifier interface {
	VerifyAccessToken(token string) (*auth.AccessClaims, error)
}

// UserLoader resolves the subject of a verified access token.
type UserLoader interface {
	CurrentUser(ctx context.Context, userID string) (*models.User, error)
}

// Authenticator guards routes that need a logged-in user.
type Authenticator struct {
	verifier AccessVerifier
	users    UserLoader
	logger   logging.Logger
}

func NewAuthenticator(verifier AccessVerifier, users UserLoader, logger logging.Logger) *Authenticator {
	return &Authenticator{verifier: verifier, users: users, logger: logger}
}

// accessToken reads the token from the accessToken cookie, falling back to an
// "Authorization: Bearer" header.
func accessToken(r *http.Request) string {
	if c, err := r.Cookie(common.AccessTokenCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	h := r.Header.Get(common.AuthorizationHeaderName)
	if len(h) > len(common.BearerPrefix) && strings.EqualFold(h[:len(common.BearerPrefix)], common.BearerPrefix) {
		return strings.TrimSpace(h[len(common.BearerPrefix):])
	}
	return ""
}

// Middleware verifies the access token, loads its user and stores it in the
// request context for the handlers.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return wrap(a.logger, func(w http.ResponseWriter, r *http.Request) error {
		token := accessToken(r)
		if token == "" {
			return common.Unauthorized(msgUnauthorizedRequest)
		}

		claims, err := a.verifier.VerifyAccessToken(token)
		if err != nil {
			return common.Wrap(common.ErrorUnauthorized, msgInvalidAccessToken, err)
		}

		u, err := a.users.CurrentUser(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.Unauthorized(msgInvalidAccessToken)
			}
			return err
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		return nil
	})
}
