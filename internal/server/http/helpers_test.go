package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/cryptox"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// consumingUploader behaves like the S3 uploader towards the staged file:
// it is deleted whatever the outcome.
type consumingUploader struct {
	fail bool
}

func (u *consumingUploader) Upload(ctx context.Context, localPath string) (string, error) {
	if localPath == "" {
		return "", common.ErrNoFile
	}
	defer os.Remove(localPath)
	if u.fail {
		return "", common.ErrUploadFailed
	}
	return "http://media.test/" + filepath.Base(localPath), nil
}

type stack struct {
	handler   http.Handler
	mock      sqlmock.Sqlmock
	tokens    *auth.TokenManager
	uploadDir string
	uploader  *consumingUploader
	pinger    *fakePinger
}

type fakePinger struct{ err error }

func (p *fakePinger) PingContext(context.Context) error { return p.err }

func newStack(t *testing.T) *stack {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hasher, err := cryptox.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tokens, err := auth.NewTokenManager("access-secret", "refresh-secret", time.Minute, time.Hour)
	require.NoError(t, err)

	up := &consumingUploader{}
	svc := services.NewUserService(db, repomanager.NewInMemoryRepositoryManager(), hasher, tokens, up, logging.Nop{})

	dir := t.TempDir()
	cookies := CookieConfig{AccessTTL: time.Minute, RefreshTTL: time.Hour}
	users := NewUserHandler(svc, cookies, dir, 1<<20, logging.Nop{})
	authn := NewAuthenticator(tokens, svc, logging.Nop{})
	pinger := &fakePinger{}

	h := NewRouter(RouterConfig{CORSOrigin: "https://app.example.com", Health: pinger}, users, authn, logging.Nop{})

	return &stack{handler: h, mock: mock, tokens: tokens, uploadDir: dir, uploader: up, pinger: pinger}
}

func (s *stack) expectTx(commit bool) {
	s.mock.ExpectBegin()
	if commit {
		s.mock.ExpectCommit()
	} else {
		s.mock.ExpectRollback()
	}
}

func (s *stack) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// multipartRequest builds a multipart body from fields and files (field name
// to file name; the content is a tiny fake image).
func multipartRequest(t *testing.T, method, target string, fields, files map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, name := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte("\x89PNG\r\n\x1a\nfake"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Success    bool            `json:"success"`
	Errors     []string        `json:"errors"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var e envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e
}

func cookieByName(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func stagedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func registerAlice(t *testing.T, s *stack) {
	t.Helper()
	rec := s.do(multipartRequest(t, http.MethodPost, "/api/v1/users/register",
		map[string]string{"fullName": "Alice A", "email": "a@x.com", "username": "alice", "password": "secret1"},
		map[string]string{"avatar": "me.png"}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func loginAlice(t *testing.T, s *stack) auth.TokenPair {
	t.Helper()
	rec := s.do(jsonRequest(t, http.MethodPost, "/api/v1/users/login",
		map[string]string{"username": "alice", "password": "secret1"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var data loginResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &data))
	return auth.TokenPair{AccessToken: data.AccessToken, RefreshToken: data.RefreshToken}
}

func withBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

