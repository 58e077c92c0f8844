package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/filex"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
)

// UserService is implemented by services.UserService.
type UserService interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.User, error)
	Login(ctx context.Context, in services.LoginInput) (*services.Session, error)
	Logout(ctx context.Context, userID string) error
	RefreshToken(ctx context.Context, presented string) (auth.TokenPair, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
	CurrentUser(ctx context.Context, userID string) (*models.User, error)
	UpdateAccount(ctx context.Context, userID string, in services.UpdateAccountInput) (*models.User, error)
	UpdateAvatar(ctx context.Context, userID, localPath string) (*models.User, error)
	UpdateCoverImage(ctx context.Context, userID, localPath string) (*models.User, error)
}

type registerRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (q *registerRequest) bindForm(get func(string) string) {
	q.FullName, q.Email, q.Username, q.Password = get("fullName"), get("email"), get("username"), get("password")
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (q *loginRequest) bindForm(get func(string) string) {
	q.Username, q.Email, q.Password = get("username"), get("email"), get("password")
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (q *refreshRequest) bindForm(get func(string) string) {
	q.RefreshToken = get("refreshToken")
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (q *changePasswordRequest) bindForm(get func(string) string) {
	q.OldPassword, q.NewPassword = get("oldPassword"), get("newPassword")
}

type updateAccountRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

func (q *updateAccountRequest) bindForm(get func(string) string) {
	q.FullName, q.Email = get("fullName"), get("email")
}

type loginResponse struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
}

type UserHandler struct {
	users   UserService
	cookies CookieConfig
	files   stager
	logger  logging.Logger
}

func NewUserHandler(users UserService, cookies CookieConfig, uploadDir string, maxUploadSize int64, logger logging.Logger) *UserHandler {
	return &UserHandler{
		users:   users,
		cookies: cookies,
		files:   stager{dir: uploadDir, maxSize: maxUploadSize},
		logger:  logger,
	}
}

// discard removes staged files the media host did not consume.
func (h *UserHandler) discard(ctx context.Context, paths ...string) {
	for _, p := range paths {
		if err := filex.Remove(p); err != nil {
			h.logger.Warn(ctx, "staged file not removed", "path", p, "error", err)
		}
	}
}

func currentUser(r *http.Request) (*models.User, error) {
	u, ok := UserFrom(r.Context())
	if !ok {
		return nil, common.Unauthorized(msgUnauthorizedRequest)
	}
	return u, nil
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) error {
	var (
		req                   registerRequest
		avatarPath, coverPath string
	)

	if isMultipart(r) {
		if err := h.files.parse(w, r); err != nil {
			return err
		}
		defer func() { h.discard(r.Context(), avatarPath, coverPath) }()

		req.bindForm(r.FormValue)

		var err error
		if avatarPath, err = h.files.stage(r, "avatar"); err != nil {
			return err
		}
		if coverPath, err = h.files.stage(r, "coverImage"); err != nil {
			return err
		}
	} else if err := bind(w, r, &req); err != nil {
		return err
	}

	u, err := h.users.Register(r.Context(), services.RegisterInput{
		FullName:       req.FullName,
		Email:          req.Email,
		Username:       req.Username,
		Password:       req.Password,
		AvatarPath:     avatarPath,
		CoverImagePath: coverPath,
	})
	if err != nil {
		return err
	}

	respond(w, http.StatusCreated, u, "User registered successfully")
	return nil
}

func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) error {
	var req loginRequest
	if err := bind(w, r, &req); err != nil {
		return err
	}

	s, err := h.users.Login(r.Context(), services.LoginInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}

	h.cookies.setTokens(w, s.Tokens)
	respond(w, http.StatusOK, loginResponse{
		User:         s.User,
		AccessToken:  s.Tokens.AccessToken,
		RefreshToken: s.Tokens.RefreshToken,
	}, "User logged in successfully")
	return nil
}

func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) error {
	u, err := currentUser(r)
	if err != nil {
		return err
	}

	if err := h.users.Logout(r.Context(), u.ID); err != nil {
		return err
	}

	h.cookies.clearTokens(w)
	respond(w, http.StatusOK, nil, "User logged out")
	return nil
}

// RefreshToken accepts the refresh token from its cookie or, failing that,
// from the body.
func (h *UserHandler) RefreshToken(w http.ResponseWriter, r *http.Request) error {
	var presented string
	if c, err := r.Cookie(common.RefreshTokenCookieName); err == nil {
		presented = c.Value
	}
	if presented == "" {
		var req refreshRequest
		if err := bind(w, r, &req); err != nil {
			return err
		}
		presented = req.RefreshToken
	}

	pair, err := h.users.RefreshToken(r.Context(), presented)
	if err != nil {
		// a server-side failure leaves the session to be retried
		if errors.Is(err, common.ErrorUnauthorized) {
			h.cookies.clearTokens(w)
		}
		return err
	}

	h.cookies.setTokens(w, pair)
	respond(w, http.StatusOK, pair, "Access token refreshed")
	return nil
}

func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) error {
	u, err := currentUser(r)
	if err != nil {
		return err
	}

	var req changePasswordRequest
	if err := bind(w, r, &req); err != nil {
		return err
	}

	if err := h.users.ChangePassword(r.Context(), u.ID, req.OldPassword, req.NewPassword); err != nil {
		return err
	}

	respond(w, http.StatusOK, nil, "Password changed successfully")
	return nil
}

func (h *UserHandler) CurrentUser(w http.ResponseWriter, r *http.Request) error {
	u, err := currentUser(r)
	if err != nil {
		return err
	}

	respond(w, http.StatusOK, u, "Current user fetched successfully")
	return nil
}

func (h *UserHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) error {
	u, err := currentUser(r)
	if err != nil {
		return err
	}

	var req updateAccountRequest
	if err := bind(w, r, &req); err != nil {
		return err
	}

	updated, err := h.users.UpdateAccount(r.Context(), u.ID, services.UpdateAccountInput{
		FullName: req.FullName,
		Email:    req.Email,
	})
	if err != nil {
		return err
	}

	respond(w, http.StatusOK, updated, "Account details updated successfully")
	return nil
}

func (h *UserHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) error {
	return h.replaceImage(w, r, "avatar", h.users.UpdateAvatar, "Avatar image updated successfully")
}

func (h *UserHandler) UpdateCoverImage(w http.ResponseWriter, r *http.Request) error {
	return h.replaceImage(w, r, "coverImage", h.users.UpdateCoverImage, "Cover image updated successfully")
}

func (h *UserHandler) replaceImage(w http.ResponseWriter, r *http.Request, field string,
	update func(ctx context.Context, userID, localPath string) (*models.User, error), message string) error {
	u, err := currentUser(r)
	if err != nil {
		return err
	}

	var path string
	if isMultipart(r) {
		if err := h.files.parse(w, r); err != nil {
			return err
		}
		defer func() { h.discard(r.Context(), path) }()

		if path, err = h.files.stage(r, field); err != nil {
			return err
		}
	}

	updated, err := update(r.Context(), u.ID, path)
	if err != nil {
		return err
	}

	respond(w, http.StatusOK, updated, message)
	return nil
}
