// Package services implements the account and session operations behind the
// HTTP API: registration, login, logout, token refresh and profile updates.
//
// Every error returned to callers is a *common.Error whose Kind selects the
// response status and whose Message is safe to show to the client.
package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/media"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
	"golang.org/x/crypto/bcrypt"
)

const (
	msgAllFieldsRequired   = "All fields are required"
	msgUserExists          = "User with email or username already exists"
	msgAvatarRequired      = "Avatar file is required"
	msgIdentifierRequired  = "username or email is required"
	msgPasswordRequired    = "password is required"
	msgUserNotFound        = "User does not exist"
	msgInvalidCredentials  = "Invalid user credentials"
	msgUnauthorizedRequest = "unauthorized request"
	msgInvalidRefreshToken = "Invalid refresh token"
	msgRefreshTokenUsed    = "Refresh token is expired or used"
	msgInvalidOldPassword  = "Invalid old password"
	msgEmailTaken          = "User with this email already exists"
	msgAvatarMissing       = "Avatar file is missing"
	msgAvatarUploadFailed  = "Error while uploading avatar"
	msgCoverMissing        = "Cover image file is missing"
	msgCoverUploadFailed   = "Error while uploading cover image"
	msgInvalidEmail        = "email is not valid"
	msgPasswordTooLong     = "password must be at most 72 bytes"
)

// Upper bounds enforced before anything reaches bcrypt or the users table.
const (
	maxPasswordBytes = 72
	maxUsernameLen   = 64
	maxEmailLen      = 320
	maxFullNameLen   = 255
)

// PasswordHasher is implemented by cryptox.BcryptHasher.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// TokenIssuer is implemented by auth.TokenManager.
type TokenIssuer interface {
	IssuePair(id auth.Identity) (auth.TokenPair, error)
	VerifyRefreshToken(token string) (*auth.RefreshClaims, error)
}

type RegisterInput struct {
	FullName       string
	Email          string
	Username       string
	Password       string
	AvatarPath     string
	CoverImagePath string
}

type LoginInput struct {
	Username string
	Email    string
	Password string
}

type UpdateAccountInput struct {
	FullName string
	Email    string
}

// Session is the result of a successful login.
type Session struct {
	User   *models.User
	Tokens auth.TokenPair
}

type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hasher      PasswordHasher
	tokens      TokenIssuer
	media       media.Uploader
	logger      logging.Logger

	// serializes mutations when there is no database to lock rows
	mu sync.Mutex
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, hasher PasswordHasher,
	tokens TokenIssuer, uploader media.Uploader, logger logging.Logger) *UserService {
	return &UserService{
		db:          db,
		repomanager: m,
		hasher:      hasher,
		tokens:      tokens,
		media:       uploader,
		logger:      logger.With("module", "users"),
	}
}

func identityOf(u *models.User) auth.Identity {
	return auth.Identity{ID: u.ID, Email: u.Email, Username: u.Username, FullName: u.FullName}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// checkLengths rejects values the schema or bcrypt cannot hold. Empty values
// are skipped; required-field checks happen elsewhere.
func checkLengths(fullName, email, username, password string) error {
	var details []string
	for _, f := range []struct {
		name  string
		value string
		max   int
	}{
		{"fullName", fullName, maxFullNameLen},
		{"email", email, maxEmailLen},
		{"username", username, maxUsernameLen},
	} {
		if utf8.RuneCountInString(f.value) > f.max {
			details = append(details, fmt.Sprintf("%s must be at most %d characters", f.name, f.max))
		}
	}
	if len(password) > maxPasswordBytes {
		details = append(details, msgPasswordTooLong)
	}

	if len(details) == 0 {
		return nil
	}
	return common.Validation(details[0], details...)
}

// persist saves u, creating it when it has no id yet. The password is hashed
// only when passwordChanged is set, so re-saving a loaded record never hashes
// a digest again. For an existing user a password change writes the password
// alone and any other change writes the profile alone, so neither can carry a
// stale copy of the other's columns back to the store.
func (s *UserService) persist(ctx context.Context, repo users.Repository, u *models.User, passwordChanged bool) (*models.User, error) {
	if passwordChanged {
		digest, err := s.hasher.Hash(u.Password)
		if err != nil {
			if errors.Is(err, bcrypt.ErrPasswordTooLong) {
				return nil, common.Wrap(common.ErrorValidation, msgPasswordTooLong, err)
			}
			return nil, common.Internal("failed to hash password", err)
		}
		u.Password = digest
	}

	var (
		saved *models.User
		err   error
	)
	switch {
	case u.ID == "":
		saved, err = repo.Create(ctx, u)
	case passwordChanged:
		err = repo.SetPassword(ctx, u.ID, u.Password)
		saved = u
	default:
		saved, err = repo.Update(ctx, u)
	}

	switch {
	case err == nil:
		return saved, nil
	case errors.Is(err, common.ErrorAlreadyExists):
		return nil, common.Conflict(msgUserExists)
	case errors.Is(err, common.ErrorNotFound):
		return nil, common.NotFound(msgUserNotFound)
	default:
		return nil, common.Internal("failed to save user", err)
	}
}

// mutate locks and loads the user, applies change and saves it in one
// transaction. change reports whether it replaced the plaintext password.
// Without a database (memory storage) mutations are serialized instead.
func (s *UserService) mutate(ctx context.Context, userID string, change func(u *models.User) (bool, error)) (*models.User, error) {
	var out *models.User

	apply := func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)

		u, err := repo.GetByIDForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.NotFound(msgUserNotFound)
			}
			return common.Internal("failed to load user", err)
		}

		passwordChanged, err := change(u)
		if err != nil {
			return err
		}

		out, err = s.persist(ctx, repo, u, passwordChanged)
		return err
	}

	var err error
	if s.db == nil {
		s.mu.Lock()
		err = apply(ctx, nil)
		s.mu.Unlock()
	} else {
		err = dbx.WithTx(ctx, s.db, nil, apply)
	}
	if err != nil {
		var ce *common.Error
		if errors.As(err, &ce) {
			return nil, ce
		}
		return nil, common.Internal("transaction failed", err)
	}

	return out, nil
}

// Register creates an account. Avatar is required and uploaded first; a
// failed cover image upload is tolerated and leaves the cover empty.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = normalize(in.Email)
	in.Username = normalize(in.Username)

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"fullName", in.FullName},
		{"email", in.Email},
		{"username", in.Username},
		{"password", strings.TrimSpace(in.Password)},
	} {
		if f.value == "" {
			missing = append(missing, f.name+" is required")
		}
	}
	if len(missing) > 0 {
		return nil, common.Validation(msgAllFieldsRequired, missing...)
	}
	if err := checkLengths(in.FullName, in.Email, in.Username, in.Password); err != nil {
		return nil, err
	}
	if !validEmail(in.Email) {
		return nil, common.Validation(msgInvalidEmail)
	}

	repo := s.repomanager.Users(s.db)

	_, err := repo.FindByUsernameOrEmail(ctx, in.Username, in.Email)
	switch {
	case err == nil:
		return nil, common.Conflict(msgUserExists)
	case !errors.Is(err, common.ErrorNotFound):
		return nil, common.Internal("failed to look up user", err)
	}

	if in.AvatarPath == "" {
		return nil, common.Validation(msgAvatarRequired)
	}

	avatarURL, err := s.media.Upload(ctx, in.AvatarPath)
	if err != nil {
		s.logger.Warn(ctx, "avatar upload failed", "error", err)
		return nil, common.Validation(msgAvatarRequired)
	}

	var coverURL string
	if in.CoverImagePath != "" {
		coverURL, err = s.media.Upload(ctx, in.CoverImagePath)
		if err != nil {
			s.logger.Warn(ctx, "cover image upload failed", "error", err)
			coverURL = ""
		}
	}

	u := &models.User{
		Username:   in.Username,
		Email:      in.Email,
		FullName:   in.FullName,
		Avatar:     avatarURL,
		CoverImage: coverURL,
		Password:   in.Password,
	}

	created, err := s.persist(ctx, repo, u, true)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "user registered", "user_id", created.ID)
	return created, nil
}

// Login verifies credentials, mints a token pair and stores its refresh token,
// replacing whatever session the user had before.
func (s *UserService) Login(ctx context.Context, in LoginInput) (*Session, error) {
	username := normalize(in.Username)
	email := normalize(in.Email)

	if username == "" && email == "" {
		return nil, common.Validation(msgIdentifierRequired)
	}
	if in.Password == "" {
		return nil, common.Validation(msgPasswordRequired)
	}

	repo := s.repomanager.Users(s.db)

	u, err := repo.FindByUsernameOrEmail(ctx, username, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NotFound(msgUserNotFound)
		}
		return nil, common.Internal("failed to look up user", err)
	}

	if !s.hasher.Verify(in.Password, u.Password) {
		return nil, common.Unauthorized(msgInvalidCredentials)
	}

	pair, err := s.tokens.IssuePair(identityOf(u))
	if err != nil {
		return nil, common.Internal("failed to generate tokens", err)
	}

	if err := repo.SetRefreshToken(ctx, u.ID, pair.RefreshToken); err != nil {
		return nil, common.Internal("failed to store refresh token", err)
	}
	u.RefreshToken = pair.RefreshToken

	s.logger.Info(ctx, "user logged in", "user_id", u.ID)
	return &Session{User: u, Tokens: pair}, nil
}

// Logout clears the stored refresh token. The caller is already
// authenticated, so no token is checked here.
func (s *UserService) Logout(ctx context.Context, userID string) error {
	err := s.repomanager.Users(s.db).ClearRefreshToken(ctx, userID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return common.Internal("failed to clear refresh token", err)
	}

	s.logger.Info(ctx, "user logged out", "user_id", userID)
	return nil
}

// RefreshToken exchanges a refresh token for a new pair. The presented token
// must be the one currently stored for its subject; the swap only succeeds if
// it still is at write time, so each refresh token works exactly once.
func (s *UserService) RefreshToken(ctx context.Context, presented string) (auth.TokenPair, error) {
	if presented == "" {
		return auth.TokenPair{}, common.Unauthorized(msgUnauthorizedRequest)
	}

	claims, err := s.tokens.VerifyRefreshToken(presented)
	if err != nil {
		return auth.TokenPair{}, common.Wrap(common.ErrorUnauthorized, msgInvalidRefreshToken, err)
	}

	repo := s.repomanager.Users(s.db)

	u, err := repo.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return auth.TokenPair{}, common.Unauthorized(msgInvalidRefreshToken)
		}
		return auth.TokenPair{}, common.Internal("failed to load user", err)
	}

	if subtle.ConstantTimeCompare([]byte(presented), []byte(u.RefreshToken)) != 1 {
		s.logger.Warn(ctx, "stale refresh token presented", "user_id", u.ID)
		return auth.TokenPair{}, common.Unauthorized(msgRefreshTokenUsed)
	}

	pair, err := s.tokens.IssuePair(identityOf(u))
	if err != nil {
		return auth.TokenPair{}, common.Internal("failed to generate tokens", err)
	}

	if err := repo.RotateRefreshToken(ctx, u.ID, presented, pair.RefreshToken); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Warn(ctx, "refresh token rotated concurrently", "user_id", u.ID)
			return auth.TokenPair{}, common.Unauthorized(msgRefreshTokenUsed)
		}
		return auth.TokenPair{}, common.Internal("failed to store refresh token", err)
	}

	s.logger.Debug(ctx, "tokens refreshed", "user_id", u.ID)
	return pair, nil
}

// ChangePassword replaces the password after checking the old one.
func (s *UserService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if oldPassword == "" || strings.TrimSpace(newPassword) == "" {
		return common.Validation(msgAllFieldsRequired)
	}
	if err := checkLengths("", "", "", newPassword); err != nil {
		return err
	}

	_, err := s.mutate(ctx, userID, func(u *models.User) (bool, error) {
		if !s.hasher.Verify(oldPassword, u.Password) {
			return false, common.Validation(msgInvalidOldPassword)
		}
		u.Password = newPassword
		return true, nil
	})
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "password changed", "user_id", userID)
	return nil
}

func (s *UserService) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NotFound(msgUserNotFound)
		}
		return nil, common.Internal("failed to load user", err)
	}
	return u, nil
}

// UpdateAccount changes the display name and/or email. Blank fields are left
// as they are; both blank is a validation error.
func (s *UserService) UpdateAccount(ctx context.Context, userID string, in UpdateAccountInput) (*models.User, error) {
	fullName := strings.TrimSpace(in.FullName)
	email := normalize(in.Email)

	if fullName == "" && email == "" {
		return nil, common.Validation(msgAllFieldsRequired)
	}
	if err := checkLengths(fullName, email, "", ""); err != nil {
		return nil, err
	}
	if email != "" && !validEmail(email) {
		return nil, common.Validation(msgInvalidEmail)
	}

	u, err := s.mutate(ctx, userID, func(u *models.User) (bool, error) {
		if fullName != "" {
			u.FullName = fullName
		}
		if email != "" {
			u.Email = email
		}
		return false, nil
	})
	if err != nil {
		if errors.Is(err, common.ErrorConflict) {
			return nil, common.Conflict(msgEmailTaken)
		}
		return nil, err
	}

	return u, nil
}

// UpdateAvatar uploads the staged file and stores its URL.
func (s *UserService) UpdateAvatar(ctx context.Context, userID, localPath string) (*models.User, error) {
	return s.replaceImage(ctx, userID, localPath, msgAvatarMissing, msgAvatarUploadFailed,
		func(u *models.User, url string) { u.Avatar = url })
}

// UpdateCoverImage uploads the staged file and stores its URL.
func (s *UserService) UpdateCoverImage(ctx context.Context, userID, localPath string) (*models.User, error) {
	return s.replaceImage(ctx, userID, localPath, msgCoverMissing, msgCoverUploadFailed,
		func(u *models.User, url string) { u.CoverImage = url })
}

func (s *UserService) replaceImage(ctx context.Context, userID, localPath, missingMsg, failedMsg string,
	set func(u *models.User, url string)) (*models.User, error) {
	if localPath == "" {
		return nil, common.Validation(missingMsg)
	}

	url, err := s.media.Upload(ctx, localPath)
	if err != nil {
		s.logger.Warn(ctx, "image upload failed", "user_id", userID, "error", err)
		return nil, common.Wrap(common.ErrorValidation, failedMsg, err)
	}

	return s.mutate(ctx, userID, func(u *models.User) (bool, error) {
		set(u, url)
		return false, nil
	})
}
