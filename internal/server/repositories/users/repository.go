package users

import (
	"context"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// Repository is the credential store.
//
// Only SetRefreshToken, RotateRefreshToken and ClearRefreshToken touch the
// refresh token slot, and only SetPassword touches the password. Update writes
// the profile columns and nothing else.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByIDForUpdate(ctx context.Context, id string) (*models.User, error)
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*models.User, error)
	Update(ctx context.Context, user *models.User) (*models.User, error)
	SetPassword(ctx context.Context, id, digest string) error
	SetRefreshToken(ctx context.Context, id, token string) error
	RotateRefreshToken(ctx context.Context, id, presented, next string) error
	ClearRefreshToken(ctx context.Context, id string) error
}
