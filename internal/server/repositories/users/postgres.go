package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/google/uuid"
)

const userColumns = `id, username, email, full_name, avatar, cover_image, password, refresh_token, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {

	query :=
		`INSERT INTO users (username, email, full_name, avatar, cover_image, password)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		user.Username, user.Email, user.FullName, user.Avatar, user.CoverImage, user.Password).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		if _, ok := dbx.IsUniqueViolation(err); ok {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getByID(ctx, id, "")
}

// GetByIDForUpdate is GetByID plus a row lock held until the surrounding
// transaction ends. Outside a transaction the lock is released at once.
func (r *PostgresRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.User, error) {
	return r.getByID(ctx, id, " FOR UPDATE")
}

func (r *PostgresRepository) getByID(ctx context.Context, id, lock string) (*models.User, error) {
	// ids are uuids; anything else cannot match and would only make
	// PostgreSQL complain about the cast.
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrorNotFound
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1` + lock

	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// FindByUsernameOrEmail returns the user whose username equals username or
// whose email equals email. Empty arguments never match.
func (r *PostgresRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		 WHERE ($1 <> '' AND username = $1) OR ($2 <> '' AND email = $2)
		 ORDER BY created_at
		 LIMIT 1`

	return r.scanOne(r.db.QueryRowContext(ctx, query, username, email))
}

// Update saves the profile fields of user. The password and refresh token
// columns are left alone.
func (r *PostgresRepository) Update(ctx context.Context, user *models.User) (*models.User, error) {
	query :=
		`UPDATE users
		 SET full_name = $2, email = $3, avatar = $4, cover_image = $5, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		user.ID, user.FullName, user.Email, user.Avatar, user.CoverImage).
		Scan(&user.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		if _, ok := dbx.IsUniqueViolation(err); ok {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

// SetPassword stores digest, which must already be hashed.
func (r *PostgresRepository) SetPassword(ctx context.Context, id, digest string) error {
	query := `UPDATE users SET password = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, query, id, digest)
}

// SetRefreshToken overwrites the stored refresh token unconditionally.
func (r *PostgresRepository) SetRefreshToken(ctx context.Context, id, token string) error {
	query := `UPDATE users SET refresh_token = $2 WHERE id = $1`
	return r.execOne(ctx, query, id, token)
}

// RotateRefreshToken replaces presented with next only if presented is still
// the stored value. ErrorNotFound means the token was already rotated,
// cleared, or the user is gone.
func (r *PostgresRepository) RotateRefreshToken(ctx context.Context, id, presented, next string) error {
	query := `UPDATE users SET refresh_token = $3 WHERE id = $1 AND refresh_token = $2`
	return r.execOne(ctx, query, id, presented, next)
}

// ClearRefreshToken sets the refresh token to NULL.
func (r *PostgresRepository) ClearRefreshToken(ctx context.Context, id string) error {
	query := `UPDATE users SET refresh_token = NULL WHERE id = $1`
	return r.execOne(ctx, query, id)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}

	return nil
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	var refresh sql.NullString

	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.FullName, &user.Avatar,
		&user.CoverImage, &user.Password, &refresh, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	user.RefreshToken = refresh.String
	return user, nil
}
