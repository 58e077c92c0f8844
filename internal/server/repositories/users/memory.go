package users

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/google/uuid"
)

// MemoryRepository keeps users in a map. It follows the PostgreSQL
// repository's contract, unique username and email included, and is meant
// for tests and local experiments.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[string]models.User
	now  func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: map[string]models.User{}, now: time.Now}
}

func (r *MemoryRepository) taken(id, username, email string) bool {
	for _, u := range r.rows {
		if u.ID != id && (u.Username == username || u.Email == email) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.taken("", user.Username, user.Email) {
		return nil, common.ErrorAlreadyExists
	}

	user.ID = uuid.NewString()
	user.CreatedAt = r.now()
	user.UpdatedAt = user.CreatedAt
	user.RefreshToken = ""
	r.rows[user.ID] = *user

	out := *user
	return &out, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &u, nil
}

// GetByIDForUpdate is GetByID: every write is atomic under the map lock and
// touches only its own columns.
func (r *MemoryRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.User, error) {
	return r.GetByID(ctx, id)
}

func (r *MemoryRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *models.User
	for _, u := range r.rows {
		if (username != "" && u.Username == username) || (email != "" && u.Email == email) {
			if found == nil || u.CreatedAt.Before(found.CreatedAt) {
				u := u
				found = &u
			}
		}
	}
	if found == nil {
		return nil, common.ErrorNotFound
	}
	return found, nil
}

func (r *MemoryRepository) Update(ctx context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.rows[user.ID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if r.taken(user.ID, cur.Username, user.Email) {
		return nil, common.ErrorAlreadyExists
	}

	cur.FullName = user.FullName
	cur.Email = user.Email
	cur.Avatar = user.Avatar
	cur.CoverImage = user.CoverImage
	cur.UpdatedAt = r.now()
	r.rows[user.ID] = cur

	user.UpdatedAt = cur.UpdatedAt
	return user, nil
}

func (r *MemoryRepository) SetPassword(ctx context.Context, id, digest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.rows[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.Password = digest
	u.UpdatedAt = r.now()
	r.rows[id] = u
	return nil
}

func (r *MemoryRepository) SetRefreshToken(ctx context.Context, id, token string) error {
	return r.swap(id, func(cur string) (string, bool) { return token, true })
}

func (r *MemoryRepository) RotateRefreshToken(ctx context.Context, id, presented, next string) error {
	return r.swap(id, func(cur string) (string, bool) {
		return next, cur != "" && cur == presented
	})
}

func (r *MemoryRepository) ClearRefreshToken(ctx context.Context, id string) error {
	return r.swap(id, func(string) (string, bool) { return "", true })
}

// swap replaces the refresh token of id when fn allows it; a refusal reads
// as ErrorNotFound, like an UPDATE that matched no row.
func (r *MemoryRepository) swap(id string, fn func(cur string) (string, bool)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.rows[id]
	if !ok {
		return common.ErrorNotFound
	}
	next, ok := fn(u.RefreshToken)
	if !ok {
		return common.ErrorNotFound
	}
	u.RefreshToken = next
	r.rows[id] = u
	return nil
}
