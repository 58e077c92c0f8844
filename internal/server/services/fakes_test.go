package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	usersrepo "github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
)

// testUsers wraps the in-memory repository with failure injection and hooks
// that run just before a rotation is attempted and just after a locked read.
type testUsers struct {
	*usersrepo.MemoryRepository

	err          error
	beforeRotate func()
	afterLoad    func()
}

func (r *testUsers) GetByIDForUpdate(ctx context.Context, id string) (*models.User, error) {
	u, err := r.MemoryRepository.GetByIDForUpdate(ctx, id)
	if hook := r.afterLoad; hook != nil {
		r.afterLoad = nil
		hook()
	}
	return u, err
}

func (r *testUsers) Create(ctx context.Context, u *models.User) (*models.User, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.MemoryRepository.Create(ctx, u)
}

func (r *testUsers) FindByUsernameOrEmail(ctx context.Context, username, email string) (*models.User, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.MemoryRepository.FindByUsernameOrEmail(ctx, username, email)
}

func (r *testUsers) ClearRefreshToken(ctx context.Context, id string) error {
	if r.err != nil {
		return r.err
	}
	return r.MemoryRepository.ClearRefreshToken(ctx, id)
}

func (r *testUsers) RotateRefreshToken(ctx context.Context, id, presented, next string) error {
	if r.beforeRotate != nil {
		r.beforeRotate()
	}
	return r.MemoryRepository.RotateRefreshToken(ctx, id, presented, next)
}

func (r *testUsers) stored(id string) models.User {
	u, err := r.MemoryRepository.GetByID(context.Background(), id)
	if err != nil {
		return models.User{}
	}
	return *u
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	u *testUsers
}

func (f *fakeRepoManager) Users(dbx.DBTX) usersrepo.Repository { return f.u }

// fakeUploader "hosts" files under http://media.test/ and records what it saw.
type fakeUploader struct {
	mu       sync.Mutex
	failFor  map[string]bool
	uploaded []string
}

func (f *fakeUploader) Upload(ctx context.Context, localPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if localPath == "" {
		return "", common.ErrNoFile
	}
	if f.failFor[localPath] {
		return "", fmt.Errorf("%w: host down", common.ErrUploadFailed)
	}
	f.uploaded = append(f.uploaded, localPath)
	return "http://media.test/" + filepath.Base(localPath), nil
}
