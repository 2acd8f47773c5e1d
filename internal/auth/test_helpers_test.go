package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"

	"github.com/noah-isme/academy-api/internal/store"
)

var testHashParams = &argon2id.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]store.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[string]store.User)}
}

func (f *fakeUsers) add(t *testing.T, id, username, password string, roles ...string) store.User {
	t.Helper()
	hash, err := argon2id.CreateHash(password, testHashParams)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := store.User{ID: id, Username: username, Email: username + "@academy.test", PasswordHash: hash, Roles: roles, CreatedAt: time.Now()}
	f.mu.Lock()
	f.users[id] = u
	f.mu.Unlock()
	return u
}

func (f *fakeUsers) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func newTestService(t *testing.T, users *fakeUsers) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Users:          users,
		Secret:         "super-secret-key",
		AccessTokenTTL: time.Minute,
		Issuer:         "academy-api",
		Audience:       "academy-admin",
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}
