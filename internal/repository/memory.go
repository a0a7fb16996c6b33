package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"livestock-track/internal/model"
)

// MemoryUserRepository keeps users in process memory. It backs
// STORE_DRIVER=memory and the service tests.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]model.User
	byEmail map[string]string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    map[string]model.User{},
		byEmail: map[string]string{},
	}
}

func (r *MemoryUserRepository) Create(_ context.Context, u model.User) error {
	key := emailKey(u.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[key]; exists {
		return model.ErrUserAlreadyExists
	}
	if _, exists := r.byID[u.ID]; exists {
		return model.ErrUserAlreadyExists
	}

	stored := u.Clone()
	if stored.RefreshTokens == nil {
		stored.RefreshTokens = []string{}
	}
	r.byID[u.ID] = stored
	r.byEmail[key] = u.ID
	return nil
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, exists := r.byID[id]
	if !exists {
		return model.User{}, model.ErrUserNotFound
	}
	return u.Clone(), nil
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byEmail[emailKey(email)]
	if !exists {
		return model.User{}, model.ErrUserNotFound
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryUserRepository) FindByVerificationTokenHash(_ context.Context, tokenHash string) (model.User, error) {
	return r.findFirst(func(u model.User) bool {
		return tokenHash != "" && u.EmailVerificationTokenHash == tokenHash
	})
}

func (r *MemoryUserRepository) FindByResetTokenHash(_ context.Context, tokenHash string) (model.User, error) {
	return r.findFirst(func(u model.User) bool {
		return tokenHash != "" && u.PasswordResetTokenHash == tokenHash
	})
}

func (r *MemoryUserRepository) Update(_ context.Context, u model.User) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.byID[u.ID]
	if !exists {
		return model.User{}, model.ErrUserNotFound
	}
	if current.Version != u.Version {
		return model.User{}, model.ErrVersionConflict
	}

	oldKey := emailKey(current.Email)
	newKey := emailKey(u.Email)
	if oldKey != newKey {
		if _, taken := r.byEmail[newKey]; taken {
			return model.User{}, model.ErrUserAlreadyExists
		}
		delete(r.byEmail, oldKey)
		r.byEmail[newKey] = u.ID
	}

	stored := u.Clone()
	stored.Version = current.Version + 1
	if stored.RefreshTokens == nil {
		stored.RefreshTokens = []string{}
	}
	r.byID[u.ID] = stored
	return stored.Clone(), nil
}

func (r *MemoryUserRepository) findFirst(match func(model.User) bool) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.byID {
		if match(u) {
			return u.Clone(), nil
		}
	}
	return model.User{}, model.ErrUserNotFound
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MemoryRevocationRepository is the in-process revocation ledger. Expired
// entries are dropped on every insert.
type MemoryRevocationRepository struct {
	mu      sync.RWMutex
	entries map[string]model.RevocationEntry
	now     func() time.Time
}

func NewMemoryRevocationRepository() *MemoryRevocationRepository {
	return &MemoryRevocationRepository{
		entries: map[string]model.RevocationEntry{},
		now:     time.Now,
	}
}

func (r *MemoryRevocationRepository) Blacklist(_ context.Context, entry model.RevocationEntry) error {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for hash, existing := range r.entries {
		if existing.Expired(now) {
			delete(r.entries, hash)
		}
	}

	if _, exists := r.entries[entry.TokenHash]; exists {
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now.UTC()
	}
	r.entries[entry.TokenHash] = entry
	return nil
}

func (r *MemoryRevocationRepository) IsBlacklisted(_ context.Context, tokenHash string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[tokenHash]
	if !exists {
		return false, nil
	}
	return !entry.Expired(r.now()), nil
}

func (r *MemoryRevocationRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
