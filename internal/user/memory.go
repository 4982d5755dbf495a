package user

import (
	"context"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore はプロセス内のスライスにユーザーを保持するストア。
// 再起動すると全ユーザーが消える。
type MemoryStore struct {
	// mu は重複チェックと追加を1つのクリティカルセクションにまとめる。
	mu    sync.RWMutex
	users []User
	ids   *idGenerator
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: newIDGenerator()}
}

// Register はユーザーを追加する。
func (s *MemoryStore) Register(_ context.Context, name, email, password string) (User, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.findLocked(email); ok {
		return User{}, ErrAlreadyExists
	}

	u := User{
		ID:           s.ids.next(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
	}
	s.users = append(s.users, u)
	return u, nil
}

// Authenticate はメールアドレスとパスワードが一致するユーザーを返す。
func (s *MemoryStore) Authenticate(_ context.Context, email, password string) (User, error) {
	s.mu.RLock()
	u, ok := s.findLocked(email)
	s.mu.RUnlock()

	if !ok || !passwordMatches(u.PasswordHash, password) {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。
func (s *MemoryStore) FindByEmail(_ context.Context, email string) (User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.findLocked(email)
	return u, ok, nil
}

// findLocked は線形探索でユーザーを探す。呼び出し側でロックを保持すること。
func (s *MemoryStore) findLocked(email string) (User, bool) {
	for _, u := range s.users {
		if u.Email == email {
			return u, true
		}
	}
	return User{}, false
}
