// Package auth はサインアップとログインのアカウント操作を提供する。
// 資格情報ストアでユーザーを登録・照合し、成功したらセッショントークンを発行する。
package auth

import (
	"context"
	"fmt"

	"github.com/nao1215/chatrelay/internal/user"
	"github.com/nao1215/chatrelay/pkg/middleware"
)

// TokenIssuer はIdentityからセッショントークンを発行する。
type TokenIssuer interface {
	Issue(id middleware.Identity) (string, error)
}

// Service はアカウント操作を行う。
type Service struct {
	users  user.Store
	tokens TokenIssuer
}

// NewService は新しいServiceを生成する。
func NewService(users user.Store, tokens TokenIssuer) *Service {
	return &Service{users: users, tokens: tokens}
}

// Signup はユーザーを登録し、セッショントークンを返す。
// メールアドレスが登録済みなら user.ErrAlreadyExists を返す。
func (s *Service) Signup(ctx context.Context, name, email, password string) (string, error) {
	u, err := s.users.Register(ctx, name, email, password)
	if err != nil {
		return "", fmt.Errorf("ユーザー登録に失敗: %w", err)
	}
	return s.issue(u)
}

// Login は資格情報を照合し、セッショントークンを返す。
// 一致しなければ user.ErrInvalidCredentials を返す。
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	u, err := s.users.Authenticate(ctx, email, password)
	if err != nil {
		return "", fmt.Errorf("認証に失敗: %w", err)
	}
	return s.issue(u)
}

func (s *Service) issue(u user.User) (string, error) {
	token, err := s.tokens.Issue(middleware.Identity{ID: u.ID, Email: u.Email})
	if err != nil {
		return "", fmt.Errorf("トークン発行に失敗: %w", err)
	}
	return token, nil
}
