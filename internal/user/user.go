package user

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrAlreadyExists は同じメールアドレスのユーザーが既に存在する場合のエラー。
	ErrAlreadyExists = errors.New("user already exists")
	// ErrInvalidCredentials はメールアドレスまたはパスワードが一致しない場合のエラー。
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User は登録済みユーザーを表す。作成後に変更・削除されることはない。
type User struct {
	// ID は作成時刻（Unixミリ秒）から導出した一意識別子。
	ID int64
	// Name は表示名。
	Name string
	// Email はユーザーの自然キー。
	Email string
	// PasswordHash はSHA-256で前処理した上でbcryptでハッシュ化したパスワード。
	PasswordHash string
}

// Store は資格情報ストアのインターフェース。
// ハンドラはこのインターフェースのみに依存する。
type Store interface {
	// Register はユーザーを登録する。同じメールアドレスが存在すれば ErrAlreadyExists を返す。
	Register(ctx context.Context, name, email, password string) (User, error)
	// Authenticate はメールアドレスとパスワードを照合する。
	// 一致しなければ ErrInvalidCredentials を返す。
	Authenticate(ctx context.Context, email, password string) (User, error)
	// FindByEmail はメールアドレスでユーザーを検索する。
	FindByEmail(ctx context.Context, email string) (User, bool, error)
}

// prehash はパスワードをSHA-256の16進文字列に変換する。
// bcryptは72バイトを超える入力を拒否するため、長さに関係なく64バイトに収める。
func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(hex.EncodeToString(sum[:]))
}

// hashPassword はパスワードをbcryptでハッシュ化する。
func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(prehash(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}
	return string(hash), nil
}

// passwordMatches はハッシュと平文パスワードが一致するかを返す。
func passwordMatches(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(password)) == nil
}

// idGenerator は作成時刻からユーザーIDを払い出す。
// 同じミリ秒に複数回呼ばれた場合は直前の値+1を返し、プロセス内で一意にする。
type idGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// newIDGenerator は現在時刻を使うidGeneratorを生成する。
func newIDGenerator() *idGenerator {
	return &idGenerator{now: time.Now}
}

// next は次のIDを返す。
func (g *idGenerator) next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}

// seed は既存の最大IDを下限として設定する。永続ストアの再起動時に使う。
func (g *idGenerator) seed(maxID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if maxID > g.last {
		g.last = maxID
	}
}
