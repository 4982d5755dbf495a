package user

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nao1215/chatrelay/pkg/migration"
)

var _ Store = (*SQLiteStore)(nil)

//go:embed migrations/*.up.sql
var migrations embed.FS

// SQLiteStore はSQLiteファイルにユーザーを永続化するストア。
type SQLiteStore struct {
	db *sql.DB
	// mu は重複チェックと追加を直列化する。
	mu  sync.Mutex
	ids *idGenerator
}

// OpenSQLiteStore は指定パスのSQLiteデータベースを開き、マイグレーションを適用する。
func OpenSQLiteStore(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migration.Run(ctx, db, migrations, "migrations", logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	var maxID int64
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM users").Scan(&maxID); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("最大ユーザーIDの取得に失敗: %w", err)
	}

	ids := newIDGenerator()
	ids.seed(maxID)
	return &SQLiteStore{db: db, ids: ids}, nil
}

// sqliteDSN はパスにbusy_timeoutとWALのプラグマを加えたDSNを組み立てる。
// パスに既存のクエリがあればそれを保持する。
func sqliteDSN(path string) (string, error) {
	file, rawQuery, _ := strings.Cut(path, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", fmt.Errorf("データベースパスのクエリが不正: %w", err)
	}
	query.Add("_pragma", "busy_timeout(5000)")
	query.Add("_pragma", "journal_mode(WAL)")
	return file + "?" + query.Encode(), nil
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Register はユーザーを追加する。
func (s *SQLiteStore) Register(ctx context.Context, name, email, password string) (User, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)", email,
	).Scan(&exists); err != nil {
		return User{}, fmt.Errorf("ユーザーの存在確認に失敗: %w", err)
	}
	if exists {
		return User{}, ErrAlreadyExists
	}

	u := User{
		ID:           s.ids.next(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO users (id, name, email, password_hash) VALUES (?, ?, ?, ?)",
		u.ID, u.Name, u.Email, u.PasswordHash,
	); err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrAlreadyExists
		}
		return User{}, fmt.Errorf("ユーザーの挿入に失敗: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return User{}, fmt.Errorf("コミットに失敗: %w", err)
	}
	return u, nil
}

// Authenticate はメールアドレスとパスワードが一致するユーザーを返す。
func (s *SQLiteStore) Authenticate(ctx context.Context, email, password string) (User, error) {
	u, ok, err := s.FindByEmail(ctx, email)
	if err != nil {
		return User{}, err
	}
	if !ok || !passwordMatches(u.PasswordHash, password) {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。
func (s *SQLiteStore) FindByEmail(ctx context.Context, email string) (User, bool, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, password_hash FROM users WHERE email = ?", email,
	).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return u, true, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
