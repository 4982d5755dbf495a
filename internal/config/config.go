// Package config は環境変数からゲートウェイの設定を読み込む。
// カレントディレクトリに .env があれば先に読み込むが、既存の環境変数が優先される。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// FallbackJWTSecret はJWT_SECRETが未設定の場合に使う署名鍵。
// 既存クライアントとの互換のために残している。本番では必ずJWT_SECRETを設定すること。
const FallbackJWTSecret = "fallback_key"

// EnvProduction は本番環境を表すAPP_ENVの値。
const EnvProduction = "production"

// Config はゲートウェイの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// Environment は実行環境（development / production）。
	Environment string
	// JWTSecret はセッショントークンの署名鍵。
	JWTSecret string
	// UsingFallbackSecret はJWTSecretがFallbackJWTSecretであることを示す。
	UsingFallbackSecret bool
	// OpenAIAPIKey は補完APIのキー。未設定なら/chatは上流で失敗する。
	OpenAIAPIKey string
	// OpenAIBaseURL は補完APIのベースURL。
	OpenAIBaseURL string
	// OpenAITimeout は補完API呼び出しのタイムアウト。
	OpenAITimeout time.Duration
	// DatabasePath はSQLiteファイルのパス。空ならメモリストアを使う。
	DatabasePath string
	// AllowedOrigins はCORSで許可するオリジン。"*" で全許可。
	AllowedOrigins []string
}

// Load は .env と環境変数から設定を読み込む。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".envの読み込みに失敗: %w", err)
	}
	return Parse(os.Getenv)
}

// Parse はgetenvで取得した値から設定を組み立てる。
func Parse(getenv func(string) string) (*Config, error) {
	get := func(key, defaultValue string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return defaultValue
	}

	timeout, err := time.ParseDuration(get("OPENAI_TIMEOUT", "60s"))
	if err != nil {
		return nil, fmt.Errorf("OPENAI_TIMEOUTの解析に失敗: %w", err)
	}

	secret := getenv("JWT_SECRET")
	usingFallback := secret == ""
	if usingFallback {
		secret = FallbackJWTSecret
	}

	return &Config{
		Port:                get("PORT", "3000"),
		Environment:         get("APP_ENV", "development"),
		JWTSecret:           secret,
		UsingFallbackSecret: usingFallback,
		OpenAIAPIKey:        getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:       strings.TrimRight(get("OPENAI_BASE_URL", "https://api.openai.com"), "/"),
		OpenAITimeout:       timeout,
		DatabasePath:        get("DATABASE_PATH", ""),
		AllowedOrigins:      splitList(get("ALLOWED_ORIGINS", "*")),
	}, nil
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// splitList はカンマ区切りの文字列を空要素を除いて分割する。
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
