// チャット中継ゲートウェイのエントリポイント。
// ユーザー登録、ログイン（JWT発行）、トークンで保護された補完APIへの中継を担当する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/chatrelay/internal/auth"
	"github.com/nao1215/chatrelay/internal/completion"
	"github.com/nao1215/chatrelay/internal/config"
	"github.com/nao1215/chatrelay/internal/gateway"
	"github.com/nao1215/chatrelay/internal/logger"
	"github.com/nao1215/chatrelay/internal/user"
	"github.com/nao1215/chatrelay/pkg/httpclient"
	"github.com/nao1215/chatrelay/pkg/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	l, err := logger.New(cfg.Environment)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}

	os.Exit(finish(l, run(cfg, l)))
}

// finish はrunの結果をログに記録し、バッファを書き出してから終了コードを返す。
func finish(l *zap.Logger, err error) int {
	if err != nil {
		l.Error("ゲートウェイの起動に失敗", zap.Error(err))
	}
	_ = l.Sync()
	if err != nil {
		return 1
	}
	return 0
}

func run(cfg *config.Config, l *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.UsingFallbackSecret {
		l.Warn("JWT_SECRETが未設定のためフォールバック鍵で署名します")
	}
	if cfg.OpenAIAPIKey == "" {
		l.Warn("OPENAI_API_KEYが未設定のため/chatは失敗します")
	}

	var store user.Store
	if cfg.DatabasePath == "" {
		store = user.NewMemoryStore()
		l.Info("メモリ上のユーザーストアを使用します")
	} else {
		sqliteStore, err := user.OpenSQLiteStore(ctx, cfg.DatabasePath, l)
		if err != nil {
			return err
		}
		defer func() { _ = sqliteStore.Close() }()
		store = sqliteStore
		l.Info("SQLiteのユーザーストアを使用します", zap.String("path", cfg.DatabasePath))
	}

	tokens := middleware.NewTokenIssuer(cfg.JWTSecret)
	upstream := httpclient.New(cfg.OpenAIBaseURL,
		httpclient.WithBearerToken(cfg.OpenAIAPIKey),
		httpclient.WithTimeout(cfg.OpenAITimeout),
	)

	server := gateway.NewServer(gateway.Options{
		Port:           cfg.Port,
		Accounts:       auth.NewService(store, tokens),
		Completer:      completion.New(upstream, l),
		Verifier:       tokens,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         l,
	})
	return server.Run(ctx)
}
