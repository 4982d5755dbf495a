package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/chatrelay/internal/user"
	"github.com/nao1215/chatrelay/pkg/middleware"
)

// LivenessMessage は GET / が返す本文。
const LivenessMessage = "✅ Backend is working!"

// shutdownTimeout はグレースフルシャットダウンの猶予。
const shutdownTimeout = 10 * time.Second

// Accounts はサインアップとログインを行う。
type Accounts interface {
	Signup(ctx context.Context, name, email, password string) (string, error)
	Login(ctx context.Context, email, password string) (string, error)
}

// Completer はプロンプトを補完APIに転送して返答を得る。
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options はServerの依存関係と設定。
type Options struct {
	// Port はリッスンポート。
	Port string
	// Accounts はアカウント操作。
	Accounts Accounts
	// Completer は補完APIクライアント。
	Completer Completer
	// Verifier は/chatのトークン検証器。
	Verifier middleware.TokenVerifier
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
	// Logger はアクセスログとエラーログの出力先。
	Logger *zap.Logger
}

// Server はゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port      string
	accounts  Accounts
	completer Completer
	verifier  middleware.TokenVerifier
	logger    *zap.Logger
}

// NewServer は新しいゲートウェイサーバーを生成する。
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(opts.AllowedOrigins))

	s := &Server{
		router:    router,
		port:      opts.Port,
		accounts:  opts.Accounts,
		completer: opts.Completer,
		verifier:  opts.Verifier,
		logger:    logger,
	}
	s.setupRoutes()
	return s
}

// Handler はルーティング済みのhttp.Handlerを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTPサーバーを起動します", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTPサーバーが停止: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("HTTPサーバーを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("シャットダウンに失敗: %w", err)
	}
	return nil
}

// setupRoutes はルーティングを設定する。
// 定義外のパスはGinのデフォルト（404）に任せる。
func (s *Server) setupRoutes() {
	// ヘルスチェック
	s.router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, LivenessMessage)
	})

	// 認証不要
	s.router.POST("/signup", s.handleSignup())
	s.router.POST("/login", s.handleLogin())

	// 認証必須
	s.router.POST("/chat", middleware.JWTAuth(s.verifier, s.logger), s.handleChat())
}

// signupRequest は POST /signup のリクエストボディ。
type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginRequest は POST /login のリクエストボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// chatRequest は POST /chat のリクエストボディ。
type chatRequest struct {
	Prompt string `json:"prompt"`
}

// handleSignup はユーザー登録を処理し、201でトークンを返すハンドラを返す。
func (s *Server) handleSignup() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signupRequest
		if !s.bindJSON(c, &req) {
			return
		}

		token, err := s.accounts.Signup(c.Request.Context(), req.Name, req.Email, req.Password)
		switch {
		case errors.Is(err, user.ErrAlreadyExists):
			c.JSON(http.StatusConflict, gin.H{"error": "User already exists"})
			return
		case err != nil:
			s.internalError(c, "サインアップに失敗", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"token": token})
	}
}

// handleLogin は資格情報を照合し、200でトークンを返すハンドラを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if !s.bindJSON(c, &req) {
			return
		}

		token, err := s.accounts.Login(c.Request.Context(), req.Email, req.Password)
		switch {
		case errors.Is(err, user.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		case err != nil:
			s.internalError(c, "ログインに失敗", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

// handleChat はプロンプトを補完APIに転送し、返答を返すハンドラを返す。
// 上流の失敗は原因を問わず500で返す。
func (s *Server) handleChat() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req chatRequest
		if !s.bindJSON(c, &req) {
			return
		}

		reply, err := s.completer.Complete(c.Request.Context(), req.Prompt)
		if err != nil {
			s.logger.Warn("補完リクエストに失敗",
				zap.String("request_id", middleware.GetRequestID(c)),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "AI request failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"reply": reply})
	}
}

// bindJSON はリクエストボディをobjにデコードする。
// 空のボディは全フィールド未指定として扱う。不正なJSONなら400を返してfalseを返す。
func (s *Server) bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return false
	}
	return true
}

// internalError は原因をログに残し、500を返す。
func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg,
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
