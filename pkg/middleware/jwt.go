package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// TokenTTL はセッショントークンの有効期間。
const TokenTTL = time.Hour

var (
	// ErrTokenMissing はトークンが提示されていない場合のエラー。
	ErrTokenMissing = errors.New("token missing")
	// ErrTokenInvalid は署名が一致しない、またはペイロードが不正な場合のエラー。
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired は有効期限を過ぎたトークンのエラー。
	ErrTokenExpired = errors.New("token expired")
)

// Identity はトークンに埋め込まれるユーザー識別情報。
type Identity struct {
	// ID はユーザーID。
	ID int64
	// Email はユーザーのメールアドレス。
	Email string
}

// JWTClaims はセッショントークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID はユーザーID。
	UserID int64 `json:"id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
}

// TokenIssuer はHS256で署名したセッショントークンを発行・検証する。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer は指定した秘密鍵で署名するTokenIssuerを生成する。
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    TokenTTL,
		now:    time.Now,
	}
}

// Issue はIdentityを埋め込んだトークンを発行する。有効期限は発行から1時間。
func (i *TokenIssuer) Issue(id Identity) (string, error) {
	issuedAt := i.now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(i.ttl)),
		},
		UserID: id.ID,
		Email:  id.Email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証し、埋め込まれたIdentityを返す。
func (i *TokenIssuer) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrTokenMissing
	}

	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(_ *jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Identity{}, fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case err != nil:
		return Identity{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	case !token.Valid:
		return Identity{}, ErrTokenInvalid
	}

	return Identity{ID: claims.UserID, Email: claims.Email}, nil
}

// TokenVerifier はトークンを検証してIdentityを返す。
type TokenVerifier interface {
	Verify(tokenString string) (Identity, error)
}

// contextKeyIdentity はGinコンテキストにIdentityを格納するキー。
const contextKeyIdentity = "identity"

// JWTAuth はBearerトークンを検証するGinミドルウェアを返す。
// トークンが無ければ401、検証に失敗すれば403で中断する。
// 期限切れと不正なトークンはどちらも403として扱う。
// 成功した場合はコンテキストにIdentityを設定する。
func JWTAuth(verifier TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		id, err := verifier.Verify(bearerToken(c.GetHeader("Authorization")))
		switch {
		case errors.Is(err, ErrTokenMissing):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token missing"})
			return
		case err != nil:
			logger.Debug("トークン検証に失敗",
				zap.String("request_id", GetRequestID(c)),
				zap.Bool("expired", errors.Is(err, ErrTokenExpired)),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Token invalid"})
			return
		}

		c.Set(contextKeyIdentity, id)
		c.Next()
	}
}

// bearerToken はAuthorizationヘッダーの2番目の空白区切りフィールドをトークンとして返す。
// "Bearer <token>" 形式を想定し、フィールドが無ければ空文字列を返す。
func bearerToken(header string) string {
	fields := strings.Split(header, " ")
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

// GetIdentity はGinコンテキストから認証済みユーザーのIdentityを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(contextKeyIdentity)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
