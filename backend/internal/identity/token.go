package identity

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrAccessTokenRequired = errors.New("ACCESS_TOKEN_REQUIRED")

type Claims struct {
	UserID   uint64 `json:"sub"`
	Username string `json:"username"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

// ParseToken 解析 access token，refresh token 会被拒绝
func ParseToken(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Type != "access" {
		return nil, ErrAccessTokenRequired
	}
	return claims, nil
}

// SignAccessToken 测试和本地调试用
func SignAccessToken(userID uint64, username string, secret []byte, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Type:     "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// TokenUser 每次取身份时都重新校验 token，过期后会话里的新提交会失败
type TokenUser struct {
	token  string
	secret []byte
}

func NewTokenUser(token string, secret []byte) *TokenUser {
	return &TokenUser{token: token, secret: secret}
}

func (u *TokenUser) UserID() (string, error) {
	if u.token == "" {
		return "", fmt.Errorf("%w: empty token", ErrAccessTokenRequired)
	}
	claims, err := ParseToken(u.token, u.secret)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(claims.UserID, 10), nil
}
