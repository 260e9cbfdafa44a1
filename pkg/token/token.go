// Package token 负责签发与校验用户身份令牌 (HS256 JWT)。
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin 是管理员令牌携带的角色
const RoleAdmin = "admin"

// defaultLeeway 是校验时允许的时钟偏差
const defaultLeeway = 30 * time.Second

var (
	ErrInvalidToken = errors.New("无效的令牌")
	ErrExpiredToken = errors.New("令牌已过期")
	ErrEmptyUserID  = errors.New("用户ID不能为空")
)

// Claims 是令牌中携带的声明，Subject 即用户ID
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// IsAdmin 判断令牌是否携带管理员角色
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// Issuer 持有签名密钥，负责签发和校验令牌
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	leeway time.Duration
}

// NewIssuer 创建一个新的 Issuer，secret 不能为空
func NewIssuer(secret []byte, issuer string, ttl time.Duration) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("令牌密钥不能为空")
	}
	return &Issuer{
		secret: secret,
		issuer: issuer,
		ttl:    ttl,
		leeway: defaultLeeway,
	}, nil
}

// GenerateSecretKey 生成一个密码学安全的32字节随机密钥，用于未配置密钥的开发环境。
func GenerateSecretKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("无法生成安全的密钥: %w", err)
	}
	return key, nil
}

// EncodeSecret 以 URL 安全的 Base64 编码密钥，便于写入配置
func EncodeSecret(secret []byte) string {
	return base64.RawURLEncoding.EncodeToString(secret)
}

// DecodeSecret 解析配置中的密钥：能按 EncodeSecret 的格式解码出至少16字节时使用解码结果，否则按原文使用
func DecodeSecret(s string) []byte {
	if secret, err := base64.RawURLEncoding.DecodeString(s); err == nil && len(secret) >= 16 {
		return secret
	}
	return []byte(s)
}

// Issue 为指定用户签发令牌
func (i *Issuer) Issue(userID, role string) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Parse 校验令牌并返回其中的声明
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(i.leeway),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
