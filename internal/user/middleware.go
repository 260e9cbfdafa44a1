package user

import (
	"errors"
	"net/http"
	"strings"

	"github.com/SlpAus/mcbattle-ranking-backend/pkg/logger"
	"github.com/SlpAus/mcbattle-ranking-backend/pkg/token"
	"github.com/gin-gonic/gin"
)

const (
	// identityKey 是 Identity 在 Gin 上下文中的键
	identityKey  = "identity"
	bearerPrefix = "Bearer "
)

var (
	ErrMissingIdentity = errors.New("需要登录")
	ErrForbidden       = errors.New("需要管理员权限")
)

// Identity 是从令牌中解析出的调用者身份
type Identity struct {
	ID    string
	Admin bool
}

// TokenParser 解析并校验令牌
type TokenParser interface {
	Parse(tokenString string) (*token.Claims, error)
}

// Authenticator 从 Authorization 头中识别调用者
type Authenticator struct {
	parser   TokenParser
	adminIDs map[string]struct{}
	log      logger.Logger
}

// NewAuthenticator 创建认证器；adminIDs 中的用户即使令牌不带管理员角色也视为管理员
func NewAuthenticator(parser TokenParser, adminIDs []string, log logger.Logger) *Authenticator {
	if log == nil {
		log = logger.Nop()
	}
	ids := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids[id] = struct{}{}
		}
	}
	return &Authenticator{parser: parser, adminIDs: ids, log: log}
}

// LoadIdentityMiddleware 解析令牌并把身份放入Gin上下文。
// 没有令牌时按匿名处理；令牌无效时返回401。
func (a *Authenticator) LoadIdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		if !strings.HasPrefix(header, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization 头格式错误"})
			return
		}

		claims, err := a.parser.Parse(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
		if err != nil {
			a.log.Debug(c.Request.Context(), "令牌校验失败", logger.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		_, listed := a.adminIDs[claims.Subject]
		c.Set(identityKey, Identity{ID: claims.Subject, Admin: claims.IsAdmin() || listed})
		c.Next()
	}
}

// RequireUser 拒绝匿名请求
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := FromContext(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingIdentity.Error()})
			return
		}
		c.Next()
	}
}

// RequireAdmin 只允许管理员访问
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := FromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingIdentity.Error()})
			return
		}
		if !id.Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": ErrForbidden.Error()})
			return
		}
		c.Next()
	}
}

// FromContext 取出当前请求的身份
func FromContext(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	if !ok || id.ID == "" {
		return Identity{}, false
	}
	return id, true
}

// ViewerID 返回当前请求的用户ID，匿名时为空字符串
func ViewerID(c *gin.Context) string {
	id, _ := FromContext(c)
	return id.ID
}
