package security

import (
	"context"
	"net/http"
	"strings"

	"PPDirect/module/chat/model"
	"PPDirect/tools/errs"
	jwtsec "PPDirect/tools/security"
	"PPDirect/tools/specialerror"

	"github.com/gin-gonic/gin"
)

// ===== context key =====
const (
	PPCtxAuthKey     = "authorization" // string
	PPCtxIdentityKey = "identity"      // model.Identity

	DefaultHeaderToken = "X-Token"
)

// Authenticator 令牌 -> 身份
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (model.Identity, error)
}

type Options struct {
	HeaderToken               string // 默认 "X-Token"；不能与 Authorization 相同
	QueryToken                string // 浏览器无法给 ws 设置头，默认 "token"
	EnableAuthorizationBearer bool   // 默认 true

	Auth Authenticator
}

func DefaultOptions(auth Authenticator) *Options {
	return &Options{
		HeaderToken:               DefaultHeaderToken,
		QueryToken:                "token",
		EnableAuthorizationBearer: true,
		Auth:                      auth,
	}
}

// ExtractToken 顺序：Authorization: Bearer xxx -> 自定义头 -> query
func ExtractToken(c *gin.Context, opts *Options) string {
	if opts.EnableAuthorizationBearer {
		if token := jwtsec.BearerToken(c.GetHeader("Authorization")); token != "" {
			return token
		}
	}
	// 兼容直接把令牌放在自定义头里（不带 Bearer 前缀）
	if opts.HeaderToken != "" && !strings.EqualFold(opts.HeaderToken, "Authorization") {
		if token := strings.TrimSpace(c.GetHeader(opts.HeaderToken)); token != "" {
			return token
		}
	}
	if opts.QueryToken != "" {
		return strings.TrimSpace(c.Query(opts.QueryToken))
	}
	return ""
}

// Middleware 校验失败直接 401，不会进入后续 handler（ws 升级之前就拒绝）
func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil || opts.Auth == nil {
		panic("security middleware needs an Authenticator")
	}
	return func(c *gin.Context) {
		token := ExtractToken(c, opts)
		ident, err := opts.Auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			code, msg := specialerror.ToClient(err)
			status := http.StatusUnauthorized
			if code != errs.CodeAuthentication {
				status = http.StatusInternalServerError
			}
			c.AbortWithStatusJSON(status, gin.H{"code": code, "message": msg})
			return
		}
		c.Set(PPCtxAuthKey, token)
		c.Set(PPCtxIdentityKey, ident)
		c.Next()
	}
}

// IdentityFrom 取出 Middleware 写入的身份
func IdentityFrom(c *gin.Context) (model.Identity, bool) {
	v, ok := c.Get(PPCtxIdentityKey)
	if !ok {
		return model.Identity{}, false
	}
	ident, ok := v.(model.Identity)
	return ident, ok
}
