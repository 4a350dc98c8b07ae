package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Origin 校验 ws 握手的 Origin；allowed 为空时放行全部
func Origin(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(c *gin.Context) {
		if len(set) == 0 || c.Request.Method != http.MethodGet || c.Request.URL.Path != "/ws" {
			c.Next()
			return
		}
		origin := c.GetHeader("Origin")
		if origin == "" {
			// 非浏览器客户端
			c.Next()
			return
		}
		if _, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]; !ok {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
