package middleware

import (
	"net/http"

	"zhiku-rag/pkg/hash"

	"github.com/gin-gonic/gin"
)

// AdminAuthMiddleware 创建一个 Gin 中间件, 用于管理接口的密钥校验。
// 调用方需在 X-Admin-Key 请求头中携带明文密钥, 与配置中的 bcrypt 哈希比对。
func AdminAuthMiddleware(adminKeyHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKeyHash == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "管理接口未启用"})
			return
		}

		adminKey := c.GetHeader("X-Admin-Key")
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含管理密钥"})
			return
		}

		if !hash.CheckPasswordHash(adminKey, adminKeyHash) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "管理密钥不正确"})
			return
		}

		c.Next()
	}
}
