package middleware

import "github.com/gin-gonic/gin"

// SecureHeaders は防御的なHTTPヘッダーを全応答に付与するGinミドルウェアを返す。
func SecureHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
