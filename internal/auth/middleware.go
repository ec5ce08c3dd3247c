package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/yourusername/dbauth-demo/internal/users"
)

// ContextStoreKey はアカウントストアを gin.Context に格納するキーです。
const ContextStoreKey = "auth.store"

// UseStore は全リクエストの gin.Context にアカウントストアを設定するミドルウェアを返します。
func UseStore(store users.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextStoreKey, store)
		c.Next()
	}
}
