package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ScopeRead   = "read"
	ScopeExport = "export"

	claimsKey = "auth.claims"
)

func ClaimsFromContext(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

// Middleware rejects requests without a valid bearer token. With no secret
// configured every request passes.
func Middleware(j JWT) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !j.Enabled() {
			c.Next()
			return
		}
		tok := bearerToken(c.GetHeader("Authorization"))
		if tok == "" {
			abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := j.Verify(tok)
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid token")
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireScope must run after Middleware.
func RequireScope(j JWT, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !j.Enabled() {
			c.Next()
			return
		}
		claims, ok := ClaimsFromContext(c)
		if !ok || claims.Scope != scope {
			abort(c, http.StatusForbidden, "insufficient scope")
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "message": msg})
}

func bearerToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	parts := strings.SplitN(v, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
