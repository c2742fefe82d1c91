package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"geoattend/internal/apperr"
)

const claimsKey = "claims"

// Bearer enforces HS256 bearer tokens and stores the claims on the context.
func Bearer(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			abort(c, http.StatusUnauthorized, apperr.KindUnauthorized, "missing bearer token")
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			abort(c, http.StatusUnauthorized, apperr.KindUnauthorized, "invalid token")
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireRole lets through only callers holding one of roles. It must run
// after Bearer.
func RequireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := FromGin(c)
		if !ok {
			abort(c, http.StatusUnauthorized, apperr.KindUnauthorized, "missing bearer token")
			return
		}
		for _, r := range roles {
			if claims.Role == r {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, apperr.KindForbidden, "role "+string(claims.Role)+" may not call this endpoint")
	}
}

// FromGin returns the claims stored by Bearer.
func FromGin(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

func abort(c *gin.Context, status int, kind apperr.Kind, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": kind, "message": msg})
}
