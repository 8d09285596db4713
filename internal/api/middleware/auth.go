package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zxresearch/reportgate/internal/auth"
	"github.com/zxresearch/reportgate/internal/domain"
)

const principalKey = "principal"

// Auth returns a bearer-token authentication middleware. The validated
// principal is stashed on the context for handlers to pick up.
func Auth(gate *auth.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "missing authorization header"})
			c.Abort()
			return
		}

		scheme, token, found := strings.Cut(header, " ")
		if !found || scheme != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": domain.ErrInvalidScheme.Error()})
			c.Abort()
			return
		}

		principal, err := gate.Verify(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": domain.ErrInvalidToken.Error()})
			c.Abort()
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// PrincipalFrom returns the principal set by Auth.
func PrincipalFrom(c *gin.Context) auth.Principal {
	v, _ := c.Get(principalKey)
	principal, _ := v.(auth.Principal)
	return principal
}
