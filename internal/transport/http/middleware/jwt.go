package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/SkywardAI/kirin/internal/pkg/jwtutil"
	"github.com/SkywardAI/kirin/internal/transport/http/response"
)

const (
	ContextAccountIDKey = "account_id"
	ContextUsernameKey  = "username"
)

func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := parseBearer(c, secret)
		if !ok {
			response.Error(c, 401, response.CodeUnauthorized, "invalid or missing token")
			c.Abort()
			return
		}
		c.Set(ContextAccountIDKey, claims.AccountID)
		c.Set(ContextUsernameKey, claims.Username)
		c.Next()
	}
}

// AuthJWTOptional attaches the account when a valid token is present and
// lets the request through anonymously otherwise. Chat turns do not
// require an account.
func AuthJWTOptional(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := parseBearer(c, secret); ok {
			c.Set(ContextAccountIDKey, claims.AccountID)
			c.Set(ContextUsernameKey, claims.Username)
		}
		c.Next()
	}
}

func parseBearer(c *gin.Context, secret string) (*jwtutil.Claims, bool) {
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return nil, false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
	claims, err := jwtutil.ParseToken(secret, token)
	if err != nil {
		return nil, false
	}
	return claims, true
}
