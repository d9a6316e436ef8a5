package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/api/logger"
	"storefront/api/models"
	"storefront/api/tracking"
	"storefront/api/utils"
)

const (
	TokenCookie = "jwt_token"

	CustomerIDKey    = "customer_id"
	CustomerEmailKey = "customer_email"
	CustomerRoleKey  = "customer_role"
)

// Authenticate attaches the caller's claims to the context when a valid
// token is present. Requests without a token, or with a bad one, continue
// anonymously; route groups that need a caller add CustomerRequired.
func Authenticate(jwt *utils.JWTManager) gin.HandlerFunc {
	log := logger.Component("auth")
	return func(c *gin.Context) {
		tokenString := tokenFromRequest(c)
		if tokenString == "" {
			c.Next()
			return
		}
		claims, err := jwt.ValidateJWT(tokenString)
		if err != nil {
			log.Debug().Err(err).Msg("ignoring invalid token")
			c.Next()
			return
		}
		c.Set(CustomerIDKey, claims.CustomerID)
		c.Set(CustomerEmailKey, claims.Email)
		c.Set(CustomerRoleKey, claims.Role)
		c.Next()
	}
}

func tokenFromRequest(c *gin.Context) string {
	if tok, err := c.Cookie(TokenCookie); err == nil && tok != "" {
		return tok
	}
	h := c.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// CustomerRequired rejects requests without an authenticated caller.
func CustomerRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CustomerID(c) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
			return
		}
		c.Next()
	}
}

// AdminRequired rejects requests whose caller is not an admin.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CustomerID(c) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
			return
		}
		if role, _ := c.Get(CustomerRoleKey); role != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden: admin only"})
			return
		}
		c.Next()
	}
}

// CustomerID returns the authenticated caller's id, or 0.
func CustomerID(c *gin.Context) int64 {
	return c.GetInt64(CustomerIDKey)
}

// PrincipalFromContext exposes the authenticated caller to the tracker.
// Admins are reported as admins only; their id never reaches tracking.
func PrincipalFromContext(c *gin.Context) tracking.Principal {
	id := CustomerID(c)
	if id == 0 {
		return tracking.Principal{}
	}
	if role, _ := c.Get(CustomerRoleKey); role == models.RoleAdmin {
		return tracking.Principal{IsAdmin: true}
	}
	return tracking.Principal{CustomerID: id}
}
