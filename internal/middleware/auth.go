package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/internal/service/user"
	"github.com/careflow/clinical-records/pkg/auth"
)

const (
	// ContextActor is the gin context key holding the authenticated user.
	ContextActor = "actor"
)

// AuthMiddleware resolves bearer tokens to users. Lookups are cached with
// a short TTL so every request does not hit the store; approval flips
// propagate within the TTL.
type AuthMiddleware struct {
	jwtSvc  auth.JWTService
	userSvc user.Service
	cache   *gocache.Cache
}

func NewAuthMiddleware(jwtSvc auth.JWTService, userSvc user.Service, cache *gocache.Cache) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSvc:  jwtSvc,
		userSvc: userSvc,
		cache:   cache,
	}
}

// Authenticate verifies the JWT and sets the acting user in context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "missing authorization header"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "invalid authorization format"})
			return
		}

		claims, err := m.jwtSvc.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "invalid token"})
			return
		}

		actor, err := m.lookupUser(c, claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "unknown user"})
			return
		}

		c.Set(ContextActor, actor)
		c.Next()
	}
}

// RequireApproved blocks unapproved accounts from everything past login.
func (m *AuthMiddleware) RequireApproved() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := Actor(c)
		if actor == nil || !actor.IsApproved {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"status": "error", "message": "account pending approval"})
			return
		}
		c.Next()
	}
}

// RequireRole limits a route to the given roles.
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := Actor(c)
		if actor == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "not authenticated"})
			return
		}
		for _, role := range roles {
			if actor.Role == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"status": "error", "message": "insufficient role"})
	}
}

func (m *AuthMiddleware) lookupUser(c *gin.Context, id uuid.UUID) (*model.User, error) {
	key := id.String()
	if cached, ok := m.cache.Get(key); ok {
		return cached.(*model.User), nil
	}
	u, err := m.userSvc.Get(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	m.cache.SetDefault(key, u)
	return u, nil
}

// Actor returns the authenticated user set by Authenticate, or nil.
func Actor(c *gin.Context) *model.User {
	v, ok := c.Get(ContextActor)
	if !ok {
		return nil
	}
	actor, _ := v.(*model.User)
	return actor
}
