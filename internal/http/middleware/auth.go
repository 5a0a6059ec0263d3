// README: Bearer-token auth middleware; puts the Actor on the request context.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"grocer/internal/auth"
)

const actorKey = "grocer.actor"

// Auth validates the Authorization header and stores the resulting Actor.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		actor, err := auth.ParseBearer(header, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// CallerActor returns the authenticated actor set by Auth.
func CallerActor(c *gin.Context) (auth.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return auth.Actor{}, false
	}
	actor, ok := v.(auth.Actor)
	return actor, ok
}
