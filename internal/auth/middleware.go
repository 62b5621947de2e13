package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const claimsKey = "actor"

// SetActorCookie stores tok in an HttpOnly cookie named name.
func SetActorCookie(c *gin.Context, name string, tok ActorToken, secure bool) {
	maxAge := int(time.Until(tok.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, tok.Value, maxAge, "/", "", secure, true)
}

// RequireActor rejects requests without a valid actor cookie and stores the
// claims on the context for ActorFrom.
func RequireActor(issuer *Issuer, cookie string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(cookie)
		if err != nil || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not checked in"})
			return
		}
		claims, err := issuer.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid actor token"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// ActorFrom returns the claims stored by RequireActor.
func ActorFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}
