package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// OriginPolicy is the set of browser origins allowed to call the API and open call sockets.
// An empty policy or one containing "*" allows every origin.
type OriginPolicy map[string]bool

// ParseOrigins builds a policy from a comma-separated list such as "http://localhost:5173,https://app.example.com".
func ParseOrigins(s string) OriginPolicy {
	p := make(OriginPolicy)
	for _, o := range strings.Split(strings.TrimSpace(s), ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			p[o] = true
		}
	}
	return p
}

func (p OriginPolicy) any() bool { return len(p) == 0 || p["*"] }

// Allows reports whether origin may be served. Requests without an Origin header (non-browser
// clients, same-origin navigations) are always allowed.
func (p OriginPolicy) Allows(origin string) bool {
	return origin == "" || p.any() || p[origin]
}

// CheckOrigin adapts the policy to websocket.Upgrader.CheckOrigin.
func (p OriginPolicy) CheckOrigin(r *http.Request) bool {
	return p.Allows(r.Header.Get("Origin"))
}

// CORS returns a middleware that sets CORS headers for allowed origins and answers preflights.
func CORS(allowedOrigins string) gin.HandlerFunc {
	policy := ParseOrigins(allowedOrigins)
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowOrigin := ""
		switch {
		case policy.any():
			allowOrigin = "*"
		case origin != "" && policy[origin]:
			allowOrigin = origin
			c.Header("Vary", "Origin")
		}
		if allowOrigin != "" {
			c.Header("Access-Control-Allow-Origin", allowOrigin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Max-Age", "86400")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
