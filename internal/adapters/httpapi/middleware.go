package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/hallwaylabs/huddle/internal/domain"
)

// Claims is the token payload for both registered users and enrolled
// guests; guests carry is_guest and a synthetic user_id.
type Claims struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	UserRole string `json:"user_role"`
	IsGuest  bool   `json:"is_guest,omitempty"`
	jwt.RegisteredClaims
}

const guestSessionKey = "guest_token"

// SignIdentity mints a token for an identity; guests get theirs at
// enrollment time, delivered out-of-band by the meeting creator.
func SignIdentity(secret string, ident domain.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   string(ident.ID),
		UserName: ident.Name,
		UserRole: string(ident.Role),
		IsGuest:  ident.Guest,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseIdentity(secret, tokenString string) (domain.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return domain.Identity{}, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return domain.Identity{}, fmt.Errorf("invalid token claims")
	}
	role := domain.RoleGuest
	if !claims.IsGuest {
		role, err = domain.ParseRole(claims.UserRole)
		if err != nil {
			return domain.Identity{}, err
		}
	}
	return domain.Identity{
		ID:    domain.UserID(claims.UserID),
		Name:  claims.UserName,
		Role:  role,
		Guest: claims.IsGuest,
	}, nil
}

// Auth establishes the connection's identity from a Bearer token or, for
// guests, from the cookie session. Requests without one are rejected
// before any room logic runs.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			sess := sessions.Default(c)
			if v, ok := sess.Get(guestSessionKey).(string); ok {
				tokenString = v
			}
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		ident, err := parseIdentity(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("identity", ident)
		c.Next()
	}
}

// RequireRole gates privileged endpoints after Auth has run.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := IdentityFrom(c)
		for _, r := range roles {
			if ident.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
	}
}

// IdentityFrom reads the identity set by Auth. Only valid after Auth.
func IdentityFrom(c *gin.Context) domain.Identity {
	v, _ := c.Get("identity")
	ident, _ := v.(domain.Identity)
	return ident
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.Split(h, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
