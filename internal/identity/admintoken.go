package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const ctxAdminClaims = "fitbounty_admin_claims"

var (
	// ErrAdminDisabled is returned when no admin secret hash is configured.
	ErrAdminDisabled = errors.New("admin access is not configured")
	// ErrInvalidSecret is returned when the presented admin secret does not match.
	ErrInvalidSecret = errors.New("invalid admin secret")
)

// AdminClaims are the JWT claims carried by an admin session token.
type AdminClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// AdminTokenIssuer exchanges the static admin secret for short-lived HS256
// tokens and verifies them on protected routes.
type AdminTokenIssuer struct {
	key        []byte
	secretHash []byte
	issuer     string
	ttl        time.Duration
}

// NewAdminTokenIssuer creates an AdminTokenIssuer.
//
//	signingKey: HMAC key used to sign tokens.
//	secretHash: bcrypt hash of the admin secret; empty disables Exchange.
//	issuerURL : the "iss" claim value.
//	ttl       : token lifetime (default: 8 hours).
func NewAdminTokenIssuer(signingKey []byte, secretHash, issuerURL string, ttl time.Duration) *AdminTokenIssuer {
	if ttl == 0 {
		ttl = 8 * time.Hour
	}
	return &AdminTokenIssuer{
		key:        signingKey,
		secretHash: []byte(secretHash),
		issuer:     issuerURL,
		ttl:        ttl,
	}
}

// HashSecret returns the bcrypt hash of an admin secret, suitable for the
// admin.secret_hash configuration key.
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret must not be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(h), nil
}

// Exchange checks secret against the configured hash and issues a token.
func (a *AdminTokenIssuer) Exchange(secret string) (string, error) {
	if len(a.secretHash) == 0 {
		return "", ErrAdminDisabled
	}
	if err := bcrypt.CompareHashAndPassword(a.secretHash, []byte(secret)); err != nil {
		return "", ErrInvalidSecret
	}
	return a.Issue()
}

// Issue creates a signed admin token.
func (a *AdminTokenIssuer) Issue() (string, error) {
	now := time.Now().UTC()
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			ID:        uuid.New().String(),
		},
		Role: "admin",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an admin token, returning its claims.
func (a *AdminTokenIssuer) Verify(tokenStr string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&AdminClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return a.key, nil
		},
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify admin token: %w", err)
	}
	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid admin token claims")
	}
	if claims.Role != "admin" {
		return nil, fmt.Errorf("not an admin token")
	}
	return claims, nil
}

// RequireAdmin returns a Gin middleware that enforces a valid admin Bearer token.
func RequireAdmin(tokens *AdminTokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "admin Bearer token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		c.Set(ctxAdminClaims, claims)
		c.Next()
	}
}

// AdminClaimsFromCtx retrieves the claims injected by RequireAdmin.
func AdminClaimsFromCtx(c *gin.Context) *AdminClaims {
	v, _ := c.Get(ctxAdminClaims)
	claims, _ := v.(*AdminClaims)
	return claims
}
