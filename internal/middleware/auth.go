// Package middleware contains HTTP middleware functions for the scorecard sync API.
// Middleware sits between the HTTP server and route handlers; it runs on every
// request that passes through it, which makes it the place for authentication and
// role checks.
package middleware

import (
	"errors"
	"strings"

	// fiber is the HTTP framework; fiber.Handler is the function signature for middleware
	"github.com/gofiber/fiber/v2"
	"github.com/golang/glog"
	// jwt parses and verifies the JSON Web Token from the Authorization header
	"github.com/golang-jwt/jwt/v5"

	"github.com/trentd187/scorecard-sync/internal/config"
)

// Roles carried in the "role" claim.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleUser    = "user"
)

// Keys under which Auth stores the caller's identity in c.Locals.
const (
	LocalUserID       = "userID"
	LocalUserRole     = "userRole"
	LocalEmail        = "email"
	LocalName         = "name"
	LocalSignInMethod = "signInMethod"
)

// Claims defines the data we expect inside a bearer token.
// Subject is the user id; the rest are custom claims added by the identity provider:
//
//	"role":           "admin" | "manager" | "user"
//	"email":          the user's primary email address
//	"name":           display name
//	"sign_in_method": how the user signed in ("password", "google", "apple", ...)
type Claims struct {
	jwt.RegisteredClaims        // Standard JWT fields: Subject (user ID), ExpiresAt, IssuedAt, etc.
	Role                 string `json:"role"`
	Email                string `json:"email"`
	Name                 string `json:"name"`
	SignInMethod         string `json:"sign_in_method"`
}

var errNoSecret = errors.New("JWT_SECRET is not set")

// Auth returns a Fiber middleware handler that:
//  1. Reads the JWT from the "Authorization: Bearer <token>" header
//  2. Verifies its HS256 signature with cfg.JWTSecret (in development, with no secret
//     configured, the token is only parsed)
//  3. Stores the user id, role, email, name and sign-in method in c.Locals so
//     downstream handlers can read them without re-parsing the token
func Auth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing or invalid authorization header",
			})
		}
		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

		claims, err := parseToken(cfg, tokenStr)
		if err != nil {
			if errors.Is(err, errNoSecret) {
				glog.Errorf("[auth] rejecting request: %v", err)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}

		// claims.Subject is the standard JWT "sub" field
		if claims.Subject == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "token missing subject",
			})
		}

		c.Locals(LocalUserID, claims.Subject)
		c.Locals(LocalUserRole, roleFromClaim(claims.Role))
		c.Locals(LocalEmail, claims.Email)
		c.Locals(LocalName, claims.Name)
		c.Locals(LocalSignInMethod, claims.SignInMethod)

		return c.Next()
	}
}

func parseToken(cfg *config.Config, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if cfg.JWTSecret == "" {
		if !cfg.IsDevelopment() {
			return nil, errNoSecret
		}
		// Development without a secret: accept any well-formed token.
		if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
			return nil, err
		}
		return claims, nil
	}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// roleFromClaim normalizes the raw role claim. Missing or unrecognised roles
// default to "user" (least privileged).
func roleFromClaim(s string) string {
	switch s {
	case RoleAdmin, RoleManager:
		return s
	default:
		return RoleUser
	}
}

// UserID returns the authenticated user id, or "" outside of Auth.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

// SignInMethod returns the sign-in method claim of the authenticated user.
func SignInMethod(c *fiber.Ctx) string {
	m, _ := c.Locals(LocalSignInMethod).(string)
	return m
}
