// Package middleware provides authentication, logging, rate limiting, and
// tracing middleware for the HTTP surface.
package middleware

import (
	"strconv"
	"strings"

	"vantage/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": msg})
}

// viewerFromToken validates a JWT and returns the viewer ID from its "sub" claim.
func viewerFromToken(tokenString string) (uint, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return 0, fiber.NewError(fiber.StatusUnauthorized, "Invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fiber.NewError(fiber.StatusUnauthorized, "Invalid token claims")
	}

	subStr, ok := claims["sub"].(string)
	if !ok {
		return 0, fiber.NewError(fiber.StatusUnauthorized, "Invalid token subject")
	}

	viewerID, err := strconv.ParseUint(subStr, 10, 32)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusUnauthorized, "Invalid user ID in token")
	}
	return uint(viewerID), nil
}

// AuthRequired enforces a valid bearer token and stores the viewer ID in locals.
func AuthRequired(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return unauthorized(c, "Authorization header required")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return unauthorized(c, "Invalid authorization header format")
	}

	viewerID, err := viewerFromToken(parts[1])
	if err != nil {
		return unauthorized(c, "Invalid or expired token")
	}

	c.Locals("viewerID", viewerID)
	return c.Next()
}

// WebSocketAuthRequired validates JWTs from the `token` query parameter,
// falling back to the Authorization header. Browsers cannot set headers on
// websocket upgrades, hence the query parameter path.
func WebSocketAuthRequired(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "Token required")
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return unauthorized(c, "Invalid authorization header format")
		}
		token = parts[1]
	}

	viewerID, err := viewerFromToken(token)
	if err != nil {
		return unauthorized(c, "Invalid or expired token")
	}

	c.Locals("viewerID", viewerID)
	return c.Next()
}
