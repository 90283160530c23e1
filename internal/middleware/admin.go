package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/opendraft/billing-backend/internal/config"
	"github.com/opendraft/billing-backend/internal/dto"
	"golang.org/x/crypto/bcrypt"
)

const AdminTokenHeader = "X-Admin-Token"

// AdminRequired admits a request that either:
// 1. carries an X-Admin-Token matching ADMIN_TOKEN_HASH (bcrypt)
// 2. carries a JWT whose email claim is listed in ADMIN_EMAILS
func AdminRequired(cfg *config.Config) fiber.Handler {
	adminEmails := parseCSV(strings.ToLower(cfg.AdminEmails))
	tokenHash := []byte(cfg.AdminTokenHash)

	var jwtCheck fiber.Handler
	if cfg.JWTSecret != "" {
		jwtCheck = JWTProtected(cfg.JWTSecret, func(c *fiber.Ctx) error {
			token, ok := c.Locals("user").(*jwt.Token)
			if !ok || token == nil {
				return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "Unauthorized"})
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "Invalid claims"})
			}
			email, _ := claims["email"].(string)
			if email != "" && contains(adminEmails, strings.ToLower(email)) {
				return c.Next()
			}
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "Admin access required"})
		})
	}

	return func(c *fiber.Ctx) error {
		if len(tokenHash) > 0 {
			if token := c.Get(AdminTokenHeader); token != "" {
				if bcrypt.CompareHashAndPassword(tokenHash, []byte(token)) == nil {
					return c.Next()
				}
				return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "Invalid admin token"})
			}
		}

		if jwtCheck == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "Unauthorized"})
		}
		return jwtCheck(c)
	}
}

func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func contains(list []string, val string) bool {
	for _, item := range list {
		if item == val {
			return true
		}
	}
	return false
}
