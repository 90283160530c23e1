package middleware

import (
	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/opendraft/billing-backend/internal/dto"
)

// JWTProtected validates an HS256 bearer token. success runs after a valid
// token has been stored in c.Locals("user"); nil means c.Next().
func JWTProtected(secret string, success fiber.Handler) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey:     jwtware.SigningKey{Key: []byte(secret)},
		SuccessHandler: success,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: "Unauthorized: invalid or expired token",
			})
		},
	})
}
