package middleware

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/inkwell-ai/inkwell/app/models"
	"github.com/inkwell-ai/inkwell/app/repository"
	"github.com/inkwell-ai/inkwell/internal/pkg/usercontext"
)

// AuthMiddleware resolves the opaque identity forwarded by the upstream
// auth layer (X-Auth-Id plus optional profile headers) into a local user,
// creating the user on first authenticated access. Requests without an
// identity get a JSON 401.
func AuthMiddleware(users repository.UserRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authID := strings.TrimSpace(c.Get("X-Auth-Id"))
		if authID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing identity"})
		}

		user, err := users.GetByAuthID(authID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("user lookup failed: %v", err)
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "User lookup failed"})
			}

			user, err = createUser(users, authID,
				strings.TrimSpace(c.Get("X-Auth-Email")),
				strings.TrimSpace(c.Get("X-Auth-Name")))
			if err != nil {
				log.Printf("user provisioning failed: %v", err)
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "User provisioning failed"})
			}
		}

		if !user.IsActive() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "User disabled"})
		}

		userCtx := usercontext.UserContext{
			UserID:     user.ID,
			AuthID:     user.AuthID,
			Email:      user.Email,
			IsLoggedIn: true,
		}
		c.Locals(usercontext.KeyUserContext, userCtx)
		c.Locals(usercontext.KeyUserID, user.ID)
		c.Locals(usercontext.KeyAuthID, user.AuthID)

		return c.Next()
	}
}

func createUser(users repository.UserRepository, authID, email, name string) (*models.User, error) {
	user, err := models.NewUser(authID, email, name)
	if err != nil {
		return nil, err
	}
	if err := users.Create(user); err != nil {
		// A concurrent first request may have created the row already.
		if existing, lookupErr := users.GetByAuthID(authID); lookupErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return user, nil
}
