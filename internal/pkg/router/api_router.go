package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/inkwell-ai/inkwell/app/controllers"
	"github.com/inkwell-ai/inkwell/app/repository"
	"github.com/inkwell-ai/inkwell/internal/pkg/cache"
	"github.com/inkwell-ai/inkwell/internal/pkg/env"
	"github.com/inkwell-ai/inkwell/internal/pkg/middleware"
)

type ApiRouter struct {
	users repository.UserRepository
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

// WithUserRepository injects the repository the auth middleware provisions
// users through.
func (h *ApiRouter) WithUserRepository(users repository.UserRepository) *ApiRouter {
	h.users = users
	return h
}

func (h *ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		Storage:    newLimiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes, all behind the upstream-identity auth middleware
	v1 := api.Group("/v1", middleware.AuthMiddleware(h.users))
	v1.Post("/subscription/create", controllers.HandleCreateSubscription)
	v1.Post("/subscription/verify", controllers.HandleVerifyPayment)
	v1.Post("/subscription/cancel", controllers.HandleCancelSubscription)
	v1.Get("/subscription/status", controllers.HandleSubscriptionStatus)
	v1.Get("/user/credits", controllers.HandleGetUserCredits)
	v1.Post("/user/credits/consume", controllers.HandleConsumeCredit)
}

// newLimiterStorage backs the rate limiter with Redis so limits hold across
// instances. Expired buckets are cleaned up by the storage's own GC loop.
func newLimiterStorage() *redis.Storage {
	cacheClient := cache.GetClient()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	// Database 1 keeps limiter buckets apart from the cache in DB 0.
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}
