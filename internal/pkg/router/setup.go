package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/inkwell-ai/inkwell/app/repository"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers all HTTP routes. The webhook router goes first so
// the provider endpoint never sits behind the API group's middleware.
func InstallRouter(app *fiber.App, repos *repository.Repositories) {
	setup(app, NewWebhookRouter(), NewApiRouter().WithUserRepository(repos.User))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
