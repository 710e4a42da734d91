package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/inkwell-ai/inkwell/app/controllers"
	"github.com/inkwell-ai/inkwell/app/repository"
	"github.com/inkwell-ai/inkwell/internal/pkg/archive"
	"github.com/inkwell-ai/inkwell/internal/pkg/billing"
	"github.com/inkwell-ai/inkwell/internal/pkg/cache"
	"github.com/inkwell-ai/inkwell/internal/pkg/credits"
	"github.com/inkwell-ai/inkwell/internal/pkg/database"
	"github.com/inkwell-ai/inkwell/internal/pkg/entitlements"
	"github.com/inkwell-ai/inkwell/internal/pkg/env"
	"github.com/inkwell-ai/inkwell/internal/pkg/mail"
	"github.com/inkwell-ai/inkwell/internal/pkg/metrics/counter"
	"github.com/inkwell-ai/inkwell/internal/pkg/router"
	"github.com/inkwell-ai/inkwell/internal/pkg/subscriptions"
	"github.com/inkwell-ai/inkwell/internal/pkg/webhooks"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// Service graph; everything is constructed here and injected, no
	// package-level singletons beyond the DB/cache handles.
	repos := repository.NewRepositories(database.GetDB())
	gateway := billing.NewRazorpayClientFromEnv()
	ledger := credits.NewLedger(repos.User, repos.Subscription)
	subService := subscriptions.NewService(gateway, repos.User, repos.Subscription, ledger).
		WithNotifier(mail.SendMail)
	entService := entitlements.NewService(ledger, repos.Subscription).
		WithUsageRecorder(counter.AddConsumedCredit)

	processor := webhooks.NewProcessor(subService, repos.WebhookEvent, env.GetEnv("RAZORPAY_WEBHOOK_SECRET", "")).
		WithDeduper(webhooks.Deduper{Seen: cache.Seen, MarkSeen: cache.MarkSeen})
	if archiver := setupArchiver(); archiver != nil {
		processor = processor.WithArchiver(archiver)
	}

	controllers.Initialize(controllers.Deps{
		Subscriptions: subService,
		Entitlements:  entService,
		Ledger:        ledger,
		Webhooks:      processor,
		PaymentSecret: env.GetEnv("RAZORPAY_KEY_SECRET", ""),
	})

	// drain the Redis usage counters into the users table periodically
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if err := counter.FlushAll(); err != nil {
				log.Printf("usage counter flush failed: %v", err)
			}
		}
	}()

	app := fiber.New(fiber.Config{
		AppName: "inkwell",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	if basePath := findDocsBasePath(); basePath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: basePath + "docs/v1/openapi.yml",
			Path:     "v1",
		}))
	}

	// ROUTER
	router.InstallRouter(app, repos)

	return app
}

func setupArchiver() *archive.Client {
	cfg, err := archive.LoadConfig()
	if err != nil {
		log.Printf("webhook archive disabled: %v", err)
		return nil
	}
	if !cfg.IsEnabled() {
		return nil
	}
	client, err := archive.NewClient(cfg)
	if err != nil {
		log.Printf("webhook archive disabled: %v", err)
		return nil
	}
	return client
}

func findDocsBasePath() string {
	for _, path := range []string{"./", "../../", "../../../"} {
		if _, err := os.Stat(path + "docs"); err == nil {
			return path
		}
	}
	return ""
}
