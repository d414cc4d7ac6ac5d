package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hivedesk/hivedesk/internal/controllers"
	"github.com/hivedesk/hivedesk/internal/initialization"
	"github.com/hivedesk/hivedesk/internal/server"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the connector engine",
		Long:  `Start the HTTP server, the webhook ingestion pipeline and the sync scheduler.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart()
		},
	}

	return cmd
}

func runStart() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().Msg("Starting connector engine")

	container, err := initialization.NewContainer(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize service container")
	}
	defer container.Close()

	if container.Config.SyncEnabled {
		if err := container.Scheduler.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start sync scheduler")
		}
		defer container.Scheduler.Stop()
	} else {
		log.Warn().Msg("Scheduled sync is disabled")
	}

	app := server.NewHTTPServer(ctx, server.HTTPServerDependencies{
		WebhookController: controllers.NewWebhookController(controllers.WebhookControllerDependencies{
			Pipeline: container.Pipeline,
		}),
		IntegrationController: controllers.NewIntegrationController(controllers.IntegrationControllerDependencies{
			Manager:       container.Manager,
			Registry:      container.Registry,
			Worker:        container.Worker,
			Observability: container.Observability,
		}),
		OAuthController: controllers.NewOAuthController(controllers.OAuthControllerDependencies{
			Manager: container.Manager,
		}),
		Metrics: container.Metrics,
	})

	log.Info().Str("address", container.Config.HTTPAddress).Msg("HTTP server listening")

	if err := app.Listen(container.Config.HTTPAddress, fiber.ListenConfig{
		GracefulContext:       ctx,
		DisableStartupMessage: true,
	}); err != nil {
		log.Error().Err(err).Msg("HTTP server stopped with error")
		return err
	}

	log.Info().Msg("Connector engine stopped")

	return nil
}
