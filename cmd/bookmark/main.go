package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/san-kum/bookshelf/internal/app"
)

func main() {
	config, err := app.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}
	app.SetupLogging(config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.NewRootCommand(config).ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}
