package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v2"

	auth "github.com/goliatone/go-auth-service"
	"github.com/goliatone/go-auth-service/activitymap"
	"github.com/goliatone/go-auth-service/cache/rediscache"
)

func main() {
	envFile := flag.String("env", auth.DefaultEnvFile, "path to a .env file")
	flag.Parse()

	settings, err := auth.LoadSettings(*envFile)
	if err != nil {
		slog.Error("startup configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(settings.LogLevel)
	if err := run(settings, logger); err != nil {
		logger.Error("authd stopped", "error", err)
		os.Exit(1)
	}
}

func run(settings auth.Settings, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting authd", "settings", settings.String())

	repo, err := auth.OpenRepositoryManager(settings.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	repo.MustValidate()

	if err := repo.Ping(ctx); err != nil {
		return err
	}

	if err := repo.Migrate(ctx); err != nil {
		return err
	}

	codec, err := auth.NewTokenServiceFromSettings(settings, auth.WithTokenLogger(logger))
	if err != nil {
		return err
	}

	hasher := auth.NewBcryptHasherFromSettings(settings)

	resolverOpts := []auth.ResolverOption{auth.WithResolverLogger(logger)}
	if settings.RedisURL != "" {
		cache, err := rediscache.Open(ctx, settings.RedisURL)
		if err != nil {
			return err
		}
		defer cache.Close()
		resolverOpts = append(resolverOpts, auth.WithPrincipalCache(cache, settings.PrincipalCacheTTL))
		logger.Info("principal cache enabled", "ttl", settings.PrincipalCacheTTL)
	}

	svc := auth.NewService(repo.Users(), hasher, codec,
		auth.WithLogger(logger),
		auth.WithUnifiedLoginErrors(settings.UnifyLoginErrors),
		auth.WithActivitySink(activitymap.SlogSink(logger.With("component", "activity"))),
	)

	resolver := auth.NewIdentityResolver(codec, repo.Users(), resolverOpts...)

	controller := auth.NewAuthController(svc, resolver,
		auth.WithControllerLogger(logger),
		auth.WithAllowedOrigins(settings.AllowedOrigins()...),
	)
	controller.Debug = strings.EqualFold(settings.LogLevel, "debug")

	app := auth.NewApp(controller, fiber.Config{
		AppName:               "authd",
		DisableStartupMessage: true,
	})

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", settings.HTTPAddr)
		errc <- app.Listen(settings.HTTPAddr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", settings.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
	defer cancel()

	return app.ShutdownWithContext(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
