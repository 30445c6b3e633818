package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/jhoicas/nfse-emissor/internal/bootstrap"
	httpRouter "github.com/jhoicas/nfse-emissor/internal/interfaces/http"
	"github.com/jhoicas/nfse-emissor/pkg/config"
	"github.com/jhoicas/nfse-emissor/pkg/logger"
)

func main() {
	v := config.NewViper()
	cfg, err := config.FromViper(v)
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: "api",
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("nfse_mode", cfg.NFSe.Mode).
		Str("store", cfg.NFSe.Store).
		Msg("iniciando aplicación")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	container, err := bootstrap.New(ctx, cfg, v, log.Zerolog())
	if err != nil {
		log.Fatal().Err(err).Msg("inicializar dependencias")
	}
	defer container.Close()

	// Conciliación de documentos SUBMITTED, independiente de las peticiones HTTP.
	if cfg.Reconcile.Enabled {
		if err := container.Reconciler.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("iniciar conciliación")
		}
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.Nacional.Timeout + 15*time.Second, // submit espera a la autoridad
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	if _, err := os.Stat("./docs/swagger.json"); err == nil {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/",
			FilePath: "./docs/swagger.json",
			Path:     "docs",
			Title:    "NFS-e Emissor API",
		}))
	}

	httpRouter.Router(app, httpRouter.RouterDeps{
		DocumentUC: container.DocumentUC,
		PayerUC:    container.PayerUC,
		CompanyUC:  container.CompanyUC,
		JWTSecret:  cfg.JWT.Secret,
		JWTIssuer:  cfg.JWT.Issuer,
		Logger:     log.Component("http"),
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	container.Reconciler.Stop()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	log.Info().Msg("aplicación detenida")
}
