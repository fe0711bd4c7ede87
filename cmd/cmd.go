package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"receipt-capture/internal/camera"
	"receipt-capture/internal/config"
	"receipt-capture/internal/handlers"
	"receipt-capture/internal/middleware"
	"receipt-capture/internal/repository"
	"receipt-capture/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	// Photo storage
	photos, err := repository.NewPhotoRepository(cfg.Camera.CaptureDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare capture directory")
	}

	// Camera
	device := camera.NewDevice(camera.DeviceConfig{
		BackDevice:  cfg.Camera.BackDevice,
		FrontDevice: cfg.Camera.FrontDevice,
		Command:     cfg.Camera.Command,
	}, photos)

	// Upload target
	uploader, err := newUploader(cfg, photos)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create uploader")
	}

	// Screen
	screen := services.NewCaptureScreen(device, uploader)
	wsHub := services.NewWSHub(screen)
	defer wsHub.Close()

	if _, err := screen.Mount(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to mount capture screen")
	}

	// Initialize handlers
	screenHandler := handlers.NewScreenHandler(screen, photos)
	wsHandler := handlers.NewWebSocketHandler(wsHub, screen)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	// Routes
	handlers.Mount(r, screenHandler, wsHandler)

	// Create HTTP server
	srv := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Str("upload_target", cfg.Upload.Target).
			Msg("Starting capture screen")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// newUploader builds the uploader for the configured target
func newUploader(cfg *config.Config, photos *repository.PhotoRepository) (services.Uploader, error) {
	if cfg.Upload.Target == config.TargetS3 {
		s3Uploader, err := services.NewS3Uploader(context.Background(), services.S3Options{
			Region:    cfg.AWS.Region,
			Bucket:    cfg.AWS.S3Bucket,
			KeyPrefix: cfg.AWS.KeyPrefix,
			AccessKey: cfg.AWS.AccessKey,
			SecretKey: cfg.AWS.SecretKey,
			Endpoint:  cfg.AWS.Endpoint,
		}, photos)
		if err != nil {
			return nil, err
		}
		return s3Uploader, nil
	}
	return services.NewHTTPUploader(cfg.Upload.Endpoint, nil, photos), nil
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
