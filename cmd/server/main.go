package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"audio-converter/internal/admission"
	"audio-converter/internal/converter"
	"audio-converter/internal/platform/config"
	"audio-converter/internal/platform/logger"
	"audio-converter/internal/platform/metrics"
	"audio-converter/internal/resolver"
	"audio-converter/internal/transcoder"

	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Minute
)

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	rateWindow := config.GetEnvDuration("RATE_LIMIT_WINDOW", admission.DefaultWindow)
	rateMax := config.GetEnvInt("RATE_LIMIT_MAX", admission.DefaultLimit)
	identityHeaders := config.GetEnvList("CLIENT_IP_HEADERS", admission.DefaultIdentityHeaders)
	redisAddr := config.GetEnv("REDIS_ADDR", "")

	deliveryMode := converter.DeliveryMode(config.GetEnv("DELIVERY_MODE", string(converter.DeliveryStream)))
	cfg := converter.Config{
		MaxDuration:    config.GetEnvDuration("MAX_DURATION", converter.DefaultMaxDuration),
		BitrateKbps:    config.GetEnvInt("TRANSCODE_BITRATE", converter.DefaultBitrateKbps),
		Transcode:      config.GetEnvBool("TRANSCODE_ENABLED", true),
		Fallback:       config.GetEnvBool("FALLBACK_ENABLED", true),
		Delivery:       deliveryMode,
		ResolveTimeout: config.GetEnvDuration("RESOLVE_TIMEOUT", converter.DefaultResolveTimeout),
		DownloadPath:   "/api/downloads/",
	}

	log := logger.New(logLevel, logFormat)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var store admission.Store = admission.NewInMemoryStore()
	if redisAddr != "" {
		rs := admission.NewRedisStore(redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: config.GetEnv("REDIS_PASSWORD", ""),
			DB:       config.GetEnvInt("REDIS_DB", 0),
		}), "audioconv:ratelimit:")

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rs.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Warn("redis unreachable, using in-memory admission store",
				"addr", redisAddr, "error", err)
		} else {
			store = rs
		}
	}
	limiter := admission.NewLimiter(store, rateWindow, rateMax)
	go limiter.Run(ctx, sweepInterval)

	met := metrics.New()

	ffmpeg := transcoder.New(config.GetEnv("FFMPEG_PATH", "ffmpeg"), log)
	if cfg.Transcode && !ffmpeg.Available() {
		log.Warn("ffmpeg not found, mp3 requests will be served in the original container",
			"path", ffmpeg.Path)
	}

	yt := resolver.NewYouTube(nil, log)
	pipeline := converter.NewPipeline(yt, ffmpeg, cfg, log, met)
	if config.GetEnvBool("ROTATE_IDENTITY", true) {
		pipeline.WithIdentityRotation(resolver.RotateIdentity)
	}

	var files *converter.FileStore
	if deliveryMode == converter.DeliveryFile {
		dir := config.GetEnv("FILE_DIR", filepath.Join(os.TempDir(), "audio-converter"))
		fs, err := converter.NewFileStore(dir, config.GetEnvDuration("FILE_TTL", converter.DefaultFileTTL), log)
		if err != nil {
			log.Error("file store init failed", "error", err)
			os.Exit(1)
		}
		files = fs
		pipeline.WithFileStore(files)
		go files.Run(ctx, sweepInterval)
	}

	h := converter.NewHandler(pipeline, limiter, files, identityHeaders, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			if n := limiter.Tracked(); n >= 0 {
				met.SetTrackedClients(n)
			}
			if files != nil {
				met.SetStoredFiles(files.Len())
			}
		}).ServeHTTP(w, r)
	})
	r.Get("/healthz", h.Health)
	r.HandleFunc("/api/convert", h.Convert)
	r.HandleFunc("/convert", h.Convert)
	r.Get("/api/downloads/{id}", h.Download)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"log_level", logLevel,
		"rate_limit_window", rateWindow.String(),
		"rate_limit_max", rateMax,
		"delivery_mode", string(pipeline.DeliveryMode()),
		"transcoder", pipeline.TranscodeAvailable(),
		"redis", redisAddr != "",
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
