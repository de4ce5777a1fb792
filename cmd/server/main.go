// Package main runs the media session HTTP server: call signaling over WebSocket and the lecture video catalog.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/edusphere/backend/config"
	"github.com/edusphere/backend/internal/auth"
	"github.com/edusphere/backend/internal/media"
	"github.com/edusphere/backend/internal/middleware"
	"github.com/edusphere/backend/internal/signaling"
	"github.com/edusphere/backend/internal/videos"
	"github.com/edusphere/backend/internal/worker"
	"github.com/edusphere/backend/pkg/database"
	"github.com/edusphere/backend/pkg/metrics"
	"github.com/edusphere/backend/pkg/queue"
	"github.com/edusphere/backend/pkg/redis"
	"github.com/edusphere/backend/pkg/response"
	"github.com/edusphere/backend/pkg/storage"
	"github.com/edusphere/backend/pkg/tracing"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Bucket:          cfg.AWS.MediaBucket,
		PublicBaseURL:   cfg.AWS.PublicBaseURL,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	signalingMetrics := metrics.NewSignaling(promReg)
	ingestionMetrics := metrics.NewIngestion(promReg)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Signaling
	registry := signaling.NewRegistry(cfg.Signaling.MaxParticipants, signalingMetrics, logger)
	presence := signaling.NewRedisPresence(rdb.Client, time.Duration(cfg.Signaling.PresenceTTLSec)*time.Second, logger)
	registry.AddObserver(presence.Observe)
	signalingHandler := signaling.NewHandler(registry, signaling.Options{
		SendBuffer:  cfg.Signaling.SendBuffer,
		RatePerSec:  cfg.Signaling.RatePerSec,
		RateBurst:   cfg.Signaling.RateBurst,
		ICEServers:  signaling.BuildICEServers(cfg.WebRTC.ICEUrls, cfg.WebRTC.TURNUsername, cfg.WebRTC.TURNCredential),
		CheckOrigin: middleware.ParseOrigins(cfg.Server.CORSAllowedOrigins).CheckOrigin,
	}, signalingMetrics, logger)
	signalingHandler.SetPresence(presence)

	// Ingestion and catalog
	videoRepo := videos.NewRepository(pool)
	prober := media.NewProber(cfg.Media.FFprobePath, time.Duration(cfg.Media.ProbeTimeoutSec)*time.Second, logger,
		media.WithProbeMetrics(ingestionMetrics))
	pipeline := media.NewPipeline(s3Client, prober, videoRepo, media.PipelineConfig{
		StagingDir: cfg.Media.StagingDir,
		Folder:     cfg.Media.Folder,
	}, ingestionMetrics, logger)
	videoService := videos.NewService(videoRepo, pipeline, s3Client, jobQueue, logger)
	videoHandler := videos.NewHandler(videoService, cfg.Media.MaxUploadBytes, logger)

	reaper := worker.NewOrphanReaper(s3Client, jobQueue, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Tracing())
	router.Use(middleware.Logger(logger, "/health", "/metrics"))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))

	// WebSocket (anonymous; identity is the participant id carried in the join envelope)
	router.GET("/ws", signalingHandler.ServeWS)
	router.GET("/video-call", signalingHandler.ServeWS)

	api := router.Group("/api/v1")
	api.GET("/calls/ice-servers", signalingHandler.ICEServers)
	api.GET("/calls/rooms/:id", signalingHandler.RoomInfo)
	videos.RegisterRoutes(api, videoHandler, middleware.JWT(jwtService))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (orphaned media cleanup); cmd/worker runs the same loop standalone.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go reaper.Run(workerCtx)
	logger.Info("orphan reaper started")

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
