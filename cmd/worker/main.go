package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/vividverse/vividverse-backend/internal/config"
	"github.com/vividverse/vividverse-backend/internal/gateway"
	"github.com/vividverse/vividverse-backend/internal/logger"
	"github.com/vividverse/vividverse-backend/internal/observability"
	"github.com/vividverse/vividverse-backend/internal/orchestrator"
	"github.com/vividverse/vividverse-backend/internal/probe"
	"github.com/vividverse/vividverse-backend/internal/storage"
	"github.com/vividverse/vividverse-backend/internal/worker"
)

const (
	ShutdownTimeout       = 5 * time.Second
	TracerShutdownTimeout = 5 * time.Second
	AWSConfigTimeout      = 10 * time.Second
)

func main() {
	log := logger.New()
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using system environment variables")
	}

	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize tracing
	shutdownTracer, err := observability.InitTracer(context.Background(), "vividverse-worker", cfg)
	if err != nil {
		log.Error("Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), TracerShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Error("Failed to shutdown tracer", "error", err)
		}
	}()

	// AWS clients
	ctx, cancel := context.WithTimeout(context.Background(), AWSConfigTimeout)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		log.Error("Failed to load AWS config", "error", err)
		os.Exit(1)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	sqsClient := sqs.NewFromConfig(awsCfg)
	s3Client := s3.NewFromConfig(awsCfg)
	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	videoRepo, err := storage.NewVideoRepository(dynamoClient, cfg.AWS.DynamoDBTable)
	if err != nil {
		log.Error("Failed to initialize video repository", "error", err)
		os.Exit(1)
	}

	assetStore := storage.NewAssetStore(s3Client, cfg.AWS.AssetBucket, cfg.AWS.CDNDomain, log)

	pipeline := orchestrator.New(&orchestrator.Config{
		Scripts:     gateway.NewScriptGateway(cfg.Providers),
		Speech:      gateway.NewSpeechGateway(cfg.Providers),
		Transcriber: gateway.NewTranscribeGateway(cfg.Providers),
		Images:      gateway.NewImageGateway(cfg.Providers),
		Avatars:     gateway.NewAvatarGateway(cfg.Providers),
		Assets:      assetStore,
		Store:       videoRepo,
		Prober:      probe.New(cfg.Worker.FFprobePath, probe.ExecRunner{}),
		Logger:      log,
	})

	w := worker.New(&worker.Config{
		SQSClient: sqsClient,
		Pipeline:  pipeline,
		AppConfig: cfg,
		Logger:    log,
	})

	// Metrics server
	metricsServer := startMetricsServer(cfg.Worker.MetricsPort, log)

	// Graceful shutdown
	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info(context.Background(), log, "Shutting down worker...")
		cancel()
	}()

	// Start polling
	w.Run(ctx)

	// Shutdown metrics server gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shutdown metrics server", "error", err)
	}
}

func startMetricsServer(port int, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		if _, err := rw.Write([]byte(`{"status":"healthy"}`)); err != nil {
			log.Error("Failed to write health response", "error", err)
		}
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Starting metrics server", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server error", "error", err)
		}
	}()

	return srv
}
