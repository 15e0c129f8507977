package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/cheildo/arena-coordinator/internal/arena"
	"github.com/cheildo/arena-coordinator/internal/bracket"
	"github.com/cheildo/arena-coordinator/internal/events"
	"github.com/cheildo/arena-coordinator/internal/gateway"
	"github.com/cheildo/arena-coordinator/internal/httpapi"
	"github.com/cheildo/arena-coordinator/internal/pkg/database"
	"github.com/cheildo/arena-coordinator/internal/pkg/kafka"
	"github.com/cheildo/arena-coordinator/internal/pkg/redis"
	"github.com/cheildo/arena-coordinator/internal/tournament"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Coordinator exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// --- Configuration ---
	cfg, err := loadConfig("./configs/development")
	if err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Bracket, arenas and event sinks ---
	challonge := bracket.NewChallonge(cfg.Challonge, logger)

	alloc, err := arena.New(cfg.Arenas, cfg.Priority)
	if err != nil {
		return fmt.Errorf("arena pool: %w", err)
	}

	sink, err := buildSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("Failed to close event sinks", "error", err)
		}
	}()

	// --- Coordinator ---
	coord := tournament.New(cfg.Coordinator, challonge, alloc, sink, logger)
	coord.Start(ctx)

	// --- HTTP: WebSocket gateway and status routes ---
	ws := gateway.NewWebsocketHandler(coord, cfg.Websocket, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           httpapi.NewRouter(coord, ws, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Coordinator HTTP server starting...", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Could not start HTTP server", "error", err)
			cancel()
		}
	}()

	// --- gRPC health ---
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	if err := startGRPCServer(grpcServer, cfg.GRPCPort, logger); err != nil {
		return err
	}
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	if cfg.DiagnosticsPort != "" {
		startDiagnosticsServer(cfg.DiagnosticsPort, logger)
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down coordinator...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server forced to shutdown", "error", err)
	}
	cancel()
	grpcServer.GracefulStop()

	logger.Info("Coordinator stopped.")
	return nil
}

// buildSinks connects every enabled event sink. A sink that is enabled but
// unreachable is a start-up error.
func buildSinks(ctx context.Context, cfg config, logger *slog.Logger) (_ events.Publisher, err error) {
	var sinks events.Fanout
	defer func() {
		if err != nil {
			sinks.Close()
		}
	}()

	if cfg.KafkaEnabled {
		sinks = append(sinks, events.NewKafkaPublisher(kafka.NewProducer(cfg.Kafka, logger)))
		logger.Info("Kafka event sink enabled", "topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers)
	}

	if cfg.RedisEnabled {
		rdb, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, events.NewRedisPublisher(rdb, cfg.RedisChannel))
		logger.Info("Redis event sink enabled", "channel", cfg.RedisChannel)
	}

	if cfg.PostgresEnabled {
		db, err := database.NewPostgresDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		rec := events.NewPostgresRecorder(db)
		sinks = append(sinks, rec)
		if err := rec.Migrate(ctx); err != nil {
			return nil, err
		}
		logger.Info("Postgres event sink enabled")
	}

	if len(sinks) == 0 {
		return events.Nop{}, nil
	}
	return sinks, nil
}

func startGRPCServer(s *grpc.Server, port string, logger *slog.Logger) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		return fmt.Errorf("listen on gRPC port %s: %w", port, err)
	}
	go func() {
		logger.Info("Coordinator gRPC server listening", "address", lis.Addr().String())
		if err := s.Serve(lis); err != nil {
			logger.Error("gRPC server failed to serve", "error", err)
		}
	}()
	return nil
}

func startDiagnosticsServer(port string, logger *slog.Logger) {
	go func() {
		logger.Info("Starting diagnostics server", "port", port)
		// http.DefaultServeMux already has the pprof handlers registered by the import.
		if err := http.ListenAndServe(fmt.Sprintf(":%s", port), nil); err != nil {
			logger.Error("Diagnostics server failed to start", "error", err)
		}
	}()
}
