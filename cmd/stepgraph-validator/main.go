// Stepgraph Validator — проверяет документы из очереди.
//
// Validator:
//   - Получает документы из workflows.submitted
//   - Сохраняет валидные версии и публикует workflow.validated
//   - Публикует workflow.rejected со списком нарушений
//   - По расписанию перепроверяет последние версии всех workflows
//
// Validators масштабируются горизонтально.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Stepgraph/internal/config"
	"github.com/shaiso/Stepgraph/internal/mq"
	"github.com/shaiso/Stepgraph/internal/repo"
	"github.com/shaiso/Stepgraph/internal/telemetry"
	"github.com/shaiso/Stepgraph/internal/validator"
)

func main() {
	cfg, err := config.Load(os.Getenv("STEPGRAPH_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting stepgraph-validator", "config_file", cfg.File)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DB.URL, cfg.DB.MaxConns)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// RabbitMQ обязателен: документы приходят только из очереди
	mqConn, err := mq.NewConnection(cfg.AMQP.URL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}
	logger.Debug("topology declared", "topology", mq.TopologyInfo())

	v, err := validator.New(validator.Config{
		Store:     repo.NewWorkflowRepo(pool),
		Publisher: mq.NewPublisher(mqConn, logger),
		Conn:      mqConn,
		Options:   cfg.Policy(),
		Prefetch:  cfg.Validator.Prefetch,
		AuditCron: cfg.Validator.AuditCron,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to create validator", "error", err)
		os.Exit(1)
	}

	// Запускаем validator
	if err := v.Start(ctx); err != nil {
		logger.Error("failed to start validator", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !mqConn.IsConnected() {
			http.Error(w, "broker disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.ValidatorAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	// Останавливаем validator
	v.Stop()
	logger.Info("stepgraph-validator stopped")
}
