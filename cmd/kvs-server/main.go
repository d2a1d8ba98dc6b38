package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/matteso1/kvs/internal/logging"
	"github.com/matteso1/kvs/internal/metrics"
	"github.com/matteso1/kvs/internal/server"
	"github.com/matteso1/kvs/internal/storage"
)

func main() {
	config := server.DefaultConfig()

	// Parse flags
	flag.StringVar(&config.Addr, "addr", config.Addr, "Listen address")
	flag.StringVar(&config.DataDir, "data", config.DataDir, "Data directory")
	flag.StringVar(&config.Engine, "engine", config.Engine, "Storage engine (kvs or bolt)")
	flag.StringVar(&config.MetricsAddr, "metrics-addr", "", "Metrics HTTP address (empty to disable)")
	flag.Int64Var(&config.Storage.MaxSegmentSize, "segment-size", config.Storage.MaxSegmentSize, "Segment rollover size in bytes")
	syncWrites := flag.Bool("sync", false, "Sync every write to disk")
	logLevel := flag.String("log-level", "info", "Log level")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	logger, err := logging.New(*logLevel, *dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *syncWrites {
		config.Storage.SyncMode = storage.SyncAlways
	}

	if err := run(config, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(config server.Config, logger *zap.Logger) error {
	logger.Info("starting kvs server",
		zap.String("addr", config.Addr),
		zap.String("data", config.DataDir),
		zap.String("engine", config.Engine))

	engine, err := server.OpenEngine(config, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error("failed to close engine", zap.Error(err))
		}
	}()

	m := metrics.NewMetrics()
	if st, ok := engine.(interface{ Stats() storage.Stats }); ok {
		m.SetStatsSource(st.Stats)
	}

	var metricsServer *http.Server
	if config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsServer = &http.Server{
			Addr:              config.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics listening", zap.String("addr", config.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	lis, err := net.Listen("tcp", config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	srv := server.New(engine, logger.Named("server"), m)

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutting down", zap.Stringer("signal", sig))
		if metricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := metricsServer.Shutdown(ctx); err != nil {
				logger.Warn("metrics server shutdown", zap.Error(err))
			}
			cancel()
		}
		srv.Stop()
	}()

	return srv.Serve(lis)
}
