package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lisuiheng/naudio-go/audio"
	"github.com/lisuiheng/naudio-go/core"
	"github.com/lisuiheng/naudio-go/logger"
	"github.com/lisuiheng/naudio-go/protocols/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 定义命令行参数
	configPath := flag.String("c", "", "Path to config file (default searches ./config.yaml, ./config/config.yaml, /etc/naudio/config.yaml)")
	debug := flag.Bool("debug", false, "Enable debug logging to stdout")
	flag.Parse()

	// 加载配置
	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := initLogger(cfg, *debug); err != nil {
		logger.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.Error("Service runtime error", "error", err)
		os.Exit(1)
	}
	logger.Info("Service shutdown completed")
}

func run(cfg core.Config) error {
	log := logger.Logger()

	system, err := newAudioSystem(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := system.Close(); err != nil {
			log.Error("Failed to close audio system", "error", err)
		}
	}()

	var opts []core.Option
	mux := http.NewServeMux()
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, core.WithMetrics(core.NewMetrics(reg)))
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	bridge, err := core.NewBridge(cfg, system, log, opts...)
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}

	channels := websocket.NewServer(websocket.ServerConfig{
		AccessToken: cfg.System.Network.AccessToken,
	}, log)
	channels.Register(cfg.System.Channel, bridge)
	mux.Handle(websocket.ChannelPathPrefix, channels)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.System.Network.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 设置信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bridge.Run(ctx)
	})
	g.Go(func() error {
		log.Info("Starting naudio service",
			"listen", cfg.System.Network.Listen,
			"channel", cfg.System.Channel,
			"storage_dir", bridge.StorageDir())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down naudio service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		_ = channels.Close()
		_ = bridge.Close()
		return err
	})
	return g.Wait()
}

func newAudioSystem(cfg core.Config, log *slog.Logger) (audio.System, error) {
	switch cfg.Audio.Backend {
	case "fake":
		log.Warn("Using fake audio backend, recordings contain a test tone")
		return audio.NewFakeSystem(), nil
	default:
		system, err := audio.NewHostSystem(log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize audio system: %w", err)
		}
		return system, nil
	}
}

// initLogger 初始化日志系统
func initLogger(cfg core.Config, debug bool) error {
	logCfg := logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Outputs:    cfg.Logging.Outputs,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}

	// 调试模式覆盖配置
	if debug {
		logCfg.Level = "debug"
		logCfg.Outputs = []string{"stdout"}
	}

	return logger.Init(logCfg)
}
