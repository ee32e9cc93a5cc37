// Command agrosense runs the agricultural assistant orchestrator:
// HTTP API with streaming answers, Prometheus metrics, and health
// checks.
//
// Usage:
//
//	agrosense serve                         # start the service
//	agrosense serve --config agrosense.yaml # with a config file
//	agrosense version                       # print version info
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agrosense/agrosense/agents"
	"github.com/agrosense/agrosense/api"
	"github.com/agrosense/agrosense/breaker"
	"github.com/agrosense/agrosense/config"
	"github.com/agrosense/agrosense/internal/metrics"
	"github.com/agrosense/agrosense/llm"
	"github.com/agrosense/agrosense/memory"
	"github.com/agrosense/agrosense/planner"
	"github.com/agrosense/agrosense/router"
	"github.com/agrosense/agrosense/tool"
	"github.com/agrosense/agrosense/tool/agritools"
	"github.com/agrosense/agrosense/workflow"
)

// injected at build time
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
		configPath := serveCmd.String("config", "", "path to the YAML config file")
		_ = serveCmd.Parse(os.Args[2:])
		if err := serve(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "agrosense: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("agrosense %s (%s)\n", version, gitCommit)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage:
  agrosense serve [--config agrosense.yaml]
  agrosense version`)
}

func serve(configPath string) error {
	cfg, err := config.NewLoader().WithConfigPath(configPath).Load()
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting agrosense",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr))

	m := metrics.New(prometheus.DefaultRegisterer)

	provider := buildProvider(cfg.LLM, logger)
	breakers := breaker.NewRegistry(cfg.Breaker, m.BreakerChanged, logger)

	tools, err := buildTools(cfg.Tools)
	if err != nil {
		return err
	}

	window, err := memory.NewRedisWindow(cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer window.Close() //nolint:errcheck

	var archive *memory.Archive
	if cfg.Archive.Enabled {
		archive, err = memory.NewArchive(cfg.Archive.Path)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
	}
	mem := memory.NewManager(window, archive, memory.NewTokenCounter(""), cfg.Memory, logger)

	catalog := router.DefaultCatalog()
	classifier := router.NewClassifier(catalog, cfg.Router, logger)
	agentRegistry := agents.BuildRegistry(provider, nil, cfg.LLM.Model, logger)
	pl := planner.New(catalog, agentRegistry, cfg.Planner, logger)
	executor := workflow.NewExecutor(tools, breakers, cfg.Executor, m, logger)
	moderator := agents.NewModerator(provider, cfg.LLM.Model, logger)
	coordinator := workflow.NewCoordinator(moderator, cfg.Coordinator, logger)
	synthesizer := workflow.NewSynthesizer(cfg.Synthesizer, logger)

	engine := workflow.NewEngine(classifier, pl, agentRegistry, executor, coordinator,
		synthesizer, breakers, mem, cfg.Engine, m, logger)

	health := api.NewHealthHandler(logger)
	health.RegisterCheck(api.HealthCheckFunc{CheckName: "redis", Fn: window.Ping})

	server := api.NewServer(engine, tools, health, api.ServerOptions{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		StreamBuffer:    cfg.Server.StreamBuffer,
	}, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}
	return server.Shutdown(context.Background())
}

func buildProvider(cfg config.LLMConfig, logger *zap.Logger) llm.Provider {
	if cfg.Provider == "mock" {
		return llm.NewMockProvider("Ceci est une réponse de test.")
	}
	return llm.NewOpenAIProvider(llm.OpenAIConfig{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		DefaultModel: cfg.Model,
		Timeout:      cfg.Timeout,
	}, logger)
}

func buildTools(cfg config.ToolsConfig) (*tool.Registry, error) {
	registry := tool.NewRegistry(cfg.RateLimitRPS, cfg.RateLimitBurst)
	for _, t := range []tool.Tool{
		agritools.NewWeatherTool(cfg.WeatherBaseURL),
		agritools.NewEphyTool(cfg.EphyBaseURL),
		agritools.NewEppoTool(cfg.EppoBaseURL, cfg.EppoAPIKey),
		agritools.NewFarmDataTool(cfg.FarmDataBaseURL),
		agritools.NewSearchTool(cfg.SearchBaseURL),
	} {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
