package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"robotcontrol/internal/adapters"
	"robotcontrol/internal/api"
	"robotcontrol/internal/clock"
	"robotcontrol/internal/config"
	"robotcontrol/internal/journal"
	"robotcontrol/internal/plugins"
	"robotcontrol/internal/plugins/telemetry"
	"robotcontrol/internal/session"
	"robotcontrol/pkg/plugin"
	"robotcontrol/pkg/robot"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Load environment variables before the logger so LOG_DEVELOPMENT applies
	dotenvErr := config.LoadDotEnv()

	logger, err := newLogger(os.Getenv("LOG_DEVELOPMENT") == "true")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if dotenvErr != nil {
		logger.Warn("Failed to load .env file", zap.Error(dotenvErr))
	}

	loader := config.NewLoader("", logger)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Starting Robot Control",
		zap.String("config", loader.Path()),
		zap.String("robot", cfg.Robot.Code),
		zap.Int("api_port", cfg.API.Port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewRealClock()
	factory := adapters.NewFactory(clk, logger)

	configs, closeConfigs, err := newConfigStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open plugin config store", zap.Error(err))
	}
	defer closeConfigs()

	// Plugins
	registry := plugin.NewRegistry(logger)
	registry.Provide("robot_factory")
	registry.OnEvent(func(event plugin.Event, meta plugin.Metadata) {
		logger.Debug("Plugin lifecycle event",
			zap.String("event", string(event)),
			zap.String("plugin", meta.Key()))
	})

	pctx := plugin.NewContext(logger, registry, factory, clk, configs)
	catalog := plugins.WithDefaults(plugins.Catalog(), telemetry.Kind, map[string]any{
		"broker":       cfg.MQTT.Broker,
		"client_id":    cfg.MQTT.ClientID,
		"topic_prefix": cfg.MQTT.TopicPrefix,
		"interval":     cfg.MQTT.Interval,
	})

	n, err := registry.DiscoverPlugins(pctx, catalog, cfg.Plugins.SearchPaths)
	if err != nil {
		logger.Error("Some plugin manifests failed to load", zap.Error(err))
	}
	logger.Info("Plugin discovery finished", zap.Int("registered", n))

	if err := registry.InitializeAll(ctx); err != nil {
		logger.Error("Plugin initialization stopped", zap.Error(err))
	}
	if err := registry.StartAll(); err != nil {
		logger.Error("Some plugins failed to start", zap.Error(err))
	}

	// Command journal
	j, err := journal.Open(cfg.Journal.Path, clk)
	if err != nil {
		logger.Fatal("Failed to open journal", zap.String("path", cfg.Journal.Path), zap.Error(err))
	}
	defer j.Close()

	if cfg.Journal.MaxEntries > 0 {
		if pruned, err := j.Prune(ctx, cfg.Journal.MaxEntries); err != nil {
			logger.Warn("Failed to prune journal", zap.Error(err))
		} else if pruned > 0 {
			logger.Info("Pruned journal", zap.Int64("removed", pruned))
		}
	}

	// Session
	sess := session.New(factory, clk, cfg.Dispatch(), j, logger)
	defer sess.Close()

	if cfg.Robot.Code != "" {
		res := sess.Initialize(ctx, cfg.Robot.Code, cfg.Robot.IP, robot.Options(cfg.Robot.Options))
		if !res.Connected {
			logger.Error("Failed to initialize configured robot",
				zap.String("code", cfg.Robot.Code),
				zap.String("error", res.Error))
		}
	} else if adapter := pluginAdapter(registry); adapter != nil {
		sess.Attach(adapter)
	}

	// API server
	apiServer := api.NewServer(sess, registry, logger, cfg.API.Port)
	if err := apiServer.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Application running. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-sigChan

	logger.Info("Shutting down gracefully...")
	cancel()

	if err := apiServer.Stop(); err != nil {
		logger.Error("Failed to stop API server", zap.Error(err))
	}
	if err := sess.Close(); err != nil {
		logger.Error("Failed to release robot", zap.Error(err))
	}
	if err := registry.ShutdownAll(); err != nil {
		logger.Error("Some plugins failed to shut down", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newConfigStore selects Redis when an address is configured, otherwise a
// directory of YAML files.
func newConfigStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (plugin.ConfigStore, func(), error) {
	if cfg.Redis.Address == "" {
		store, err := plugin.NewFileConfigStore(cfg.Plugins.ConfigDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using file plugin config store", zap.String("dir", cfg.Plugins.ConfigDir))
		return store, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Address, err)
	}
	logger.Info("Using Redis plugin config store", zap.String("addr", cfg.Redis.Address))
	return plugin.NewRedisConfigStore(client), func() { client.Close() }, nil
}

// pluginAdapter returns the adapter of the first connected robot driver plugin.
func pluginAdapter(registry *plugin.Registry) robot.Adapter {
	for _, info := range registry.ListPlugins(plugin.TypeRobot) {
		p, ok := registry.Get(info.Name, info.Version)
		if !ok {
			continue
		}
		if source, ok := p.(telemetry.AdapterSource); ok {
			if adapter := source.Adapter(); adapter != nil {
				return adapter
			}
		}
	}
	return nil
}
