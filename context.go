package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/brewguard/internal/config"
	"github.com/example/brewguard/internal/events"
	"github.com/example/brewguard/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *zap.Logger
	loggerErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var flag string
		if c.configFlag != nil {
			flag = *c.configFlag
		}
		path, explicit := config.ResolvePath(flag)
		c.config, c.configErr = config.Load(path, explicit)
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*zap.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	})
	return c.logger, c.loggerErr
}

// setup returns the configuration and logger shared by every command.
func (c *commandContext) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// initEvents builds the event emitter: a local zap sink plus optional HTTP
// and Redis forwarders. The returned func flushes and releases them.
func initEvents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*events.Emitter, func(), error) {
	sinks := []events.Sink{events.NewZapSink(logger)}
	var (
		forwarders  []*events.Forwarder
		redisClient *redis.Client
	)

	if endpoint := strings.TrimSpace(cfg.Events.Endpoint); endpoint != "" {
		pub := events.NewHTTPPublisher(endpoint, &http.Client{Timeout: 5 * time.Second})
		forwarders = append(forwarders, events.NewForwarder("http", pub, cfg.Events.BufferSize, logger))
	}
	if addr := strings.TrimSpace(cfg.Events.RedisAddr); addr != "" {
		client, err := initRedis(ctx, addr, logger)
		if err != nil {
			return nil, nil, err
		}
		redisClient = client
		pub := events.NewRedisPublisher(client, cfg.Events.RedisStream, cfg.Events.RedisMaxLen)
		forwarders = append(forwarders, events.NewForwarder("redis", pub, cfg.Events.BufferSize, logger))
	}
	for _, f := range forwarders {
		sinks = append(sinks, f)
	}

	verbose := !cfg.Production() || cfg.Events.Debug
	emitter := events.NewEmitter(events.WithSinks(sinks...), events.WithVerbose(verbose))

	closeFn := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, f := range forwarders {
			if err := f.Close(shutdownCtx); err != nil {
				logger.Warn("event forwarder did not drain", zap.Error(err))
			}
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed to close redis client", zap.Error(err))
			}
		}
	}
	return emitter, closeFn, nil
}

func initRedis(ctx context.Context, addr string, logger *zap.Logger) (*redis.Client, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		wrapped := logging.NewOperationError("main.init_redis", "", err)
		logger.Error("redis connection failed", zap.Error(wrapped), zap.String("addr", addr))
		return nil, fmt.Errorf("connect redis: %w", wrapped)
	}
	return client, nil
}
