// tqrun runs a moving average strategy as a backtest against Postgres
// history, against a simulated account fed by live market data, or against
// a live trade server.
// Usage: go run ./cmd/tqrun --config configs/tqrun.yaml
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/tqsdk-go/internal/api"
	"github.com/rickgao/tqsdk-go/internal/auth"
	"github.com/rickgao/tqsdk-go/internal/backtest"
	"github.com/rickgao/tqsdk-go/internal/config"
	"github.com/rickgao/tqsdk-go/internal/connection"
	"github.com/rickgao/tqsdk-go/internal/database"
	"github.com/rickgao/tqsdk-go/internal/metrics"
	"github.com/rickgao/tqsdk-go/internal/pipeline"
	"github.com/rickgao/tqsdk-go/internal/publish"
	"github.com/rickgao/tqsdk-go/internal/resync"
	"github.com/rickgao/tqsdk-go/internal/router"
	"github.com/rickgao/tqsdk-go/internal/schema"
	"github.com/rickgao/tqsdk-go/internal/sim"
	"github.com/rickgao/tqsdk-go/internal/version"
	"github.com/rickgao/tqsdk-go/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/tqrun.yaml", "path to config file")
	shortLen := flag.Int("short", 5, "bars in the short moving average")
	longLen := flag.Int("long", 20, "bars in the long moving average")
	volume := flag.Int64("volume", 1, "net volume held while a trend lasts")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Runtime.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("starting tqrun",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"mode", cfg.Runtime.Mode,
		"account", cfg.Account.AccountID,
	)

	strategy, err := newMACross(*shortLen, *longLen, *volume)
	if err != nil {
		logger.Error("invalid strategy flags", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	reg := prometheus.NewRegistry()
	collectors, err := metrics.New(reg)
	if err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	var pool *pgxpool.Pool
	if cfg.Database.Enabled() {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		logger.Info("database connected")
	}

	p, err := buildPipeline(ctx, cfg, pool, collectors, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer p.close(logger)

	client, err := api.New(ctx, api.Config{
		Account: cfg.Account.AccountID,
		Logger:  logger,
		Metrics: collectors,
	}, p.stages...)
	if err != nil {
		logger.Error("failed to start client", "error", err)
		os.Exit(1)
	}

	healthServer := &http.Server{
		Addr:    cfg.Metrics.Addr,
		Handler: createHealthHandler(cfg, reg, client, p, logger),
	}
	go func() {
		logger.Info("starting health server", "addr", cfg.Metrics.Addr)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	if cfg.Runtime.Mode == config.ModeLive {
		if err := client.Login(cfg.Account.Login); err != nil {
			logger.Error("failed to send login", "error", err)
			os.Exit(1)
		}
	}

	runErr := strategy.run(ctx, client, cfg.Backtest.Symbols, cfg.Backtest.Durations[0], logger)
	if stat := client.Stat(); stat != nil {
		logger.Info("run statistics",
			"balance", stat["balance"],
			"ror", stat["ror"],
			"max_drawdown", stat["max_drawdown"],
			"winning_rate", stat["winning_rate"],
			"sharpe_ratio", stat["sharpe_ratio"],
		)
	}

	logger.Info("shutting down...")
	if err := client.Close(); err != nil {
		logger.Warn("client close", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	healthServer.Shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("strategy failed", "error", runErr)
		p.close(logger)
		os.Exit(1)
	}
	logger.Info("tqrun stopped")
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// runPipeline holds the stages below the client and the sinks they feed.
type runPipeline struct {
	stages []pipeline.Stage
	driver *backtest.Driver
	router *router.Router

	writer   *writer.DayLogWriter
	producer *publish.Producer
	closed   bool
}

func buildPipeline(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, m *metrics.Collectors, logger *slog.Logger) (*runPipeline, error) {
	p := &runPipeline{}
	// md and td back off on one schedule
	timer := connection.NewReconnectTimer(
		connection.WithBase(cfg.Reconnect.Base),
		connection.WithMaxFactor(cfg.Reconnect.MaxFactor),
	)

	simCfg := sim.Config{
		AccountID:   cfg.Account.AccountID,
		InitBalance: cfg.Account.InitBalance,
		Metrics:     m,
	}
	if pool != nil {
		p.writer = writer.NewDayLogWriter(writer.DefaultWriterConfig(), pool, logger)
		if err := p.writer.Start(ctx); err != nil {
			return nil, fmt.Errorf("start day log writer: %w", err)
		}
		simCfg.Sink = p.writer
	}
	if len(cfg.Kafka.Brokers) > 0 {
		p.producer = publish.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		simCfg.Publisher = p.producer
	}

	switch cfg.Runtime.Mode {
	case config.ModeBacktest:
		start, end, err := cfg.BacktestRange()
		if err != nil {
			return nil, err
		}
		p.driver, err = backtest.NewDriver(backtest.Config{
			Start:   start,
			End:     end,
			Source:  database.NewHistorySource(pool, logger),
			Metrics: m,
		}, logger)
		if err != nil {
			return nil, err
		}
		p.stages = []pipeline.Stage{sim.NewStage(simCfg, logger), p.driver}

	case config.ModeSim:
		md, err := mdStages(cfg, timer, m, logger)
		if err != nil {
			return nil, err
		}
		p.stages = append([]pipeline.Stage{sim.NewStage(simCfg, logger)}, md...)

	case config.ModeLive:
		md, err := mdStages(cfg, timer, m, logger)
		if err != nil {
			return nil, err
		}
		td, err := tdStages(cfg, timer, m, logger)
		if err != nil {
			return nil, err
		}
		p.router, err = router.New([]router.Route{
			{Name: "md", Stages: md},
			{Name: "td", Aids: router.TradeAids, Stages: td},
		}, logger)
		if err != nil {
			return nil, err
		}
		p.stages = []pipeline.Stage{p.router}
	}
	return p, nil
}

func session(cfg *config.Config, timer *connection.ReconnectTimer, url, connID string, m *metrics.Collectors, logger *slog.Logger) (*connection.Session, error) {
	var creds *auth.Credentials
	if cfg.Endpoints.AccessToken != "" {
		var err error
		if creds, err = auth.LoadCredentials(cfg.Endpoints.AccessToken); err != nil {
			return nil, err
		}
		if claims, err := creds.Claims(); err == nil {
			logger.Info("using access token", "subject", claims.Subject, "expires", time.Unix(claims.Expires, 0))
		}
	}
	clientCfg := connection.DefaultClientConfig()
	clientCfg.URL = url
	clientCfg.Header = creds.Headers(cfg.Endpoints.Headers)
	return connection.NewSession(connection.SessionConfig{
		Client:  clientCfg,
		ConnID:  connID,
		Metrics: m,
	}, timer, logger), nil
}

func mdStages(cfg *config.Config, timer *connection.ReconnectTimer, m *metrics.Collectors, logger *slog.Logger) ([]pipeline.Stage, error) {
	s, err := session(cfg, timer, cfg.Endpoints.MdURL, "md", m, logger)
	if err != nil {
		return nil, err
	}
	return []pipeline.Stage{resync.New(resync.MdPolicy{}, schema.Client(), m, logger), s}, nil
}

func tdStages(cfg *config.Config, timer *connection.ReconnectTimer, m *metrics.Collectors, logger *slog.Logger) ([]pipeline.Stage, error) {
	s, err := session(cfg, timer, cfg.Endpoints.TdURL, "td", m, logger)
	if err != nil {
		return nil, err
	}
	return []pipeline.Stage{resync.New(resync.NewTdPolicy(), schema.Client(), m, logger), s}, nil
}

// close stops the sinks once.
func (p *runPipeline) close(logger *slog.Logger) {
	if p.closed {
		return
	}
	p.closed = true
	if p.writer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := p.writer.Stop(ctx); err != nil {
			logger.Warn("day log writer stop", "error", err)
		}
		cancel()
	}
	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			logger.Warn("producer close", "error", err)
		}
	}
}
