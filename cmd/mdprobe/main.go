// mdprobe connects to a market data server, subscribes symbols and prints
// every quote change merged into the client tree.
// Usage: go run ./cmd/mdprobe --symbols SHFE.cu2401,DCE.m2405
//
// The url and access token come from --config when given, otherwise from
// --url and the TQ_ACCESS_TOKEN environment variable.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/tqsdk-go/internal/api"
	"github.com/rickgao/tqsdk-go/internal/auth"
	"github.com/rickgao/tqsdk-go/internal/config"
	"github.com/rickgao/tqsdk-go/internal/connection"
	"github.com/rickgao/tqsdk-go/internal/resync"
	"github.com/rickgao/tqsdk-go/internal/schema"
)

func main() {
	configPath := flag.String("config", "", "path to a tqrun config file")
	url := flag.String("url", config.DefaultMdURL, "market data websocket url")
	symbols := flag.String("symbols", "SHFE.cu2401", "comma separated symbols")
	verbose := flag.Bool("verbose", false, "print full quote JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	headers := map[string]string{}
	token := os.Getenv("TQ_ACCESS_TOKEN")
	if *configPath != "" {
		cfg, err := config.LoadWithDefaults(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		*url = cfg.Endpoints.MdURL
		headers = cfg.Endpoints.Headers
		if cfg.Endpoints.AccessToken != "" {
			token = cfg.Endpoints.AccessToken
		}
	}
	var creds *auth.Credentials
	if token != "" {
		var err error
		if creds, err = auth.LoadCredentials(token); err != nil {
			logger.Error("failed to load access token", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	clientCfg := connection.DefaultClientConfig()
	clientCfg.URL = *url
	clientCfg.Header = creds.Headers(headers)
	session := connection.NewSession(connection.SessionConfig{Client: clientCfg, ConnID: "mdprobe"}, nil, logger)

	client, err := api.New(ctx, api.Config{Logger: logger},
		resync.New(resync.MdPolicy{}, schema.Client(), nil, logger), session)
	if err != nil {
		logger.Error("failed to start client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	list := strings.Split(*symbols, ",")
	if err := client.Subscribe(list...); err != nil {
		logger.Error("failed to subscribe", "error", err)
		os.Exit(1)
	}
	logger.Info("streaming started - press Ctrl+C to stop", "url", *url, "symbols", list)

	updates := 0
	for {
		waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
		st, err := client.WaitUpdate(waitCtx)
		waitCancel()
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error("wait update", "error", err)
			}
			break
		}
		if st == api.Timeout {
			logger.Info("stats", "updates", updates)
			continue
		}
		updates++
		for _, sym := range list {
			if client.IsChanging("quotes", sym) {
				printQuote(client.Quote(sym), *verbose)
			}
		}
		if client.IsChanging("notify") {
			for id, n := range client.Snapshot("notify") {
				if m, ok := n.(map[string]any); ok && client.IsChanging("notify", id) {
					logger.Info("notify", "id", id, "code", m["code"], "content", m["content"])
				}
			}
		}
	}

	logger.Info("shutdown complete", "updates", updates)
}

func printQuote(q api.Quote, verbose bool) {
	if verbose {
		data, err := json.MarshalIndent(map[string]any{
			"symbol": q.Symbol, "datetime": q.Datetime, "last_price": q.LastPrice,
			"bid_price1": q.BidPrice1, "bid_volume1": q.BidVolume1,
			"ask_price1": q.AskPrice1, "ask_volume1": q.AskVolume1,
			"volume": q.Volume, "open_interest": q.OpenInterest,
		}, "", "  ")
		// NaN fields fail to encode; fall back to the one line form
		if err == nil {
			fmt.Printf("[QUOTE] %s\n", data)
			return
		}
	}
	fmt.Printf("[QUOTE] %s %s last=%g bid=%g x %g ask=%g x %g vol=%g\n",
		q.Symbol, q.Datetime, q.LastPrice, q.BidPrice1, q.BidVolume1, q.AskPrice1, q.AskVolume1, q.Volume)
}
