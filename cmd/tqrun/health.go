package main

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/tqsdk-go/internal/api"
	"github.com/rickgao/tqsdk-go/internal/config"
	"github.com/rickgao/tqsdk-go/internal/tradingtime"
	"github.com/rickgao/tqsdk-go/internal/version"
)

// createHealthHandler serves /health, /debug/account and the Prometheus
// metrics.
func createHealthHandler(cfg *config.Config, reg *prometheus.Registry, client *api.Client, p *runPipeline, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status     string         `json:"status"`
			Mode       string         `json:"mode"`
			Version    string         `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Mode:       cfg.Runtime.Mode,
			Version:    version.String(),
			Components: make(map[string]any),
		}

		if p.driver != nil {
			replay := map[string]any{"finished": p.driver.Finished()}
			if cur := p.driver.Current(); cur > 0 {
				replay["current"] = tradingtime.FormatDatetime(cur)
			}
			health.Components["backtest"] = replay
		}
		if p.router != nil {
			health.Components["router"] = p.router.Stats()
		}
		if p.writer != nil {
			stats := p.writer.Stats()
			health.Components["writer"] = stats
			if stats.Errors > 0 {
				health.Status = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Warn("encode health", "error", err)
		}
	})

	mux.HandleFunc("/debug/account", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"account":   client.Account(),
			"ledger":    finite(client.Snapshot("trade", client.Account(), "accounts", "CNY")),
			"positions": finite(client.Snapshot("trade", client.Account(), "positions")),
		})
	})

	return mux
}

// finite replaces NaN and infinities, which JSON cannot carry, with null.
func finite(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case float64:
			if math.IsNaN(x) || math.IsInf(x, 0) {
				out[k] = nil
				continue
			}
		case map[string]any:
			v = finite(x)
		}
		out[k] = v
	}
	return out
}
