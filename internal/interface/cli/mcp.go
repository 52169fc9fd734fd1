package cli

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/neilberkman/querychat/cmd/querychat/mcp"
	"github.com/neilberkman/querychat/internal/core/app"
	"github.com/neilberkman/querychat/internal/core/submit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var mcpMetricsAddr string

var mcpCmd = &cobra.Command{
	Use:   "serve-mcp",
	Short: "Start MCP server so assistants can ask data questions",
	Long: `Start an MCP (Model Context Protocol) server over stdio that lets an
assistant ask the analytics server questions and browse saved chats.

Configure in Claude Desktop's config file:
  {
    "mcpServers": {
      "querychat": {
        "command": "querychat",
        "args": ["serve-mcp"]
      }
    }
  }

With --metrics-addr, Prometheus metrics are served at /metrics.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

func runMCP(cmd *cobra.Command, args []string) error {
	var metrics *submit.Metrics
	var reg *prometheus.Registry
	if mcpMetricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = submit.NewMetrics(reg)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the protocol
	a, err := app.Open(cmd.Context(), app.Options{
		Config:  cfg,
		Log:     newLogger(cfg, os.Stderr),
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if reg != nil {
		srv := &http.Server{
			Addr:              mcpMetricsAddr,
			Handler:           metricsHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Log.Error().Err(err).Str("addr", mcpMetricsAddr).Msg("Metrics server failed")
			}
		}()
		defer func() { _ = srv.Close() }()
		a.Log.Info().Str("addr", mcpMetricsAddr).Msg("Serving metrics")
	}

	version := strings.Fields(versionInfo + " dev")[0]
	if err := mcp.StartServer(a, version); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}
