// Command fwdtreed runs the forward lexicon-tree decoder as a standalone
// service: a websocket endpoint that streams senone scores in and
// incremental hypotheses out, and an MCP tool server exposing the same
// decode pass for one-shot, precomputed-score requests.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voxlex/fwdtree/internal/config"
	"github.com/voxlex/fwdtree/internal/lattice/postgres"
	"github.com/voxlex/fwdtree/internal/mcp/tools/decode"
	"github.com/voxlex/fwdtree/internal/observe"
	"github.com/voxlex/fwdtree/internal/transport/wsdecode"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "fwdtreed: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "fwdtreed: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("fwdtreed starting", "config", *configPath, "listen_addr", cfg.Server.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "fwdtree"})
	if err != nil {
		logger.Error("failed to init telemetry", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown error", "error", err)
		}
	}()

	dom, err := buildDomain(cfg, logger)
	if err != nil {
		logger.Error("failed to build decoder domain", "error", err)
		return 1
	}

	var archiver *postgres.LatticeArchiver
	if cfg.Lattice.PostgresDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.Lattice.PostgresDSN, cfg.Lattice.EmbeddingDimensions)
		if err != nil {
			logger.Error("failed to connect to lattice store", "error", err)
			return 1
		}
		defer store.Close()
		archiver = &postgres.LatticeArchiver{Store: store}
		logger.Info("lattice archival enabled", "embedding_dimensions", cfg.Lattice.EmbeddingDimensions)
	}

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		logger.Error("failed to build metrics", "error", err)
		return 1
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wsHandler := wsdecode.NewHandler(dom.newStreamSearch, dom.dict, logger)
	if archiver != nil {
		wsHandler.Archive = archiver
	}
	mux.Handle("/v1/decode", wsHandler)

	mcpServer := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "fwdtreed", Version: "0.1.0"}, nil)
	decodeTool := decode.New(dom.newFrameTableSearch, dom.dict, logger)
	if archiver != nil {
		decodeTool.WithArchiver(archiver)
	}
	decodeTool.Register(mcpServer)

	var mcpHTTPServer *http.Server
	if cfg.MCP.ExposeTransport == "streamable-http" {
		mcpHTTPHandler := mcpsdk.NewStreamableHTTPHandler(
			func(*http.Request) *mcpsdk.Server { return mcpServer },
			nil,
		)
		if cfg.MCP.ExposeAddr == "" || cfg.MCP.ExposeAddr == cfg.Server.ListenAddr {
			// No dedicated address requested, or it matches the main
			// listener: mount alongside the decode websocket endpoint.
			mux.Handle("/mcp", mcpHTTPHandler)
		} else {
			mcpHTTPServer = &http.Server{Addr: cfg.MCP.ExposeAddr, Handler: mcpHTTPHandler}
		}
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http listener starting", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listener: %w", err)
		}
		return nil
	})

	if mcpHTTPServer != nil {
		g.Go(func() error {
			logger.Info("mcp streamable-http listener starting", "addr", cfg.MCP.ExposeAddr)
			if err := mcpHTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("mcp http listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return mcpHTTPServer.Shutdown(shutdownCtx)
		})
	}

	if cfg.MCP.ExposeTransport == "stdio" {
		g.Go(func() error {
			logger.Info("mcp stdio transport starting")
			if err := mcpServer.Run(gctx, &mcpsdk.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("mcp stdio transport: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("shutdown signal received, stopping…")
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run error", "error", err)
		return 1
	}
	logger.Info("goodbye")
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
