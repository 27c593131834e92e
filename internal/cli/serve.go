package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chromamcp/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server",
	Long: `Run the JSON-RPC 2.0 MCP server until interrupted.

Endpoints:
  POST /mcp       JSON-RPC requests
  GET  /          server overview
  GET  /services  tool catalogue
  GET  /health    health check

Examples:
  chromamcp serve
  chromamcp serve --addr 0.0.0.0:9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

const cacheReportInterval = time.Minute

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	rt, err := newRuntime(cfg, GetRootDir(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	if cfg.Chroma.Username != "" {
		logger.Info("chroma credentials configured but not used", "host", cfg.Chroma.Host, "port", cfg.Chroma.Port)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gin.SetMode(server.GinMode(cfg.Logging.Level))
	srv := server.New(cfg.Server, rt.dispatcher, rt.registry, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if rt.cache != nil {
		g.Go(func() error {
			ticker := time.NewTicker(cacheReportInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					st := rt.cache.Stats()
					logger.Debug("query cache", "size", st.Size, "hits", st.Hits, "misses", st.Misses)
				}
			}
		})
	}

	logger.Info("chromamcp started",
		"addr", cfg.Server.Addr,
		"version", Version,
		"store", cfg.Store.Backend,
		"tools", rt.registry.Len(),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("chromamcp stopped")
	return nil
}
