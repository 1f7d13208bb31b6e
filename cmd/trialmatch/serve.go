package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpAdapter "github.com/pickleton89/mutation-clinical-trial-matching-mcp/internal/adapters/http"
	mcpAdapter "github.com/pickleton89/mutation-clinical-trial-matching-mcp/internal/adapters/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server",
	Long: `Starts the trial-matching engine as an MCP server.
This allows AI agents to query clinical trials as tools.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.

An HTTP observability server (health, metrics, cache stats, breaker state)
runs alongside either transport.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFromFlags(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		transport, _ := cmd.Flags().GetString("transport")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a.cache.StartSweeper(ctx, a.cfg.Cache.SweepInterval.Std())

		if len(a.cfg.Warming) > 0 {
			warmer, err := a.newWarmer()
			if err != nil {
				return err
			}
			go func() {
				if _, err := warmer.RunAll(ctx); err != nil {
					a.logger.Warn("cache warming aborted", "err", err)
				}
			}()
		}

		obs := httpAdapter.NewServer(a.cache, a.metrics, a.breakers, httpAdapter.WithLogger(a.logger))
		srv := mcpAdapter.NewServer(a.pipeline, a.cache, a.metrics, mcpAdapter.WithLogger(a.logger))

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			err := obs.Serve(ctx, a.cfg.Server.HTTPAddr)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})

		switch transport {
		case "stdio":
			// Logs already go to Stderr; keep Stdout clean for JSON-RPC.
			log.SetOutput(os.Stderr)
			a.logger.Info("starting mcp server (stdio)")
			g.Go(func() error {
				err := srv.ServeStdio(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		case "sse":
			a.logger.Info("starting mcp server (sse)", "addr", a.cfg.Server.SSEAddr)
			g.Go(func() error {
				err := srv.ServeSSE(ctx, a.cfg.Server.SSEAddr)
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			})
		default:
			return errors.New("unknown transport " + transport + ": supported transports are stdio and sse")
		}

		if err := g.Wait(); err != nil {
			return err
		}
		a.logger.Info("server stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
}
