package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ironsheep/timetable-ocr/internal/httpapi"
	"github.com/ironsheep/timetable-ocr/internal/logger"
	"github.com/ironsheep/timetable-ocr/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP upload service",
		Long: `Run the HTTP upload service.

  POST /convert   multipart form with an "image" field (png, jpg, jpeg)
  GET  /healthz   liveness check`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			conv, err := a.newConverter()
			if err != nil {
				return err
			}
			defer conv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return httpapi.New(conv, a.cfg.Server, logger.WithComponent("httpapi")).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8080)")
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server on stdin/stdout",
		Long: `Run the MCP server on stdin/stdout.

Configure it in your MCP client (e.g., Claude Desktop) with the command
"timetable-ocr mcp". Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logger.WithComponent("mcp")
			log.Debug().Str("version", Version).Str("build_time", BuildTime).Str("commit", GitCommit).Msg("Timetable MCP server")

			conv, err := a.newConverter()
			if err != nil {
				return err
			}
			defer conv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return server.New(conv, Version, log).Run(ctx)
		},
	}
}
