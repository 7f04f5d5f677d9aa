package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentpool/internal/server"
)

var (
	servePort     int
	serveHostname string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentpool HTTP server",
	Long: `Start the HTTP API for creating agents, sending them messages, answering
confirmation requests and streaming events.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config, then 7420)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (default from config, then 127.0.0.1)")
}

func runServe(cmd *cobra.Command, args []string) error {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, dir)
	if err != nil {
		return err
	}
	defer a.Close()

	serverConfig := server.DefaultConfig()
	if a.config.Server.Port != 0 {
		serverConfig.Port = a.config.Server.Port
	}
	if a.config.Server.Hostname != "" {
		serverConfig.Host = a.config.Server.Hostname
	}
	if a.config.Server.CORS != nil {
		serverConfig.EnableCORS = *a.config.Server.CORS
	}
	if servePort != 0 {
		serverConfig.Port = servePort
	}
	if serveHostname != "" {
		serverConfig.Host = serveHostname
	}

	srv := server.New(serverConfig, a.pool, a.bus, a.mcp)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	a.log.Info().Str("version", Version).Str("directory", dir).Msg("agentpool serving on http://" + srv.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("server shutdown")
	}
	return nil
}

