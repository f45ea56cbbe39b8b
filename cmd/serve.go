package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghyeongl/filesearch/search"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the local backend over HTTP",
	Long: `Serve the browse/search/read/write/delete/rename/backup/file-info routes
over the local filesystem, so another filesearch instance can use it with
--backend http://host:port. Every path is checked against the access policy.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		d := deps(cmd)
		if d.LocalFS == nil {
			return fmt.Errorf("serve needs the local backend; unset backend.url")
		}
		addr, _ := cmd.Flags().GetString("addr")

		srv := search.NewServer(d.Backend, d.Guard)
		httpServer := &http.Server{
			Addr:              addr,
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			slog.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		slog.Info("server listening", "addr", addr, "root", d.Config.Backend.Root)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8089", "listen address")
	rootCmd.AddCommand(serveCmd)
}
