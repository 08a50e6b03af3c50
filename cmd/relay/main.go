package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"relaymesh/internal/log"
	"relaymesh/internal/relayserver"
)

func main() {
	var (
		addr      string
		maxEvents int
		queueSize int
		logLevel  string
		logFile   string
	)
	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "Run an in-memory development relay",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := log.New(logFile, logLevel, false)
			if err != nil {
				return err
			}
			defer backend.Close()
			logger := backend.GetLogger("relayserver")

			r := relayserver.New(
				relayserver.WithMaxEvents(maxEvents),
				relayserver.WithQueueSize(queueSize),
				relayserver.WithLogger(logger),
			)
			srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				r.DropConnections()
				_ = srv.Shutdown(shutdownCtx)
			}()

			logger.Noticef("relay listening on %s", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logger.Noticef("relay stopped with %d stored events", len(r.Events()))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "listen", ":7447", "listen address")
	cmd.Flags().IntVar(&maxEvents, "max-events", 10000, "events kept in memory")
	cmd.Flags().IntVar(&queueSize, "queue", 1024, "outbound frames queued per connection")
	cmd.Flags().StringVar(&logLevel, "log-level", "INFO", "ERROR, WARNING, NOTICE, INFO or DEBUG")
	cmd.Flags().StringVar(&logFile, "log-file", "", "log file (default stderr)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
