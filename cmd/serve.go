package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/entity-resolver/internal/api"
	"github.com/sells-group/entity-resolver/internal/queue"
)

var (
	servePort     int
	serveNoWorker bool
)

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the resolution API and run the queue worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		env, err := initResolver(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		var worker *queue.Worker
		if !serveNoWorker && env.directory != nil {
			if worker, err = newWorker(env.backend, env.directory); err != nil {
				return err
			}
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: api.NewServer(api.Deps{
				Resolver:      env.resolver,
				Queue:         env.queue,
				Worker:        worker,
				Learner:       env.learner,
				TempIDs:       env.tempIDs,
				Strategy:      cfg.Strategy,
				MinSampleSize: cfg.Learn.MinSampleSize,
				CORSOrigins:   cfg.Server.CORSOrigins,
			}).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", cfg.Server.Port), zap.Bool("worker", worker != nil))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
		if worker != nil {
			g.Go(func() error {
				return worker.Run(gctx, cfg.Queue.Interval())
			})
		}

		return g.Wait()
	},
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoWorker, "no-worker", false, "serve the API without draining the queue")
	rootCmd.AddCommand(serveCmd)
}
