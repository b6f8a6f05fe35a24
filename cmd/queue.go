package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/model"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and drain the deferred-resolution queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counts by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		counts, err := b.queue.Counts(ctx)
		if err != nil {
			return err
		}
		return printCounts(counts)
	},
}

var queueResetName string

var queueResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Return failed items to pending",
	Long:  "Resets failed queue items to pending with a fresh attempt count. --name limits the reset to one normalized name.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		n, err := b.queue.ResetFailed(ctx, queueResetName)
		if err != nil {
			return err
		}
		zap.L().Info("failed items reset", zap.Int64("count", n), zap.String("name", queueResetName))
		return nil
	},
}

var queueDrainLoop bool

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Resolve queued names against the external directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("queue"); err != nil {
			return err
		}
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		env, err := initResolver(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		w, err := newWorker(env.backend, env.directory)
		if err != nil {
			return err
		}
		if queueDrainLoop {
			return w.Run(ctx, cfg.Queue.Interval())
		}
		res, err := w.DrainQueueOnce(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("queue drained", res.Fields()...)
		return nil
	},
}

func printCounts(counts model.QueueCounts) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(counts)
}

func init() {
	queueResetCmd.Flags().StringVar(&queueResetName, "name", "", "reset only this name (normalized before matching)")
	queueDrainCmd.Flags().BoolVar(&queueDrainLoop, "loop", false, "keep draining every queue.interval_secs until interrupted")
	queueCmd.AddCommand(queueStatusCmd, queueResetCmd, queueDrainCmd)
	rootCmd.AddCommand(queueCmd)
}
