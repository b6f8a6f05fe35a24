package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/batchio"
)

var (
	learnDomain    string
	learnTable     string
	learnMinSample int
)

var learnCmd = &cobra.Command{
	Use:   "learn <resolved-file>",
	Short: "Promote confident identifiers from a resolved batch into the cache",
	Long:  "Reads a batch written by resolve and writes its confident non-temporary identifiers back to the enrichment cache as domain_learning records. Batches smaller than the minimum sample size are skipped.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("learn"); err != nil {
			return err
		}
		ctx := cmd.Context()
		env, err := initResolver(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		table, err := batchio.ReadFile(ctx, args[0])
		if err != nil {
			return err
		}
		rows, err := batchio.ReadResolved(table)
		if err != nil {
			return err
		}

		minSample := cfg.Learn.MinSampleSize
		if cmd.Flags().Changed("min-sample") {
			minSample = learnMinSample
		}
		st := env.learner.LearnFromBatch(ctx, rows, cfg.Strategy.Bindings, learnDomain, learnTable, minSample)
		zap.L().Info("learning complete", st.Fields()...)
		return nil
	},
}

func init() {
	learnCmd.Flags().StringVar(&learnDomain, "domain", "", "source domain recorded on learned entries (required)")
	learnCmd.Flags().StringVar(&learnTable, "table", "", "source table recorded on learned entries")
	learnCmd.Flags().IntVar(&learnMinSample, "min-sample", 0, "minimum eligible rows (default from learn.min_sample_size)")
	_ = learnCmd.MarkFlagRequired("domain")
	rootCmd.AddCommand(learnCmd)
}
