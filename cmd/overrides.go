package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var overridesCmd = &cobra.Command{
	Use:   "overrides",
	Short: "Manage static override files",
}

var overridesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Copy the configured override files into the enrichment cache",
	Long:  "Loads the plan code, composite and customer name override files and upserts them into the cache as static_override records, so callers without the files resolve the same keys.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("overrides"); err != nil {
			return err
		}
		ctx := cmd.Context()
		b, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		ov, err := loadOverrides(ctx)
		if err != nil {
			return err
		}
		records := ov.Records()
		n, err := b.cache.UpsertBatch(ctx, records)
		if err != nil {
			return err
		}
		zap.L().Info("overrides imported", zap.Int("records", len(records)), zap.Int64("written", n))
		return nil
	},
}

func init() {
	overridesCmd.AddCommand(overridesImportCmd)
	rootCmd.AddCommand(overridesCmd)
}
