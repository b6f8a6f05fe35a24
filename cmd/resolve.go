package main

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/entity-resolver/internal/batchio"
	"github.com/sells-group/entity-resolver/internal/model"
)

var (
	resolveOut        string
	resolveStrategy   string
	resolveBudget     int
	resolveNoExternal bool
	resolveNoBackflow bool
	resolveNoAsync    bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <file>",
	Short: "Resolve a CSV or XLSX batch to company identifiers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy, err := resolveStrategyFor(cmd)
		if err != nil {
			return err
		}
		cfg.Strategy = strategy
		if err := cfg.Validate("resolve"); err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initResolver(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		return runResolve(ctx, env, args[0], strategy)
	},
}

// resolveStrategyFor starts from the configured strategy, replaces it with
// --strategy when given, then applies the flag overrides.
func resolveStrategyFor(cmd *cobra.Command) (model.Strategy, error) {
	strategy := cfg.Strategy
	if resolveStrategy != "" {
		data, err := os.ReadFile(resolveStrategy)
		if err != nil {
			return strategy, eris.Wrapf(err, "read strategy %s", resolveStrategy)
		}
		strategy = model.Strategy{}
		if err := yaml.Unmarshal(data, &strategy); err != nil {
			return strategy, eris.Wrapf(err, "parse strategy %s", resolveStrategy)
		}
	}
	if cmd.Flags().Changed("budget") {
		strategy.SyncBudget = resolveBudget
	}
	if resolveNoExternal {
		strategy.EnableExternal = false
	}
	if resolveNoBackflow {
		strategy.EnableBackflow = false
	}
	if resolveNoAsync {
		strategy.EnableAsync = false
	}
	return strategy, nil
}

func runResolve(ctx context.Context, env *resolverEnv, path string, strategy model.Strategy) error {
	log := zap.L().With(zap.String("component", "resolve"), zap.String("file", path))

	table, err := batchio.ReadFile(ctx, path)
	if err != nil {
		return err
	}
	log.Info("batch loaded", zap.Int("rows", len(table.Rows)), zap.Strings("columns", table.Header))

	rows, stats := env.resolver.ResolveBatch(ctx, table.Rows, strategy)

	var w io.Writer = os.Stdout
	if resolveOut != "" {
		f, err := os.Create(resolveOut)
		if err != nil {
			return eris.Wrapf(err, "create %s", resolveOut)
		}
		defer f.Close() //nolint:errcheck
		w = f
	}
	if err := batchio.WriteCSV(w, table.Header, rows); err != nil {
		return err
	}

	log.Info("batch resolved", stats.Fields()...)
	return nil
}

func init() {
	resolveCmd.Flags().StringVarP(&resolveOut, "out", "o", "", "output CSV path (default stdout)")
	resolveCmd.Flags().StringVar(&resolveStrategy, "strategy", "", "YAML strategy file replacing the configured strategy")
	resolveCmd.Flags().IntVar(&resolveBudget, "budget", 0, "synchronous external call budget (default from strategy)")
	resolveCmd.Flags().BoolVar(&resolveNoExternal, "no-external", false, "skip the external directory tier")
	resolveCmd.Flags().BoolVar(&resolveNoBackflow, "no-backflow", false, "do not write new matches back to the cache")
	resolveCmd.Flags().BoolVar(&resolveNoAsync, "no-async", false, "do not enqueue temp-assigned names")
	rootCmd.AddCommand(resolveCmd)
}
