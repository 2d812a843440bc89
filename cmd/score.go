package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/delver/api/schemas"
	"github.com/xkilldash9x/delver/internal/observability"
	"github.com/xkilldash9x/delver/internal/risk"
	"github.com/xkilldash9x/delver/internal/store"
)

// findingsReader loads the findings of a persisted run.
type findingsReader interface {
	GetFindingsByRunID(ctx context.Context, runID string) ([]schemas.Finding, error)
}

var _ findingsReader = (*store.Store)(nil)

// openFindingsReader is a function variable for dependency injection in tests.
var openFindingsReader = func(ctx context.Context, url string, logger *zap.Logger) (findingsReader, func(), error) {
	s, pool, err := store.Connect(ctx, url, logger)
	if err != nil {
		return nil, nil, err
	}
	return s, pool.Close, nil
}

type scoreOptions struct {
	staticPath string
	reportPath string
	runID      string
	storeURL   string
}

func newScoreCmd() *cobra.Command {
	opts := &scoreOptions{}
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Re-scores static results and/or the findings of a saved run",
		Long: `Computes a risk breakdown offline. --static takes static analysis results
as JSON; --report takes a report written by "monitor --output"; --run-id loads a
run persisted in the configured store. Dynamic findings are rescored with the
currently configured weights.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.staticPath == "" && opts.reportPath == "" && opts.runID == "" {
				return fmt.Errorf("at least one of --static, --report or --run-id is required")
			}
			if opts.reportPath != "" && opts.runID != "" {
				return fmt.Errorf("--report and --run-id are mutually exclusive")
			}
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("store-url") {
				cfg.SetStoreURL(opts.storeURL)
			}
			logger := observability.GetLogger()

			var in schemas.CombinedResults
			if opts.staticPath != "" {
				if in.Static, err = loadStaticResults(opts.staticPath); err != nil {
					return err
				}
			}
			switch {
			case opts.reportPath != "":
				if in.Dynamic, err = loadReportFindings(opts.reportPath); err != nil {
					return err
				}
			case opts.runID != "":
				if in.Dynamic, err = loadStoredFindings(cmd.Context(), cfg.Store().URL, opts.runID, logger); err != nil {
					return err
				}
			}

			engine := risk.NewEngine(risk.WeightsFromConfig(cfg.Risk()), logger)
			breakdown := engine.Score(in)

			data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(breakdown, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode breakdown: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
	cmd.Flags().StringVar(&opts.staticPath, "static", "", "Static analysis results (JSON)")
	cmd.Flags().StringVar(&opts.reportPath, "report", "", "Report JSON written by the monitor command")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "ID of a run persisted in the store")
	cmd.Flags().StringVar(&opts.storeURL, "store-url", "", "PostgreSQL URL (overrides store.url)")
	return cmd
}

func loadReportFindings(path string) (map[schemas.Surface][]schemas.Finding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var report struct {
		Findings map[schemas.Surface][]schemas.Finding `json:"findings"`
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	return report.Findings, nil
}

// loadStoredFindings reads a persisted run's findings grouped by surface.
func loadStoredFindings(ctx context.Context, url, runID string, logger *zap.Logger) (map[schemas.Surface][]schemas.Finding, error) {
	if url == "" {
		return nil, errors.New("--run-id needs a store; set store.url or --store-url")
	}
	reader, closeReader, err := openFindingsReader(ctx, url, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer closeReader()

	findings, err := reader.GetFindingsByRunID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(findings) == 0 {
		logger.Warn("No findings stored for run", zap.String("run_id", runID))
	}
	grouped := make(map[schemas.Surface][]schemas.Finding)
	for _, f := range findings {
		grouped[f.Surface] = append(grouped[f.Surface], f)
	}
	return grouped, nil
}
