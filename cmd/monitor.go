package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/delver/api/schemas"
	"github.com/xkilldash9x/delver/internal/classify"
	"github.com/xkilldash9x/delver/internal/config"
	"github.com/xkilldash9x/delver/internal/controller"
	"github.com/xkilldash9x/delver/internal/metrics"
	"github.com/xkilldash9x/delver/internal/observability"
	"github.com/xkilldash9x/delver/internal/results"
	"github.com/xkilldash9x/delver/internal/risk"
	"github.com/xkilldash9x/delver/internal/store"
)

// Function variables for dependency injection in tests.
var (
	buildCollectors = controller.BuildCollectors
	connectStore    = func(ctx context.Context, url string, logger *zap.Logger) (results.Store, func(), error) {
		s, pool, err := store.Connect(ctx, url, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, pool.Close, nil
	}
)

// finalizeTimeout bounds scoring and persistence once the window has closed,
// which may be after the command context was cancelled by a signal.
const finalizeTimeout = 30 * time.Second

type monitorOptions struct {
	duration    time.Duration
	staticPath  string
	outputPath  string
	sample      string
	metricsAddr string
	storeURL    string
	joinTimeout time.Duration
}

func newMonitorCmd() *cobra.Command {
	opts := &monitorOptions{}
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Monitors the host while a sample runs, then classifies and scores what happened",
		Long: `Captures a baseline of every enabled surface, records changes until the
duration elapses or the process receives SIGINT/SIGTERM, then classifies the
changes and combines them with optional static results into a risk rating.
The sample itself must be started separately once monitoring has begun.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			applyMonitorOverrides(cmd, cfg, opts)
			return runMonitor(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 30*time.Second, "Length of the monitoring window (0 waits for a signal)")
	cmd.Flags().StringVar(&opts.staticPath, "static", "", "Static analysis results (JSON) to include in the score")
	cmd.Flags().StringVarP(&opts.outputPath, "output", "o", "", "Write the full report as JSON to this file")
	cmd.Flags().StringVar(&opts.sample, "sample", "", "Label for the sample under observation")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().StringVar(&opts.storeURL, "store-url", "", "PostgreSQL URL to persist the run to")
	cmd.Flags().DurationVar(&opts.joinTimeout, "join-timeout", 0, "How long to wait for collectors to stop")
	return cmd
}

// applyMonitorOverrides lets explicitly set flags win over file and environment values.
func applyMonitorOverrides(cmd *cobra.Command, cfg config.Interface, opts *monitorOptions) {
	if cmd.Flags().Changed("metrics-addr") {
		cfg.SetMetricsAddr(opts.metricsAddr)
	}
	if cmd.Flags().Changed("store-url") {
		cfg.SetStoreURL(opts.storeURL)
	}
	if cmd.Flags().Changed("join-timeout") && opts.joinTimeout > 0 {
		cfg.SetControllerJoinTimeout(opts.joinTimeout)
	}
}

func runMonitor(ctx context.Context, cfg config.Interface, opts *monitorOptions, out io.Writer) error {
	logger := observability.GetLogger()
	if opts.duration < 0 {
		return fmt.Errorf("duration cannot be negative")
	}

	var static schemas.StaticResults
	if opts.staticPath != "" {
		loaded, err := loadStaticResults(opts.staticPath)
		if err != nil {
			return err
		}
		static = loaded
	}

	m := metrics.New(nil)
	if addr := cfg.Metrics().Addr; addr != "" {
		shutdown := serveMetrics(addr, m, logger)
		defer shutdown()
	}

	cols := buildCollectors(cfg.Monitor(), m, logger)
	ctrl, err := controller.New(cols, classify.Defaults(), controller.Options{
		JoinTimeout: cfg.Controller().JoinTimeout,
		Metrics:     m,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	window := results.Window{Start: time.Now()}
	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start monitoring: %w", err)
	}
	logger.Info("Monitoring started, launch the sample now", zap.Duration("duration", opts.duration))
	waitForWindow(ctx, opts.duration)
	ctrl.Stop()
	window.End = time.Now()

	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	var st results.Store
	if url := cfg.Store().URL; url != "" {
		s, closeStore, err := connectStore(finalCtx, url, logger)
		if err != nil {
			// The report is still produced; only persistence is lost.
			logger.Error("Store unavailable, run will not be persisted", zap.Error(err))
		} else {
			defer closeStore()
			st = s
		}
	}

	engine := risk.NewEngine(risk.WeightsFromConfig(cfg.Risk()), logger).WithMetrics(m)
	pipeline, err := results.NewPipeline(engine, st, logger)
	if err != nil {
		return err
	}
	report, persistErr := pipeline.Process(finalCtx, results.Run{
		Sample:   opts.sample,
		Static:   static,
		Findings: ctrl.Findings(),
		Outcomes: ctrl.Outcomes(),
		Window:   window,
	})
	if report == nil {
		return persistErr
	}

	if err := printSummary(out, report); err != nil {
		return err
	}
	if opts.outputPath != "" {
		if err := report.WriteFile(opts.outputPath); err != nil {
			return err
		}
		logger.Info("Report written", zap.String("path", opts.outputPath))
	}
	return persistErr
}

// waitForWindow blocks until d elapses or ctx is done. A zero d waits for ctx only.
func waitForWindow(ctx context.Context, d time.Duration) {
	if d == 0 {
		<-ctx.Done()
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func loadStaticResults(path string) (schemas.StaticResults, error) {
	var static schemas.StaticResults
	data, err := os.ReadFile(path)
	if err != nil {
		return static, fmt.Errorf("failed to read static results: %w", err)
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &static); err != nil {
		return static, fmt.Errorf("failed to decode static results %s: %w", path, err)
	}
	return static, nil
}

// serveMetrics exposes /metrics on addr and returns a shutdown func.
func serveMetrics(addr string, m *metrics.Metrics, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("Serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}
}

func printSummary(w io.Writer, r *results.Report) error {
	b := r.Breakdown
	lines := []string{
		fmt.Sprintf("Run %s (%s)", r.RunID, r.Duration().Round(time.Millisecond)),
		fmt.Sprintf("Rating: %s", b.Rating),
		fmt.Sprintf("Score:  %d (static %d, dynamic %d)", b.TotalScore, b.StaticTotal, b.DynamicTotal),
		fmt.Sprintf("Findings: %d high, %d medium, %d total",
			r.Summary[string(schemas.RiskHigh)], r.Summary[string(schemas.RiskMedium)], r.Summary["total"]),
	}
	for _, o := range r.Outcomes {
		line := fmt.Sprintf("  %-12s %-9s score %-4d findings %d", o.Surface, o.Status, b.Dynamic[string(o.Surface)], len(r.Findings[o.Surface]))
		if o.Error != "" {
			line += "  (" + o.Error + ")"
		}
		lines = append(lines, line)
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
