package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"trialsim/adapters/export"
	"trialsim/app"
	"trialsim/domain/trial"
	"trialsim/internal/config"
	"trialsim/internal/container"
	"trialsim/internal/scenario"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "trialsim-cli",
		Short:         "Simulate adaptive three-arm group-sequential trials",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newSimulateCmd(),
		newBatchCmd(),
		newLastCmd(),
		newHistoryCmd(),
		newExportCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withContainer builds the application graph for one command and tears it
// down afterwards. Jobs are never started; the CLI runs synchronously.
func withContainer(ctx context.Context, fn func(*container.Container) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	c, err := container.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Close(closeCtx); err != nil {
			c.Logger.Warn("close: %v", err)
		}
	}()

	return fn(c)
}

func newSimulateCmd() *cobra.Command {
	cfg := trial.DefaultConfig()
	var (
		seed    int64
		label   string
		out     string
		asJSON  bool
		quiet   bool
		effects []float64
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run one simulation batch and store it as the latest result",
		Long: `Run one simulation batch: the configured trials, the matching null-hypothesis
trials for the type I error rate, and the power-curve sweep.

Example: trialsim-cli simulate --effects 20,35,30 --n 500 --looks 3 --seed 42 --out run.xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ArmsEffects = effects
			req := app.SimulationRequest{Config: cfg, Label: label}
			if cmd.Flags().Changed("seed") {
				req.Seed = &seed
			}
			if !quiet && !asJSON {
				req.Progress = progressPrinter(cmd)
			}

			return withContainer(cmd.Context(), func(c *container.Container) error {
				outcome, err := c.Simulations.Run(cmd.Context(), req)
				if err != nil {
					return err
				}
				for _, w := range outcome.PersistenceWarnings {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
				}
				if out != "" {
					if err := writeExport(out, "", outcome.Record); err != nil {
						return err
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", out)
				}
				if asJSON {
					return printJSON(cmd, outcome.Record)
				}
				printRecord(cmd, outcome.Record)
				return nil
			})
		},
	}

	cmd.Flags().Float64SliceVar(&effects, "effects", cfg.ArmsEffects, "Response rates in percent: control,treatment1,treatment2")
	cmd.Flags().IntVar(&cfg.SampleSizePerArm, "n", cfg.SampleSizePerArm, "Maximum sample size per arm")
	cmd.Flags().IntVar(&cfg.InterimLooks, "looks", cfg.InterimLooks, "Number of interim looks")
	cmd.Flags().Float64Var(&cfg.FutilityThreshold, "futility", cfg.FutilityThreshold, "Posterior-mean futility threshold")
	cmd.Flags().Float64Var(&cfg.ConfidenceLevel, "confidence", cfg.ConfidenceLevel, "Confidence level in percent")
	cmd.Flags().IntVar(&cfg.NumSimulations, "sims", cfg.NumSimulations, "Number of simulated trials")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Base seed; omitted means the configured default or a fresh seed")
	cmd.Flags().StringVar(&label, "label", "", "Free-form label stored with the run")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Also export the run to this file (format from extension)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run record as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	return cmd
}

func newBatchCmd() *cobra.Command {
	var (
		baseSeed int64
		outDir   string
		format   string
		summary  string
	)

	cmd := &cobra.Command{
		Use:   "batch [scenario-file]",
		Short: "Run every scenario of a YAML, XLSX or CSV file",
		Long: `Run a set of named scenarios concurrently. Each scenario's seed derives from
its name and the base seed, so results do not depend on scheduling.

Example: trialsim-cli batch scenarios.yaml --base-seed 7 --out-dir reports --format html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarios, err := scenario.LoadFile(args[0])
			if err != nil {
				return fmt.Errorf("load scenarios: %w", err)
			}
			var exportFormat export.Format
			if outDir != "" {
				if exportFormat, err = export.ParseFormat(format); err != nil {
					return err
				}
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return err
				}
			}

			return withContainer(cmd.Context(), func(c *container.Container) error {
				result, err := c.Batches.Run(cmd.Context(), app.BatchRequest{
					Scenarios: scenarios,
					BaseSeed:  baseSeed,
					Progress: func(name string, completed, total int) {
						fmt.Fprintf(cmd.ErrOrStderr(), "[%d/%d] %s\n", completed, total, name)
					},
				})
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SCENARIO\tSEED\tPOWER T1\tPOWER T2\tTYPE I\tAVG N\tSTATUS")
				for _, o := range result.Outcomes {
					if o.Failed() {
						fmt.Fprintf(tw, "%s\t%d\t-\t-\t-\t-\t%s: %s\n", o.Name, o.Seed, o.Code, o.Error)
						continue
					}
					r := o.Record.Result
					fmt.Fprintf(tw, "%s\t%d\t%.1f%%\t%.1f%%\t%.1f%%\t%.0f\tok\n",
						o.Name, o.Seed, r.Power.Treatment1, r.Power.Treatment2, r.TypeIErrorRate, r.AverageFinalSampleSize)
					if outDir != "" {
						path := filepath.Join(outDir, o.Name+"."+string(exportFormat))
						if err := export.WriteFile(path, exportFormat, o.Record); err != nil {
							return err
						}
					}
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				if summary != "" {
					if err := writeSummary(summary, result); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\n%d succeeded, %d failed in %s\n",
					result.Succeeded, result.Failed, result.Duration.Round(time.Millisecond))
				return result.FirstFailure()
			})
		},
	}

	cmd.Flags().Int64Var(&baseSeed, "base-seed", 42, "Seed every scenario stream derives from")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Export each successful scenario into this directory")
	cmd.Flags().StringVar(&format, "format", string(export.FormatCSV), "Export format for --out-dir")
	cmd.Flags().StringVar(&summary, "summary", "", "Write a CSV results table with one row per scenario")
	return cmd
}

func newLastCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "last",
		Short: "Show the most recent simulation result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(c *container.Container) error {
				record, err := c.Simulations.LastResult(cmd.Context())
				if app.IsCacheMiss(err) {
					fmt.Fprintln(cmd.OutOrStdout(), "no simulation has been run yet")
					return nil
				}
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd, record)
				}
				printRecord(cmd, record)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run record as JSON")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored runs, newest first",
		Long: `List stored runs, newest first. Runs outlive the process only when
DATABASE_URL points at Postgres.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(c *container.Container) error {
				records, err := c.Simulations.History(cmd.Context(), limit, offset)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no runs stored")
					return nil
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCREATED\tLABEL\tN/ARM\tSEED\tPOWER T1\tPOWER T2\tTYPE I")
				for _, r := range records {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.1f%%\t%.1f%%\t%.1f%%\n",
						r.ID, r.CreatedAt.Time().Format(time.DateTime), r.Label, r.Config.SampleSizePerArm, r.Seed,
						r.Result.Power.Treatment1, r.Result.Power.Treatment2, r.Result.TypeIErrorRate)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Runs to skip")
	return cmd
}

func newExportCmd() *cobra.Command {
	var (
		runID  string
		format string
	)

	cmd := &cobra.Command{
		Use:   "export [output-file]",
		Short: "Export a stored run as CSV, XLSX, PNG, HTML or Markdown",
		Long: `Export a stored run. The format comes from --format or the file extension.

Example: trialsim-cli export report.html --run last`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(c *container.Container) error {
				record, err := c.Simulations.GetRun(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if err := writeExport(args[0], format, record); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported run %s to %s\n", record.ID, args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&runID, "run", "last", "Run id, or \"last\" for the latest result")
	cmd.Flags().StringVar(&format, "format", "", "Export format; defaults to the output file extension")
	return cmd
}

func writeExport(path, format string, record *trial.RunRecord) error {
	if format == "" {
		format = filepath.Ext(path)
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		return err
	}
	return export.WriteFile(path, f, record)
}

func writeSummary(path string, result *app.BatchResult) error {
	rows := make([]export.ScenarioRow, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		rows = append(rows, export.ScenarioRow{Name: o.Name, Seed: o.Seed, Record: o.Record, Error: o.Error})
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteScenarioTable(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func progressPrinter(cmd *cobra.Command) func(completed, total int) {
	last := -1
	return func(completed, total int) {
		if total == 0 {
			return
		}
		pct := completed * 100 / total
		if pct == last {
			return
		}
		last = pct
		fmt.Fprintf(cmd.ErrOrStderr(), "\rsimulating... %3d%%", pct)
		if completed >= total {
			fmt.Fprintln(cmd.ErrOrStderr())
		}
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRecord(cmd *cobra.Command, record *trial.RunRecord) {
	r := record.Result
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run %s (seed %d, %s)\n", record.ID, record.Seed, record.Result.EngineVersion)
	if record.Label != "" {
		fmt.Fprintf(w, "Label: %s\n", record.Label)
	}
	fmt.Fprintf(w, "Effects: %v  n/arm: %d  looks: %d  futility: %.3f  confidence: %.0f%%  sims: %d\n\n",
		record.Config.ArmsEffects, record.Config.SampleSizePerArm, record.Config.InterimLooks,
		record.Config.FutilityThreshold, record.Config.ConfidenceLevel, record.Config.NumSimulations)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Power treatment 1\t%.1f%%\t[%.1f, %.1f]\n", r.Power.Treatment1, r.PowerInterval.Treatment1.Lower, r.PowerInterval.Treatment1.Upper)
	fmt.Fprintf(tw, "Power treatment 2\t%.1f%%\t[%.1f, %.1f]\n", r.Power.Treatment2, r.PowerInterval.Treatment2.Lower, r.PowerInterval.Treatment2.Upper)
	fmt.Fprintf(tw, "Type I error rate\t%.1f%%\t[%.1f, %.1f]\n", r.TypeIErrorRate, r.TypeIErrorInterval.Lower, r.TypeIErrorInterval.Upper)
	fmt.Fprintf(tw, "Average final sample size\t%.1f\t\n", r.AverageFinalSampleSize)
	fmt.Fprintf(tw, "Average looks\t%.2f\t\n", r.AverageLooks)
	fmt.Fprintf(tw, "Early stop rate\t%.1f%%\t\n", r.EarlyStopRate)
	_ = tw.Flush()

	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
}
