/*
Command simcore is the thin CLI wrapper around the simulation core: it
owns trace/config file paths, output directories, the metrics HTTP
endpoint, and persisted run history, and delegates every scheduling
decision to pkg/simdriver. None of the FCFS + EASY backfill logic lives
here.
*/
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cuemby/schedulus/pkg/simdriver"
	"github.com/cuemby/schedulus/pkg/simlog"
	"github.com/cuemby/schedulus/pkg/simmetrics"
	"github.com/cuemby/schedulus/pkg/simstore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
	}
	exit(0)
}

// logWriter is the async file writer behind --log-file, kept so exit can
// drain it before the process goes away.
var logWriter *simlog.AsyncWriter

// exit flushes the async log writer, if any, then terminates with code.
// Every path out of the process goes through here so log lines queued by
// the last few events are not lost.
func exit(code int) {
	if logWriter != nil {
		_ = logWriter.Close()
	}
	os.Exit(code)
}

var rootCmd = &cobra.Command{
	Use:   "simcore",
	Short: "Discrete-event simulator for FCFS + EASY-backfill batch schedulers",
	Long: `simcore replays an SWF job trace against a fixed resource pool,
reproducing the exact submit/start/end event sequence a FCFS queue with
EASY backfilling would produce, plus per-tick utilization and average
wait observations.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"simcore version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("log-file", "", "Write logs to this file through an async writer instead of stdout")
	rootCmd.PersistentFlags().Uint64("seed", 1, "PRNG seed driving deterministic allocator/backfill choices")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Address to serve Prometheus metrics on (empty disables the endpoint)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(stepCmd)
	rootCmd.AddCommand(runsCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	logFile, _ := rootCmd.PersistentFlags().GetString("log-file")

	cfg := simlog.Config{
		Level:      simlog.Level(logLevel),
		JSONOutput: logJSON,
	}
	if logFile != "" {
		f, err := os.Create(logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: opening log file: %v\n", err)
			exit(1)
		}
		logWriter = simlog.NewAsyncWriter(f, 0)
		cfg.Output = logWriter
	}
	simlog.Init(cfg)
}

// exitCode maps an error surfaced by the simulation core to the process
// exit code: 1 for malformed input (trace/config errors), 2 for a
// ContractViolation or InvariantViolation (a trace/implementation bug,
// not ordinary user error).
func exitCode(err error) int {
	var contractErr *simdriver.ContractViolation
	var invariantErr *simdriver.InvariantViolation
	if errors.As(err, &contractErr) || errors.As(err, &invariantErr) {
		return 2
	}
	return 1
}

// startMetricsServer starts the Prometheus scrape endpoint in the
// background if addr is non-empty, returning a shutdown func.
func startMetricsServer(addr string, logger zerolog.Logger) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", simmetrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// buildSimulator reads the trace and config, opens the run store, primes
// the calendar, and wires a simstore.EventSink into the broker so every
// dispatched event is persisted synchronously alongside the CSV log. It
// is shared by simulate and step since both commands initialize
// identically and differ only in how they drain the calendar afterward.
func buildSimulator(cmd *cobra.Command, tracePath, configPath, outputDir string) (*simdriver.Simulator, *simstore.Store, *simstore.EventSink, string, error) {
	seed, _ := cmd.Flags().GetUint64("seed")

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, nil, nil, "", fmt.Errorf("creating output directory: %w", err)
	}

	store, err := simstore.Open(outputDir)
	if err != nil {
		return nil, nil, nil, "", err
	}

	runID := uuid.NewString()
	logger := simlog.WithRunID(runID)

	sim := simdriver.New(seed, logger)
	if err := sim.ReadTrace(tracePath, configPath); err != nil {
		store.Close()
		return nil, nil, nil, "", err
	}
	if err := sim.Initialize(outputDir); err != nil {
		store.Close()
		return nil, nil, nil, "", err
	}

	sink := simstore.NewEventSink(store, runID)
	sim.AddEventSink(sink)

	return sim, store, sink, runID, nil
}

var simulateCmd = &cobra.Command{
	Use:   "simulate <trace> <config> <output_dir>",
	Short: "Run a trace to completion and write the event log",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		tracePath, configPath, outputDir := args[0], args[1], args[2]
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		seed, _ := cmd.Flags().GetUint64("seed")

		sim, store, sink, runID, err := buildSimulator(cmd, tracePath, configPath, outputDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exit(exitCode(err))
		}
		defer store.Close()
		defer sim.Close()

		logger := simlog.WithRunID(runID)
		stopMetrics := startMetricsServer(metricsAddr, logger)
		defer stopMetrics()

		startedAt := time.Now().Unix()
		runErr := sim.Run()

		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
			exit(exitCode(runErr))
		}

		obs := sim.Observe()
		summary := &simstore.RunSummary{
			ID:          runID,
			TracePath:   tracePath,
			ConfigPath:  configPath,
			Seed:        seed,
			Nodes:       sim.Nodes(),
			StartedAt:   startedAt,
			FinishedAt:  time.Now().Unix(),
			EventCount:  sink.Count(),
			AverageWait: obs.AverageWait,
			Utilization: obs.Utilization,
		}
		if err := store.PutRun(summary); err != nil {
			logger.Warn().Err(err).Msg("failed to persist run summary")
		}

		fmt.Printf("run %s: %d events, final utilization=%.4f avg_wait=%.2f (events.csv, schedulus.db under %s)\n",
			runID, sink.Count(), obs.Utilization, obs.AverageWait, outputDir)
		return nil
	},
}

var stepCmd = &cobra.Command{
	Use:   "step <trace> <config> <output_dir>",
	Short: "Drain the calendar one event at a time from an interactive prompt",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		tracePath, configPath, outputDir := args[0], args[1], args[2]
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		sim, store, _, runID, err := buildSimulator(cmd, tracePath, configPath, outputDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exit(exitCode(err))
		}
		defer store.Close()
		defer sim.Close()

		logger := simlog.WithRunID(runID)
		stopMetrics := startMetricsServer(metricsAddr, logger)
		defer stopMetrics()

		fmt.Println("Interactive step mode. Commands: step, run, observe, quit")
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				return nil
			}

			line := strings.TrimSpace(scanner.Text())
			switch line {
			case "":
				continue
			case "step":
				more, err := sim.Step()
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					exit(exitCode(err))
				}
				if !more {
					fmt.Println("calendar drained")
				}
			case "run":
				if err := sim.Run(); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					exit(exitCode(err))
				}
				fmt.Println("calendar drained")
			case "observe":
				obs := sim.Observe()
				fmt.Printf("t=%d utilization=%.4f avg_wait=%.2f queue=%d scheduled=%d running=%d\n",
					obs.Timestamp, obs.Utilization, obs.AverageWait, obs.QueueLen, obs.ScheduledLen, obs.RunningLen)
			case "quit", "exit":
				return nil
			default:
				fmt.Println("unknown command; try: step, run, observe, quit")
			}
		}
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect persisted simulation runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list <output_dir>",
	Short: "List every run persisted under output_dir's run store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := simstore.Open(args[0])
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.ListRuns()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs found")
			return nil
		}

		fmt.Printf("%-36s %-6s %-8s %-10s %s\n", "RUN ID", "NODES", "EVENTS", "UTIL", "AVG WAIT")
		for _, r := range runs {
			fmt.Printf("%-36s %-6d %-8d %-10.4f %.2f\n", r.ID, r.Nodes, r.EventCount, r.Utilization, r.AverageWait)
		}
		return nil
	},
}

var runsInspectCmd = &cobra.Command{
	Use:   "inspect <output_dir> <run_id>",
	Short: "Show a run's summary and full event history",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		outputDir, runID := args[0], args[1]

		store, err := simstore.Open(outputDir)
		if err != nil {
			return err
		}
		defer store.Close()

		run, err := store.GetRun(runID)
		if err != nil {
			return err
		}
		fmt.Printf("Run: %s\n", run.ID)
		fmt.Printf("  Trace:       %s\n", run.TracePath)
		fmt.Printf("  Config:      %s\n", run.ConfigPath)
		fmt.Printf("  Seed:        %d\n", run.Seed)
		fmt.Printf("  Nodes:       %d\n", run.Nodes)
		fmt.Printf("  Events:      %d\n", run.EventCount)
		fmt.Printf("  Utilization: %.4f\n", run.Utilization)
		fmt.Printf("  Avg wait:    %.2f\n", run.AverageWait)

		events, err := store.ListEvents(runID)
		if err != nil {
			return err
		}
		fmt.Println("\nEvents:")
		for _, ev := range events {
			fmt.Printf("  %d,%s,%d\n", ev.Time, ev.Kind, ev.JobID)
		}
		return nil
	},
}

func init() {
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsInspectCmd)
}
