package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/vtc-sched/sched"
	"github.com/inference-sim/vtc-sched/sched/engine"
	"github.com/inference-sim/vtc-sched/sched/telemetry"
	"github.com/inference-sim/vtc-sched/sched/trace"
	"github.com/inference-sim/vtc-sched/sched/workload"
)

// runOptions holds the CLI flags for the run and validate commands.
type runOptions struct {
	configPath   string // YAML run configuration (scheduler + engine)
	workloadPath string // YAML workload spec
	policy       string // overrides scheduler.policy when set
	maxTicks     int64  // 0 = run until all work is done
	seed         int64  // overrides the workload seed when the flag is set
	seedSet      bool
	logLevel     string
	traceLevel   string
	traceOutput  string // file for the decision trace YAML ("" = don't write)
	metricsAddr  string // serve Prometheus metrics here while running ("" = off)
}

var opts runOptions

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "vtc-sched",
	Short: "Virtual Token Counter fair scheduler for LLM serving",
}

// runCmd generates a workload and runs it through the scheduler with a simulated engine
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a workload through the scheduler and print fairness metrics",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(opts.logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", opts.logLevel)
		}
		logrus.SetLevel(level)
		opts.seedSet = cmd.Flags().Changed("seed")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := runScheduler(ctx, opts, os.Stdout); err != nil {
			logrus.Fatalf("run failed: %v", err)
		}
	},
}

// validateCmd checks configuration and workload files without running anything
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the run configuration and workload files",
	Run: func(cmd *cobra.Command, args []string) {
		if err := validateFiles(opts); err != nil {
			logrus.Fatalf("invalid: %v", err)
		}
		fmt.Println("configuration and workload are valid")
	},
}

// loadInputs reads and validates the configuration and workload, applying flag overrides.
func loadInputs(o runOptions) (RunConfig, *workload.WorkloadSpec, error) {
	cfg := DefaultRunConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = LoadRunConfig(o.configPath); err != nil {
			return cfg, nil, err
		}
	}
	if o.policy != "" {
		cfg.Scheduler.Policy = o.policy
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	if !trace.IsValidTraceLevel(o.traceLevel) {
		return cfg, nil, fmt.Errorf("unknown trace level %q", o.traceLevel)
	}

	spec, err := loadWorkload(o.workloadPath)
	if err != nil {
		return cfg, nil, err
	}
	if o.seedSet {
		spec.Seed = o.seed
	}
	if err := spec.Validate(); err != nil {
		return cfg, nil, fmt.Errorf("workload: %w", err)
	}
	return cfg, spec, nil
}

func validateFiles(o runOptions) error {
	_, _, err := loadInputs(o)
	return err
}

// runScheduler wires the simulated engine, the scheduler and the optional
// observability outputs, replays the workload, and prints the summary to out.
func runScheduler(ctx context.Context, o runOptions, out io.Writer) error {
	cfg, spec, err := loadInputs(o)
	if err != nil {
		return err
	}
	requests, err := workload.GenerateRequests(spec)
	if err != nil {
		return err
	}

	alloc, err := engine.NewBlockAllocator(cfg.Engine.TotalKVBlocks, cfg.Engine.BlockSize)
	if err != nil {
		return err
	}
	latency, err := engine.NewLatencyModel(cfg.Engine.Latency)
	if err != nil {
		return err
	}
	eng := engine.NewSimulated(alloc, latency)

	var schedOpts []sched.Option
	var st *trace.SchedulingTrace
	if trace.TraceLevel(o.traceLevel) == trace.TraceLevelDecisions {
		st = trace.NewSchedulingTrace(trace.TraceConfig{Level: trace.TraceLevelDecisions})
		schedOpts = append(schedOpts, sched.WithTrace(st))
	}
	if o.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		schedOpts = append(schedOpts, sched.WithRecorder(telemetry.NewRecorder(reg)))
		server := serveMetrics(o.metricsAddr, reg)
		defer shutdown(server)
	}

	s, err := sched.New(cfg.Scheduler, eng, alloc, schedOpts...)
	if err != nil {
		return err
	}

	logrus.Infof("Starting %s run: %d requests from %d clients, %d KV blocks of %d tokens",
		s.Config().Policy, len(requests), len(spec.Clients), cfg.Engine.TotalKVBlocks, cfg.Engine.BlockSize)
	start := time.Now()
	if err := s.RunTrace(ctx, requests, o.maxTicks); err != nil {
		return err
	}
	logrus.Infof("Run complete in %s (%d ticks)", time.Since(start), s.CurrentTick())

	s.Metrics().Print(out)
	if st != nil {
		printTraceSummary(out, trace.Summarize(st))
		if o.traceOutput != "" {
			if err := writeTrace(o.traceOutput, st); err != nil {
				return err
			}
		}
	}
	return nil
}

func printTraceSummary(out io.Writer, summary *trace.TraceSummary) {
	fmt.Fprintln(out, "=== Decision Trace ===")
	fmt.Fprintf(out, "Admissions           : %d (%d rejected)\n", summary.TotalAdmissions, summary.RejectedCount)
	var tokens int64
	for _, n := range summary.SelectedTokens {
		tokens += n
	}
	fmt.Fprintf(out, "Prefill Selections   : %d (%d tokens)\n", summary.TotalSelections, tokens)
	fmt.Fprintf(out, "Preemptions          : %d\n", summary.TotalPreemptions)
	fmt.Fprintf(out, "Rebases              : %d\n", summary.TotalRebases)
}

func writeTrace(path string, st *trace.SchedulingTrace) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating trace file: %w", err)
	}
	defer f.Close()
	if err := st.WriteYAML(f); err != nil {
		return fmt.Errorf("writing trace: %w", err)
	}
	logrus.Infof("Decision trace written to %s", path)
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("metrics server on %s: %v", addr, err)
		}
	}()
	logrus.Infof("Serving Prometheus metrics on %s/metrics", addr)
	return server
}

func shutdown(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("metrics server shutdown failed: %v", err)
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&opts.configPath, "config", "", "YAML run configuration (scheduler and engine sections)")
	cmd.Flags().StringVar(&opts.workloadPath, "workload", "", "YAML workload spec (default: built-in two-client workload)")
	cmd.Flags().StringVar(&opts.policy, "policy", "", "Scheduling policy override (vtc, vtc-sarathi)")
	cmd.Flags().Int64Var(&opts.seed, "seed", 42, "Seed for workload generation (overrides the workload file)")
	cmd.Flags().StringVar(&opts.traceLevel, "trace-level", "none", "Decision trace level (none, decisions)")
}

// init sets up CLI flags and subcommands
func init() {
	addInputFlags(runCmd)
	runCmd.Flags().Int64Var(&opts.maxTicks, "max-ticks", 0, "Stop after this many ticks (0 = until all requests are done)")
	runCmd.Flags().StringVar(&opts.logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&opts.traceOutput, "trace-output", "", "Write the decision trace as YAML to this file (requires --trace-level decisions)")
	runCmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running (e.g. :9090)")

	addInputFlags(validateCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
