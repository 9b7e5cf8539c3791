package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"atmoscope/cmd/atmoscope/ui"
	"atmoscope/internal/config"
	"atmoscope/internal/extract"
	"atmoscope/internal/orchestrator"
	"atmoscope/internal/tactile"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runOptions are the run command's output switches.
type runOptions struct {
	tui    bool
	record bool
	json   bool
	quiet  bool
}

var (
	runRequest  orchestrator.ComputeRequest
	runDoRetest string
	runOpts     runOptions
)

// runCmd runs the simulator once
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one simulation and print the extracted result",
	Long: `Runs the simulator with the given targets, relays its output line by line,
and prints the fields extracted from the final report.

Fields left empty fall back to the defaults section of the config file.

Example:
  atmoscope run --gas1 plasma --gas2 tritium --mixt1 70 --ticks 60`,
	Args: cobra.NoArgs,
	RunE: runSimulation,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runRequest.Gas1, "gas1", "", "First fuel gas")
	f.StringVar(&runRequest.Gas2, "gas2", "", "Second fuel gas")
	f.StringVar(&runRequest.Gas3, "gas3", "", "Primer gas")
	f.StringVar(&runRequest.Mixt1, "mixt1", "", "Lower fuel temperature bound (K)")
	f.StringVar(&runRequest.Mixt2, "mixt2", "", "Upper fuel temperature bound (K)")
	f.StringVar(&runRequest.Thirt1, "thirt1", "", "Lower primer temperature bound (K)")
	f.StringVar(&runRequest.Thirt2, "thirt2", "", "Upper primer temperature bound (K)")
	f.StringVar(&runRequest.Ticks, "ticks", "", "Simulation tick limit")
	f.StringVar(&runDoRetest, "doretest", "", "Retest the best result: y or n (default from config)")
	f.BoolVar(&runOpts.tui, "tui", false, "Show a live view instead of raw output")
	f.BoolVar(&runOpts.record, "record", false, "Save the run to the history store")
	f.BoolVar(&runOpts.json, "json", false, "Print the result as JSON")
	f.BoolVarP(&runOpts.quiet, "quiet", "q", false, "Do not print simulator output")
}

func runSimulation(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defaults := defaultsFromConfig(cfg)
	req := runRequest.WithDefaults(defaults)
	req.DoRetest = defaults.DoRetest
	if runDoRetest != "" {
		retest, err := orchestrator.ParseYesNo(runDoRetest)
		if err != nil {
			return err
		}
		req.DoRetest = retest
	}

	return computeOnce(ctx, cmd.OutOrStdout(), cfg, req, runOpts)
}

// computeOnce runs one job to completion and prints its outcome to w.
func computeOnce(ctx context.Context, w io.Writer, c *config.Config, req orchestrator.ComputeRequest, opts runOptions) error {
	audit := tactile.NewAuditLogger()
	exec := newExecutor(c, audit)

	var orchOpts []orchestrator.Option
	if opts.record || c.Store.Record {
		s, err := openStore(c)
		if err != nil {
			return err
		}
		defer s.Close()
		orchOpts = append(orchOpts, orchestrator.WithRecorder(s))
	}

	orch := orchestrator.New(exec, settingsFromConfig(c), orchOpts...)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	job, err := orch.Submit(ctx, req)
	if err != nil {
		return err
	}
	logger.Info("Job started", zap.String("job", job.ID), zap.Strings("args", req.Args()))

	var res *extract.Result
	if opts.tui {
		res, err = watchLive(job, cancel)
	} else {
		res, err = streamOutput(w, job, opts.quiet)
	}

	m := audit.GetMetrics()
	logger.Debug("Job finished",
		zap.String("job", job.ID),
		zap.Float64("avg_duration_ms", m.AvgDurationMs),
		zap.Int64("cpu_ms", m.TotalCPUTimeMs))

	if err != nil {
		return describeFailure(err)
	}
	return printResult(w, res, opts.json)
}

// streamOutput relays every line to w and returns the job's outcome.
func streamOutput(w io.Writer, job *orchestrator.Job, quiet bool) (*extract.Result, error) {
	for n := range job.Notifications() {
		if n.Kind == orchestrator.KindLine && !quiet {
			fmt.Fprintln(w, n.Line)
		}
	}
	return job.Outcome()
}

// watchLive runs the bubbletea view on stderr until the job reports.
func watchLive(job *orchestrator.Job, cancel func()) (*extract.Result, error) {
	model := ui.NewLive(job, ui.DefaultStyles(), cancel)
	final, err := tea.NewProgram(model, tea.WithOutput(os.Stderr)).Run()
	if err != nil {
		cancel()
		orchestrator.Discard(job)
		return nil, fmt.Errorf("live view failed: %w", err)
	}
	live := final.(ui.Live)
	if !live.Done() {
		orchestrator.Discard(job)
		return job.Outcome()
	}
	return live.Outcome()
}

// drain discards the remaining notifications so the job can finish.
func describeFailure(err error) error {
	var malformed *extract.MalformedFieldError
	var external *orchestrator.ExternalFailureError
	switch {
	case errors.As(err, &malformed):
		return fmt.Errorf("simulator report is malformed: %w", err)
	case errors.As(err, &external) && external.ExitCode > 0:
		return fmt.Errorf("simulator exited with status %d: %w", external.ExitCode, err)
	}
	return err
}

func printResult(w io.Writer, res *extract.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprint(w, ui.ResultTable(res).View(ui.DefaultStyles()))
	return nil
}
