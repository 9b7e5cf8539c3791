package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"atmoscope/cmd/atmoscope/ui"
	"atmoscope/internal/diff"
	"atmoscope/internal/store"

	"github.com/spf13/cobra"
)

var (
	historyLimit      int
	historyTranscript bool
)

// historyCmd reads the run history
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded runs",
	Long: `List and inspect runs saved with "run --record" or store.record.

Subcommands:
  list          - List recent runs
  show <id>     - Show one run with its fields
  diff <a> <b>  - Compare two runs`,
	RunE: runHistoryList,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one recorded run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDiffCmd = &cobra.Command{
	Use:   "diff <old-id> <new-id>",
	Short: "Compare the fields and transcripts of two runs",
	Args:  cobra.ExactArgs(2),
	RunE:  runHistoryDiff,
}

func init() {
	historyCmd.PersistentFlags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum runs to list")
	historyShowCmd.Flags().BoolVar(&historyTranscript, "transcript", false, "Print the raw simulator output")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDiffCmd)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.ListRuns(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	printRunList(cmd.OutOrStdout(), runs)
	return nil
}

func printRunList(w io.Writer, runs []store.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No recorded runs.")
		return
	}

	t := ui.NewTable("Runs", "ID", "Started", "Duration", "Status", "Gases")
	for _, r := range runs {
		t.AddRow(r.ID, r.StartedAt.Local().Format(time.DateTime), r.Duration.Round(time.Millisecond).String(), string(r.Status), r.Gases)
	}
	fmt.Fprint(w, t.View(ui.DefaultStyles()))
	fmt.Fprintf(w, "Total: %d runs\n", len(runs))
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	run, err := s.GetRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printRun(cmd.OutOrStdout(), run, historyTranscript)
}

func printRun(w io.Writer, run *store.Run, transcript bool) error {
	styles := ui.DefaultStyles()

	info := ui.NewTable("Run "+run.ID, "Key", "Value")
	info.AddRow("started", run.StartedAt.Local().Format(time.DateTime))
	info.AddRow("duration", run.Duration.Round(time.Millisecond).String())
	info.AddRow("status", string(run.Status))
	info.AddRow("exit code", fmt.Sprint(run.ExitCode))
	info.AddRow("arguments", fmt.Sprint(run.Request.Args()))
	if run.Error != "" {
		info.AddRow("error", run.Error)
	}
	if run.Truncated {
		info.AddRow("transcript", "truncated")
	}
	fmt.Fprint(w, info.View(styles))

	if len(run.Fields) > 0 {
		var out bytes.Buffer
		if err := json.Indent(&out, run.Fields, "", "  "); err != nil {
			return fmt.Errorf("run %s: decode fields: %w", run.ID, err)
		}
		fmt.Fprintln(w, styles.Title.Render("Fields"))
		fmt.Fprintln(w, out.String())
	}

	if transcript {
		fmt.Fprintln(w, styles.Title.Render("Transcript"))
		_, err := w.Write(run.Transcript)
		return err
	}
	return nil
}

func runHistoryDiff(cmd *cobra.Command, args []string) error {
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	older, err := s.GetRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	newer, err := s.GetRun(cmd.Context(), args[1])
	if err != nil {
		return err
	}
	return printRunDiff(cmd.OutOrStdout(), older, newer)
}

// printRunDiff prints changed fields as a table, then the transcript diff.
func printRunDiff(w io.Writer, older, newer *store.Run) error {
	styles := ui.DefaultStyles()

	changes, err := diff.Fields(older.Fields, newer.Fields)
	if err != nil {
		return fmt.Errorf("compare %s and %s: %w", older.ID, newer.ID, err)
	}
	if len(changes) == 0 {
		fmt.Fprintln(w, styles.Muted.Render("Fields are identical."))
	} else {
		t := ui.NewTable("Changed fields", "Field", older.ID, newer.ID)
		for _, c := range changes {
			t.AddRow(c.Name, orDash(c.Old), orDash(c.New))
		}
		fmt.Fprint(w, t.View(styles))
	}

	if older.Truncated || newer.Truncated {
		fmt.Fprintln(w, styles.Warning.Render("A transcript was truncated; the line diff is partial."))
	}
	d := diff.Transcripts(older.ID, newer.ID, older.Transcript, newer.Transcript)
	if d.Equal() {
		fmt.Fprintln(w, styles.Muted.Render("Transcripts are identical."))
		return nil
	}
	return d.WriteUnified(w)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
