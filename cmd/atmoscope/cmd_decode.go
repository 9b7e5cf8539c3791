package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"atmoscope/cmd/atmoscope/ui"
	"atmoscope/internal/blockfmt"
	"atmoscope/internal/extract"
	"atmoscope/internal/session"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type decodeOptions struct {
	reformat bool
	json     bool
	blocks   bool
}

var decodeOpts decodeOptions

// decodeCmd decodes a captured transcript offline
var decodeCmd = &cobra.Command{
	Use:   "decode [file|-]",
	Short: "Decode a captured simulator transcript",
	Long: `Runs a saved simulator transcript through the same decoder and extraction
rules a live run uses. Reads standard input when the file is "-" or omitted.

The end of the input stands in for the completion signal.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeOpts.reformat, "reformat", false, "Print the decoded blocks in canonical form")
	decodeCmd.Flags().BoolVar(&decodeOpts.json, "json", false, "Print the extracted fields as JSON")
	decodeCmd.Flags().BoolVar(&decodeOpts.blocks, "blocks", false, "Print the decoded blocks as JSON instead of extracting fields")
}

func runDecode(cmd *cobra.Command, args []string) error {
	name := "-"
	if len(args) == 1 {
		name = args[0]
	}

	var r io.Reader = cmd.InOrStdin()
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return fmt.Errorf("failed to open transcript: %w", err)
		}
		defer f.Close()
		r = f
	}

	return decodeTranscript(cmd.Context(), cmd.OutOrStdout(), r, filepath.Base(name), decodeOpts)
}

// decodeTranscript decodes r and prints what opts asks for.
func decodeTranscript(ctx context.Context, w io.Writer, r io.Reader, id string, opts decodeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	final, err := session.Decode(ctx, id, r, nil)
	if err != nil {
		return err
	}
	logger.Debug("Transcript decoded",
		zap.String("id", id),
		zap.Int("lines", final.Lines()),
		zap.Int("blocks", final.ResultSet().Len()),
		zap.Int("ignored", final.Ignored()))

	switch {
	case opts.reformat:
		return blockfmt.NewEncoder(w).Encode(final.ResultSet())
	case opts.blocks:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(final.ResultSet())
	}

	res, err := extract.Extract(final, extract.DefaultRules)
	if err != nil {
		return describeFailure(err)
	}
	if !opts.json && final.Ignored() > 0 {
		styles := ui.DefaultStyles()
		fmt.Fprintln(w, styles.Warning.Render(fmt.Sprintf("%d lines did not match the block format", final.Ignored())))
	}
	return printResult(w, res, opts.json)
}
