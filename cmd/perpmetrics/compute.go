package main

import (
	"PerpMetrics/internal/core"
	"PerpMetrics/internal/observability"
	"PerpMetrics/internal/position"
	"PerpMetrics/internal/query"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// computeOutput is the pipeline result plus the account summary.
type computeOutput struct {
	*core.Result
	Summary *query.AccountSummary `json:"summary,omitempty"`
}

func computeCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "compute <snapshot.json|->",
		Short: "Values a JSON snapshot offline and prints the result",
		Args:  cobra.ExactArgs(1),
		RunE:  computeFunc,
	}
	flags := c.Flags()
	flags.Bool("pnl-after-fees", false, "report fee-adjusted delta")
	flags.Bool("include-delta", false, "fold unrealized delta into leverage")
	flags.Bool("tokens-only", false, "skip positions and output the token map only")
	return c
}

func computeFunc(c *cobra.Command, args []string) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	flags := c.Flags()
	var opts position.Options
	if opts.ShowPnlAfterFees, err = flags.GetBool("pnl-after-fees"); err != nil {
		return err
	}
	if opts.IncludeDelta, err = flags.GetBool("include-delta"); err != nil {
		return err
	}
	tokensOnly, err := flags.GetBool("tokens-only")
	if err != nil {
		return err
	}

	raw, err := readInput(c.InOrStdin(), args[0])
	if err != nil {
		return err
	}
	var snap core.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}
	in, err := snap.Decode(cfg.VaultStride)
	if err != nil {
		return err
	}
	if tokensOnly {
		in.Account = nil
	}

	logger := observability.NewLoggerTo(c.ErrOrStderr(), "compute", observability.ParseLogLevel(cfg.LogLevel))
	pipeline := core.NewPipeline(cfg.NormalizerConfig(), cfg.PositionConfig(), nil, logger)
	res, err := pipeline.Run(in, opts)
	if err != nil {
		return err
	}

	out := computeOutput{Result: res}
	if res.Book != nil {
		s := query.Summarize(res.Book)
		out.Summary = &s
	}

	enc := json.NewEncoder(c.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}
