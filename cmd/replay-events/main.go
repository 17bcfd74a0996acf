package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/stravasync/internal/replay"
	"github.com/okian/stravasync/pkg/logger"
)

const (
	defaultNumEvents  = 1000
	workersPerCPU     = 2
	defaultTimeout    = 30 * time.Second
	defaultRunTimeout = 10 * time.Minute
	defaultDupRate    = 0.2
)

var errSubmissionsFailed = errors.New("some deliveries failed")

type runFunc func(ctx context.Context, cfg *replay.Config) (*replay.Stats, error)

func main() {
	if err := logger.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		os.Exit(1)
	}
	if err := newRootCmd(replay.Run).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "replay-events:", err)
		os.Exit(1)
	}
}

func newRootCmd(run runFunc) *cobra.Command {
	cfg := &replay.Config{}
	var (
		runTimeout time.Duration
		principals []string
	)

	cmd := &cobra.Command{
		Use:           "replay-events",
		Short:         "Submit synthetic or recorded webhook deliveries to a running stravasync",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids, err := parseIDs(principals)
			if err != nil {
				return fmt.Errorf("--principals: %w", err)
			}
			cfg.Principals = ids
			if cfg.DuplicateRate < 0 || cfg.DuplicateRate > 1 {
				return fmt.Errorf("--dup-rate must be within 0..1, got %v", cfg.DuplicateRate)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
			defer cancel()

			stats, err := run(ctx, cfg)
			if err != nil {
				logger.Get().Error(ctx, "replay failed", logger.Error(err))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"submitted=%d accepted=%d duplicate=%d dropped=%d rejected=%d failed=%d\n",
				stats.Submitted, stats.Accepted, stats.Duplicate, stats.Dropped, stats.Rejected, stats.Failed)
			if stats.Failed > 0 {
				return errSubmissionsFailed
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", "http://localhost:9080", "base URL of the service")
	f.IntVarP(&cfg.NumEvents, "events", "n", defaultNumEvents, "number of distinct deliveries to generate")
	f.StringSliceVarP(&principals, "principals", "p", nil, "owner ids to generate events for")
	f.Float64Var(&cfg.DuplicateRate, "dup-rate", defaultDupRate, "share of deliveries sent twice (0..1)")
	f.IntVarP(&cfg.Workers, "workers", "w", runtime.NumCPU()*workersPerCPU, "number of concurrent submitters")
	f.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "HTTP request timeout")
	f.DurationVar(&runTimeout, "run-timeout", defaultRunTimeout, "upper bound for the whole run")
	f.StringVar(&cfg.VerifyToken, "verify-token", "", "check the subscription challenge with this token first")
	f.StringVarP(&cfg.InputFile, "input", "i", "", "replay deliveries from a JSON file instead of generating")
	f.StringVarP(&cfg.OutputFile, "output", "o", "", "write submitted deliveries to a JSON file")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "log every failed submission")
	cmd.MarkFlagsMutuallyExclusive("input", "events")

	return cmd
}

func parseIDs(raw []string) ([]int64, error) {
	out := make([]int64, 0, len(raw))
	for _, part := range raw {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
