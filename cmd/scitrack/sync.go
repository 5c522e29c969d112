package main

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/scitrack/config"
	"github.com/YuminosukeSato/scitrack/core/parallel"
	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/pkg/log"
	"github.com/YuminosukeSato/scitrack/sinks/offline"
	"github.com/YuminosukeSato/scitrack/tracking"
)

type syncResult struct {
	path    string
	records int
	state   string
	sink    string
	err     error
}

func newSyncCmd() *cobra.Command {
	var (
		workers  int
		backends []string
	)

	cmd := &cobra.Command{
		Use:   "sync FILE...",
		Short: "Replay offline run files into the configured backends",
		Long: `sync forwards every record of each offline run file to the tracking
backends selected in the configuration. Each file becomes its own run;
files are replayed concurrently.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.cfg
			if len(backends) > 0 {
				cfg.Tracking.Backends = backends
			}
			cfg.Tracking.Backends = slices.DeleteFunc(slices.Clone(cfg.Tracking.Backends), func(b string) bool {
				return b == config.BackendOffline
			})
			if len(cfg.Tracking.Backends) == 0 {
				return errors.NewValidationError("tracking.backends", "sync needs at least one backend other than offline", backends)
			}

			results := make([]syncResult, len(args))
			err = parallel.ForEach(cmd.Context(), len(args), workers, func(ctx context.Context, i int) error {
				results[i] = syncFile(ctx, cfg, args[i], a.logger)
				return results[i].err
			})
			printSyncResults(cmd, results)
			return err
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 4, "files replayed concurrently (0 = one per CPU)")
	cmd.Flags().StringSliceVar(&backends, "backend", nil, "override tracking.backends")
	return cmd
}

// syncFile replays one file into a freshly opened sink. A failed replay
// marks the destination run failed before the sink is closed.
func syncFile(ctx context.Context, cfg config.Config, path string, logger log.Logger) (res syncResult) {
	res = syncResult{path: path}
	logger = logger.With(log.FileKey, path)

	rd, err := offline.Open(path)
	if err != nil {
		res.err = err
		return res
	}
	header := rd.Header()
	_ = rd.Close()

	if cfg.Tracking.RunName == "" {
		cfg.Tracking.RunName = header.RunName
	}
	tags := maps.Clone(header.Tags)
	if tags == nil {
		tags = map[string]string{}
	}
	maps.Copy(tags, cfg.Tracking.Tags)
	tags["scitrack.source_run_id"] = header.RunID
	cfg.Tracking.Tags = tags

	sink, err := openSink(ctx, cfg)
	if err != nil {
		res.err = err
		return res
	}
	res.sink = tracking.SinkName(sink)

	replay, replayErr := offline.Replay(ctx, path, sink)
	res.records = replay.Records
	res.state = offline.StateFinished
	if replay.Status != nil {
		res.state = replay.Status.State
	}

	closeCtx := context.WithoutCancel(ctx)
	if replayErr != nil {
		res.state = offline.StateFailed
		if fm, ok := sink.(tracking.FailureMarker); ok {
			fm.MarkFailed(closeCtx, replayErr)
		}
	}
	closeErr := errors.SafeExecute("sink.Close", func() error { return sink.Close(closeCtx) })
	if closeErr != nil {
		closeErr = errors.NewTransportError("Close", res.sink, res.records, closeErr)
	}
	res.err = errors.Join(replayErr, closeErr)

	if res.err != nil {
		logger.Error("sync failed", log.RecordCountKey, res.records, log.ErrAttrKey, res.err)
	} else {
		logger.Info("run synced", log.RecordCountKey, res.records, log.SinkNameKey, res.sink, "state", res.state)
	}
	return res
}

func printSyncResults(cmd *cobra.Command, results []syncResult) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tRECORDS\tSTATE\tSINK\tRESULT")
	for _, r := range results {
		outcome := "ok"
		if r.err != nil {
			outcome = "error"
		}
		sink := r.sink
		if sink == "" {
			sink = "-"
		}
		state := r.state
		if state == "" {
			state = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", r.path, r.records, state, sink, outcome)
	}
	w.Flush()
}
