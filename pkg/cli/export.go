package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/heartline/keyset/pkg/collection"
	"github.com/heartline/keyset/pkg/config"
	eventbusfactory "github.com/heartline/keyset/pkg/eventbus/factory"
	"github.com/heartline/keyset/pkg/export"
	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/store"
)

type loadFunc func(cmd *cobra.Command, logOutput io.Writer) (*config.Config, logger.Logger, error)

// newExportCommand streams one collection into the configured sink. Logs go
// to stderr so the stdout sink stays valid NDJSON.
func newExportCommand(loadConfig loadFunc, open OpenFunc) *cobra.Command {
	var (
		filters []string
		resume  bool
		runID   string
	)
	cmd := &cobra.Command{
		Use:   "export <collection>",
		Short: "Export a collection to the configured sink (object, topic, index, stdout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseFilters(filters)
			if err != nil {
				return err
			}
			cfg, log, err := loadConfig(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			conns, err := open(cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := conns.Close(); cerr != nil {
					log.Warn("failed to close connections", "error", cerr)
				}
			}()

			registry, err := collection.Build(cfg, conns, log)
			if err != nil {
				return err
			}
			endpoint, ok := registry.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown collection %q (configured: %s)", args[0], strings.Join(registry.Names(), ", "))
			}
			for field := range filter {
				if !slices.Contains(endpoint.FilterFields(), field) {
					return fmt.Errorf("field %q of %s is not filterable (filterable: %s)", field, args[0], strings.Join(endpoint.FilterFields(), ", "))
				}
			}

			sink, closeSink, err := newSink(cfg, conns, args[0], cmd.OutOrStdout(), log)
			if err != nil {
				return err
			}
			defer closeSink()

			var checkpoints export.Checkpointer = export.NewMemoryCheckpoints()
			if conns.Cache != nil {
				checkpoints = conns.Cache
			} else if resume {
				log.Warn("no cache configured, checkpoints do not outlive this process")
			}

			runner, err := endpoint.Export(collection.ExportRequest{
				Filter:           filter,
				Sink:             sink,
				Checkpoints:      checkpoints,
				BatchSize:        cfg.Pagination.BatchSize,
				ChunkSize:        cfg.Export.ChunkSize,
				RecordsPerSecond: cfg.Export.RecordsPerSecond,
			})
			if err != nil {
				return err
			}
			summary, err := runner.Run(cmd.Context(), export.RunOptions{Resume: resume, RunID: runID})
			if err != nil {
				return fmt.Errorf("export %s failed after %d records (rerun with --resume): %w", args[0], summary.Records, err)
			}
			data, err := json.Marshal(summary)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), string(data))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "equality filter field=value, repeat a field to match any of its values")
	cmd.Flags().BoolVar(&resume, "resume", false, "continue from the last checkpoint of this collection")
	cmd.Flags().StringVar(&runID, "run-id", "", "name of a fresh run (default: random UUID)")
	cmd.Flags().String("sink", "", "sink override (object, topic, index, stdout)")
	cmd.Flags().Int("chunk-size", 0, "records per committed chunk")
	cmd.Flags().Float64("rate", 0, "records per second, 0 for unthrottled")
	return cmd
}

func parseFilters(raw []string) (url.Values, error) {
	values := url.Values{}
	for _, f := range raw {
		field, value, ok := strings.Cut(f, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid --filter %q, want field=value", f)
		}
		values.Add(field, value)
	}
	return values, nil
}

// newSink builds the sink named by export.sink. The returned func releases
// what the sink opened.
func newSink(cfg *config.Config, conns *store.Connections, name string, out io.Writer, log logger.Logger) (export.Sink, func(), error) {
	noop := func() {}
	switch cfg.Export.Sink {
	case config.ExportSinkObject:
		if conns.Objects == nil {
			return nil, noop, errors.New("export.sink=object needs object storage")
		}
		return export.NewObjectSink(conns.Objects, cfg.Export.Prefix), noop, nil
	case config.ExportSinkTopic:
		publisher, err := eventbusfactory.NewPublisher(cfg.EventBus, log)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open eventbus: %w", err)
		}
		closeFn := func() {
			if err := publisher.Close(); err != nil {
				log.Warn("failed to close eventbus producer", "error", err)
			}
		}
		return export.NewTopicSink(publisher, publisher.Serializer, export.Expand(cfg.Export.Topic, name)), closeFn, nil
	case config.ExportSinkIndex:
		if conns.Search == nil {
			return nil, noop, errors.New("export.sink=index needs search.enabled")
		}
		return export.NewIndexSink(conns.Search, export.Expand(cfg.Export.Index, name)), noop, nil
	case config.ExportSinkStdout, "":
		return export.NewWriterSink(out), noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported export.sink %q", cfg.Export.Sink)
	}
}
