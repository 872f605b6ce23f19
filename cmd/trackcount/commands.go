package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/banshee-data/trackcount/internal/analysis"
	"github.com/banshee-data/trackcount/internal/config"
	"github.com/banshee-data/trackcount/internal/counting"
	"github.com/banshee-data/trackcount/internal/export"
	"github.com/banshee-data/trackcount/internal/flow"
	"github.com/banshee-data/trackcount/internal/ingest"
	"github.com/banshee-data/trackcount/internal/monitoring"
	"github.com/banshee-data/trackcount/internal/section"
	"github.com/banshee-data/trackcount/internal/security"
	"github.com/banshee-data/trackcount/internal/track"
	"github.com/banshee-data/trackcount/internal/version"
)

var logf = monitoring.Component("trackcount")

// options holds the flags shared by every analysis command.
type options struct {
	configPath   string
	sectionsPath string
	outputDir    string
	prefix       string
	metricsAddr  string
	quiet        bool
	inMemory     bool

	intervalMinutes int
	chunkSize       int
	workers         int
	formats         []string
	classifications []string
	start, end      string
	timezone        string
}

func rootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "trackcount",
		Short:         "Count road users crossing sections in tracker output",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.quiet {
				monitoring.SetLogger(nil)
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "analysis config file (.json, .yaml or .yml)")
	pf.StringVar(&opts.sectionsPath, "sections", "", "sections and flows file (JSON)")
	pf.BoolVar(&opts.quiet, "quiet", false, "suppress diagnostic logging")

	root.AddCommand(
		countsCommand(opts),
		eventsCommand(opts),
		tracksCommand(opts),
		statsCommand(opts),
		generateFlowsCommand(opts),
		versionCommand(),
	)
	return root
}

// addRunFlags registers the flags that override configuration values.
func addRunFlags(cmd *cobra.Command, opts *options) {
	f := cmd.Flags()
	f.StringVar(&opts.outputDir, "output", ".", "output directory")
	f.StringVar(&opts.prefix, "prefix", "", "output file name prefix")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	f.IntVar(&opts.intervalMinutes, "interval", 0, "interval length in minutes (overrides config)")
	f.IntVar(&opts.chunkSize, "chunk-size", 0, "tracks per chunk (overrides config)")
	f.IntVar(&opts.workers, "workers", 0, "intersection workers, 0 for sequential (overrides config)")
	f.StringSliceVar(&opts.formats, "format", nil,
		"export formats (overrides config); html and png charts hold one count per interval and flow in memory until the run ends")
	f.StringSliceVar(&opts.classifications, "class", nil, "only count these classifications (overrides config)")
	f.StringVar(&opts.start, "start", "", "window start, RFC3339 (overrides config)")
	f.StringVar(&opts.end, "end", "", "window end, RFC3339, exclusive (overrides config)")
	f.StringVar(&opts.timezone, "timezone", "", "IANA zone for interval boundaries (overrides config)")
	f.BoolVar(&opts.inMemory, "in-memory", false,
		"load every track before analysis so input files need not be ordered by track start")
}

// loadConfig reads the config file, if any, and applies flag overrides.
func (o *options) loadConfig(cmd *cobra.Command) (*config.AnalysisConfig, error) {
	cfg := config.DefaultAnalysisConfig()
	if o.configPath != "" {
		loaded, err := config.LoadAnalysisConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	f := cmd.Flags()
	if f.Changed("interval") {
		cfg.IntervalMinutes = &o.intervalMinutes
	}
	if f.Changed("chunk-size") {
		cfg.ChunkSize = &o.chunkSize
	}
	if f.Changed("workers") {
		cfg.Workers = &o.workers
	}
	if f.Changed("class") {
		cfg.Classifications = o.classifications
	}
	if f.Changed("start") {
		cfg.StartTime = &o.start
	}
	if f.Changed("end") {
		cfg.EndTime = &o.end
	}
	if f.Changed("timezone") {
		cfg.Timezone = &o.timezone
	}
	if f.Changed("format") {
		if cfg.ExportFormats == nil {
			cfg.ExportFormats = &config.ExportFormats{}
		}
		formats := slices.Clone(o.formats)
		switch cmd.Name() {
		case "counts":
			cfg.ExportFormats.Counts = formats
		case "events":
			cfg.ExportFormats.Events = formats
		case "tracks":
			cfg.ExportFormats.Tracks = formats
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *options) loadSections() (*section.Registry, error) {
	if o.sectionsPath == "" {
		return nil, errors.New("--sections is required")
	}
	return ingest.LoadSections(o.sectionsPath)
}

// base returns the output path without extension for a data kind. The
// output directory is created and every file the formats will write is
// checked to stay inside it.
func (o *options) base(kind analysis.Kind, formats []string) (string, error) {
	base := filepath.Join(o.outputDir, security.SanitizePrefix(o.prefix)+string(kind))
	var paths []string
	for _, name := range formats {
		// Unknown formats are reported by the exporter factory.
		if f, err := export.ParseFormat(name); err == nil {
			paths = append(paths, export.OutputPath(base, f))
		}
	}
	if err := security.PrepareOutputDir(o.outputDir, paths...); err != nil {
		return "", err
	}
	return base, nil
}

// session is everything an analysis command needs.
type session struct {
	cfg    *config.AnalysisConfig
	runner *analysis.Runner
	tracks track.Source
	stop   func()
}

func (o *options) open(cmd *cobra.Command, paths []string) (*session, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	sections, err := o.loadSections()
	if err != nil {
		return nil, err
	}
	resolver := track.NewClassResolver(cfg.KnownClassifications, cfg.GetFallbackClassification())
	tracks, closeTracks, err := o.openTracks(paths, resolver)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics, err := analysis.NewMetrics(registry)
	if err != nil {
		closeTracks()
		return nil, err
	}
	stopMetrics, err := serveMetrics(o.metricsAddr, registry)
	if err != nil {
		closeTracks()
		return nil, err
	}
	stop := func() {
		stopMetrics()
		closeTracks()
	}

	runner, err := analysis.NewRunner(sections, analysis.SettingsFrom(cfg),
		analysis.WithObserver(analysis.LogObserver{}),
		analysis.WithMetrics(metrics))
	if err != nil {
		stop()
		return nil, err
	}
	return &session{cfg: cfg, runner: runner, tracks: tracks, stop: stop}, nil
}

// openTracks streams the tracks files, or loads them all up front with
// --in-memory.
func (o *options) openTracks(paths []string, resolver *track.ClassResolver) (track.Source, func(), error) {
	if o.inMemory {
		store, err := ingest.LoadTracks(paths, resolver)
		if err != nil {
			return nil, nil, err
		}
		return store.Source(), func() {}, nil
	}
	files := ingest.OpenTracks(paths, resolver)
	return files, func() {
		if err := files.Close(); err != nil {
			logf("%v", err)
		}
	}, nil
}

// serveMetrics exposes registry over HTTP until the returned stop is called.
// An empty address serves nothing.
func serveMetrics(addr string, registry *prometheus.Registry) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}
	go func() {
		logf("Serving metrics on http://%s/metrics", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logf("metrics server error: %v", err)
		}
	}()
	return func() { srv.Close() }, nil
}

// reportExportError prints every exporter failure on its own line. Errors
// that did not come from an exporter, such as cancellation, are returned
// unchanged.
func reportExportError(w io.Writer, err error) error {
	if err == nil {
		return nil
	}
	parts := []error{err}
	if _, ok := err.(*export.Error); !ok {
		parts = multierr.Errors(err)
	}
	var others error
	failures := 0
	for _, e := range parts {
		if !errors.As(e, new(*export.Error)) {
			others = multierr.Append(others, e)
			continue
		}
		for _, msg := range export.FlattenMessages(e) {
			fmt.Fprintf(w, "export failure: %s\n", msg)
			failures++
		}
	}
	if others != nil {
		return others
	}
	if failures > 0 {
		return fmt.Errorf("%d export failure(s)", failures)
	}
	return nil
}

func writeStatistics(w io.Writer, stats counting.Statistics, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, row := range stats.Rows() {
		fmt.Fprintf(tw, "%s\t%d\t%.1f%%\n", row.Name, row.Count, row.Percent)
	}
	return tw.Flush()
}

func countsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counts TRACKS...",
		Short: "Count tracks per interval, classification and flow",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd, args)
			if err != nil {
				return err
			}
			defer s.stop()

			base, err := opts.base(analysis.KindCounts, s.cfg.GetCountFormats())
			if err != nil {
				return err
			}
			exp, err := export.NewCountsExporter(s.cfg.GetCountFormats(), base)
			if err != nil {
				return err
			}
			stats, err := s.runner.ExportCountsFrom(cmd.Context(), s.tracks, exp)
			if werr := writeStatistics(cmd.OutOrStdout(), stats, false); werr != nil {
				return werr
			}
			return reportExportError(cmd.ErrOrStderr(), err)
		},
	}
	addRunFlags(cmd, opts)
	return cmd
}

func eventsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events TRACKS...",
		Short: "Export the section events of every track",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd, args)
			if err != nil {
				return err
			}
			defer s.stop()

			base, err := opts.base(analysis.KindEvents, s.cfg.GetEventFormats())
			if err != nil {
				return err
			}
			exp, err := export.NewEventsExporter(s.cfg.GetEventFormats(), base)
			if err != nil {
				return err
			}
			return reportExportError(cmd.ErrOrStderr(), s.runner.ExportEventsFrom(cmd.Context(), s.tracks, exp))
		},
	}
	addRunFlags(cmd, opts)
	return cmd
}

func tracksCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tracks TRACKS...",
		Short: "Export the filtered tracks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd, args)
			if err != nil {
				return err
			}
			defer s.stop()

			base, err := opts.base(analysis.KindTracks, s.cfg.GetTrackFormats())
			if err != nil {
				return err
			}
			exp, err := export.NewTracksExporter(s.cfg.GetTrackFormats(), base)
			if err != nil {
				return err
			}
			return reportExportError(cmd.ErrOrStderr(), s.runner.ExportTracksFrom(cmd.Context(), s.tracks, exp))
		},
	}
	addRunFlags(cmd, opts)
	return cmd
}

func statsCommand(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats TRACKS...",
		Short: "Print flow assignment statistics",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd, args)
			if err != nil {
				return err
			}
			defer s.stop()

			stats, err := s.runner.StatisticsFrom(cmd.Context(), s.tracks)
			if err != nil {
				return err
			}
			return writeStatistics(cmd.OutOrStdout(), stats, asJSON)
		},
	}
	addRunFlags(cmd, opts)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func generateFlowsCommand(opts *options) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "generate-flows",
		Short: "Add a flow for every ordered section pair that has none",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := opts.loadSections()
			if err != nil {
				return err
			}
			generated := flow.GenerateFlows(registry, nil)
			updated, err := section.NewRegistry(registry.Sections(), slices.Concat(registry.Flows(), generated))
			if err != nil {
				return err
			}
			logf("Generated %d flow(s)", len(generated))

			doc := ingest.FromRegistry(updated)
			if out == "" {
				return ingest.WriteSections(cmd.OutOrStdout(), doc)
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			if err := ingest.WriteSections(f, doc); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to close %s: %w", out, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write the updated sections file here instead of stdout")
	return cmd
}

func versionCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(info)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), info)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
