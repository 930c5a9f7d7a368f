package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/psantana5/sentiment-pulse/pkg/dashboard"
	"github.com/psantana5/sentiment-pulse/pkg/logging"
	"github.com/psantana5/sentiment-pulse/pkg/poller"
	"github.com/psantana5/sentiment-pulse/pkg/session"
	"github.com/spf13/cobra"
)

var (
	analyzeLimit       string
	analyzeChartsDir   string
	analyzePlatform    string
	analyzeSentiment   string
	analyzeNoNarrative bool
	analyzeWidth       int
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze <topic>",
	Short: "Analyze a topic and print the dashboard",
	Long: `Submit a topic to the backend, poll until the analysis completes and print
its metrics, insight, narrative and post preview. Press Ctrl+C to abandon the
job; the backend keeps processing it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVarP(&analyzeLimit, "limit", "l", "", "posts per platform (default from config)")
	analyzeCmd.Flags().StringVar(&analyzeChartsDir, "charts-dir", "", "write the SVG charts to this directory")
	analyzeCmd.Flags().StringVar(&analyzePlatform, "platform", dashboard.FilterAll, "only preview posts from this platform")
	analyzeCmd.Flags().StringVar(&analyzeSentiment, "sentiment", dashboard.FilterAll, "only preview posts with this sentiment")
	analyzeCmd.Flags().BoolVar(&analyzeNoNarrative, "no-narrative", false, "skip the narrative section")
	analyzeCmd.Flags().IntVar(&analyzeWidth, "width", 80, "wrap width for the narrative")
	analyzeCmd.Flags().Duration("interval", 0, "poll interval (default from config or 3s)")
	analyzeCmd.Flags().Duration("max-wait", 0, "give up after this long, 0 waits forever (default from config or 15m)")
	v.BindPFlag("poll.interval", analyzeCmd.Flags().Lookup("interval"))
	v.BindPFlag("poll.max_wait", analyzeCmd.Flags().Lookup("max-wait"))
}

// waitRenderer hands the first terminal session event to the command
type waitRenderer struct {
	views  chan *dashboard.View
	errs   chan error
	logger *logging.Logger
}

func newWaitRenderer(logger *logging.Logger) *waitRenderer {
	return &waitRenderer{
		views:  make(chan *dashboard.View, 1),
		errs:   make(chan error, 1),
		logger: logger,
	}
}

func (r *waitRenderer) Busy(busy bool) {
	if busy {
		r.logger.Info("Waiting for analysis to complete")
	}
}

func (r *waitRenderer) Render(view *dashboard.View) {
	select {
	case r.views <- view:
	default:
	}
}

func (r *waitRenderer) Fail(err error) {
	select {
	case r.errs <- err:
	default:
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	topic := strings.Join(args, " ")

	limit := cfg.Limit
	if analyzeLimit != "" {
		n, err := session.ParseLimit(analyzeLimit)
		if err != nil {
			return err
		}
		limit = n
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, err := newTracer(ctx, "pulse-cli")
	if err != nil {
		return err
	}
	defer tracer.Shutdown(context.Background())

	client, err := newBackendClient()
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		logger.Warn("History store unavailable, results will not be saved", logging.Fields{"error": err.Error()})
	} else {
		defer st.Close()
	}

	p := poller.New(client, poller.Config{Interval: cfg.Poll.Interval, MaxWait: cfg.Poll.MaxWait},
		poller.WithLogger(logger),
		poller.WithTracer(tracer),
	)

	renderer := newWaitRenderer(logger)
	opts := []session.Option{
		session.WithRenderer(renderer),
		session.WithLogger(logger),
		session.WithTracer(tracer),
	}
	if st != nil {
		opts = append(opts, session.WithStore(st))
	}
	ctrl := session.New(client, p, opts...)
	defer ctrl.Close()

	ctrl.Filter(analyzePlatform, analyzeSentiment)
	if _, err := ctrl.Submit(ctx, topic, limit); err != nil {
		return err
	}

	var view *dashboard.View
	select {
	case view = <-renderer.views:
	case err := <-renderer.errs:
		return err
	case <-ctx.Done():
		return errors.New("interrupted while waiting for the analysis")
	}

	if analyzeChartsDir != "" {
		paths, err := ctrl.WriteCharts(analyzeChartsDir)
		if err != nil {
			return fmt.Errorf("failed to write charts: %w", err)
		}
		for _, p := range paths {
			fmt.Fprintf(os.Stderr, "Chart written to %s\n", p)
		}
	}

	if isJSONOutput() {
		return printJSON(view)
	}
	return dashboard.RenderReport(os.Stdout, view, dashboard.ReportOptions{
		Width:       analyzeWidth,
		NoNarrative: analyzeNoNarrative,
	})
}
