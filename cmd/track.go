package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/people-tracker/internal/ai"
	"github.com/kozaktomas/people-tracker/internal/config"
	"github.com/kozaktomas/people-tracker/internal/detect"
	"github.com/kozaktomas/people-tracker/internal/frames"
	"github.com/kozaktomas/people-tracker/internal/metrics"
	"github.com/kozaktomas/people-tracker/internal/pipeline"
	"github.com/kozaktomas/people-tracker/internal/plugin"
	"github.com/kozaktomas/people-tracker/internal/plugins"
	"github.com/kozaktomas/people-tracker/internal/results"
	"github.com/kozaktomas/people-tracker/internal/tracking"
	"github.com/kozaktomas/people-tracker/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Track people in a frame source",
	Long: `Pull frames from a directory of images or an HTTP snapshot URL, resolve
every detected face to an identity and run the enabled plugins on the people
in view. The HTTP API (identities, results, plugins, events, metrics) is
served alongside unless --no-web is given.`,
	Example: `  people-tracker track --url http://camera.local/snapshot.jpg
  people-tracker track --dir ./recording --fps 5 --no-web`,
	RunE: runTrack,
}

func init() {
	rootCmd.AddCommand(trackCmd)

	trackCmd.Flags().String("dir", "", "Replay image files from this directory")
	trackCmd.Flags().String("url", "", "Poll this HTTP snapshot URL")
	trackCmd.Flags().Float64("fps", 0, "Frames per second (overrides TRACK_FPS)")
	trackCmd.Flags().Bool("no-web", false, "Do not start the HTTP API")
}

// frameSource builds the source selected by --dir or --url. total is the
// number of frames for finite sources, -1 otherwise.
func frameSource(cmd *cobra.Command, cfg *config.Config) (frames.Source, int, error) {
	dir := mustGetString(cmd, "dir")
	url := mustGetString(cmd, "url")
	switch {
	case dir != "" && url != "":
		return nil, 0, errors.New("use either --dir or --url, not both")
	case dir != "":
		src, err := frames.NewDirSource(dir, cfg.Tracking.FPS)
		if err != nil {
			return nil, 0, err
		}
		return src, src.Len(), nil
	case url != "":
		return frames.NewHTTPSource(url, cfg.Detector.Timeout), -1, nil
	default:
		return nil, 0, errors.New("a frame source is required: --dir or --url")
	}
}

func runTrack(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if fps := mustGetFloat64(cmd, "fps"); fps > 0 {
		cfg.Tracking.FPS = fps
	}

	src, total, err := frameSource(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promRegistry)

	repo, err := openRepositoryOrMemory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if repo != nil {
		defer repo.Close()
	}

	store := tracking.Restore(ctx, repo, cfg.Tracking.FingerprintDim, logger)
	engine := tracking.NewEngine(store, tracking.OptionsFromConfig(cfg.Tracking), repo, logger, m)

	describer, err := ai.NewProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("description provider: %w", err)
	}

	registry := plugin.NewRegistry()
	if err := plugins.Register(registry, plugins.Deps{
		Logger:      logger,
		EmotionAPI:  cfg.EmotionAPI,
		ActivityAPI: cfg.ActivityAPI,
		Capture:     cfg.Capture,
		Describer:   describer,
	}); err != nil {
		return fmt.Errorf("register plugins: %w", err)
	}
	registry.Start(ctx, logger)

	agg := results.New(cfg.Plugins.ResultHistory)
	// Background requests outlive ctx so that shutdown can drain them.
	execCtx, cancelExec := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelExec()
	executor := plugin.NewExecutor(execCtx, plugin.ExecutorOptions{
		SyncBudget:   cfg.Plugins.SyncBudget,
		AsyncTimeout: cfg.Plugins.AsyncTimeout,
		AsyncWorkers: cfg.Plugins.AsyncWorkers,
	}, agg, registry, logger, m)

	detector := detect.NewClient(detect.Options{
		URL:       cfg.Detector.URL,
		Timeout:   cfg.Detector.Timeout,
		ResizeMax: cfg.Tracking.ResizeMax,
		MinScore:  cfg.Detector.MinScore,
	}, logger)
	if err := detector.Health(ctx); err != nil {
		logger.Warn("detector not reachable, frames will be empty until it is", "error", err)
	}

	tracker := pipeline.New(engine, registry, executor, agg, detector, pipeline.OptionsFromConfig(cfg), logger)

	go tracker.Maintain(ctx)
	if cfg.Plugins.SettingsFile != "" {
		go func() {
			if err := tracker.WatchSettings(ctx, cfg.Plugins.SettingsFile); err != nil {
				logger.Error("plugin settings watcher stopped", "error", err)
			}
		}()
	}

	var server *web.Server
	if !mustGetBool(cmd, "no-web") {
		server = web.NewServer(cfg.Web, tracker, promRegistry, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("web server stopped", "error", err)
				stop()
			}
		}()
	}

	var onFrame func(tracking.Report)
	if total > 0 {
		bar := progressbar.NewOptions(total,
			progressbar.OptionSetDescription("Tracking"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("frames"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
		defer bar.Finish()
		onFrame = func(tracking.Report) { _ = bar.Add(1) }
	}

	logger.Info("tracking started",
		"identities", len(engine.Identities()),
		"plugins", len(registry.Plugins()),
		"fps", cfg.Tracking.FPS)

	runErr := tracker.Run(ctx, src, onFrame)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Closing the event stream first lets open SSE connections end.
	if err := tracker.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracker shutdown", "error", err)
	}
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("web server shutdown", "error", err)
		}
	}

	stats := tracker.Stats()
	logger.Info("tracking finished",
		"frames", stats.Frames,
		"active", stats.Active,
		"lost", stats.Lost,
		"candidates", stats.Candidates)
	return runErr
}
