// Command bleak drives the leak detection and diagnosis orchestrator: point
// it at a page-script configuration file and it finds monotonically growing
// heap paths, attributes them to source locations, or replays the workload
// under fix prefixes while reporting heap metrics as CSV.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"

	"bleak/config"
	"bleak/detector"
	"bleak/driver"
	drvfake "bleak/driver/fake"
	drvrod "bleak/driver/rod"
	"bleak/proxyhost"
	proxyfake "bleak/proxyhost/fake"
	"bleak/proxyhost/mitm"
	"bleak/report"
	"bleak/telemetry/logging"
	"bleak/telemetry/metrics"
	"bleak/telemetry/tracing"
)

func main() {
	var (
		configPath     string
		runnerPath     string
		mode           string
		outputDir      string
		driverName     string
		proxyAddr      string
		iterations     int
		perSnapshot    int
		resumeSpec     string
		watch          bool
		metricsAddr    string
		metricsBackend string
		enableMetrics  bool
		showVersion    bool
	)
	flag.StringVar(&configPath, "config", "", "Path to the page-script configuration file (required)")
	flag.StringVar(&runnerPath, "runner", "", "Optional YAML runner config file")
	flag.StringVar(&mode, "mode", "detect", "Mode: detect (find+diagnose leaks) or evaluate (replay under fix prefixes)")
	flag.StringVar(&outputDir, "out", "", "Output directory for leaks.json/paths.json/CSV/summary (overrides runner config)")
	flag.StringVar(&driverName, "driver", "", "Browser driver backend: rod|fake (overrides runner config)")
	flag.StringVar(&proxyAddr, "proxy-addr", "", "Interception proxy listen address (overrides runner config)")
	flag.IntVar(&iterations, "iterations", 0, "Loop iterations per run (0 = use the configuration file's value)")
	flag.IntVar(&perSnapshot, "iterations-per-snapshot", 0, "Evaluate-fixes snapshot cadence (0 = runner config value)")
	flag.StringVar(&resumeSpec, "resume", "", "Resume evaluate-fixes at metric:leaksFixed (e.g. heapSize:2)")
	flag.BoolVar(&watch, "watch", false, "Watch the configuration file and re-run on change")
	flag.StringVar(&metricsAddr, "metrics", "", "Expose metrics on address (e.g. :9090)")
	flag.StringVar(&metricsBackend, "metrics-backend", "", "Metrics backend: prom|otel|noop (overrides runner config)")
	flag.BoolVar(&enableMetrics, "enable-metrics", false, "Enable the metrics provider")
	flag.BoolVar(&showVersion, "version", false, "Show version / build info")
	flag.Parse()

	if showVersion {
		fmt.Println("bleak – leak detection orchestrator CLI")
		return
	}
	if configPath == "" {
		fmt.Println("No configuration file provided. Use -config path/to/config.js")
		os.Exit(1)
	}

	rc := config.RunnerDefaults()
	if runnerPath != "" {
		loaded, err := config.LoadRunner(runnerPath)
		if err != nil {
			log.Fatalf("load runner config: %v", err)
		}
		rc = loaded
	}
	// Flags win over the runner file.
	if outputDir != "" {
		rc.OutputDir = outputDir
	}
	if driverName != "" {
		rc.Driver = driverName
	}
	if proxyAddr != "" {
		rc.ProxyAddr = proxyAddr
	}
	if iterations > 0 {
		rc.Iterations = iterations
	}
	if perSnapshot > 0 {
		rc.IterationsPerSnapshot = perSnapshot
	}
	if metricsBackend != "" {
		rc.MetricsBackend = metricsBackend
	}
	if enableMetrics {
		rc.MetricsEnabled = true
	}
	if metricsAddr != "" {
		rc.MetricsAddr = metricsAddr
	}
	if err := rc.Validate(); err != nil {
		log.Fatalf("runner config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("signal received; initiating graceful shutdown...")
		cancel()
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	prov := newMetricsProvider(rc)
	serveMetrics(ctx, rc, prov)
	runCounter := prov.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "bleak", Name: "runs_total", Help: "Completed orchestrator runs by mode and outcome.",
		Labels: []string{"mode", "outcome"},
	}})
	rootsGauge := prov.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "bleak", Name: "leak_roots", Help: "Leak roots found by the most recent detection run.",
	}})

	resumeAt, err := parseResume(resumeSpec)
	if err != nil {
		log.Fatalf("parse -resume: %v", err)
	}

	tracer := tracing.NewOTelTracer("bleak")
	logger := logging.New(slog.Default())

	runOnce := func(ctx context.Context) error {
		ctx, span := tracer.StartSpan(ctx, "bleak."+mode)
		defer span.End()
		span.SetAttribute("config", configPath)

		source, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("read config source: %w", err)
		}
		logger.InfoCtx(ctx, "starting run", "mode", mode, "config", configPath)
		switch mode {
		case "detect":
			n, err := runDetect(ctx, rc, string(source))
			if err == nil {
				rootsGauge.Set(float64(n))
				span.SetAttribute("leak_roots", n)
				logger.InfoCtx(ctx, "detection complete", "leakRoots", n)
			}
			return err
		case "evaluate":
			err := runEvaluate(ctx, rc, string(source), resumeAt)
			// Resume only applies to the first run after a crash; a watched
			// re-run starts from the top.
			resumeAt = nil
			if err == nil {
				logger.InfoCtx(ctx, "fix evaluation complete")
			}
			return err
		default:
			return fmt.Errorf("unknown mode %q (want detect or evaluate)", mode)
		}
	}

	if err := runOnce(ctx); err != nil {
		runCounter.Inc(1, mode, "error")
		log.Fatalf("bleak %s: %v", mode, err)
	}
	runCounter.Inc(1, mode, "ok")

	if !watch {
		return
	}
	if err := watchAndRerun(ctx, configPath, func(ctx context.Context) {
		if err := runOnce(ctx); err != nil {
			runCounter.Inc(1, mode, "error")
			log.Printf("bleak %s: %v", mode, err)
			return
		}
		runCounter.Inc(1, mode, "ok")
	}); err != nil && ctx.Err() == nil {
		log.Fatalf("watch %s: %v", configPath, err)
	}
}

// newBackends constructs the proxy and driver pair the runner config selects.
// The fake pair exists for smoke runs without a browser; the materialized
// configuration is installed on the fake driver afterwards, once the
// detector has evaluated it.
func newBackends(rc config.RunnerConfig) (proxyhost.Proxy, driver.Driver, func(), error) {
	if rc.Driver == "fake" {
		return proxyfake.New(""), drvfake.New(), func() {}, nil
	}
	proxy, err := mitm.New(rc.ProxyAddr)
	if err != nil {
		return nil, nil, nil, err
	}
	drv, err := drvrod.New(proxy.Addr())
	if err != nil {
		_ = proxy.Close()
		return nil, nil, nil, err
	}
	return proxy, drv, func() { _ = proxy.Close() }, nil
}

func newDetector(rc config.RunnerConfig, source string) (*detector.Detector, func(), error) {
	proxy, drv, cleanup, err := newBackends(rc)
	if err != nil {
		return nil, nil, err
	}
	det, err := detector.New(drv, proxy, source)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if rc.Iterations > 0 {
		det.Config().Iterations = rc.Iterations
	}
	if fd, ok := drv.(*drvfake.Driver); ok {
		if err := fd.InstallConfig(det.Config()); err != nil {
			cleanup()
			return nil, nil, err
		}
	}
	return det, cleanup, nil
}

func runDetect(ctx context.Context, rc config.RunnerConfig, source string) (leakRoots int, err error) {
	det, cleanup, err := newDetector(rc, source)
	if err != nil {
		return 0, err
	}
	defer cleanup()
	defer func() { _ = det.Driver.Shutdown(context.Background()) }()

	roots, err := det.FindLeakPaths(ctx)
	if err != nil {
		return 0, err
	}
	log.Printf("found %d leak root(s)", len(roots))

	res, err := det.DiagnoseLeaks(ctx, roots,
		filepath.Join(rc.OutputDir, "leaks.json"),
		filepath.Join(rc.OutputDir, "paths.json"))
	if err != nil {
		return len(roots), err
	}

	// Best-effort human-readable summary; diagnosis already succeeded.
	if md, serr := report.WriteSummary(res); serr != nil {
		log.Printf("render summary: %v", serr)
	} else if werr := os.WriteFile(filepath.Join(rc.OutputDir, "summary.md"), []byte(md), 0o644); werr != nil {
		log.Printf("write summary.md: %v", werr)
	}
	return len(roots), nil
}

func runEvaluate(ctx context.Context, rc config.RunnerConfig, source string, resumeAt *detector.ResumePoint) error {
	det, cleanup, err := newDetector(rc, source)
	if err != nil {
		return err
	}
	defer cleanup()

	csvPath := filepath.Join(rc.OutputDir, "fix-evaluation.csv")
	flags := os.O_CREATE | os.O_WRONLY
	if resumeAt != nil {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(csvPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", csvPath, err)
	}
	defer func() { _ = f.Close() }()

	csv := report.NewCSVWriter(report.LineAppender(f), resumeAt != nil)
	return det.EvaluateLeakFixes(ctx, det.Config().Iterations, rc.IterationsPerSnapshot, csv, nil, resumeAt)
}

// parseResume decodes -resume's metric:leaksFixed form.
func parseResume(spec string) (*detector.ResumePoint, error) {
	if spec == "" {
		return nil, nil
	}
	idx := strings.LastIndex(spec, ":")
	if idx <= 0 || idx == len(spec)-1 {
		return nil, fmt.Errorf("want metric:leaksFixed, got %q", spec)
	}
	n, err := strconv.Atoi(spec[idx+1:])
	if err != nil || n < 0 {
		return nil, fmt.Errorf("leaksFixed must be a non-negative integer in %q", spec)
	}
	return &detector.ResumePoint{Metric: spec[:idx], LeaksFixed: n}, nil
}

// watchAndRerun blocks on fsnotify events for path, invoking rerun after
// each write. Runs never overlap: rerun is called inline on the watch
// goroutine, so a config change during a run is observed only once the run
// finishes — config swaps happen at run boundaries, never mid-phase.
func watchAndRerun(ctx context.Context, path string, rerun func(ctx context.Context)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	// Watch the directory, not the file: editors replace files by rename,
	// which drops a direct file watch.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)

	log.Printf("watching %s for changes...", path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			log.Printf("configuration changed; re-running")
			rerun(ctx)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("watch error: %v", err)
		}
	}
}

func newMetricsProvider(rc config.RunnerConfig) metrics.Provider {
	if !rc.MetricsEnabled {
		return metrics.NewNoopProvider()
	}
	switch rc.MetricsBackend {
	case "prom":
		return metrics.NewPrometheusProvider()
	case "otel":
		return metrics.NewOTelProvider("bleak")
	default:
		return metrics.NewNoopProvider()
	}
}

func serveMetrics(ctx context.Context, rc config.RunnerConfig, prov metrics.Provider) {
	if !rc.MetricsEnabled || rc.MetricsAddr == "" {
		return
	}
	pp, ok := prov.(*metrics.PrometheusProvider)
	if !ok {
		log.Printf("metrics endpoint requires the prom backend; not serving")
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", pp.Handler())
	srv := &http.Server{Addr: rc.MetricsAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	go func() {
		log.Printf("metrics listening on %s", rc.MetricsAddr)
		_ = srv.ListenAndServe()
	}()
}

// Ensure slog-based packages default to stderr text output when run from
// the CLI.
func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}
