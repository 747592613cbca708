// Command tx replays a manifest's streams over one or more UDP links and
// serves a control plane for runtime reconfiguration, matching spec.md
// §6's "prog manifest_file duration [--ipc-port N (default 11112)]".
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"

	"github.com/netreplay/streamreplay"
	"github.com/netreplay/streamreplay/cmd/internal/apexadapter"
	"github.com/netreplay/streamreplay/internal"
)

func main() {
	ipcPort := flag.Int("ipc-port", 11112, "control-plane UDP port, bound on 127.0.0.1")
	configPath := flag.String("config", "", "optional runtime YAML config (log level, metrics addr, archive dir)")
	flag.Parse()

	if flag.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: tx manifest_file duration [--ipc-port N] [--config path]")
		os.Exit(1)
	}
	manifestPath := flag.Arg(0)
	durationArg := flag.Arg(1)
	// flags may also follow the two positional arguments
	flag.CommandLine.Parse(flag.Args()[2:])
	runDuration, err := time.ParseDuration(durationArg)
	if err != nil {
		if secs, serr := parseSeconds(durationArg); serr == nil {
			runDuration = secs
		} else {
			fmt.Fprintf(os.Stderr, "tx: invalid duration %q: %s\n", durationArg, err)
			os.Exit(1)
		}
	}

	runID := xid.New().String()

	cfg := runtimeConfigOrDefault(*configPath)
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	rootLogger := apexadapter.New(level, log.Fields{"run": runID})

	manifestData, err := os.ReadFile(manifestPath)
	if err != nil {
		rootLogger.Errorf("tx: reading manifest %q: %s", manifestPath, err.Error())
		os.Exit(1)
	}
	manifest, err := streamreplay.LoadManifest(manifestData, runDuration.Seconds())
	if err != nil {
		rootLogger.Errorf("tx: parsing manifest: %s", err.Error())
		os.Exit(1)
	}

	streams := make(map[string]streamreplay.StreamHandle, len(manifest.Streams))
	managers := make([]*streamreplay.StreamManager, 0, len(manifest.Streams))

	for i := range manifest.Streams {
		sp := manifest.Streams[i]
		name := sp.Name()

		var streamLogger streamreplay.Logger = rootLogger.With(log.Fields{"stream": name})
		if sp.NoLogging {
			streamLogger = &internal.NullLogger{}
		}

		var sink streamreplay.TelemetrySink
		if cfg.ArchiveDir != "" && !sp.NoLogging {
			gz, err := streamreplay.NewGzipTelemetrySink(fmt.Sprintf("%s/%s-%s.log.gz", cfg.ArchiveDir, runID, name))
			if err != nil {
				rootLogger.Warnf("tx: stream %s: telemetry sink: %s", name, err.Error())
			} else {
				defer gz.Close()
				sink = gz
			}
		}

		sm, err := streamreplay.NewStreamManager(sp, manifest.WindowSize, sink, streamLogger)
		if err != nil {
			rootLogger.Warnf("tx: stream %s: %s", name, err.Error())
			continue
		}
		streams[name] = sm
		managers = append(managers, sm)
	}

	ctx, cancel := context.WithTimeout(context.Background(), runDuration)
	defer cancel()

	for _, sm := range managers {
		sm.Run(ctx)
	}
	defer func() {
		for _, sm := range managers {
			sm.Close()
		}
	}()

	if cfg.MetricsAddr != "" {
		startMetricsServer(cfg.MetricsAddr, streams, rootLogger)
	}

	reporter := streamreplay.NewConsoleReporter(streams, time.Duration(cfg.LogInterval*float64(time.Second)), runDuration, rootLogger)
	reporter.Start()
	defer reporter.Close()

	deadline := time.Now().Add(runDuration)
	daemon, err := streamreplay.NewIPCDaemon(*ipcPort, streams, deadline, rootLogger)
	if err != nil {
		rootLogger.Errorf("tx: ipc daemon: %s", err.Error())
		os.Exit(1)
	}
	defer daemon.Close()

	daemon.Serve()
}

// parseSeconds accepts a bare number of seconds, matching the original
// CLI's plain-float duration argument when time.ParseDuration's unit
// suffix form ("30s") is not used.
func parseSeconds(s string) (time.Duration, error) {
	var secs float64
	if _, err := fmt.Sscanf(s, "%f", &secs); err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func runtimeConfigOrDefault(path string) streamreplay.RuntimeConfig {
	if path == "" {
		return streamreplay.RuntimeConfig{LogLevel: "info", LogInterval: 5}
	}
	cfg, err := streamreplay.LoadRuntimeConfig(path)
	if err != nil {
		log.Warnf("tx: runtime config: %s", err.Error())
		return streamreplay.RuntimeConfig{LogLevel: "info", LogInterval: 5}
	}
	return *cfg
}

func startMetricsServer(addr string, streams map[string]streamreplay.StreamHandle, logger streamreplay.Logger) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(streamreplay.NewStreamCollector(streams))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warnf("tx: metrics server on %s: %s", addr, err.Error())
		}
	}()
}
