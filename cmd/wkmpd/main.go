// Command wkmpd is the WKMP audio-playback-core daemon: it wires the
// orchestrator engine to a PortAudio output device and an HTTP command/event
// surface, and runs until signalled.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wkmp/audiocore/internal/audiodevice"
	"github.com/wkmp/audiocore/internal/config"
	"github.com/wkmp/audiocore/internal/httpapi"
	"github.com/wkmp/audiocore/internal/metrics"
	"github.com/wkmp/audiocore/internal/orchestrator"
)

var (
	configPath    string
	listenAddr    string
	deviceIdx     int
	sampleRate    int
	framesPerCall int
	workers       int
	verbose       bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the playback core: decode, mix, output, and serve the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to a settings file (§6.4); missing file falls back to defaults")
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":5720", "HTTP listen address for the command/event API")
	serveCmd.Flags().IntVarP(&deviceIdx, "device", "d", 1, "audio output device index")
	serveCmd.Flags().IntVar(&sampleRate, "sample-rate", 44100, "output sample rate in Hz")
	serveCmd.Flags().IntVarP(&framesPerCall, "frames", "f", 512, "audio frames per device callback/mix batch")
	serveCmd.Flags().IntVarP(&workers, "workers", "w", 4, "decode worker goroutines")
	serveCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose (debug-level) logging")
}

func main() {
	if err := serveCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	store, err := config.New(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	reg := metrics.New(prometheus.DefaultRegisterer)

	engine, err := orchestrator.New(store, reg, orchestrator.Config{
		SampleRate:      sampleRate,
		Workers:         workers,
		RingCapacity:    1 << 16,
		RingGracePeriod: 2 * time.Second,
		BatchSize:       framesPerCall,
	})
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}
	engine.Start()
	defer engine.Stop()

	slog.Info("initializing PortAudio")
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initializing portaudio: %w", err)
	}
	defer portaudio.Terminate()

	slog.Info("opening audio output", "device_index", deviceIdx, "sample_rate", sampleRate, "frames", framesPerCall)
	dev, err := audiodevice.Open(engine.RingBuffer(), sampleRate, deviceIdx, framesPerCall)
	if err != nil {
		return fmt.Errorf("opening audio device: %w", err)
	}
	defer dev.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", httpapi.NewServer(engine))

	srv := &http.Server{Addr: listenAddr, Handler: mux}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("serving HTTP API", "addr", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("signal received, shutting down", "signal", sig)
	case err := <-serveErr:
		slog.Error("http server failed", "error", err)
	}

	if err := srv.Close(); err != nil {
		slog.Error("closing http server", "error", err)
	}
	return nil
}
