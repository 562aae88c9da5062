// Package main provides the CLI wrapper for sentrywatch.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/sentrywatch/sentrywatch/internal/config"
	"github.com/sentrywatch/sentrywatch/pkg/debugview"
	"github.com/sentrywatch/sentrywatch/pkg/decoder"
	"github.com/sentrywatch/sentrywatch/pkg/encoder"
	"github.com/sentrywatch/sentrywatch/pkg/eventsm"
	"github.com/sentrywatch/sentrywatch/pkg/inference"
	"github.com/sentrywatch/sentrywatch/pkg/inference/fakes"
	"github.com/sentrywatch/sentrywatch/pkg/notifier"
	"github.com/sentrywatch/sentrywatch/pkg/store"
	"github.com/sentrywatch/sentrywatch/pkg/supervisor"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to TOML runtime configuration file")
	behaviorPath := flag.String("behavior", "", "Path to YAML behavior configuration file (overrides config)")
	sourceURI := flag.String("source", "", "Video source URI (overrides config)")
	showVersion := flag.Bool("version", false, "Show version information")
	verbose := flag.Bool("verbose", false, "Enable debug-level logging")
	debugView := flag.Bool("debug-view", false, "Open a live preview window mirroring the decoded feed")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "sentrywatch - single-camera intelligent surveillance pipeline\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                           # Run with default settings\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config sentrywatch.toml  # Run with custom config\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -source rtsp://cam/1      # Override the video source\n", os.Args[0])
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("sentrywatch version %s\n", version)
		os.Exit(0)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if *verbose {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	if *sourceURI != "" {
		cfg.Source.URI = *sourceURI
	}
	if *behaviorPath != "" {
		cfg.BehaviorPath = *behaviorPath
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	behavior, err := config.LoadBehavior(cfg.BehaviorPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading behavior config")
	}

	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("opening gallery/event store")
	}
	defer st.Close()

	var notify notifier.Notifier
	if cfg.Notifier.BotToken != "" {
		discordNotify, err := notifier.NewDiscordNotifier(cfg.Notifier.BotToken, cfg.Notifier.ChannelID, log)
		if err != nil {
			log.Fatal().Err(err).Msg("constructing discord notifier")
		}
		defer discordNotify.Close()
		notify = discordNotify
	} else {
		log.Warn().Msg("no discord_bot_token configured, notifications are disabled")
		notify = notifier.NopNotifier{}
	}

	source, err := decoder.OpenGoCVSource(cfg.Source)
	if err != nil {
		log.Fatal().Err(err).Msg("opening video source")
	}

	if err := os.MkdirAll(cfg.Encoding.OutputDirectory, 0o755); err != nil {
		log.Fatal().Err(err).Msg("creating output directory")
	}

	var preview decoder.Preview
	if *debugView {
		win := debugview.New("sentrywatch: decoded feed")
		defer win.Close()
		preview = win
	}

	sup, err := supervisor.New(supervisor.Config{
		Cfg:      cfg,
		Behavior: behavior,
		Source:   source,
		Preview:  preview,
		// Detector, ReID, and NewTracker are out-of-scope collaborators:
		// sentrywatch defines only the interfaces they must satisfy.
		// fakes.Detector/fakes.ReIDExtractor/fakes.NewTracker are
		// deterministic placeholders wired here so the binary runs
		// end-to-end; a real deployment replaces them with a concrete
		// detection/Re-ID model client before swapping this wiring out.
		Detector:   &fakes.Detector{},
		ReID:       &fakes.ReIDExtractor{},
		NewTracker: func() (inference.Tracker, error) { return fakes.NewTracker() },
		Store:      st,
		Notifier:   notify,
		NewEncoder: func(path string, rec eventsm.Recording) (encoder.VideoEncoder, error) {
			fps := encoder.OutputFPS(cfg.Encoding.FPSMode, encoder.ObservedFPS(rec.Frames), cfg.Timing.TargetFPS)
			return encoder.NewGoCVEncoder(
				path,
				cfg.Resolution.EncodeWidth, cfg.Resolution.EncodeHeight,
				cfg.Resolution.AnalysisWidth, cfg.Resolution.AnalysisHeight,
				fps,
				behavior,
			)
		},
		Log: log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("constructing supervisor")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() { runErr <- sup.Run() }()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
		sup.Stop()
		if err := <-runErr; err != nil {
			log.Error().Err(err).Msg("pipeline stopped with error")
			os.Exit(1)
		}
	case err := <-runErr:
		if err != nil {
			log.Error().Err(err).Msg("pipeline worker died")
			os.Exit(1)
		}
		log.Info().Msg("pipeline stopped cleanly")
	}
}
