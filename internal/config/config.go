// Package config provides TOML-based runtime configuration loading and
// YAML-based behavior rule loading for sentrywatch.
//
// Example usage:
//
//	cfg, err := config.Load("sentrywatch.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("source: %s\n", cfg.Source.URI)
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// SourceType selects the decoder's capture mode.
type SourceType string

const (
	// SourceRTSP reads a live network stream, paced by arrival.
	SourceRTSP SourceType = "rtsp"
	// SourceFile reads a local file, paced to its native frame rate.
	SourceFile SourceType = "file"
)

// FPSMode selects the encoder's decimation policy.
type FPSMode string

const (
	// FPSModeSource emits at the observed source fps (no decimation).
	FPSModeSource FPSMode = "source"
	// FPSModeTarget downsamples to TargetFPS by decimation.
	FPSModeTarget FPSMode = "target"
)

// EncodingMode selects the encoder's bitrate policy.
type EncodingMode string

const (
	// EncodingQuality uses constant-quality rate control.
	EncodingQuality EncodingMode = "quality"
	// EncodingBalanced uses a constant target bitrate.
	EncodingBalanced EncodingMode = "balanced"
)

// Config is the complete runtime configuration for one camera pipeline.
type Config struct {
	Source     SourceConfig     `toml:"source"`
	Timing     TimingConfig     `toml:"timing"`
	Resolution ResolutionConfig `toml:"resolution"`
	Encoding   EncodingConfig   `toml:"encoding"`
	ReID       ReIDConfig       `toml:"reid"`
	Storage    StorageConfig    `toml:"storage"`
	Notifier   NotifierConfig   `toml:"notifier"`
	Supervisor SupervisorConfig `toml:"supervisor"`

	// BehaviorPath points at the YAML ROI/tripwire file. Empty means no
	// behavior rules are loaded (no ROI, no tripwires).
	BehaviorPath string `toml:"behavior_path"`
}

// SourceConfig selects and locates the video source. RTSPTransport is a
// hint for RTSP sources only: "tcp" or "udp" forces that transport on the
// capture backend, empty leaves the backend's default.
type SourceConfig struct {
	Type          SourceType `toml:"source_type"`
	URI           string     `toml:"source_uri"`
	RTSPTransport string     `toml:"rtsp_transport"`
}

// TimingConfig controls the event state machine's timers and buffer sizing.
type TimingConfig struct {
	PreEventSeconds  float64 `toml:"pre_event_seconds"`
	PostEventSeconds float64 `toml:"post_event_seconds"`
	CooldownPeriod   float64 `toml:"cooldown_period"`
	MaxEventDuration float64 `toml:"max_event_duration"`
	TargetFPS        float64 `toml:"target_fps"`
}

// ResolutionConfig declares the analysis and encode resolutions.
type ResolutionConfig struct {
	AnalysisWidth  int `toml:"analysis_width"`
	AnalysisHeight int `toml:"analysis_height"`
	EncodeWidth    int `toml:"encode_width"`
	EncodeHeight   int `toml:"encode_height"`
}

// EncodingConfig controls the encoder stage's fps decimation and bitrate policy.
type EncodingConfig struct {
	FPSMode         FPSMode      `toml:"video_fps_mode"`
	Mode            EncodingMode `toml:"video_encoding_mode"`
	TargetBitrate   float64      `toml:"target_bitrate_mbps"`
	OutputDirectory string       `toml:"output_directory"`
}

// ReIDConfig controls gallery reconciliation.
type ReIDConfig struct {
	// PersonMatchThreshold has no safe default; Validate rejects a zero
	// value and the caller must set it explicitly.
	PersonMatchThreshold float64 `toml:"person_match_threshold"`
	// IntraClusterThreshold is the distinct intra-event clustering
	// constant, separate from PersonMatchThreshold.
	IntraClusterThreshold float64 `toml:"intra_cluster_threshold"`
}

// StorageConfig locates the SQLite gallery/event database.
type StorageConfig struct {
	DatabasePath string `toml:"database_path"`
}

// NotifierConfig selects and configures the event notifier. An empty
// BotToken disables the Discord notifier in favor of NopNotifier, which
// keeps the pipeline runnable without a configured bot.
type NotifierConfig struct {
	BotToken  string `toml:"discord_bot_token"`
	ChannelID string `toml:"discord_channel_id"`
}

// SupervisorConfig controls health checking and shutdown timeouts.
type SupervisorConfig struct {
	HealthCheckInterval float64 `toml:"health_check_interval"`
	ThreadJoinTimeout   float64 `toml:"thread_join_timeout"`
	EncoderPoolSize     int     `toml:"encoder_pool_size"`
}

// Default returns the default configuration. PersonMatchThreshold is left
// at zero deliberately: it has no safe default and Validate will reject it
// until the caller sets one explicitly.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Type: SourceFile,
		},
		Timing: TimingConfig{
			PreEventSeconds:  5,
			PostEventSeconds: 5,
			CooldownPeriod:   5,
			MaxEventDuration: 60,
			TargetFPS:        15,
		},
		Resolution: ResolutionConfig{
			AnalysisWidth:  640,
			AnalysisHeight: 360,
			EncodeWidth:    1920,
			EncodeHeight:   1080,
		},
		Encoding: EncodingConfig{
			FPSMode:         FPSModeTarget,
			Mode:            EncodingQuality,
			TargetBitrate:   2,
			OutputDirectory: "captures",
		},
		ReID: ReIDConfig{
			IntraClusterThreshold: 0.90,
		},
		Storage: StorageConfig{
			DatabasePath: "data/sentrywatch.db",
		},
		Supervisor: SupervisorConfig{
			HealthCheckInterval: 15,
			ThreadJoinTimeout:   10,
			EncoderPoolSize:     4,
		},
	}
}

// Load reads and parses a TOML configuration file. If path is empty, or the
// file does not exist, the default configuration is returned without an
// error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for invalid or missing required values.
func (c *Config) Validate() error {
	switch c.Source.Type {
	case SourceRTSP, SourceFile:
	default:
		return fmt.Errorf("source_type must be %q or %q, got %q", SourceRTSP, SourceFile, c.Source.Type)
	}
	if c.Source.URI == "" {
		return fmt.Errorf("source_uri must not be empty")
	}
	switch c.Source.RTSPTransport {
	case "", "tcp", "udp":
	default:
		return fmt.Errorf("rtsp_transport must be %q, %q, or empty, got %q", "tcp", "udp", c.Source.RTSPTransport)
	}
	if c.Timing.TargetFPS <= 0 {
		return fmt.Errorf("target_fps must be positive, got %f", c.Timing.TargetFPS)
	}
	if c.Timing.PreEventSeconds <= 0 {
		return fmt.Errorf("pre_event_seconds must be positive, got %f", c.Timing.PreEventSeconds)
	}
	if c.Timing.PostEventSeconds <= 0 {
		return fmt.Errorf("post_event_seconds must be positive, got %f", c.Timing.PostEventSeconds)
	}
	if c.Timing.CooldownPeriod < 0 {
		return fmt.Errorf("cooldown_period must not be negative, got %f", c.Timing.CooldownPeriod)
	}
	if c.Timing.MaxEventDuration <= 0 {
		return fmt.Errorf("max_event_duration must be positive, got %f", c.Timing.MaxEventDuration)
	}
	if c.Resolution.AnalysisWidth <= 0 || c.Resolution.AnalysisHeight <= 0 {
		return fmt.Errorf("analysis resolution must be positive, got %dx%d", c.Resolution.AnalysisWidth, c.Resolution.AnalysisHeight)
	}
	if c.Resolution.EncodeWidth <= 0 || c.Resolution.EncodeHeight <= 0 {
		return fmt.Errorf("encode resolution must be positive, got %dx%d", c.Resolution.EncodeWidth, c.Resolution.EncodeHeight)
	}
	switch c.Encoding.FPSMode {
	case FPSModeSource, FPSModeTarget:
	default:
		return fmt.Errorf("video_fps_mode must be %q or %q, got %q", FPSModeSource, FPSModeTarget, c.Encoding.FPSMode)
	}
	switch c.Encoding.Mode {
	case EncodingQuality, EncodingBalanced:
	default:
		return fmt.Errorf("video_encoding_mode must be %q or %q, got %q", EncodingQuality, EncodingBalanced, c.Encoding.Mode)
	}
	if c.Encoding.Mode == EncodingBalanced && c.Encoding.TargetBitrate <= 0 {
		return fmt.Errorf("target_bitrate_mbps must be positive in balanced mode, got %f", c.Encoding.TargetBitrate)
	}
	if c.Encoding.OutputDirectory == "" {
		return fmt.Errorf("output_directory must not be empty")
	}
	// person_match_threshold has no default; it must be set explicitly.
	// A zero or out-of-range value is rejected.
	if c.ReID.PersonMatchThreshold <= 0 || c.ReID.PersonMatchThreshold > 1 {
		return fmt.Errorf("person_match_threshold is required and must be in (0, 1], got %f", c.ReID.PersonMatchThreshold)
	}
	if c.ReID.IntraClusterThreshold <= 0 || c.ReID.IntraClusterThreshold > 1 {
		return fmt.Errorf("intra_cluster_threshold must be in (0, 1], got %f", c.ReID.IntraClusterThreshold)
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if c.Supervisor.HealthCheckInterval <= 0 {
		return fmt.Errorf("health_check_interval must be positive, got %f", c.Supervisor.HealthCheckInterval)
	}
	if c.Supervisor.ThreadJoinTimeout <= 0 {
		return fmt.Errorf("thread_join_timeout must be positive, got %f", c.Supervisor.ThreadJoinTimeout)
	}
	if c.Supervisor.EncoderPoolSize <= 0 {
		return fmt.Errorf("encoder_pool_size must be positive, got %d", c.Supervisor.EncoderPoolSize)
	}
	return nil
}
