// Package cmd implements the replay-capture Cobra command tree.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kataras/golog"
	"github.com/spf13/cobra"

	"github.com/replay-capture/replay-capture/internal/encoder"
	"github.com/replay-capture/replay-capture/internal/options"
	"github.com/replay-capture/replay-capture/internal/platform"
	"github.com/replay-capture/replay-capture/internal/session"
	"github.com/replay-capture/replay-capture/internal/upload"
)

// Version, Commit, and Date are set at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	logLevelFlag string
	baseDirFlag  string
	configFlag   string
)

// newMediaEncoder builds the encoding backend. Tests swap it for a fake.
var newMediaEncoder = func() (encoder.MediaEncoder, error) {
	return platform.NewGStreamerEncoder()
}

var rootCmd = &cobra.Command{
	Use:   "replay-capture",
	Short: "Screen replay capture with crash-safe segment recovery",
	Long: `replay-capture - Screen replay capture with crash-safe segment recovery

Capture the screen at a low frame rate, encode it into short H.264 segments
and hand each finished segment to an uploader. Frames live on disk until
they are encoded, so a session cut short by a crash is finished on the
next run.

Examples:
  # Record the primary display for one minute in full session mode
  replay-capture record --full --duration 1m

  # Finish a session left behind by a crashed process
  replay-capture recover

  # Show what is on disk
  replay-capture inspect

  # Remove directories of sessions that can no longer be recovered
  replay-capture clean`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: applyLogLevel,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() { //nolint:gochecknoinits // Standard cobra pattern
	rootCmd.SetVersionTemplate(fmt.Sprintf("replay-capture version {{.Version}} (commit: %s, built: %s)\n", Commit, Date))

	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info",
		"Log level: disable, fatal, error, warn, info, debug")
	rootCmd.PersistentFlags().StringVar(&baseDirFlag, "dir", "",
		"Base directory holding the replay folder (default: user cache dir)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "",
		"Replay options YAML file")
}

func applyLogLevel(_ *cobra.Command, _ []string) error {
	level := strings.ToLower(logLevelFlag)
	switch level {
	case "disable", "fatal", "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("invalid log level %q: valid values are disable, fatal, error, warn, info, debug", logLevelFlag)
	}
	golog.SetLevel(level)
	return nil
}

// baseDir resolves --dir, falling back to <user cache dir>/replay-capture.
func baseDir() (string, error) {
	if baseDirFlag != "" {
		return filepath.Abs(baseDirFlag)
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve cache dir, pass --dir: %w", err)
	}
	return filepath.Join(cache, "replay-capture"), nil
}

func sessionDirs() (*session.Dirs, error) {
	base, err := baseDir()
	if err != nil {
		return nil, err
	}
	return session.NewDirs(base), nil
}

// loadOptions reads --config, or returns the defaults when it is unset.
func loadOptions() (*options.ReplayOptions, error) {
	if configFlag == "" {
		opts := options.Default()
		return &opts, nil
	}
	return options.LoadFile(configFlag)
}

func newSegmentEncoder(opts *options.ReplayOptions) (*encoder.SegmentEncoder, error) {
	media, err := newMediaEncoder()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encoder: %w", err)
	}
	return encoder.New(media, encoder.Settings{
		FrameRate:       opts.FrameRate,
		BitRate:         opts.Quality.BitRate,
		ResolutionScale: opts.Quality.ResolutionScale,
		WriteTimeout:    opts.Quality.WriteTimeout,
	}), nil
}

// uploadFlags selects where finished recordings go.
type uploadFlags struct {
	outbox string
	mqtt   upload.MQTTConfig
}

func (f *uploadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.outbox, "outbox", "",
		"Directory receiving <replayId>-<segment>.json/.mp4 (default: <dir>/outbox)")
	cmd.Flags().StringVar(&f.mqtt.Broker, "mqtt-broker", "", "Also publish recordings to this MQTT broker (tcp://host:1883)")
	cmd.Flags().StringVar(&f.mqtt.ClientID, "mqtt-client-id", "replay-capture", "MQTT client id")
	cmd.Flags().StringVar(&f.mqtt.Topic, "mqtt-topic", "replay/recordings", "MQTT topic prefix")
	cmd.Flags().Uint8Var(&f.mqtt.QoS, "mqtt-qos", 1, "MQTT publish QoS")
}

// build returns the uploader and a function releasing its connections.
func (f *uploadFlags) build(ctx context.Context) (upload.Uploader, func(), error) {
	outbox := f.outbox
	if outbox == "" {
		base, err := baseDir()
		if err != nil {
			return nil, nil, err
		}
		outbox = filepath.Join(base, "outbox")
	}
	dir, err := upload.NewDirectory(outbox)
	if err != nil {
		return nil, nil, err
	}
	if f.mqtt.Broker == "" {
		return dir, func() {}, nil
	}

	m := upload.NewMQTT(f.mqtt)
	if err := m.Connect(ctx); err != nil {
		return nil, nil, err
	}
	return upload.Multi{dir, m}, m.Disconnect, nil
}
