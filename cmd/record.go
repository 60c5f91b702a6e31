package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/replay-capture/replay-capture/internal/assembler"
	"github.com/replay-capture/replay-capture/internal/capture"
	"github.com/replay-capture/replay-capture/internal/platform"
	"github.com/replay-capture/replay-capture/internal/recovery"
	"github.com/replay-capture/replay-capture/internal/replay"
	"github.com/replay-capture/replay-capture/internal/report"
	"github.com/replay-capture/replay-capture/internal/upload"
)

var (
	recordFull       bool
	recordDuration   time.Duration
	recordDisplay    int
	recordFrameRate  int
	recordRedact     bool
	recordErrorAfter time.Duration
	recordUpload     uploadFlags
)

// newScreenshotProvider builds the capture backend. Tests swap it for a fake.
var newScreenshotProvider = func(display int) capture.ScreenshotProvider {
	return &platform.DisplayProvider{Display: display}
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Capture the display into replay segments",
	Long: `Record captures a display at the configured frame rate and encodes the
frames into segments.

In full session mode (--full) a segment is produced every segment duration
until the session stops or reaches its maximum duration. In buffered mode
only a rolling window of recent frames is kept; an error (simulated with
--error-after) turns the session into a full one, encoding the window first.

Recording stops on SIGINT/SIGTERM or after --duration. A session stopped
cleanly is flushed and its directory removed. A session killed mid-way is
recovered by the next record run, or by 'replay-capture recover'.

Examples:
  replay-capture record --full --duration 30s
  replay-capture record --error-after 20s --duration 1m
  replay-capture record --full --mqtt-broker tcp://localhost:1883`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

func init() { //nolint:gochecknoinits // Standard cobra pattern
	recordCmd.Flags().BoolVar(&recordFull, "full", false, "Start in full session mode instead of buffered mode")
	recordCmd.Flags().DurationVar(&recordDuration, "duration", 0, "Stop after this long (default: until interrupted)")
	recordCmd.Flags().IntVar(&recordDisplay, "display", 0, "Index of the display to capture")
	recordCmd.Flags().IntVar(&recordFrameRate, "frame-rate", 0, "Frames per second (overrides the options file)")
	recordCmd.Flags().BoolVar(&recordRedact, "redact", false, "Redact sensitive content (overrides the options file)")
	recordCmd.Flags().DurationVar(&recordErrorAfter, "error-after", 0, "Report a simulated error after this long")
	recordUpload.register(recordCmd)
	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, _ []string) error {
	opts, err := loadOptions()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("frame-rate") {
		opts.FrameRate = recordFrameRate
	}
	if cmd.Flags().Changed("redact") {
		opts.Redact = recordRedact
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	dirs, err := sessionDirs()
	if err != nil {
		return err
	}
	enc, err := newSegmentEncoder(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if recordDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, recordDuration)
		defer cancel()
	}

	uploader, release, err := recordUpload.build(ctx)
	if err != nil {
		return err
	}
	defer release()

	out := cmd.ErrOrStderr()
	var segments atomic.Int32
	counted := upload.Func(func(ctx context.Context, rec *assembler.Recording) error {
		segments.Add(1)
		fmt.Fprintf(out, "replay-capture: segment %d of %s (%s, %d frames)\n",
			rec.Metadata.SegmentID, rec.Metadata.ReplayID, rec.Metadata.ReplayType, rec.Metadata.FrameCount)
		return uploader.Upload(ctx, rec)
	})

	sched := capture.New(capture.Config{
		Options:  *opts,
		Dirs:     dirs,
		Provider: newScreenshotProvider(recordDisplay),
		Encoder:  enc,
		Uploader: counted,
	})
	if err := sched.Start(recordFull); err != nil {
		return err
	}
	state := sched.State()
	fmt.Fprintf(out, "replay-capture: recording %s (%s) into %s\n", state.ID, state.Mode, state.Dir)

	// Start rotated whatever the previous process left in current into last.
	recoveryEnc, err := newSegmentEncoder(opts)
	if err != nil {
		sched.Stop()
		return err
	}
	recovered := recovery.New(recovery.Config{
		Options:  *opts,
		Dirs:     dirs,
		Encoder:  recoveryEnc,
		Uploader: uploader,
	}).RunAsync(context.WithoutCancel(ctx), nil)

	var errorAfter <-chan time.Time
	if recordErrorAfter > 0 {
		timer := time.NewTimer(recordErrorAfter)
		defer timer.Stop()
		errorAfter = timer.C
	}

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-errorAfter:
			event := replay.NewErrorEvent(uuid.NewString())
			if sched.CaptureForEvent(event) {
				id, _ := event.ReplayID()
				fmt.Fprintf(out, "replay-capture: error %s linked to replay %s\n", event.ID, id)
			} else {
				fmt.Fprintf(out, "replay-capture: error %s not sampled\n", event.ID)
			}
		}
	}

	sched.Stop()
	fmt.Fprintf(out, "replay-capture: stopped %s after %d segment(s)\n", state.ID, segments.Load())

	if res := <-recovered; res.Outcome != recovery.OutcomeNone {
		report.FormatRecovery(out, res, false)
	}
	return nil
}
