// Package options provides the replay configuration and its YAML loader.
package options

import (
	"errors"
	"fmt"
	"time"
)

// Defaults applied to zero-valued fields before validation.
const (
	DefaultFrameRate           = 1
	DefaultSegmentDuration     = 5 * time.Second
	DefaultErrorBufferDuration = 30 * time.Second
	DefaultMaximumDuration     = 60 * time.Minute
	DefaultBitRate             = 20_000
	DefaultResolutionScale     = 1.0
	DefaultWriteTimeout        = 120 * time.Second
)

// ReplayOptions configures capture cadence, segment timing, sampling and
// encoder quality.
type ReplayOptions struct {
	SessionSampleRate   float64       `yaml:"session_sample_rate"`
	OnErrorSampleRate   float64       `yaml:"on_error_sample_rate"`
	FrameRate           int           `yaml:"frame_rate,omitempty"`
	SegmentDuration     time.Duration `yaml:"segment_duration,omitempty"`
	ErrorBufferDuration time.Duration `yaml:"error_buffer_duration,omitempty"`
	MaximumDuration     time.Duration `yaml:"maximum_duration,omitempty"`
	FrameCapacity       int           `yaml:"frame_capacity,omitempty"`
	Quality             Quality       `yaml:"quality,omitempty"`
	Redact              bool          `yaml:"redact,omitempty"`
}

// Quality holds the encoder quality parameters.
type Quality struct {
	BitRate         int           `yaml:"bit_rate,omitempty"`
	ResolutionScale float64       `yaml:"resolution_scale,omitempty"`
	WriteTimeout    time.Duration `yaml:"write_timeout,omitempty"`
}

// Default returns options with every default applied.
func Default() ReplayOptions {
	var o ReplayOptions
	o.ApplyDefaults()
	return o
}

// ApplyDefaults fills zero-valued fields.
func (o *ReplayOptions) ApplyDefaults() {
	if o.FrameRate == 0 {
		o.FrameRate = DefaultFrameRate
	}
	if o.SegmentDuration == 0 {
		o.SegmentDuration = DefaultSegmentDuration
	}
	if o.ErrorBufferDuration == 0 {
		o.ErrorBufferDuration = DefaultErrorBufferDuration
	}
	if o.MaximumDuration == 0 {
		o.MaximumDuration = DefaultMaximumDuration
	}
	if o.Quality.BitRate == 0 {
		o.Quality.BitRate = DefaultBitRate
	}
	if o.Quality.ResolutionScale == 0 {
		o.Quality.ResolutionScale = DefaultResolutionScale
	}
	if o.Quality.WriteTimeout == 0 {
		o.Quality.WriteTimeout = DefaultWriteTimeout
	}
}

// Validate checks that the options are usable.
func (o *ReplayOptions) Validate() error {
	if err := validateRate("session_sample_rate", o.SessionSampleRate); err != nil {
		return err
	}
	if err := validateRate("on_error_sample_rate", o.OnErrorSampleRate); err != nil {
		return err
	}
	if o.FrameRate < 1 {
		return errors.New("frame_rate must be at least 1")
	}
	if o.SegmentDuration <= 0 {
		return errors.New("segment_duration must be positive")
	}
	if o.ErrorBufferDuration <= 0 {
		return errors.New("error_buffer_duration must be positive")
	}
	if o.MaximumDuration < o.SegmentDuration {
		return errors.New("maximum_duration must not be shorter than segment_duration")
	}
	if o.FrameCapacity < 0 {
		return errors.New("frame_capacity must not be negative")
	}
	if err := o.Quality.Validate(); err != nil {
		return fmt.Errorf("quality: %w", err)
	}
	return nil
}

// Validate checks the encoder quality parameters.
func (q *Quality) Validate() error {
	if q.BitRate <= 0 {
		return errors.New("bit_rate must be positive")
	}
	if q.ResolutionScale <= 0 || q.ResolutionScale > 1 {
		return errors.New("resolution_scale must be in range (0, 1]")
	}
	if q.WriteTimeout <= 0 {
		return errors.New("write_timeout must be positive")
	}
	return nil
}

// FrameInterval returns the time between two captures.
func (o *ReplayOptions) FrameInterval() time.Duration {
	return time.Second / time.Duration(o.FrameRate)
}

// ErrorWindowStart returns the beginning of the trailing window encoded when
// a buffered session is upgraded at now. The half frame interval keeps the
// first frame of the window from being dropped at the boundary.
func (o *ReplayOptions) ErrorWindowStart(now time.Time) time.Time {
	return now.Add(-o.ErrorBufferDuration - o.FrameInterval()/2)
}

func validateRate(name string, rate float64) error {
	if rate < 0 || rate > 1 {
		return fmt.Errorf("%s must be in range 0-1", name)
	}
	return nil
}
