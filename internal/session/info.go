// Package session manages the on-disk layout of replay sessions: the
// current/last directory rotation and the files that let a session be
// finished after the process dies.
package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// File names inside a session directory.
const (
	InfoFileName      = "session.json"
	CrashInfoFileName = "crashInfo"
)

// Info is written once when a session starts.
type Info struct {
	ReplayID        string  `json:"replayId"`
	Path            string  `json:"path"`
	ErrorSampleRate float64 `json:"errorSampleRate"`
}

// CrashInfo records the last finished segment of a full session so that a
// crashed session can continue from it.
type CrashInfo struct {
	LastSegmentIndex uint32
	LastSegmentEnd   time.Time
}

// crashInfoSize is the encoded size: uint32 index + float64 seconds.
const crashInfoSize = 4 + 8

// MarshalBinary encodes the record as a little-endian uint32 followed by the
// segment end as float64 seconds since the Unix epoch. The end is truncated
// to the millisecond, like frame file names.
func (c CrashInfo) MarshalBinary() ([]byte, error) {
	buf := make([]byte, crashInfoSize)
	binary.LittleEndian.PutUint32(buf[0:4], c.LastSegmentIndex)
	seconds := float64(c.LastSegmentEnd.UnixMilli()) / 1000
	binary.LittleEndian.PutUint64(buf[4:12], math.Float64bits(seconds))
	return buf, nil
}

// UnmarshalBinary decodes a record written by MarshalBinary.
func (c *CrashInfo) UnmarshalBinary(data []byte) error {
	if len(data) != crashInfoSize {
		return fmt.Errorf("crash info must be %d bytes, got %d", crashInfoSize, len(data))
	}
	c.LastSegmentIndex = binary.LittleEndian.Uint32(data[0:4])
	seconds := math.Float64frombits(binary.LittleEndian.Uint64(data[4:12]))
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return errors.New("crash info timestamp is not finite")
	}
	// Truncate like frame file names do. The epsilon absorbs the sub-microsecond
	// error of a double holding epoch seconds.
	c.LastSegmentEnd = time.UnixMilli(int64(math.Floor(seconds*1000 + 1e-3)))
	return nil
}

// ReadInfo loads the session info from dir.
// Returns an error matching os.ErrNotExist if the file doesn't exist.
func ReadInfo(dir string) (*Info, error) {
	data, err := os.ReadFile(filepath.Join(dir, InfoFileName)) //nolint:gosec // path derived from replay root
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse session info: %w", err)
	}
	return &info, nil
}

// WriteInfo persists the session info into dir.
func WriteInfo(dir string, info *Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session info: %w", err)
	}
	return writeAtomic(filepath.Join(dir, InfoFileName), data)
}

// ReadCrashInfo loads the crash continuation record from dir.
// Returns an error matching os.ErrNotExist if the file doesn't exist.
func ReadCrashInfo(dir string) (*CrashInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, CrashInfoFileName)) //nolint:gosec // path derived from replay root
	if err != nil {
		return nil, err
	}
	var info CrashInfo
	if err := info.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to parse crash info: %w", err)
	}
	return &info, nil
}

// WriteCrashInfo persists the crash continuation record into dir.
func WriteCrashInfo(dir string, info CrashInfo) error {
	data, err := info.MarshalBinary()
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, CrashInfoFileName), data)
}

// writeAtomic writes to a temp file first and renames it over path so a crash
// never leaves a torn file behind.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpFile, path); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}

	return nil
}
