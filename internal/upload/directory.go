package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/replay-capture/replay-capture/internal/assembler"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Directory writes each recording into an outbox directory as
// <replayId>-<segment>.json plus <replayId>-<segment>.mp4.
type Directory struct {
	Dir string
}

// NewDirectory returns an uploader writing into dir, creating it if needed.
func NewDirectory(dir string) (*Directory, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create outbox: %w", err)
	}
	return &Directory{Dir: dir}, nil
}

// BaseName returns the file name stem used for a recording.
func BaseName(rec *assembler.Recording) string {
	return fmt.Sprintf("%s-%d", rec.Metadata.ReplayID, rec.Metadata.SegmentID)
}

// Upload writes the video first and the JSON last, so a JSON file in the
// outbox always has its video next to it.
func (d *Directory) Upload(ctx context.Context, rec *assembler.Recording) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal recording: %w", err)
	}

	stem := filepath.Join(d.Dir, BaseName(rec))
	if err := writeAtomic(stem+".mp4", rec.Video); err != nil {
		return err
	}
	if err := writeAtomic(stem+".json", data); err != nil {
		return err
	}

	logger.Debugf("wrote %s.{json,mp4}", stem)
	return nil
}

// ReadRecording loads a recording written by Directory.Upload, video
// included.
func ReadRecording(jsonPath string) (*assembler.Recording, error) {
	data, err := os.ReadFile(jsonPath) //nolint:gosec // outbox path supplied by the operator
	if err != nil {
		return nil, err
	}
	var rec assembler.Recording
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse recording %s: %w", filepath.Base(jsonPath), err)
	}

	videoPath := jsonPath[:len(jsonPath)-len(filepath.Ext(jsonPath))] + ".mp4"
	video, err := os.ReadFile(videoPath) //nolint:gosec // sibling of jsonPath
	if err != nil {
		return nil, fmt.Errorf("failed to read video: %w", err)
	}
	rec.Video = video
	return &rec, nil
}

func writeAtomic(path string, data []byte) error {
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
