package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeValidateRoot creates a fresh root + validate command tree for testing.
func makeValidateRoot() (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	validateFormatFlag = "text"

	v := &cobra.Command{
		Use:  "validate <file>...",
		Args: cobra.MinimumNArgs(1),
		RunE: runValidate,
	}
	v.Flags().StringVar(&validateFormatFlag, "format", "text", "Output format: text, json")
	return newTestRoot(v)
}

func writeOptionsFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const validOptions = `
session_sample_rate: 0.1
on_error_sample_rate: 1.0
frame_rate: 2
segment_duration: 5s
`

func TestValidate_ValidFile(t *testing.T) {
	path := writeOptionsFile(t, "valid.yaml", validOptions)

	root, _, stderr := makeValidateRoot()
	root.SetArgs([]string{"validate", path})

	require.NoError(t, root.Execute())
	assert.Contains(t, stderr.String(), "✓ "+path+": valid")
}

func TestValidateFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "rate out of range",
			content: "session_sample_rate: 2\n",
			want:    "session_sample_rate must be in range 0-1",
		},
		{
			name:    "unknown field",
			content: "frames_per_second: 2\n",
			want:    "failed to parse options",
		},
		{
			name:    "bad yaml",
			content: "frame_rate: [1\n",
			want:    "failed to parse options",
		},
		{
			name:    "maximum shorter than segment",
			content: "segment_duration: 10s\nmaximum_duration: 5s\n",
			want:    "maximum_duration must not be shorter than segment_duration",
		},
		{
			name:    "empty",
			content: "",
			want:    "empty options file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validateFile(writeOptionsFile(t, "opts.yaml", tt.content))
			assert.False(t, result.Valid)
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], tt.want)
		})
	}
}

func TestValidate_FileNotFound(t *testing.T) {
	result := validateFile("nonexistent-file-xyz.yaml")

	assert.False(t, result.Valid, "nonexistent file should not be valid")
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "failed to open options file")
}

func TestValidate_MultipleFiles_MixedResults(t *testing.T) {
	valid := writeOptionsFile(t, "valid.yaml", validOptions)
	invalid := writeOptionsFile(t, "invalid.yaml", "frame_rate: -1\n")

	root, _, stderr := makeValidateRoot()
	root.SetArgs([]string{"validate", valid, invalid})

	err := root.Execute()
	assert.ErrorIs(t, err, errInvalidFiles)
	assert.Contains(t, stderr.String(), "✗ "+invalid+":")
	assert.Contains(t, stderr.String(), "Result: 1/2 files valid")
}

func TestValidate_JSONFormat(t *testing.T) {
	valid := writeOptionsFile(t, "valid.yaml", validOptions)
	invalid := writeOptionsFile(t, "invalid.yaml", "on_error_sample_rate: -0.5\n")

	root, stdout, _ := makeValidateRoot()
	root.SetArgs([]string{"validate", "--format", "json", valid, invalid})
	require.ErrorIs(t, root.Execute(), errInvalidFiles)

	var results []ValidationResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &results))
	require.Len(t, results, 2)

	assert.True(t, results[0].Valid)
	assert.Empty(t, results[0].Errors, "valid result should have an empty errors array")
	assert.False(t, results[1].Valid)
	assert.Contains(t, results[1].Errors[0], "on_error_sample_rate")
}

func TestValidate_InvalidFormat(t *testing.T) {
	root, _, _ := makeValidateRoot()
	root.SetArgs([]string{"validate", "--format", "xml", "x.yaml"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}
