package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/replay-capture/replay-capture/internal/options"
	"github.com/replay-capture/replay-capture/internal/report"
)

// ValidationResult represents the validation outcome for a single options file.
type ValidationResult struct {
	File   string   `json:"file"`
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

var errInvalidFiles = errors.New("one or more options files are invalid")

var validateFormatFlag string

var validateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Validate replay options files",
	Long: `Validate one or more replay options YAML files without recording.

Checks strict schema compliance (unknown fields are errors) and value
ranges (sample rates in 0-1, positive durations, maximum duration not
shorter than a segment, resolution scale in (0, 1]).

Exit code 0 if all files are valid, 1 if any file has errors.

Formats:
  text   Human-readable output to stderr (default)
  json   Structured JSON to stdout

Examples:
  replay-capture validate replay.yaml
  replay-capture validate --format json a.yaml b.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() { //nolint:gochecknoinits // Standard cobra pattern
	validateCmd.Flags().StringVar(&validateFormatFlag, "format", "text",
		"Output format: text, json")
	rootCmd.AddCommand(validateCmd)
}

// runValidate validates each file independently and outputs results in the
// chosen format.
func runValidate(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(validateFormatFlag)
	switch format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid format %q: valid values are text, json", validateFormatFlag)
	}

	results := make([]ValidationResult, 0, len(args))
	hasErrors := false
	for _, path := range args {
		result := validateFile(path)
		results = append(results, result)
		if !result.Valid {
			hasErrors = true
		}
	}

	switch format {
	case "text":
		formatValidateText(cmd.ErrOrStderr(), results)
	case "json":
		if err := report.FormatJSON(cmd.OutOrStdout(), results); err != nil {
			return fmt.Errorf("failed to encode JSON output: %w", err)
		}
	}

	if hasErrors {
		return errInvalidFiles
	}
	return nil
}

// validateFile loads a single options file with strict parsing, defaults and
// validation.
func validateFile(path string) ValidationResult {
	if _, err := options.LoadFile(path); err != nil {
		return ValidationResult{File: path, Valid: false, Errors: []string{err.Error()}}
	}
	return ValidationResult{File: path, Valid: true, Errors: []string{}}
}

func formatValidateText(w io.Writer, results []ValidationResult) {
	validCount := 0
	for _, r := range results {
		if r.Valid {
			validCount++
			fmt.Fprintf(w, "✓ %s: valid\n", r.File)
			continue
		}
		fmt.Fprintf(w, "✗ %s:\n", r.File)
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}

	if len(results) > 1 {
		fmt.Fprintf(w, "\nResult: %d/%d files valid\n", validCount, len(results))
	}
}
