package options

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load parses options from the given reader with strict field validation.
// Unknown fields in the YAML cause an error. Defaults are applied before
// validation.
func Load(r io.Reader) (*ReplayOptions, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var opts ReplayOptions
	if err := decoder.Decode(&opts); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("empty options file")
		}
		return nil, fmt.Errorf("failed to parse options: %w", err)
	}

	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	return &opts, nil
}

// LoadFile loads options from the given file path.
func LoadFile(path string) (*ReplayOptions, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return nil, fmt.Errorf("failed to open options file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Load(f)
}
