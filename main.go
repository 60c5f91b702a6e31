// Package main is the entry point for replay-capture.
package main

import (
	"fmt"
	"os"

	"github.com/replay-capture/replay-capture/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "replay-capture: %v\n", err)
		os.Exit(1)
	}
}
