// Command leakctl is the operator-facing CLI for the leak detector. It
// attaches to a running target process's shared-memory event channel,
// reports statistics, adjusts the staleness threshold, and can export
// Prometheus metrics.
package main

import (
	"fmt"
	"os"

	"github.com/kolkov/leaktracer/cmd/leakctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
