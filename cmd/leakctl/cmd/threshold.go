package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// thresholdCmd writes a staleness-threshold value into leakctl's own
// config file rather than pushing it to a running agent directly — the
// shared-memory channel is one-directional (tracer to reader, spec
// §4.E), so there is no in-band path back into the target process. The
// value is stored only in leakctl's config file; leakagent does not read
// that file (it takes its threshold from LEAK_STALENESS_SECONDS at
// startup). fsnotify's hot-reload (root.go's watchConfig) is for
// leakctl's own CLI session, not for reaching a running agent.
// Pushing set_staleness_threshold_seconds into an already-running
// leakagent requires calling that exported C function directly in the
// traced process (spec §6); leakctl has no channel to do that remotely.
var thresholdCmd = &cobra.Command{
	Use:   "threshold [seconds]",
	Short: "Get or set the configured staleness threshold",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runThreshold,
}

func runThreshold(c *cobra.Command, args []string) error {
	if len(args) == 0 {
		fmt.Printf("%.2f\n", viper.GetFloat64("staleness_threshold_seconds"))
		return nil
	}

	var seconds float64
	if _, err := fmt.Sscanf(args[0], "%f", &seconds); err != nil {
		return fmt.Errorf("invalid threshold %q: %w", args[0], err)
	}

	viper.Set("staleness_threshold_seconds", seconds)
	if cfgFile == "" {
		home, _ := os.UserHomeDir()
		cfgFile = home + "/.leakctl.yaml"
	}
	if err := viper.WriteConfigAs(cfgFile); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Printf("staleness threshold set to %.2fs in %s\n", seconds, cfgFile)
	return nil
}
