// Package cmd implements the leakctl subcommands.
package cmd

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "leakctl",
	Short: "Inspect and control a running leaktracer agent",
	Long: `leakctl talks to a target process that has leakagent preloaded via
LD_PRELOAD. It attaches to the process's shared-memory event channel to
report allocation statistics and leak events, and can push runtime
configuration changes such as the staleness threshold.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.leakctl.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("shm", "", "shared memory segment name (default ml_advanced_leak_detection)")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("shm", rootCmd.PersistentFlags().Lookup("shm"))

	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(thresholdCmd)
	rootCmd.AddCommand(serveMetricsCmd)
	rootCmd.AddCommand(inspectModuleCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".leakctl")
	}

	viper.SetEnvPrefix("LEAKCTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
		watchConfig()
	}
}

// watchConfig hot-reloads the staleness threshold from the config file
// without restarting leakctl (Design Note "config hot-reload").
func watchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if verbose {
			fmt.Fprintf(os.Stderr, "config changed: %s\n", e.Name)
		}
	})
	viper.WatchConfig()
}
