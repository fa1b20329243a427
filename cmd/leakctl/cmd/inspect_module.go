package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/mod/modfile"
)

var inspectModuleCmd = &cobra.Command{
	Use:   "inspect-module [path to go.mod]",
	Short: "Print the module path and dependency list of a go.mod file",
	Long: `inspect-module is a small diagnostic for checking which leakagent
build produced a given leakagent.so — since the agent is loaded via
LD_PRELOAD with no argv of its own, the build's go.mod is often the only
artifact available to confirm which dependency versions are in use.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspectModule,
}

func runInspectModule(c *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	modFile, err := modfile.Parse(path, data, nil)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if modFile.Module != nil {
		fmt.Printf("module:  %s\n", modFile.Module.Mod.Path)
	}
	if modFile.Go != nil {
		fmt.Printf("go:      %s\n", modFile.Go.Version)
	}
	fmt.Println("requires:")
	for _, req := range modFile.Require {
		indirect := ""
		if req.Indirect {
			indirect = " // indirect"
		}
		fmt.Printf("  %s %s%s\n", req.Mod.Path, req.Mod.Version, indirect)
	}
	return nil
}
