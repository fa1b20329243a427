package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kolkov/leaktracer/internal/leak/eventchan"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the current allocation counters of a running leakagent",
	RunE:  runStats,
}

func runStats(c *cobra.Command, args []string) error {
	name := shmName()
	m, err := eventchan.OpenExistingNamed(name)
	if err != nil {
		return fmt.Errorf("attach %s: %w", name, err)
	}
	defer m.Close()

	reader := eventchan.NewReader(m.Buffer)
	s := reader.Stats()

	fmt.Printf("allocations: %d\n", s.TotalAllocations)
	fmt.Printf("frees:       %d\n", s.TotalFrees)
	fmt.Printf("current:     %d bytes\n", s.CurrentMemory)
	fmt.Printf("leaks:       %d\n", s.LeakCount)
	return nil
}
