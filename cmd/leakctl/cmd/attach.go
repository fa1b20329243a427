package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"
	"unsafe"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kolkov/leaktracer/internal/leak/eventchan"
)

var (
	attachRaw      bool
	attachInterval time.Duration
)

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Attach to a running leakagent and stream its events",
	RunE:  runAttach,
}

func init() {
	attachCmd.Flags().BoolVar(&attachRaw, "raw", false, "dump raw event bytes instead of decoding them")
	attachCmd.Flags().DurationVar(&attachInterval, "interval", 200*time.Millisecond, "poll interval")
}

func shmName() string {
	name := viper.GetString("shm")
	if name != "" {
		return name
	}
	return eventchan.DefaultName
}

func runAttach(c *cobra.Command, args []string) error {
	name := shmName()
	m, err := eventchan.OpenExistingNamed(name)
	if err != nil {
		return fmt.Errorf("attach %s: %w", name, err)
	}
	defer m.Close()

	reader := eventchan.NewReader(m.Buffer)
	fmt.Fprintf(os.Stderr, "leakctl: attached to %s, session %s\n", name, reader.SessionID)

	stop := make(chan struct{})
	c.SetContext(c.Context())

	for {
		events := reader.Poll(attachInterval, stop)
		for _, ev := range events {
			if attachRaw {
				printRawEvent(ev)
			} else {
				printEvent(ev)
			}
		}
		if lag := reader.Overrun(); lag > 0 {
			fmt.Fprintf(os.Stderr, "leakctl: reader fell behind by %d events, some were dropped\n", lag)
		}
	}
}

func printEvent(ev eventchan.Event) {
	kind := eventKindName(ev.EventType)
	fmt.Printf("[%s] id=%d thread=%d addr=0x%x size=%d extra=%d site=%d\n",
		kind, ev.EventID, ev.ThreadID, ev.Payload.Address, ev.Payload.Size, ev.Payload.Extra, ev.Payload.SiteID)
}

func eventKindName(t eventchan.EventType) string {
	switch t {
	case eventchan.EventAlloc:
		return "ALLOC"
	case eventchan.EventFree:
		return "FREE"
	case eventchan.EventLeak:
		return "LEAK"
	case eventchan.EventAccess:
		return "ACCESS"
	default:
		return "NONE"
	}
}

// printRawEvent dumps an Event's raw memory layout as hex, the same
// information debug_shm.py used to print directly from the mapped
// segment, useful when leakagent and leakctl disagree about the Event
// struct layout.
func printRawEvent(ev eventchan.Event) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(&ev)), unsafe.Sizeof(ev))
	fmt.Println(hex.EncodeToString(b))
}
