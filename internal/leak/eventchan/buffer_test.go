package eventchan

import (
	"sync"
	"testing"
)

func TestPublishAdvancesWriteIndex(t *testing.T) {
	buf := &Buffer{}
	pub := NewPublisher(buf)

	pub.Publish(Event{EventType: EventAlloc, Payload: Payload{Address: 0x1000, Size: 64}})

	if buf.WriteIndex != 1 {
		t.Fatalf("WriteIndex = %d, want 1", buf.WriteIndex)
	}
	if buf.Events[0].IsValid != 1 {
		t.Fatal("published slot not marked valid")
	}
	if buf.Events[0].Payload.Address != 0x1000 {
		t.Fatalf("Address = %#x, want 0x1000", buf.Events[0].Payload.Address)
	}
}

func TestPublishEventIDsUnique(t *testing.T) {
	buf := &Buffer{}
	pub := NewPublisher(buf)

	var wg sync.WaitGroup
	const n = 200
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.Publish(Event{EventType: EventAlloc})
		}()
	}
	wg.Wait()

	seen := make(map[int32]bool, n)
	for i := 0; i < n; i++ {
		id := buf.Events[i].EventID
		if seen[id] {
			t.Fatalf("duplicate event id %d", id)
		}
		seen[id] = true
	}
}

func TestAddAllocationAndFreeConserveMemory(t *testing.T) {
	buf := &Buffer{}
	pub := NewPublisher(buf)

	pub.AddAllocation(100)
	pub.AddAllocation(200)
	pub.AddFree(100)

	stats := pub.Stats()
	if stats.TotalAllocations != 2 {
		t.Fatalf("TotalAllocations = %d, want 2", stats.TotalAllocations)
	}
	if stats.TotalFrees != 1 {
		t.Fatalf("TotalFrees = %d, want 1", stats.TotalFrees)
	}
	if stats.CurrentMemory != 200 {
		t.Fatalf("CurrentMemory = %d, want 200", stats.CurrentMemory)
	}
}

func TestNoTornReadsUnderConcurrentPublish(t *testing.T) {
	buf := &Buffer{}
	pub := NewPublisher(buf)
	reader := NewReader(buf)

	var wg sync.WaitGroup
	const producers = 8
	const perProducer = 50
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				pub.Publish(Event{
					EventType: EventAlloc,
					ThreadID:  uint64(p),
					Payload:   Payload{Address: uint64(p*1000 + i), Size: 8},
				})
			}
		}(p)
	}
	wg.Wait()

	events := reader.Drain()
	if len(events) != producers*perProducer {
		t.Fatalf("Drain returned %d events, want %d", len(events), producers*perProducer)
	}
	for _, ev := range events {
		if ev.IsValid != 1 {
			t.Fatal("drained event not marked valid (torn read)")
		}
	}
}
