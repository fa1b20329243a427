package clock

import "testing"

func TestNowNSMonotonic(t *testing.T) {
	a := NowNS()
	b := NowNS()
	if b < a {
		t.Fatalf("NowNS went backwards: %d then %d", a, b)
	}
}

func TestThreadIDStableWithinGoroutine(t *testing.T) {
	a := ThreadID()
	b := ThreadID()
	if a != b {
		t.Fatalf("ThreadID changed within the same goroutine: %d then %d", a, b)
	}
}

func TestSiteIDNonZeroForRealCaller(t *testing.T) {
	site := func() uint16 { return SiteID(0) }()
	if site == 0 {
		t.Skip("runtime.Callers returned no frame in this test environment")
	}
}
