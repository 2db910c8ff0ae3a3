package memory

import "testing"

func TestTrackedAllocator_Accounting(t *testing.T) {
	a := NewTrackedAllocator()

	buf := a.Allocate(1024)
	if buf == nil {
		t.Fatal("allocate returned nil")
	}
	if got := a.CurrentAllocated(); got < 1024 {
		t.Errorf("current = %d, want >= 1024", got)
	}

	buf2 := a.Allocate(2048)
	peakBefore := a.PeakAllocated()
	if peakBefore < 3072 {
		t.Errorf("peak = %d, want >= 3072", peakBefore)
	}

	a.Free(buf)
	a.Free(buf2)
	if got := a.CurrentAllocated(); got != 0 {
		t.Errorf("current after frees = %d, want 0", got)
	}
	if a.PeakAllocated() != peakBefore {
		t.Error("peak must not decrease on free")
	}
}

func TestTrackedAllocator_Reallocate(t *testing.T) {
	a := NewTrackedAllocator()

	buf := a.Allocate(100)
	buf = a.Reallocate(4096, buf)
	if got := a.CurrentAllocated(); got < 4096 {
		t.Errorf("current after realloc = %d, want >= 4096", got)
	}
	a.Free(buf)
	if got := a.CurrentAllocated(); got != 0 {
		t.Errorf("current after free = %d, want 0", got)
	}
}
