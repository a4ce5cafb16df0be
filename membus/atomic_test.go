package membus

import "testing"

func newTestBus() *Bus {
	b := NewBus()
	b.AddRegion("ram", 0x1000, 0x1000, PermRead|PermWrite|PermExecute, true)
	return b
}

func TestLoadStoreRoundTrip(t *testing.T) {
	b := newTestBus()
	if err := b.StoreWord(0x1000, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	v, err := b.LoadWord(0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xdeadbeef {
		t.Fatalf("got 0x%x want 0xdeadbeef", v)
	}
}

func TestAccessFaultUnmapped(t *testing.T) {
	b := newTestBus()
	if _, err := b.LoadWord(0x9000); err == nil {
		t.Fatal("expected access fault for unmapped address")
	}
}

func TestLRSCSuccess(t *testing.T) {
	b := newTestBus()
	a := NewAtomicUnit(b)
	if _, err := a.LoadReservedWord(1, 0x1000); err != nil {
		t.Fatal(err)
	}
	ok, err := a.StoreConditionalWord(1, 0x1000, 42)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected SC to succeed after matching LR")
	}
}

func TestLRSCFailsOnForeignLock(t *testing.T) {
	b := newTestBus()
	a := NewAtomicUnit(b)
	if _, err := a.LoadReservedWord(1, 0x1000); err != nil {
		t.Fatal(err)
	}
	// a different hart stores to the reserved address, invalidating it.
	if err := b.StoreWord(0x1000, 7); err != nil {
		t.Fatal(err)
	}
	a.InvalidateIfOverlapping(0x1000)
	ok, err := a.StoreConditionalWord(1, 0x1000, 42)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected SC to fail after foreign store invalidated reservation")
	}
}

func TestForwardProgressEventuallyInvalidates(t *testing.T) {
	b := newTestBus()
	a := NewAtomicUnit(b)
	if _, err := a.LoadReservedWord(1, 0x1000); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 16; i++ {
		a.Tick()
	}
	ok, err := a.StoreConditionalWord(1, 0x1000, 1)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected reservation to lapse after forward-progress budget exhausted")
	}
}
