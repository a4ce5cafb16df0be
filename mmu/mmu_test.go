package mmu

import (
	"testing"

	"github.com/lookbusy1344/riscv-vp/hart"
	"github.com/lookbusy1344/riscv-vp/membus"
)

// buildWalk creates a full 3-level Sv39 page table mapping one vaddr to
// one 4KB leaf page, returning the root ppn.
func buildWalk(t *testing.T, bus *membus.Bus, vaddr, leafPPN uint64, leafFlags uint64) uint64 {
	t.Helper()
	const rootPPN, midPPN = 1, 2 // page-table pages at ppn 1, 2 (0x1000, 0x2000)
	vpn2 := (vaddr >> 30) & 0x1FF
	vpn1 := (vaddr >> 21) & 0x1FF
	vpn0 := (vaddr >> 12) & 0x1FF

	rootPTE := uint64(midPPN<<10) | pteV
	if err := bus.StoreDouble(uint64(rootPPN)*0x1000+vpn2*8, rootPTE); err != nil {
		t.Fatal(err)
	}
	const leafTablePPN = 3
	midPTE := uint64(leafTablePPN<<10) | pteV
	if err := bus.StoreDouble(uint64(midPPN)*0x1000+vpn1*8, midPTE); err != nil {
		t.Fatal(err)
	}
	leafPTE := (leafPPN << 10) | leafFlags
	if err := bus.StoreDouble(uint64(leafTablePPN)*0x1000+vpn0*8, leafPTE); err != nil {
		t.Fatal(err)
	}
	return uint64(rootPPN)
}

func setupSv39(t *testing.T) (*MMU, *hart.CSRFile, *membus.Bus) {
	bus := membus.NewBus()
	bus.AddRegion("ram", 0, 0x100000, membus.PermRead|membus.PermWrite|membus.PermExecute, true)

	csr := hart.NewCSRFile(64, 0, 0)
	rootPPN := buildWalk(t, bus, 0x2000_0000, 0x10, pteV|pteR|pteW|pteX|pteA|pteD)
	_ = csr.Set(hart.CsrSatp, hart.PrivM, (8<<60)|rootPPN)

	return New(bus), csr, bus
}

func TestSv39LeafTranslate(t *testing.T) {
	m, csr, _ := setupSv39(t)
	paddr, err := m.Translate(csr, 0x2000_0000, AccessLoad, hart.PrivS, false, false, true)
	if err != nil {
		t.Fatal(err)
	}
	if paddr != 0x10000 {
		t.Fatalf("paddr = 0x%x want 0x10000", paddr)
	}
}

func TestSv39PageFaultOnFetchWhenNotExecutable(t *testing.T) {
	bus := membus.NewBus()
	bus.AddRegion("ram", 0, 0x100000, membus.PermRead|membus.PermWrite, true)
	csr := hart.NewCSRFile(64, 0, 0)
	rootPPN := buildWalk(t, bus, 0, 0x10, pteV|pteR|pteW|pteA|pteD) // no X bit
	_ = csr.Set(hart.CsrSatp, hart.PrivM, (8<<60)|rootPPN)
	m := New(bus)
	if _, err := m.Translate(csr, 0, AccessFetch, hart.PrivS, false, false, true); err == nil {
		t.Fatal("expected page fault on fetch from non-executable leaf")
	}
}

func TestTLBFlush(t *testing.T) {
	m, csr, _ := setupSv39(t)
	if _, err := m.Translate(csr, 0x2000_0000, AccessLoad, hart.PrivS, false, false, true); err != nil {
		t.Fatal(err)
	}
	m.Flush()
	if _, err := m.Translate(csr, 0x2000_0000, AccessLoad, hart.PrivS, false, false, true); err != nil {
		t.Fatal(err)
	}
}
