// Package clock coordinates multiple harts sharing one membus.Bus and
// provides the machine timer (mtime/mtimecmp) that drives timer
// interrupts, grounded on the ARM emulator's CPU.Cycles free-running counter
// (vm/cpu.go) generalized from one hart to a shared quantum and on the
// periodic-wakeup shape of the original platform timer
// (original_source/vp/src/platform/basic/basic_timer.h), expressed as a
// polled comparator instead of a SystemC thread.
package clock

import "github.com/lookbusy1344/riscv-vp/hart"

// QuantumKeeper bounds how far any one hart may run ahead of the others
// sharing a bus before a sync point, mirroring a coarse-grained
// temporal-decoupling scheduler: each hart runs a quantum's worth of
// instructions, then yields back to the round-robin driver.
type QuantumKeeper struct {
	QuantumInstructions uint64

	harts []*hart.Hart
	local []uint64
}

// NewQuantumKeeper builds a keeper for the given harts with the given
// per-round instruction budget.
func NewQuantumKeeper(quantum uint64, harts ...*hart.Hart) *QuantumKeeper {
	return &QuantumKeeper{
		QuantumInstructions: quantum,
		harts:               harts,
		local:               make([]uint64, len(harts)),
	}
}

// Advance records that hartIdx retired one instruction, and reports
// whether it has exhausted its quantum and should yield.
func (q *QuantumKeeper) Advance(hartIdx int) (needSync bool) {
	q.local[hartIdx]++
	if q.local[hartIdx] >= q.QuantumInstructions {
		q.local[hartIdx] = 0
		return true
	}
	return false
}

// MTime is the machine-mode free-running timer: a monotonic counter
// compared against a per-hart mtimecmp to raise IntMTimer, the RISC-V
// analogue of the ARM emulator's CPU.Cycles counter shared across harts
// instead of private to one.
type MTime struct {
	Now      uint64
	Compares []uint64 // per-hart mtimecmp, CSR-addressable via mmio in a fuller platform
}

// NewMTime builds a shared timer for n harts, with every comparator
// initialized to "never fires" (max uint64).
func NewMTime(n int) *MTime {
	cmp := make([]uint64, n)
	for i := range cmp {
		cmp[i] = ^uint64(0)
	}
	return &MTime{Compares: cmp}
}

// UpdateAndGetMtime returns the current shared timer value, the CLINT
// interface the CSR file's time/mtime reads delegate to (spec.md §4.3).
// Ticking already happens in Tick; this is a plain read, named to match
// the consumed clint_if::update_and_get_mtime() contract.
func (t *MTime) UpdateAndGetMtime() uint64 {
	return t.Now
}

// SetCompare programs hart i's mtimecmp, clearing its pending timer
// interrupt bit immediately since a higher value than Now means the old
// comparator firing is no longer valid (standard mtimecmp-write
// semantics).
func (t *MTime) SetCompare(i int, h *hart.Hart, value uint64) {
	t.Compares[i] = value
	if value > t.Now {
		h.ClearInterrupt(hart.IntMTimer)
	}
}

// Tick advances the shared timer by one and raises IntMTimer on any hart
// whose comparator has now been reached. The driver loop (cmd/rvvp)
// calls it once after every successful Step of any hart.
func (t *MTime) Tick(harts []*hart.Hart) {
	t.Now++
	for i, h := range harts {
		if i < len(t.Compares) && t.Now >= t.Compares[i] {
			h.TriggerTimerInterrupt(hart.IntMTimer)
		}
	}
}
