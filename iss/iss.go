// Package iss implements the instruction set simulator core loop: fetch,
// decode, execute, trap — the single site where an architectural trap is
// caught, mirroring the ARM emulator's VM.Step in vm/executor.go.
package iss

import (
	"fmt"
	"io"
	"os"

	"github.com/lookbusy1344/riscv-vp/hart"
	"github.com/lookbusy1344/riscv-vp/membus"
	"github.com/lookbusy1344/riscv-vp/mmu"
	"github.com/lookbusy1344/riscv-vp/riscv"
)

// State mirrors the ARM emulator's ExecutionState split (vm/executor.go).
type State int

const (
	StateRunning State = iota
	StateHalted
	StateBreakpoint
	StateError
)

// Core runs one hart against a shared bus. Multiple Cores share a *Bus
// and a *clock.QuantumKeeper (wired by cmd/rvvp) to model multiple harts
// cooperatively.
type Core struct {
	Hart *hart.Hart
	Bus  *membus.Bus
	MMU  *mmu.MMU
	Atomic *membus.AtomicUnit

	DecodeOpts riscv.Options

	State    State
	LastErr  error

	Syscall SyscallHandler

	OutputWriter io.Writer

	InstructionTrace *InstructionTrace
}

// SyscallHandler intercepts ECALL when in the syscall-emulation (not bare
// architectural trap) mode. It returns handled=true if it consumed the
// ECALL itself (e.g. newlib-style syscall emulation); otherwise the core
// raises the ordinary ExcEcallU/S/M trap.
type SyscallHandler interface {
	HandleEcall(c *Core) (handled bool, err error)
}

// NewCore builds a core with a fresh decode-options view derived from the
// hart's XLEN and declared extensions.
func NewCore(h *hart.Hart, bus *membus.Bus, m *mmu.MMU, atomic *membus.AtomicUnit, compressed bool) *Core {
	return &Core{
		Hart:         h,
		Bus:          bus,
		MMU:          m,
		Atomic:       atomic,
		DecodeOpts:   riscv.Options{RV64: h.XLEN == 64, C: compressed},
		State:        StateRunning,
		OutputWriter: os.Stdout,
	}
}

// Step executes exactly one instruction (or, if the hart is parked in
// WFI, checks for a deliverable interrupt and otherwise does nothing).
// It is the single call site that catches a *hart.Trap, matching the
// ARM emulator's single-site Execute-error catch in vm/executor.go's Step.
func (c *Core) Step() error {
	if c.State == StateError {
		return fmt.Errorf("core is in error state: %w", c.LastErr)
	}

	if c.Hart.Parked() {
		c.Hart.CheckPendingInterrupt()
		return nil
	}

	if c.Hart.CheckPendingInterrupt() {
		return nil
	}

	pc := c.Hart.PC
	word, err := c.fetch(pc)
	if err != nil {
		return c.trap(err, pc)
	}

	decoded := riscv.Decode(word, pc, c.DecodeOpts)

	if decoded.Op == riscv.UNDEF {
		return c.trap(hart.NewException(hart.ExcIllegalInstr, uint64(decoded.Word.Raw)), pc)
	}

	if err := c.execute(decoded); err != nil {
		if trap, ok := err.(*hart.Trap); ok {
			return c.trap(trap, pc)
		}
		c.State = StateError
		c.LastErr = err
		return err
	}

	if c.Hart.PC == pc {
		c.Hart.LastPC = pc
		c.Hart.PC = pc + uint64(decoded.PCDelta)
	}

	c.Hart.CSR.IncrCounters(true)
	c.Atomic.Tick()

	if c.InstructionTrace != nil {
		c.InstructionTrace.Record(pc, decoded.Op.String())
	}

	return nil
}

// trap converts a *hart.Trap (or a membus/mmu fault) into the
// trap-entry protocol and records it; any other error is a host-side
// simulator error (category 2) and halts the core without delivering a
// guest trap.
func (c *Core) trap(err error, pc uint64) error {
	if t, ok := err.(*hart.Trap); ok {
		c.Hart.RaiseTrap(t)
		return nil
	}
	if af, ok := err.(*membus.AccessFault); ok {
		cause := hart.ExcLoadAccessFault
		if af.Fetch {
			cause = hart.ExcInstrAccessFault
		} else if af.Write {
			cause = hart.ExcStoreAccessFault
		}
		c.Hart.RaiseTrap(hart.NewException(uint64(cause), af.Addr))
		return nil
	}
	if pf, ok := err.(*mmu.PageFault); ok {
		cause := hart.ExcLoadPageFault
		switch pf.Access {
		case mmu.AccessFetch:
			cause = hart.ExcInstrPageFault
		case mmu.AccessStore:
			cause = hart.ExcStorePageFault
		}
		c.Hart.RaiseTrap(hart.NewException(uint64(cause), pf.VAddr))
		return nil
	}
	c.State = StateError
	c.LastErr = fmt.Errorf("simulator error at pc=0x%x: %w", pc, err)
	return c.LastErr
}

func (c *Core) fetch(pc uint64) (uint32, error) {
	paddr, err := c.translate(pc, mmu.AccessFetch)
	if err != nil {
		return 0, err
	}
	low, err := c.Bus.FetchHalf(paddr)
	if err != nil {
		return 0, err
	}
	if low&0x3 != 0x3 {
		return uint32(low), nil
	}
	paddrHi, err := c.translate(pc+2, mmu.AccessFetch)
	if err != nil {
		return 0, err
	}
	hi, err := c.Bus.FetchHalf(paddrHi)
	if err != nil {
		return 0, err
	}
	return uint32(low) | uint32(hi)<<16, nil
}

// Translate exposes the core's address translation to external
// inspectors (the debugger, the monitor server) that need to read or
// write guest memory by virtual address without going through Step.
func (c *Core) Translate(vaddr uint64, access mmu.AccessType) (uint64, error) {
	return c.translate(vaddr, access)
}

func (c *Core) translate(vaddr uint64, access mmu.AccessType) (uint64, error) {
	priv := c.effectivePriv(access)
	sum := c.Hart.CSR.Sum()
	mxr := c.Hart.CSR.Mxr()
	return c.MMU.Translate(c.Hart.CSR, vaddr, access, priv, sum, mxr, c.Hart.ADUpdate)
}

// effectivePriv applies mstatus.MPRV for data accesses: when set, loads
// and stores are translated and permission-checked as if executing at
// MPP instead of the hart's actual privilege. Instruction fetch always
// uses the real privilege.
func (c *Core) effectivePriv(access mmu.AccessType) hart.Priv {
	if access != mmu.AccessFetch && c.Hart.CSR.Mprv() {
		return c.Hart.CSR.MPP()
	}
	return c.Hart.Priv
}
