package iss_test

import (
	"testing"

	"github.com/lookbusy1344/riscv-vp/hart"
	"github.com/lookbusy1344/riscv-vp/iss"
	"github.com/lookbusy1344/riscv-vp/membus"
	"github.com/lookbusy1344/riscv-vp/mmu"
)

// newTestCore builds a 64-bit hart with a 1MB RAM region and no MMU
// translation enabled (satp left at its reset value, mode=bare), the same
// bare-metal harness shape the monitor package's tests use.
func newTestCore(t *testing.T, compressed bool) *iss.Core {
	t.Helper()
	bus := membus.NewBus()
	bus.AddRegion("ram", 0, 1<<20, membus.PermRead|membus.PermWrite|membus.PermExecute, true)
	h := hart.NewHart(64, 0, 0, 0)
	return iss.NewCore(h, bus, mmu.New(bus), membus.NewAtomicUnit(bus), compressed)
}

// TestAddiImmediate covers the ADDI case literally spelled out: addi x1,
// x0, 42 retires x1=42 and advances pc by 4.
func TestAddiImmediate(t *testing.T) {
	c := newTestCore(t, false)
	const addi = 0x02A00093 // addi x1, x0, 42
	if err := c.Bus.StoreWord(0, addi); err != nil {
		t.Fatal(err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := c.Hart.Int.Get(1); got != 42 {
		t.Errorf("x1 = %d, want 42", got)
	}
	if c.Hart.PC != 4 {
		t.Errorf("pc = 0x%x, want 4", c.Hart.PC)
	}
}

// TestCompressedAddi covers C.ADDI x1, 5: a 16-bit instruction that must
// retire and advance pc by only 2.
func TestCompressedAddi(t *testing.T) {
	c := newTestCore(t, true)
	const cAddi = 0x0095 // c.addi x1, 5
	if err := c.Bus.StoreHalf(0, cAddi); err != nil {
		t.Fatal(err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := c.Hart.Int.Get(1); got != 5 {
		t.Errorf("x1 = %d, want 5", got)
	}
	if c.Hart.PC != 2 {
		t.Errorf("pc = 0x%x, want 2", c.Hart.PC)
	}
}

// TestDivByZero covers the RISC-V-mandated DIV-by-zero result: DIV
// returns all-ones, REM returns the dividend, without trapping.
func TestDivByZero(t *testing.T) {
	c := newTestCore(t, false)
	// x2 = -1 (addi x2, x0, -1), x3 = 0 (already zero)
	const addiNeg1 = 0xFFF00113 // addi x2, x0, -1
	if err := c.Bus.StoreWord(0, addiNeg1); err != nil {
		t.Fatal(err)
	}
	// div x4, x2, x3 : rd=4 (x4), funct3=4, rs1=2 (x2), rs2=3 (x3), funct7=1
	const divInstr = (1 << 25) | (3 << 20) | (2 << 15) | (4 << 12) | (4 << 7) | 0x33
	if err := c.Bus.StoreWord(4, uint32(divInstr)); err != nil {
		t.Fatal(err)
	}
	// rem x5, x2, x3 : rd=5, funct3=6
	const remInstr = (1 << 25) | (3 << 20) | (2 << 15) | (6 << 12) | (5 << 7) | 0x33
	if err := c.Bus.StoreWord(8, uint32(remInstr)); err != nil {
		t.Fatal(err)
	}

	if err := c.Step(); err != nil { // addi x2, x0, -1
		t.Fatalf("Step 1: %v", err)
	}
	if err := c.Step(); err != nil { // div x4, x2, x3
		t.Fatalf("Step 2: %v", err)
	}
	if err := c.Step(); err != nil { // rem x5, x2, x3
		t.Fatalf("Step 3: %v", err)
	}

	if got := c.Hart.Int.Get(4); got != ^uint64(0) {
		t.Errorf("x4 (div by zero) = 0x%x, want all-ones", got)
	}
	if got := c.Hart.Int.Get(5); int64(got) != -1 {
		t.Errorf("x5 (rem by zero) = %d, want -1 (the dividend)", int64(got))
	}
}

// TestDivOverflow covers the signed-overflow special case: INT64_MIN /
// -1 returns the dividend unchanged, and the corresponding REM returns 0.
func TestDivOverflow(t *testing.T) {
	c := newTestCore(t, false)
	minInt64 := uint64(1) << 63

	c.Hart.Int.Set(2, minInt64) // x2 = INT64_MIN
	c.Hart.Int.Set(3, ^uint64(0)) // x3 = -1

	// div x4, x2, x3
	const divInstr = (1 << 25) | (3 << 20) | (2 << 15) | (4 << 12) | (4 << 7) | 0x33
	if err := c.Bus.StoreWord(0, uint32(divInstr)); err != nil {
		t.Fatal(err)
	}
	// rem x5, x2, x3
	const remInstr = (1 << 25) | (3 << 20) | (2 << 15) | (6 << 12) | (5 << 7) | 0x33
	if err := c.Bus.StoreWord(4, uint32(remInstr)); err != nil {
		t.Fatal(err)
	}

	if err := c.Step(); err != nil {
		t.Fatalf("Step 1: %v", err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("Step 2: %v", err)
	}

	if got := c.Hart.Int.Get(4); got != minInt64 {
		t.Errorf("x4 (div overflow) = 0x%x, want 0x%x (dividend)", got, minInt64)
	}
	if got := c.Hart.Int.Get(5); got != 0 {
		t.Errorf("x5 (rem overflow) = %d, want 0", got)
	}
}

// amoWord hand-encodes an AMO/LR/SC instruction word: the mnemonic table
// in package asm has no A-extension entries, so the RV32A/RV64A R-type
// encoding (opcode 0101111, funct5 in bits 31:27, aq/rl in 26:25) is built
// directly here.
func amoWord(funct5 uint32, wide bool, rd, rs1, rs2 uint32) uint32 {
	funct3 := uint32(2)
	if wide {
		funct3 = 3
	}
	return (funct5 << 27) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | 0x2F
}

// TestLRSCSuccess covers an uninterrupted LR.W/SC.W pair: SC must succeed
// (rd=0) and the stored value must land in memory.
func TestLRSCSuccess(t *testing.T) {
	c := newTestCore(t, false)
	const addr = 0x100
	if err := c.Bus.StoreWord(addr, 7); err != nil {
		t.Fatal(err)
	}

	lrw := amoWord(0x02, false, 1, 10, 0) // lr.w x1, (x10)
	scw := amoWord(0x03, false, 2, 10, 3) // sc.w x2, x3, (x10)
	if err := c.Bus.StoreWord(0, lrw); err != nil {
		t.Fatal(err)
	}
	if err := c.Bus.StoreWord(4, scw); err != nil {
		t.Fatal(err)
	}

	c.Hart.Int.Set(10, addr)
	c.Hart.Int.Set(3, 99)

	if err := c.Step(); err != nil { // lr.w
		t.Fatalf("Step lr.w: %v", err)
	}
	if got := c.Hart.Int.Get(1); got != 7 {
		t.Errorf("x1 (lr.w result) = %d, want 7", got)
	}
	if err := c.Step(); err != nil { // sc.w
		t.Fatalf("Step sc.w: %v", err)
	}
	if got := c.Hart.Int.Get(2); got != 0 {
		t.Errorf("x2 (sc.w status) = %d, want 0 (success)", got)
	}
	v, err := c.Bus.LoadWord(addr)
	if err != nil {
		t.Fatal(err)
	}
	if v != 99 {
		t.Errorf("memory at 0x%x = %d, want 99", addr, v)
	}
}

// TestLRSCFailsOnForeignLock covers the case where another hart's LR on
// the same address invalidates this hart's reservation before the SC
// runs: SC must fail (rd=1) and leave memory unchanged.
func TestLRSCFailsOnForeignLock(t *testing.T) {
	c := newTestCore(t, false)
	const addr = 0x100
	if err := c.Bus.StoreWord(addr, 7); err != nil {
		t.Fatal(err)
	}

	lrw := amoWord(0x02, false, 1, 10, 0) // lr.w x1, (x10)
	scw := amoWord(0x03, false, 2, 10, 3) // sc.w x2, x3, (x10)
	if err := c.Bus.StoreWord(0, lrw); err != nil {
		t.Fatal(err)
	}
	if err := c.Bus.StoreWord(4, scw); err != nil {
		t.Fatal(err)
	}

	c.Hart.Int.Set(10, addr)
	c.Hart.Int.Set(3, 99)

	if err := c.Step(); err != nil { // lr.w, hart 0 takes the reservation
		t.Fatalf("Step lr.w: %v", err)
	}

	// A foreign hart (id 1) loads-reserved the same address, stealing the
	// lock before this hart's sc.w executes.
	if _, err := c.Atomic.LoadReservedWord(1, addr); err != nil {
		t.Fatal(err)
	}

	if err := c.Step(); err != nil { // sc.w
		t.Fatalf("Step sc.w: %v", err)
	}
	if got := c.Hart.Int.Get(2); got != 1 {
		t.Errorf("x2 (sc.w status) = %d, want 1 (failure)", got)
	}
	v, err := c.Bus.LoadWord(addr)
	if err != nil {
		t.Fatal(err)
	}
	if v != 7 {
		t.Errorf("memory at 0x%x = %d, want unchanged 7", addr, v)
	}
}

// TestSv39FetchPageFault covers a fetch against an Sv39 satp whose root
// page table is all-zero (every PTE invalid): Step must deliver an
// instruction-page-fault with mepc and mtval both equal to the faulting
// pc, not advance it.
func TestSv39FetchPageFault(t *testing.T) {
	c := newTestCore(t, false)
	c.Hart.Priv = hart.PrivS // satp is only consulted below M-mode

	const rootPPN = 0x10 // an arbitrary physical page, left zeroed by the bus
	const modeSv39 = 8
	satp := (uint64(modeSv39) << 60) | rootPPN
	if err := c.Hart.CSR.Set(hart.CsrSatp, hart.PrivM, satp); err != nil {
		t.Fatal(err)
	}

	const entry = 0x1000
	c.Hart.PC = entry

	if err := c.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	mepc, err := c.Hart.CSR.Get(hart.CsrMepc, hart.PrivM)
	if err != nil {
		t.Fatal(err)
	}
	if mepc != entry {
		t.Errorf("mepc = 0x%x, want 0x%x", mepc, entry)
	}
	mtval, err := c.Hart.CSR.Get(hart.CsrMtval, hart.PrivM)
	if err != nil {
		t.Fatal(err)
	}
	if mtval != entry {
		t.Errorf("mtval = 0x%x, want 0x%x", mtval, entry)
	}
	mcause, err := c.Hart.CSR.Get(hart.CsrMcause, hart.PrivM)
	if err != nil {
		t.Fatal(err)
	}
	if mcause != hart.ExcInstrPageFault {
		t.Errorf("mcause = %d, want %d (instruction page fault)", mcause, hart.ExcInstrPageFault)
	}
	if c.Hart.Priv != hart.PrivM {
		t.Errorf("priv = %v, want M (no delegation configured)", c.Hart.Priv)
	}
}

// TestInterruptDelegatedToSupervisor covers an S-mode-delegated external
// interrupt pending while the hart runs in U-mode: it must be taken at S
// (not M), with scause reporting an interrupt with exception code 9
// (supervisor external).
func TestInterruptDelegatedToSupervisor(t *testing.T) {
	c := newTestCore(t, false)
	c.Hart.Priv = hart.PrivU

	if err := c.Hart.CSR.Set(hart.CsrMideleg, hart.PrivM, uint64(1)<<hart.IntSExternal); err != nil {
		t.Fatal(err)
	}
	if err := c.Hart.CSR.Set(hart.CsrMie, hart.PrivM, uint64(1)<<hart.IntSExternal); err != nil {
		t.Fatal(err)
	}
	c.Hart.TriggerExternalInterrupt(hart.IntSExternal)

	if err := c.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if c.Hart.Priv != hart.PrivS {
		t.Fatalf("priv = %v, want S", c.Hart.Priv)
	}
	scause, err := c.Hart.CSR.Get(hart.CsrScause, hart.PrivS)
	if err != nil {
		t.Fatal(err)
	}
	const interruptBit = uint64(1) << 63
	if scause&interruptBit == 0 {
		t.Fatalf("scause = 0x%x, want the interrupt bit set", scause)
	}
	if code := scause &^ interruptBit; code != hart.IntSExternal {
		t.Errorf("scause exception code = %d, want %d", code, hart.IntSExternal)
	}
}

// TestMisalignedBranchWithoutC covers a taken branch to a non-word-aligned
// target when the C extension is disabled: it must trap with
// instr-addr-misaligned and mtval equal to the (unaligned) target.
func TestMisalignedBranchWithoutC(t *testing.T) {
	c := newTestCore(t, false) // compressed=false: every branch target must be 4-byte aligned
	const entry = 0x200
	c.Hart.PC = entry

	// beq x0, x0, +2 (always taken, odd-halfword-aligned target)
	const beqOffset2 = (0 << 25) | (0 << 20) | (0 << 15) | (0 << 12) |
		// imm[11]=0 imm[4:1]=0b0001 imm[10:5]=0 rd field carries imm[4:1]|imm[11]
		(0x1 << 8) | 0x63
	if err := c.Bus.StoreWord(entry, uint32(beqOffset2)); err != nil {
		t.Fatal(err)
	}

	if err := c.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	mcause, err := c.Hart.CSR.Get(hart.CsrMcause, hart.PrivM)
	if err != nil {
		t.Fatal(err)
	}
	if mcause != hart.ExcInstrAddrMisaligned {
		t.Errorf("mcause = %d, want %d (instr addr misaligned)", mcause, hart.ExcInstrAddrMisaligned)
	}
	mtval, err := c.Hart.CSR.Get(hart.CsrMtval, hart.PrivM)
	if err != nil {
		t.Fatal(err)
	}
	if want := entry + 2; mtval != uint64(want) {
		t.Errorf("mtval = 0x%x, want 0x%x", mtval, want)
	}
	mepc, err := c.Hart.CSR.Get(hart.CsrMepc, hart.PrivM)
	if err != nil {
		t.Fatal(err)
	}
	if mepc != entry {
		t.Errorf("mepc = 0x%x, want 0x%x (the branch itself, not its target)", mepc, entry)
	}
}
