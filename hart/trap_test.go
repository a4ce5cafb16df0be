package hart

import "testing"

func TestCSRPrivilegeCheck(t *testing.T) {
	c := NewCSRFile(64, 0, misaI|misaM)
	if _, err := c.Get(CsrMstatus, PrivU); err == nil {
		t.Fatal("expected error reading mstatus from U mode")
	}
	if _, err := c.Get(CsrMstatus, PrivM); err != nil {
		t.Fatalf("unexpected error reading mstatus from M mode: %v", err)
	}
}

func TestCSRReadOnlyCheck(t *testing.T) {
	c := NewCSRFile(64, 0, misaI)
	if err := c.Set(CsrCycle, PrivM, 5); err == nil {
		t.Fatal("expected error writing read-only cycle CSR")
	}
}

func TestTrapEntryAndReturn(t *testing.T) {
	h := NewHart(64, 0, misaI|misaS|misaU, 0x1000)
	h.Priv = PrivU
	h.PC = 0x2000
	h.CSR.mtvec = 0x8000_0000

	h.RaiseTrap(NewException(ExcIllegalInstr, 0xdead))
	if h.Priv != PrivM {
		t.Fatalf("priv after trap = %v want M", h.Priv)
	}
	if h.PC != 0x8000_0000 {
		t.Fatalf("pc after trap = 0x%x want tvec base", h.PC)
	}
	if h.CSR.mepc != 0x2000 {
		t.Fatalf("mepc = 0x%x want 0x2000", h.CSR.mepc)
	}
	if h.CSR.mcause != ExcIllegalInstr {
		t.Fatalf("mcause = %d want %d", h.CSR.mcause, ExcIllegalInstr)
	}
	if h.CSR.MPP() != PrivU {
		t.Fatalf("mpp = %v want U", h.CSR.MPP())
	}

	if !h.Mret() {
		t.Fatal("mret should succeed from M mode")
	}
	if h.Priv != PrivU {
		t.Fatalf("priv after mret = %v want U", h.Priv)
	}
	if h.PC != 0x2000 {
		t.Fatalf("pc after mret = 0x%x want 0x2000", h.PC)
	}
}

func TestInterruptPriority(t *testing.T) {
	c := NewCSRFile(64, 0, misaI|misaS)
	c.mie = (1 << IntMTimer) | (1 << IntMExternal)
	c.mip = (1 << IntMTimer) | (1 << IntMExternal)
	cause, ok := PendingInterrupt(c, PrivU)
	if !ok || cause != IntMExternal {
		t.Fatalf("cause=%d ok=%v want MExternal", cause, ok)
	}
}

func TestWFIParksAndWakes(t *testing.T) {
	h := NewHart(64, 0, misaI, 0)
	h.WFI()
	if !h.Parked() {
		t.Fatal("expected hart parked after WFI")
	}
	h.TriggerTimerInterrupt(IntMTimer)
	if h.Parked() {
		t.Fatal("expected hart woken by timer interrupt")
	}
}

func TestNaNBoxing(t *testing.T) {
	var f FloatRegs
	f.SetS(1, 0x3f800000)
	if got := f.GetS(1); got != 0x3f800000 {
		t.Fatalf("got 0x%x want 0x3f800000", got)
	}
	f.SetD(2, 0x1234567890abcdef)
	if got := f.GetS(2); got != defaultQuietNaN32 {
		t.Fatalf("reading non-boxed f32 = 0x%x want default qNaN", got)
	}
}
