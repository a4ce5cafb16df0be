package hart

// Hart is one RISC-V hardware thread: its architectural state plus two
// configurable policy toggles (ADUpdate, WFIAsNop) kept as per-hart
// booleans rather than global constants.
type Hart struct {
	ID   uint64
	XLEN int

	Priv Priv
	PC   uint64
	LastPC uint64

	Int   IntRegs
	Float FloatRegs
	CSR   *CSRFile

	HasF, HasD bool

	// ADUpdate selects the A/D-bit policy for the MMU: true updates the
	// bits on first access (this implementation's default, per the
	// newer split RV32/RV64 codebase), false raises a page fault instead
	// and expects software to set them.
	ADUpdate bool

	// WFIAsNop, when true, makes WFI retire immediately instead of
	// parking the hart until an interrupt becomes pending.
	WFIAsNop bool

	waitingForInterrupt bool
	halted              bool
}

// NewHart builds a hart with the given XLEN, ID, and extension set (an OR
// of the misa* bits), reset to M-mode at the given entry pc.
func NewHart(xlen int, id uint64, misaExt uint64, entry uint64) *Hart {
	h := &Hart{
		ID:       id,
		XLEN:     xlen,
		Priv:     PrivM,
		PC:       entry,
		CSR:      NewCSRFile(xlen, id, misaExt),
		HasF:     misaExt&misaF != 0,
		HasD:     misaExt&misaD != 0,
		ADUpdate: true,
	}
	h.Int.XLEN = xlen
	return h
}

func (h *Hart) WFI() {
	if h.WFIAsNop {
		return
	}
	h.waitingForInterrupt = true
}

// Parked reports whether the hart is blocked in WFI.
func (h *Hart) Parked() bool { return h.waitingForInterrupt }

// TriggerTimerInterrupt sets the hart's timer-pending bit for the given
// level (hart.IntMTimer / IntSTimer / IntUTimer) and wakes it from WFI.
func (h *Hart) TriggerTimerInterrupt(level uint64) {
	h.CSR.mip |= 1 << level
	h.wake()
}

// TriggerExternalInterrupt sets the hart's external-pending bit.
func (h *Hart) TriggerExternalInterrupt(level uint64) {
	h.CSR.mip |= 1 << level
	h.wake()
}

// TriggerSoftwareInterrupt sets the hart's software-pending bit.
func (h *Hart) TriggerSoftwareInterrupt(level uint64) {
	h.CSR.mip |= 1 << level
	h.wake()
}

// ClearInterrupt clears a pending-interrupt bit (used by the clock when a
// timer comparator is raised past mtime).
func (h *Hart) ClearInterrupt(level uint64) {
	h.CSR.mip &^= 1 << level
}

func (h *Hart) wake() {
	h.waitingForInterrupt = false
}

// Halted reports whether the hart has executed an unrecoverable host-side
// abort (category 2 of the error model) and should no longer be stepped.
func (h *Hart) Halted() bool { return h.halted }

func (h *Hart) Halt() { h.halted = true }

// RaiseTrap runs the full trap-entry protocol against this hart, updating
// PC and Priv, and returns. It is the only place PC/Priv change outside
// of ordinary instruction retirement.
func (h *Hart) RaiseTrap(t *Trap) {
	newPC, newPriv := EnterTrap(h.CSR, t, h.Priv, h.PC)
	h.PC = newPC
	h.Priv = newPriv
}

// Mret/Sret/Uret perform the xRET protocol and return whether the return
// was legal at the hart's current privilege (the ISS core loop raises
// EXC_ILLEGAL_INSTR if not).
func (h *Hart) Mret() bool {
	if h.Priv != PrivM {
		return false
	}
	pc, priv := ReturnFromTrap(h.CSR, PrivM)
	h.PC, h.Priv = pc, priv
	return true
}

func (h *Hart) Sret() bool {
	if h.Priv != PrivS && h.Priv != PrivM {
		return false
	}
	if h.Priv == PrivS && h.CSR.Tsr() {
		return false
	}
	pc, priv := ReturnFromTrap(h.CSR, PrivS)
	h.PC, h.Priv = pc, priv
	return true
}

func (h *Hart) Uret() bool {
	pc, priv := ReturnFromTrap(h.CSR, PrivU)
	h.PC, h.Priv = pc, priv
	return true
}

// CheckPendingInterrupt looks for a deliverable interrupt and, if found,
// wakes a parked hart and enters the trap, returning true.
func (h *Hart) CheckPendingInterrupt() bool {
	cause, ok := PendingInterrupt(h.CSR, h.Priv)
	if !ok {
		return false
	}
	h.wake()
	h.RaiseTrap(NewInterrupt(cause))
	return true
}
