package hart

import "fmt"

// Cause codes. The top bit (1<<63 on rv64 / 1<<31 on rv32) distinguishes
// interrupts from exceptions in the cause CSRs; Trap.Cause holds the code
// without that bit, Trap.IsInterrupt records it, and causeWord packs the two.
const (
	ExcInstrAddrMisaligned = 0
	ExcInstrAccessFault    = 1
	ExcIllegalInstr        = 2
	ExcBreakpoint          = 3
	ExcLoadAddrMisaligned  = 4
	ExcLoadAccessFault     = 5
	ExcStoreAddrMisaligned = 6
	ExcStoreAccessFault    = 7
	ExcEcallU              = 8
	ExcEcallS              = 9
	ExcEcallM              = 11
	ExcInstrPageFault      = 12
	ExcLoadPageFault       = 13
	ExcStorePageFault      = 15

	IntUSoftware = 0
	IntSSoftware = 1
	IntMSoftware = 3
	IntUTimer    = 4
	IntSTimer    = 5
	IntMTimer    = 7
	IntUExternal = 8
	IntSExternal = 9
	IntMExternal = 11
)

// Trap is an architectural trap: the single Go error type the ISS core
// loop catches at its one call site, exactly as the ARM emulator's Step
// catches Execute's error at a single site (vm/executor.go).
type Trap struct {
	Cause       uint64
	Tval        uint64
	IsInterrupt bool
}

func (t *Trap) Error() string {
	kind := "exception"
	if t.IsInterrupt {
		kind = "interrupt"
	}
	return fmt.Sprintf("%s cause=%d tval=0x%x", kind, t.Cause, t.Tval)
}

// NewException builds an exception trap.
func NewException(cause uint64, tval uint64) *Trap {
	return &Trap{Cause: cause, Tval: tval}
}

// NewInterrupt builds an interrupt trap.
func NewInterrupt(cause uint64) *Trap {
	return &Trap{Cause: cause, IsInterrupt: true}
}

// causeWord packs IsInterrupt into the top bit of the XLEN-wide cause CSR.
func causeWord(t *Trap, xlen int) uint64 {
	if !t.IsInterrupt {
		return t.Cause
	}
	if xlen == 64 {
		return t.Cause | (1 << 63)
	}
	return t.Cause | (1 << 31)
}

// interruptPriority lists pending-interrupt causes in descending priority,
// per the privileged spec: MEI > MSI > MTI > SEI > SSI > STI > UEI > USI > UTI.
var interruptPriority = []uint64{
	IntMExternal, IntMSoftware, IntMTimer,
	IntSExternal, IntSSoftware, IntSTimer,
	IntUExternal, IntUSoftware, IntUTimer,
}

// PendingInterrupt returns the highest-priority interrupt that is both
// pending (mip) and enabled (mie), globally enabled for the hart's current
// privilege level, and not masked out by delegation for the target level,
// or ok=false if none is deliverable right now.
func PendingInterrupt(csr *CSRFile, cur Priv) (cause uint64, ok bool) {
	pending := csr.mip & csr.mie
	if pending == 0 {
		return 0, false
	}
	for _, c := range interruptPriority {
		bit := uint64(1) << c
		if pending&bit == 0 {
			continue
		}
		delegatedToS := csr.mideleg&bit != 0
		if !delegatedToS {
			// handled at M; deliverable if cur < M, or cur == M and MIE set
			if cur != PrivM || csr.Mie() {
				return c, true
			}
			continue
		}
		delegatedToU := delegatedToS && csr.sideleg&bit != 0
		if delegatedToU {
			if cur == PrivU && csr.Uie() {
				return c, true
			}
			continue
		}
		// delegated to S
		if cur == PrivU || (cur == PrivS && csr.Sie()) {
			return c, true
		}
	}
	return 0, false
}

// targetPriv decides which privilege level handles a trap. A trap taken
// in M always stays in M. Otherwise a cause whose medeleg/mideleg bit is
// clear goes to M; a delegated one goes to S, or on to U when its
// sedeleg/sideleg bit is also set. cur is the hart's privilege level at
// the moment of the trap.
func targetPriv(csr *CSRFile, t *Trap, cur Priv) Priv {
	if cur == PrivM {
		return PrivM
	}
	bit := uint64(1) << t.Cause
	var delegS, delegU bool
	if t.IsInterrupt {
		delegS = csr.mideleg&bit != 0
		delegU = delegS && csr.sideleg&bit != 0
	} else {
		delegS = csr.medeleg&bit != 0
		delegU = delegS && csr.sedeleg&bit != 0
	}
	if !delegS {
		return PrivM
	}
	if delegU {
		return PrivU
	}
	return PrivS
}

// EnterTrap performs the trap-entry protocol: save pc to {x}epc, set
// {x}cause/{x}tval, save/clear {x}ie/{x}pie, set {x}pp, and return the new
// pc (tvec target) and new privilege level. cur is privilege at the time
// of the trap; pc is the faulting instruction's address (or the
// interrupted instruction's address for interrupts).
func EnterTrap(csr *CSRFile, t *Trap, cur Priv, pc uint64) (newPC uint64, newPriv Priv) {
	target := targetPriv(csr, t, cur)
	cause := causeWord(t, csr.XLEN)

	switch target {
	case PrivM:
		csr.mepc = pc
		csr.mcause = cause
		csr.mtval = t.Tval
		csr.SetMpie(csr.Mie())
		csr.SetMie(false)
		csr.SetMPP(cur)
		newPC = TvecTarget(csr.mtvec, t.Cause, t.IsInterrupt)
	case PrivS:
		csr.sepc = pc
		csr.scause = cause
		csr.stval = t.Tval
		csr.SetSpie(csr.Sie())
		csr.SetSie(false)
		csr.SetSPP(cur)
		newPC = TvecTarget(csr.stvec, t.Cause, t.IsInterrupt)
	case PrivU:
		csr.uepc = pc
		csr.ucause = cause
		csr.utval = t.Tval
		csr.SetUpie(csr.Uie())
		csr.SetUie(false)
		newPC = TvecTarget(csr.utvec, t.Cause, t.IsInterrupt)
	}
	return newPC, target
}

// ReturnFromTrap performs the {m,s,u}ret protocol: restore {x}ie from
// {x}pie, restore privilege from {x}pp and then reset {x}pp to U (the
// least-privileged mode), and return the resume pc.
func ReturnFromTrap(csr *CSRFile, from Priv) (newPC uint64, newPriv Priv) {
	switch from {
	case PrivM:
		csr.SetMie(csr.Mpie())
		csr.SetMpie(true)
		newPriv = csr.MPP()
		csr.SetMPP(PrivU)
		return csr.mepc, newPriv
	case PrivS:
		csr.SetSie(csr.Spie())
		csr.SetSpie(true)
		newPriv = csr.SPP()
		csr.SetSPP(PrivU)
		return csr.sepc, newPriv
	case PrivU:
		csr.SetUie(csr.Upie())
		csr.SetUpie(true)
		return csr.uepc, PrivU
	}
	return 0, PrivU
}
