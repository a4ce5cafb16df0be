package hart

import "fmt"

// CSRFile holds the control and status registers for one hart. mstatus,
// sstatus, and ustatus share a single backing word; each is a masked view
// over it, the same pattern the ARM emulator uses for CPSR/SPSR in vm/psr.go.
type CSRFile struct {
	XLEN int // 32 or 64

	// TimeSource, when set, backs the time/mtime CSR reads with the
	// external CLINT's update_and_get_mtime() (spec.md §4.3) instead of
	// this hart's private retirement-cycle counter. Left nil in
	// standalone tests, where the free-running cycle counter is the only
	// clock available.
	TimeSource func() uint64

	status uint64 // backing word for {m,s,u}status
	misa   uint64

	medeleg, mideleg uint64
	sedeleg, sideleg uint64

	mie, mip uint64

	mtvec, stvec, utvec uint64

	mcounteren, scounteren uint64
	mcountinhibit          uint64

	mscratch, sscratch, uscratch uint64
	mepc, sepc, uepc             uint64
	mcause, scause, ucause       uint64
	mtval, stval, utval          uint64

	satp uint64

	fflags, frm uint64

	pmpcfg   [4]uint64
	pmpaddr  [16]uint64

	mvendorid, marchid, mimpid, mhartid uint64

	cycle, instret uint64
}

// NewCSRFile builds the reset-state CSR file for a hart with the given
// XLEN (32 or 64), hart ID, and supported extension set (misaExt is an
// OR of the misa* bit constants).
func NewCSRFile(xlen int, hartID uint64, misaExt uint64) *CSRFile {
	mxl := uint64(1)
	if xlen == 64 {
		mxl = 2
	}
	shift := uint(30)
	if xlen == 64 {
		shift = 62
	}
	c := &CSRFile{
		XLEN:     xlen,
		misa:     (mxl << shift) | misaExt,
		mhartid:  hartID,
		mcounteren:  0,
		scounteren:  0,
	}
	if xlen == 64 {
		c.status = (2 << mstatusUXLlo) | (2 << mstatusSXLlo)
	}
	return c
}

// accessErr is returned by Get/Set when a CSR access violates the
// minimum-privilege or read-only rule. The ISS core loop converts this
// into EXC_ILLEGAL_INSTR.
type accessErr struct {
	addr uint32
}

func (e *accessErr) Error() string {
	return fmt.Sprintf("csr 0x%03x: illegal access", e.addr)
}

func checkAccess(addr uint32, cur Priv, write bool) error {
	if write && csrReadOnly(addr) {
		return &accessErr{addr}
	}
	if cur < csrMinPriv(addr) {
		return &accessErr{addr}
	}
	return nil
}

// checkCounterEnabled gates a U-visible cycle/time/instret shadow CSR read
// (bit 0/1/2 respectively) per spec.md §4.3: an M-mode read is never
// gated; an S-mode read needs the bit set in mcounteren; a U-mode read
// needs the bit set in both mcounteren and scounteren.
func (c *CSRFile) checkCounterEnabled(bit uint, cur Priv) error {
	if cur == PrivM {
		return nil
	}
	mask := uint64(1) << bit
	if c.mcounteren&mask == 0 {
		return &accessErr{0}
	}
	if cur == PrivU && c.scounteren&mask == 0 {
		return &accessErr{0}
	}
	return nil
}

func maskStatusWrite(cur, mask, val uint64) uint64 {
	return (cur &^ mask) | (val & mask)
}

// statusMaskFor returns the bits of the shared status word that a given
// privilege level's view (ustatus/sstatus/mstatus) exposes.
func statusMaskFor(view Priv, xlen int) uint64 {
	var m uint64
	switch view {
	case PrivU:
		m = (1 << mstatusUIE) | (1 << mstatusUPIE)
	case PrivS:
		m = (1 << mstatusUIE) | (1 << mstatusSIE) | (1 << mstatusUPIE) | (1 << mstatusSPIE) |
			(1 << mstatusSPP) | (0x3 << mstatusFSlo) | (0x3 << mstatusXSlo) |
			(1 << mstatusSUM) | (1 << mstatusMXR)
		if xlen == 64 {
			m |= 0x3 << mstatusUXLlo
		}
	case PrivM:
		m = ^uint64(0)
	}
	return m
}

// mstatusWriteMask returns the bits of mstatus software can actually set
// via a CSR write: the WPRI/reserved bits, UXL/SXL (fixed by the hart's
// XLEN, not writable), and SD (read-only, synthesized by statusWithSD)
// are excluded, per spec.md §4.3's "(old & ~WRITE_MASK) | (new &
// WRITE_MASK)" write contract.
func mstatusWriteMask() uint64 {
	return (1 << mstatusUIE) | (1 << mstatusSIE) | (1 << mstatusMIE) |
		(1 << mstatusUPIE) | (1 << mstatusSPIE) | (1 << mstatusMPIE) |
		(1 << mstatusSPP) | (0x3 << mstatusMPPlo) | (0x3 << mstatusFSlo) |
		(1 << mstatusMPRV) | (1 << mstatusSUM) | (1 << mstatusMXR) |
		(1 << mstatusTVM) | (1 << mstatusTW) | (1 << mstatusTSR)
}

// Get reads a CSR as the raw bit pattern (caller masks to 32 bits for
// RV32 xlen). cur is the hart's current privilege level.
func (c *CSRFile) Get(addr uint32, cur Priv) (uint64, error) {
	if err := checkAccess(addr, cur, false); err != nil {
		return 0, err
	}
	switch addr {
	case CsrUstatus:
		return statusWithSD(c.status, c.XLEN) & statusMaskFor(PrivU, c.XLEN), nil
	case CsrSstatus:
		return statusWithSD(c.status, c.XLEN) & statusMaskFor(PrivS, c.XLEN), nil
	case CsrMstatus:
		return statusWithSD(c.status, c.XLEN), nil
	case CsrMisa:
		return c.misa, nil
	case CsrMedeleg:
		return c.medeleg, nil
	case CsrMideleg:
		return c.mideleg, nil
	case CsrSedeleg:
		return c.sedeleg, nil
	case CsrSideleg:
		return c.sideleg, nil
	case CsrMie:
		return c.mie, nil
	case CsrSie:
		return c.mie & c.mideleg, nil
	case CsrUie:
		return c.mie & c.mideleg & c.sideleg, nil
	case CsrMip:
		return c.mip, nil
	case CsrSip:
		return c.mip & c.mideleg, nil
	case CsrUip:
		return c.mip & c.mideleg & c.sideleg, nil
	case CsrMtvec:
		return c.mtvec, nil
	case CsrStvec:
		return c.stvec, nil
	case CsrUtvec:
		return c.utvec, nil
	case CsrMcounteren:
		return c.mcounteren, nil
	case CsrScounteren:
		return c.scounteren, nil
	case CsrMcountinhibit:
		return c.mcountinhibit, nil
	case CsrMscratch:
		return c.mscratch, nil
	case CsrSscratch:
		return c.sscratch, nil
	case CsrUscratch:
		return c.uscratch, nil
	case CsrMepc:
		return c.mepc, nil
	case CsrSepc:
		return c.sepc, nil
	case CsrUepc:
		return c.uepc, nil
	case CsrMcause:
		return c.mcause, nil
	case CsrScause:
		return c.scause, nil
	case CsrUcause:
		return c.ucause, nil
	case CsrMtval:
		return c.mtval, nil
	case CsrStval:
		return c.stval, nil
	case CsrUtval:
		return c.utval, nil
	case CsrSatp:
		return c.satp, nil
	case CsrFflags:
		return c.fflags, nil
	case CsrFrm:
		return c.frm, nil
	case CsrFcsr:
		return (c.frm << 5) | c.fflags, nil
	case CsrCycle:
		if err := c.checkCounterEnabled(0, cur); err != nil {
			return 0, err
		}
		return c.cycle, nil
	case CsrMcycle:
		return c.cycle, nil
	case CsrTime:
		if err := c.checkCounterEnabled(1, cur); err != nil {
			return 0, err
		}
		if c.TimeSource != nil {
			return c.TimeSource(), nil
		}
		return c.cycle, nil
	case CsrMtimeShadow:
		if c.TimeSource != nil {
			return c.TimeSource(), nil
		}
		return c.cycle, nil
	case CsrInstret:
		if err := c.checkCounterEnabled(2, cur); err != nil {
			return 0, err
		}
		return c.instret, nil
	case CsrMinstret:
		return c.instret, nil
	case CsrMvendorid:
		return c.mvendorid, nil
	case CsrMarchid:
		return c.marchid, nil
	case CsrMimpid:
		return c.mimpid, nil
	case CsrMhartid:
		return c.mhartid, nil
	}
	if addr >= CsrPmpcfg0 && addr < CsrPmpcfg0+4 {
		return c.pmpcfg[addr-CsrPmpcfg0], nil
	}
	if addr >= CsrPmpaddr0 && addr < CsrPmpaddr0+16 {
		return c.pmpaddr[addr-CsrPmpaddr0], nil
	}
	return 0, &accessErr{addr}
}

// Set writes a CSR. SFENCE.VMA/satp-write TLB invalidation is the caller's
// responsibility (the MMU owns the TLB, not the CSR file).
func (c *CSRFile) Set(addr uint32, cur Priv, val uint64) error {
	if err := checkAccess(addr, cur, true); err != nil {
		return err
	}
	switch addr {
	case CsrUstatus:
		c.status = maskStatusWrite(c.status, statusMaskFor(PrivU, c.XLEN), val)
	case CsrSstatus:
		c.status = maskStatusWrite(c.status, statusMaskFor(PrivS, c.XLEN), val)
	case CsrMstatus:
		c.status = maskStatusWrite(c.status, mstatusWriteMask(), val)
	case CsrMisa:
		// implementations may legally ignore writes to misa; this one does.
	case CsrMedeleg:
		c.medeleg = val
	case CsrMideleg:
		c.mideleg = val
	case CsrSedeleg:
		c.sedeleg = val
	case CsrSideleg:
		c.sideleg = val
	case CsrMie:
		c.mie = val
	case CsrSie:
		c.mie = (c.mie &^ c.mideleg) | (val & c.mideleg)
	case CsrUie:
		mask := c.mideleg & c.sideleg
		c.mie = (c.mie &^ mask) | (val & mask)
	case CsrMip:
		c.mip = val
	case CsrSip:
		c.mip = (c.mip &^ c.mideleg) | (val & c.mideleg)
	case CsrUip:
		mask := c.mideleg & c.sideleg
		c.mip = (c.mip &^ mask) | (val & mask)
	case CsrMtvec:
		c.mtvec = forceTvecMode(val)
	case CsrStvec:
		c.stvec = forceTvecMode(val)
	case CsrUtvec:
		c.utvec = forceTvecMode(val)
	case CsrMcounteren:
		c.mcounteren = val
	case CsrScounteren:
		c.scounteren = val
	case CsrMcountinhibit:
		c.mcountinhibit = val
	case CsrMscratch:
		c.mscratch = val
	case CsrSscratch:
		c.sscratch = val
	case CsrUscratch:
		c.uscratch = val
	case CsrMepc:
		c.mepc = val &^ 1
	case CsrSepc:
		c.sepc = val &^ 1
	case CsrUepc:
		c.uepc = val &^ 1
	case CsrMcause:
		c.mcause = val
	case CsrScause:
		c.scause = val
	case CsrUcause:
		c.ucause = val
	case CsrMtval:
		c.mtval = val
	case CsrStval:
		c.stval = val
	case CsrUtval:
		c.utval = val
	case CsrSatp:
		if cur == PrivS && c.Tvm() {
			return &accessErr{addr}
		}
		c.satp = filterSatpWrite(c.satp, val, c.XLEN)
	case CsrFflags:
		c.fflags = val & 0x1F
	case CsrFrm:
		c.frm = val & 0x7
	case CsrFcsr:
		c.frm = (val >> 5) & 0x7
		c.fflags = val & 0x1F
	default:
		if addr >= CsrPmpcfg0 && addr < CsrPmpcfg0+4 {
			c.pmpcfg[addr-CsrPmpcfg0] = val
			return nil
		}
		if addr >= CsrPmpaddr0 && addr < CsrPmpaddr0+16 {
			c.pmpaddr[addr-CsrPmpaddr0] = val
			return nil
		}
		return &accessErr{addr}
	}
	return nil
}

// forceTvecMode masks mode to {Direct, Vectored}; reserved modes (2-3)
// are not representable and collapse to Direct, matching the original
// C++ implementation's tvec setter.
func forceTvecMode(val uint64) uint64 {
	mode := val & 0x3
	if mode > 1 {
		mode = 0
	}
	return (val &^ 0x3) | mode
}

// Satp decomposes the satp CSR for the MMU.
func (c *CSRFile) Satp() (mode uint64, asid uint64, ppn uint64) {
	if c.XLEN == 64 {
		return (c.satp >> 60) & 0xF, (c.satp >> 44) & 0xFFFF, c.satp & 0xFFFFFFFFFFF
	}
	return (c.satp >> 31) & 0x1, (c.satp >> 22) & 0x1FF, c.satp & 0x3FFFFF
}

// satp mode field encodings the MMU understands; kept in sync with
// mmu.ModeBare/ModeSv39/ModeSv48 (package mmu imports hart, not the
// reverse, so the values are duplicated here rather than shared).
const (
	satpModeBare = 0
	satpModeSv39 = 8
	satpModeSv48 = 9
)

func satpModeField(xlen int, val uint64) uint64 {
	if xlen == 64 {
		return (val >> 60) & 0xF
	}
	return (val >> 31) & 0x1
}

func validSatpMode(mode uint64) bool {
	switch mode {
	case satpModeBare, satpModeSv39, satpModeSv48:
		return true
	}
	return false
}

// filterSatpWrite implements the satp write contract: BARE/SV39/SV48 are
// the only mode encodings software can select; any other value leaves
// satp.mode unchanged while the rest of the write (asid, ppn) still
// lands, per spec.md §4.3.
func filterSatpWrite(old, val uint64, xlen int) uint64 {
	newMode := satpModeField(xlen, val)
	if validSatpMode(newMode) {
		return val
	}
	modeMask := uint64(0xF) << 60
	if xlen == 32 {
		modeMask = uint64(0x1) << 31
	}
	return (val &^ modeMask) | (old & modeMask)
}

// StatusBit reads a single mstatus bit.
func (c *CSRFile) StatusBit(bit uint) bool {
	return (c.status>>bit)&1 != 0
}

func (c *CSRFile) setStatusBit(bit uint, v bool) {
	if v {
		c.status |= 1 << bit
	} else {
		c.status &^= 1 << bit
	}
}

// MPP / SPP accessors used by the trap-entry/return protocol.
func (c *CSRFile) MPP() Priv { return Priv((c.status >> mstatusMPPlo) & 0x3) }
func (c *CSRFile) SPP() Priv { return Priv((c.status >> mstatusSPP) & 0x1) }

func (c *CSRFile) SetMPP(p Priv) {
	c.status = (c.status &^ (0x3 << mstatusMPPlo)) | (uint64(p) << mstatusMPPlo)
}
func (c *CSRFile) SetSPP(p Priv) {
	v := uint64(0)
	if p == PrivS {
		v = 1
	}
	c.status = (c.status &^ (1 << mstatusSPP)) | (v << mstatusSPP)
}

func (c *CSRFile) Mie() bool  { return c.StatusBit(mstatusMIE) }
func (c *CSRFile) Sie() bool  { return c.StatusBit(mstatusSIE) }
func (c *CSRFile) Uie() bool  { return c.StatusBit(mstatusUIE) }
func (c *CSRFile) Mpie() bool { return c.StatusBit(mstatusMPIE) }
func (c *CSRFile) Spie() bool { return c.StatusBit(mstatusSPIE) }
func (c *CSRFile) Upie() bool { return c.StatusBit(mstatusUPIE) }

func (c *CSRFile) SetMie(v bool)  { c.setStatusBit(mstatusMIE, v) }
func (c *CSRFile) SetSie(v bool)  { c.setStatusBit(mstatusSIE, v) }
func (c *CSRFile) SetUie(v bool)  { c.setStatusBit(mstatusUIE, v) }
func (c *CSRFile) SetMpie(v bool) { c.setStatusBit(mstatusMPIE, v) }
func (c *CSRFile) SetSpie(v bool) { c.setStatusBit(mstatusSPIE, v) }
func (c *CSRFile) SetUpie(v bool) { c.setStatusBit(mstatusUPIE, v) }

// FP status field values (mstatus.FS / mstatus.XS), spec.md §4.9.
const (
	FSOff     = 0
	FSInitial = 1
	FSClean   = 2
	FSDirty   = 3
)

// FS reads the mstatus.FS field.
func (c *CSRFile) FS() uint64 {
	return (c.status >> mstatusFSlo) & 0x3
}

// SetFS writes the mstatus.FS field directly (used by writes to
// mstatus/sstatus themselves; MarkFPDirty is the path FP-op execution
// uses to report state change).
func (c *CSRFile) SetFS(v uint64) {
	c.status = (c.status &^ (0x3 << mstatusFSlo)) | ((v & 0x3) << mstatusFSlo)
}

// MarkFPDirty sets mstatus.FS to Dirty, the "any FP state was modified"
// bookkeeping spec.md §4.9 asks every FP-producing op to perform. SD is
// not stored here: it is synthesized on every mstatus/sstatus read from
// FS/XS instead, per spec.md §4.3.
func (c *CSRFile) MarkFPDirty() {
	c.SetFS(FSDirty)
}

// statusWithSD ORs the synthesized SD ("dirty summary") bit into a raw
// status word: set whenever FS or XS reads as Dirty. SD lives at the
// top bit of the XLEN-wide view (bit 31 for RV32, bit 63 for RV64).
func statusWithSD(status uint64, xlen int) uint64 {
	fs := (status >> mstatusFSlo) & 0x3
	xs := (status >> mstatusXSlo) & 0x3
	sdBit := uint(mstatusSD)
	if xlen == 32 {
		sdBit = 31
	}
	if fs == FSDirty || xs == FSDirty {
		return status | (1 << sdBit)
	}
	return status &^ (1 << sdBit)
}

// Frm returns the static dynamic-rounding-mode CSR value (fcsr.frm).
func (c *CSRFile) Frm() uint64 { return c.frm }

func (c *CSRFile) Tvm() bool { return c.StatusBit(mstatusTVM) }
func (c *CSRFile) Tw() bool  { return c.StatusBit(mstatusTW) }
func (c *CSRFile) Tsr() bool { return c.StatusBit(mstatusTSR) }
func (c *CSRFile) Mprv() bool { return c.StatusBit(mstatusMPRV) }
func (c *CSRFile) Sum() bool { return c.StatusBit(mstatusSUM) }
func (c *CSRFile) Mxr() bool { return c.StatusBit(mstatusMXR) }

// TvecTarget returns the trap entry PC for a given base-relative tvec
// value, cause, and whether the trap is an interrupt.
func TvecTarget(tvec uint64, cause uint64, isInterrupt bool) uint64 {
	base := tvec &^ 0x3
	mode := tvec & 0x3
	if isInterrupt && mode == 1 {
		return base + 4*cause
	}
	return base
}

// IncrCounters advances the free-running cycle/instret counters unless
// inhibited by mcountinhibit.
func (c *CSRFile) IncrCounters(retired bool) {
	if c.mcountinhibit&0x1 == 0 {
		c.cycle++
	}
	if retired && c.mcountinhibit&0x4 == 0 {
		c.instret++
	}
}
