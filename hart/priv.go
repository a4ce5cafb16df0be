package hart

// Priv is a privilege level: M, S, or U.
type Priv uint32

const (
	PrivU Priv = 0
	PrivS Priv = 1
	PrivM Priv = 3
)

func (p Priv) String() string {
	switch p {
	case PrivU:
		return "U"
	case PrivS:
		return "S"
	case PrivM:
		return "M"
	}
	return "?"
}

// CSR addresses, taken from the reference implementation's csr.h,
// since the unprivileged/privileged ISA text only names them informally.
const (
	CsrUstatus = 0x000
	CsrUie     = 0x004
	CsrUtvec   = 0x005
	CsrFflags  = 0x001
	CsrFrm     = 0x002
	CsrFcsr    = 0x003
	CsrUscratch = 0x040
	CsrUepc    = 0x041
	CsrUcause  = 0x042
	CsrUtval   = 0x043
	CsrUip     = 0x044

	CsrCycle   = 0xC00
	CsrTime    = 0xC01
	CsrInstret = 0xC02

	CsrSstatus    = 0x100
	CsrSedeleg    = 0x102
	CsrSideleg    = 0x103
	CsrSie        = 0x104
	CsrStvec      = 0x105
	CsrScounteren = 0x106
	CsrSscratch   = 0x140
	CsrSepc       = 0x141
	CsrScause     = 0x142
	CsrStval      = 0x143
	CsrSip        = 0x144
	CsrSatp       = 0x180

	CsrMstatus     = 0x300
	CsrMisa        = 0x301
	CsrMedeleg     = 0x302
	CsrMideleg     = 0x303
	CsrMie         = 0x304
	CsrMtvec       = 0x305
	CsrMcounteren  = 0x306
	CsrMcountinhibit = 0x320
	CsrMscratch    = 0x340
	CsrMepc        = 0x341
	CsrMcause      = 0x342
	CsrMtval       = 0x343
	CsrMip         = 0x344

	CsrPmpcfg0  = 0x3A0
	CsrPmpaddr0 = 0x3B0

	CsrMcycle   = 0xB00
	CsrMtimeShadow = 0xB01
	CsrMinstret = 0xB02

	CsrMvendorid = 0xF11
	CsrMarchid   = 0xF12
	CsrMimpid    = 0xF13
	CsrMhartid   = 0xF14
)

// csrMinPriv returns the minimum privilege level required to access addr,
// encoded in bits [9:8] of the CSR address per the privileged spec.
func csrMinPriv(addr uint32) Priv {
	return Priv((addr >> 8) & 0x3)
}

// csrReadOnly reports whether addr's top two bits ([11:10]) mark it
// read-only (value 0b11).
func csrReadOnly(addr uint32) bool {
	return (addr>>10)&0x3 == 0x3
}

// mstatus bit positions, from original_source/vp/src/core/rv64/csr.h.
const (
	mstatusUIE  = 0
	mstatusSIE  = 1
	mstatusMIE  = 3
	mstatusUPIE = 4
	mstatusSPIE = 5
	mstatusMPIE = 7
	mstatusSPP  = 8
	mstatusMPPlo = 11
	mstatusFSlo  = 13
	mstatusXSlo  = 15
	mstatusMPRV = 17
	mstatusSUM  = 18
	mstatusMXR  = 19
	mstatusTVM  = 20
	mstatusTW   = 21
	mstatusTSR  = 22
	mstatusUXLlo = 32
	mstatusSXLlo = 34
	mstatusSD   = 63
)

// misa extension bits, from original_source/vp/src/core/rv64/csr.h.
const (
	misaA = 1 << 0
	misaC = 1 << 2
	misaD = 1 << 3
	misaF = 1 << 5
	misaI = 1 << 8
	misaM = 1 << 12
	misaS = 1 << 18
	misaU = 1 << 20
)
