package iss

import (
	"math"
	"math/bits"

	"github.com/lookbusy1344/riscv-vp/hart"
	"github.com/lookbusy1344/riscv-vp/mmu"
	"github.com/lookbusy1344/riscv-vp/riscv"
)

// execute dispatches one decoded instruction. Returning a *hart.Trap signals
// an architectural trap to be delivered by Step's single catch site;
// returning any other error is a host-side simulator error.
func (c *Core) execute(d riscv.Decoded) error {
	w := d.Word
	h := c.Hart
	switch d.Op {

	case riscv.LUI:
		h.Int.Set(w.Rd(), uint64(w.ImmU()))
	case riscv.AUIPC:
		h.Int.Set(w.Rd(), h.PC+uint64(w.ImmU()))

	case riscv.JAL:
		target := h.PC + uint64(w.ImmJ())
		if err := c.checkAlign(target); err != nil {
			return err
		}
		h.Int.Set(w.Rd(), h.PC+uint64(d.PCDelta))
		h.PC = target
	case riscv.JALR:
		base := h.Int.Get(w.Rs1())
		target := (base + uint64(w.ImmI())) &^ 1
		if err := c.checkAlign(target); err != nil {
			return err
		}
		link := h.PC + uint64(d.PCDelta)
		h.PC = target
		h.Int.Set(w.Rd(), link)

	case riscv.BEQ, riscv.BNE, riscv.BLT, riscv.BGE, riscv.BLTU, riscv.BGEU:
		return c.execBranch(d)

	case riscv.LB, riscv.LH, riscv.LW, riscv.LBU, riscv.LHU, riscv.LWU, riscv.LD:
		return c.execLoad(d)
	case riscv.SB, riscv.SH, riscv.SW, riscv.SD:
		return c.execStore(d)

	case riscv.ADDI:
		h.Int.Set(w.Rd(), h.Int.Get(w.Rs1())+uint64(w.ImmI()))
	case riscv.SLTI:
		h.Int.Set(w.Rd(), boolU64(int64(h.Int.Get(w.Rs1())) < w.ImmI()))
	case riscv.SLTIU:
		h.Int.Set(w.Rd(), boolU64(h.Int.Get(w.Rs1()) < uint64(w.ImmI())))
	case riscv.XORI:
		h.Int.Set(w.Rd(), h.Int.Get(w.Rs1())^uint64(w.ImmI()))
	case riscv.ORI:
		h.Int.Set(w.Rd(), h.Int.Get(w.Rs1())|uint64(w.ImmI()))
	case riscv.ANDI:
		h.Int.Set(w.Rd(), h.Int.Get(w.Rs1())&uint64(w.ImmI()))
	case riscv.SLLI:
		h.Int.Set(w.Rd(), h.Int.Get(w.Rs1())<<shamtFor(w, h.XLEN))
	case riscv.SRLI:
		h.Int.Set(w.Rd(), h.Int.Get(w.Rs1())>>shamtFor(w, h.XLEN))
	case riscv.SRAI:
		h.Int.Set(w.Rd(), uint64(int64(h.Int.Get(w.Rs1()))>>shamtFor(w, h.XLEN)))

	case riscv.ADD:
		h.Int.Set(w.Rd(), h.Int.Get(w.Rs1())+h.Int.Get(w.Rs2()))
	case riscv.SUB:
		h.Int.Set(w.Rd(), h.Int.Get(w.Rs1())-h.Int.Get(w.Rs2()))
	case riscv.SLL:
		h.Int.Set(w.Rd(), h.Int.Get(w.Rs1())<<(h.Int.Get(w.Rs2())&shiftMask(h.XLEN)))
	case riscv.SLT:
		h.Int.Set(w.Rd(), boolU64(int64(h.Int.Get(w.Rs1())) < int64(h.Int.Get(w.Rs2()))))
	case riscv.SLTU:
		h.Int.Set(w.Rd(), boolU64(h.Int.Get(w.Rs1()) < h.Int.Get(w.Rs2())))
	case riscv.XOR:
		h.Int.Set(w.Rd(), h.Int.Get(w.Rs1())^h.Int.Get(w.Rs2()))
	case riscv.SRL:
		h.Int.Set(w.Rd(), h.Int.Get(w.Rs1())>>(h.Int.Get(w.Rs2())&shiftMask(h.XLEN)))
	case riscv.SRA:
		h.Int.Set(w.Rd(), uint64(int64(h.Int.Get(w.Rs1()))>>(h.Int.Get(w.Rs2())&shiftMask(h.XLEN))))
	case riscv.OR:
		h.Int.Set(w.Rd(), h.Int.Get(w.Rs1())|h.Int.Get(w.Rs2()))
	case riscv.AND:
		h.Int.Set(w.Rd(), h.Int.Get(w.Rs1())&h.Int.Get(w.Rs2()))

	case riscv.ADDIW:
		h.Int.Set(w.Rd(), signExt32(uint32(h.Int.Get(w.Rs1()))+uint32(w.ImmI())))
	case riscv.SLLIW:
		h.Int.Set(w.Rd(), signExt32(uint32(h.Int.Get(w.Rs1()))<<w.Shamt32()))
	case riscv.SRLIW:
		h.Int.Set(w.Rd(), signExt32(uint32(h.Int.Get(w.Rs1()))>>w.Shamt32()))
	case riscv.SRAIW:
		h.Int.Set(w.Rd(), uint64(int64(int32(h.Int.Get(w.Rs1()))>>w.Shamt32())))
	case riscv.ADDW:
		h.Int.Set(w.Rd(), signExt32(uint32(h.Int.Get(w.Rs1())+h.Int.Get(w.Rs2()))))
	case riscv.SUBW:
		h.Int.Set(w.Rd(), signExt32(uint32(h.Int.Get(w.Rs1())-h.Int.Get(w.Rs2()))))
	case riscv.SLLW:
		h.Int.Set(w.Rd(), signExt32(uint32(h.Int.Get(w.Rs1()))<<(uint32(h.Int.Get(w.Rs2()))&0x1F)))
	case riscv.SRLW:
		h.Int.Set(w.Rd(), signExt32(uint32(h.Int.Get(w.Rs1()))>>(uint32(h.Int.Get(w.Rs2()))&0x1F)))
	case riscv.SRAW:
		h.Int.Set(w.Rd(), uint64(int64(int32(h.Int.Get(w.Rs1()))>>(uint32(h.Int.Get(w.Rs2()))&0x1F))))

	case riscv.FENCE, riscv.FENCEI:
		// single-hart-at-a-time cooperative model: nothing to reorder.
	case riscv.SFENCEVMA:
		if h.Priv == hart.PrivS && h.CSR.Tvm() {
			return hart.NewException(hart.ExcIllegalInstr, uint64(w.Raw))
		}
		rs1 := w.Rs1()
		if rs1 == 0 {
			c.MMU.Flush()
		} else {
			c.MMU.FlushVAddr(h.Int.Get(rs1))
		}

	case riscv.ECALL:
		return c.execEcall()
	case riscv.EBREAK:
		c.State = StateBreakpoint
		return hart.NewException(hart.ExcBreakpoint, h.PC)

	case riscv.MRET:
		if !h.Mret() {
			return hart.NewException(hart.ExcIllegalInstr, uint64(w.Raw))
		}
	case riscv.SRET:
		if !h.Sret() {
			return hart.NewException(hart.ExcIllegalInstr, uint64(w.Raw))
		}
	case riscv.URET:
		if !h.Uret() {
			return hart.NewException(hart.ExcIllegalInstr, uint64(w.Raw))
		}
	case riscv.WFI:
		if h.Priv != hart.PrivM && h.CSR.Tw() {
			return hart.NewException(hart.ExcIllegalInstr, uint64(w.Raw))
		}
		h.WFI()

	case riscv.CSRRW, riscv.CSRRS, riscv.CSRRC, riscv.CSRRWI, riscv.CSRRSI, riscv.CSRRCI:
		return c.execCSR(d)

	case riscv.MUL, riscv.MULH, riscv.MULHSU, riscv.MULHU, riscv.DIV, riscv.DIVU, riscv.REM, riscv.REMU,
		riscv.MULW, riscv.DIVW, riscv.DIVUW, riscv.REMW, riscv.REMUW:
		return c.execMulDiv(d)

	case riscv.LRW, riscv.SCW, riscv.AMOSWAPW, riscv.AMOADDW, riscv.AMOXORW, riscv.AMOANDW, riscv.AMOORW,
		riscv.AMOMINW, riscv.AMOMAXW, riscv.AMOMINUW, riscv.AMOMAXUW,
		riscv.LRD, riscv.SCD, riscv.AMOSWAPD, riscv.AMOADDD, riscv.AMOXORD, riscv.AMOANDD, riscv.AMOORD,
		riscv.AMOMIND, riscv.AMOMAXD, riscv.AMOMINUD, riscv.AMOMAXUD:
		return c.execAtomic(d)

	case riscv.FLW, riscv.FLD:
		if h.CSR.FS() == hart.FSOff {
			return hart.NewException(hart.ExcIllegalInstr, uint64(w.Raw))
		}
		if err := c.execFLoad(d); err != nil {
			return err
		}
		h.CSR.MarkFPDirty()
		return nil
	case riscv.FSW, riscv.FSD:
		if h.CSR.FS() == hart.FSOff {
			return hart.NewException(hart.ExcIllegalInstr, uint64(w.Raw))
		}
		return c.execFStore(d)

	default:
		if isFPArith(d.Op) {
			if h.CSR.FS() == hart.FSOff {
				return hart.NewException(hart.ExcIllegalInstr, uint64(w.Raw))
			}
			if err := checkRoundingMode(h, d.Op, w); err != nil {
				return err
			}
			if err := c.execFP(d); err != nil {
				return err
			}
			h.CSR.MarkFPDirty()
			return nil
		}
		return hart.NewException(hart.ExcIllegalInstr, uint64(w.Raw))
	}
	return nil
}

func boolU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func signExt32(v uint32) uint64 {
	return uint64(int64(int32(v)))
}

func shiftMask(xlen int) uint64 {
	if xlen == 64 {
		return 0x3F
	}
	return 0x1F
}

func shamtFor(w riscv.Word, xlen int) uint64 {
	if xlen == 64 {
		return uint64(w.Shamt64())
	}
	return uint64(w.Shamt32())
}

func (c *Core) checkAlign(target uint64) error {
	if !c.DecodeOpts.C && target&0x3 != 0 {
		return hart.NewException(hart.ExcInstrAddrMisaligned, target)
	}
	if target&0x1 != 0 {
		return hart.NewException(hart.ExcInstrAddrMisaligned, target)
	}
	return nil
}

func (c *Core) execBranch(d riscv.Decoded) error {
	w := d.Word
	h := c.Hart
	a, b := h.Int.Get(w.Rs1()), h.Int.Get(w.Rs2())
	var taken bool
	switch d.Op {
	case riscv.BEQ:
		taken = a == b
	case riscv.BNE:
		taken = a != b
	case riscv.BLT:
		taken = int64(a) < int64(b)
	case riscv.BGE:
		taken = int64(a) >= int64(b)
	case riscv.BLTU:
		taken = a < b
	case riscv.BGEU:
		taken = a >= b
	}
	if !taken {
		return nil
	}
	target := h.PC + uint64(w.ImmB())
	if err := c.checkAlign(target); err != nil {
		return err
	}
	h.PC = target
	return nil
}

// loadStoreAlign returns the natural-alignment requirement (in bytes) for
// op, or 1 for byte accesses (always aligned), per spec.md §4.4.
func loadStoreAlign(op riscv.Opcode) uint64 {
	switch op {
	case riscv.LH, riscv.LHU, riscv.SH:
		return 2
	case riscv.LW, riscv.LWU, riscv.SW, riscv.FLW, riscv.FSW:
		return 4
	case riscv.LD, riscv.SD, riscv.FLD, riscv.FSD:
		return 8
	}
	return 1
}

func (c *Core) execLoad(d riscv.Decoded) error {
	w := d.Word
	h := c.Hart
	addr := h.Int.Get(w.Rs1()) + uint64(w.ImmI())
	if align := loadStoreAlign(d.Op); addr%align != 0 {
		return hart.NewException(hart.ExcLoadAddrMisaligned, addr)
	}
	paddr, err := c.translate(addr, mmu.AccessLoad)
	if err != nil {
		return err
	}
	var v uint64
	switch d.Op {
	case riscv.LB:
		b, err := c.Bus.LoadByte(paddr)
		if err != nil {
			return err
		}
		v = uint64(int64(int8(b)))
	case riscv.LBU:
		b, err := c.Bus.LoadByte(paddr)
		if err != nil {
			return err
		}
		v = uint64(b)
	case riscv.LH:
		hw, err := c.Bus.LoadHalf(paddr)
		if err != nil {
			return err
		}
		v = uint64(int64(int16(hw)))
	case riscv.LHU:
		hw, err := c.Bus.LoadHalf(paddr)
		if err != nil {
			return err
		}
		v = uint64(hw)
	case riscv.LW:
		word, err := c.Bus.LoadWord(paddr)
		if err != nil {
			return err
		}
		v = uint64(int64(int32(word)))
	case riscv.LWU:
		word, err := c.Bus.LoadWord(paddr)
		if err != nil {
			return err
		}
		v = uint64(word)
	case riscv.LD:
		v, err = c.Bus.LoadDouble(paddr)
		if err != nil {
			return err
		}
	}
	h.Int.Set(w.Rd(), v)
	return nil
}

func (c *Core) execStore(d riscv.Decoded) error {
	w := d.Word
	h := c.Hart
	addr := h.Int.Get(w.Rs1()) + uint64(w.ImmS())
	if align := loadStoreAlign(d.Op); addr%align != 0 {
		return hart.NewException(hart.ExcStoreAddrMisaligned, addr)
	}
	paddr, err := c.translate(addr, mmu.AccessStore)
	if err != nil {
		return err
	}
	val := h.Int.Get(w.Rs2())
	switch d.Op {
	case riscv.SB:
		return c.Bus.StoreByte(paddr, byte(val))
	case riscv.SH:
		return c.Bus.StoreHalf(paddr, uint16(val))
	case riscv.SW:
		return c.Bus.StoreWord(paddr, uint32(val))
	case riscv.SD:
		return c.Bus.StoreDouble(paddr, val)
	}
	return nil
}

func (c *Core) execCSR(d riscv.Decoded) error {
	w := d.Word
	h := c.Hart
	addr := w.CSRAddr()
	isImm := d.Op == riscv.CSRRWI || d.Op == riscv.CSRRSI || d.Op == riscv.CSRRCI
	var rs1val uint64
	if isImm {
		rs1val = uint64(w.Rs1())
	} else {
		rs1val = h.Int.Get(w.Rs1())
	}

	readsOld := d.Op != riscv.CSRRWI && d.Op != riscv.CSRRW || w.Rd() != 0
	var old uint64
	var err error
	if readsOld {
		old, err = h.CSR.Get(addr, h.Priv)
		if err != nil {
			return hart.NewException(hart.ExcIllegalInstr, uint64(w.Raw))
		}
	}

	var writes bool
	var newVal uint64
	switch d.Op {
	case riscv.CSRRW, riscv.CSRRWI:
		writes = true
		newVal = rs1val
	case riscv.CSRRS, riscv.CSRRSI:
		writes = w.Rs1() != 0
		newVal = old | rs1val
	case riscv.CSRRC, riscv.CSRRCI:
		writes = w.Rs1() != 0
		newVal = old &^ rs1val
	}
	if writes {
		if !readsOld {
			if _, err := h.CSR.Get(addr, h.Priv); err != nil {
				return hart.NewException(hart.ExcIllegalInstr, uint64(w.Raw))
			}
		}
		if err := h.CSR.Set(addr, h.Priv, newVal); err != nil {
			return hart.NewException(hart.ExcIllegalInstr, uint64(w.Raw))
		}
		if addr == hart.CsrSatp {
			c.MMU.Flush()
		}
	}
	h.Int.Set(w.Rd(), old)
	return nil
}

func (c *Core) execMulDiv(d riscv.Decoded) error {
	w := d.Word
	h := c.Hart
	a, b := h.Int.Get(w.Rs1()), h.Int.Get(w.Rs2())
	switch d.Op {
	case riscv.MUL:
		h.Int.Set(w.Rd(), a*b)
	case riscv.MULH:
		h.Int.Set(w.Rd(), uint64(mulhSigned(int64(a), int64(b))))
	case riscv.MULHU:
		hi, _ := bits.Mul64(a, b)
		h.Int.Set(w.Rd(), hi)
	case riscv.MULHSU:
		h.Int.Set(w.Rd(), uint64(mulhSU(int64(a), b)))
	case riscv.DIV:
		h.Int.Set(w.Rd(), uint64(divSigned(int64(a), int64(b))))
	case riscv.DIVU:
		if b == 0 {
			h.Int.Set(w.Rd(), ^uint64(0))
		} else {
			h.Int.Set(w.Rd(), a/b)
		}
	case riscv.REM:
		h.Int.Set(w.Rd(), uint64(remSigned(int64(a), int64(b))))
	case riscv.REMU:
		if b == 0 {
			h.Int.Set(w.Rd(), a)
		} else {
			h.Int.Set(w.Rd(), a%b)
		}
	case riscv.MULW:
		h.Int.Set(w.Rd(), signExt32(uint32(a)*uint32(b)))
	case riscv.DIVW:
		h.Int.Set(w.Rd(), uint64(int64(divSigned32(int32(a), int32(b)))))
	case riscv.DIVUW:
		if uint32(b) == 0 {
			h.Int.Set(w.Rd(), ^uint64(0))
		} else {
			h.Int.Set(w.Rd(), signExt32(uint32(a)/uint32(b)))
		}
	case riscv.REMW:
		h.Int.Set(w.Rd(), uint64(int64(remSigned32(int32(a), int32(b)))))
	case riscv.REMUW:
		if uint32(b) == 0 {
			h.Int.Set(w.Rd(), signExt32(uint32(a)))
		} else {
			h.Int.Set(w.Rd(), signExt32(uint32(a)%uint32(b)))
		}
	}
	return nil
}

func mulhSigned(a, b int64) int64 {
	hi, _ := bits.Mul64(uint64(a), uint64(b))
	result := int64(hi)
	if a < 0 {
		result -= b
	}
	if b < 0 {
		result -= a
	}
	return result
}

func mulhSU(a int64, b uint64) int64 {
	hi, _ := bits.Mul64(uint64(a), b)
	result := int64(hi)
	if a < 0 {
		result -= int64(b)
	}
	return result
}

// divSigned/remSigned implement the RISC-V division-by-zero and
// signed-overflow special cases (division by zero yields -1 unsigned-wrap,
// remainder yields the dividend; INT_MIN/-1 yields INT_MIN/0).
func divSigned(a, b int64) int64 {
	if b == 0 {
		return -1
	}
	if a == math.MinInt64 && b == -1 {
		return math.MinInt64
	}
	return a / b
}

func remSigned(a, b int64) int64 {
	if b == 0 {
		return a
	}
	if a == math.MinInt64 && b == -1 {
		return 0
	}
	return a % b
}

func divSigned32(a, b int32) int32 {
	if b == 0 {
		return -1
	}
	if a == math.MinInt32 && b == -1 {
		return math.MinInt32
	}
	return a / b
}

func remSigned32(a, b int32) int32 {
	if b == 0 {
		return a
	}
	if a == math.MinInt32 && b == -1 {
		return 0
	}
	return a % b
}
