package riscv

// encodeR builds a canonical R-type word.
func encodeR(op7, f3, f7, rd, rs1, rs2 uint32) uint32 {
	return op7 | (rd << 7) | (f3 << 12) | (rs1 << 15) | (rs2 << 20) | (f7 << 25)
}

func encodeI(op7, f3, rd, rs1 uint32, imm int64) uint32 {
	return op7 | (rd << 7) | (f3 << 12) | (rs1 << 15) | (uint32(imm&0xFFF) << 20)
}

func encodeIShamt(op7, f3, f7, rd, rs1, shamt uint32) uint32 {
	return op7 | (rd << 7) | (f3 << 12) | (rs1 << 15) | (shamt << 20) | (f7 << 25)
}

func encodeS(op7, f3, rs1, rs2 uint32, imm int64) uint32 {
	u := uint32(imm) & 0xFFF
	return op7 | ((u & 0x1F) << 7) | (f3 << 12) | (rs1 << 15) | (rs2 << 20) | ((u >> 5) << 25)
}

func encodeB(op7, f3, rs1, rs2 uint32, imm int64) uint32 {
	u := uint32(imm) & 0x1FFF
	bit11 := (u >> 11) & 1
	bit12 := (u >> 12) & 1
	bits4_1 := (u >> 1) & 0xF
	bits10_5 := (u >> 5) & 0x3F
	return op7 | (bit11 << 7) | (bits4_1 << 8) | (f3 << 12) | (rs1 << 15) | (rs2 << 20) | (bits10_5 << 25) | (bit12 << 31)
}

func encodeU(op7, rd uint32, imm int64) uint32 {
	return op7 | (rd << 7) | uint32(imm&^0xFFF)
}

func encodeJ(op7, rd uint32, imm int64) uint32 {
	u := uint32(imm) & 0x1FFFFF
	bit20 := (u >> 20) & 1
	bits10_1 := (u >> 1) & 0x3FF
	bit11 := (u >> 11) & 1
	bits19_12 := (u >> 12) & 0xFF
	return op7 | (rd << 7) | (bits19_12 << 12) | (bit11 << 20) | (bits10_1 << 21) | (bit20 << 31)
}

// decodeCompressed expands a 16-bit instruction into its canonical 32-bit
// form. Reserved compressed encodings decode to UNDEF rather than to their
// un-reserved cousin, per the decoder contract.
func decodeCompressed(raw16 uint16, addr uint64, opt Options) Decoded {
	raw := uint32(raw16)
	w := Word{Raw: raw, Address: addr, Compressed: true}
	quadrant := w.CQuadrant()
	f3 := w.CFunct3()

	mk := func(expanded uint32, op Opcode) Decoded {
		return Decoded{Op: op, Word: Word{Raw: expanded, Address: addr, Compressed: true}, PCDelta: 2}
	}
	undef := Decoded{Op: UNDEF, Word: w, PCDelta: 2}

	switch quadrant {
	case 0:
		switch f3 {
		case 0: // C.ADDI4SPN
			imm := cIW(raw)
			if imm == 0 {
				return undef
			}
			return mk(encodeI(0x13, 0, w.CRdRs1p(), 2, int64(imm)), ADDI)
		case 1: // C.FLD
			imm := cLDImm(raw)
			return mk(encodeI(0x07, 3, w.CRdRs1p(), w.CRs2p(), int64(imm)), FLD)
		case 2: // C.LW
			imm := cLWImm(raw)
			return mk(encodeI(0x03, 2, w.CRdRs1p(), w.CRs2p(), int64(imm)), LW)
		case 3: // C.LD (rv64) / C.FLW (rv32)
			if opt.RV64 {
				imm := cLDImm(raw)
				return mk(encodeI(0x03, 3, w.CRdRs1p(), w.CRs2p(), int64(imm)), LD)
			}
			imm := cLWImm(raw)
			return mk(encodeI(0x07, 2, w.CRdRs1p(), w.CRs2p(), int64(imm)), FLW)
		case 5: // C.FSD
			imm := cLDImm(raw)
			return mk(encodeS(0x27, 3, w.CRdRs1p(), w.CRs2p(), int64(imm)), FSD)
		case 6: // C.SW
			imm := cLWImm(raw)
			return mk(encodeS(0x23, 2, w.CRdRs1p(), w.CRs2p(), int64(imm)), SW)
		case 7: // C.SD (rv64) / C.FSW (rv32)
			if opt.RV64 {
				imm := cLDImm(raw)
				return mk(encodeS(0x23, 3, w.CRdRs1p(), w.CRs2p(), int64(imm)), SD)
			}
			imm := cLWImm(raw)
			return mk(encodeS(0x27, 2, w.CRdRs1p(), w.CRs2p(), int64(imm)), FSW)
		}
		return undef

	case 1:
		switch f3 {
		case 0: // C.NOP / C.ADDI
			rd := w.CRdRs1()
			imm := cAddiImm(raw)
			return mk(encodeI(0x13, 0, rd, rd, int64(imm)), ADDI)
		case 1: // C.JAL (rv32) / C.ADDIW (rv64)
			if opt.RV64 {
				rd := w.CRdRs1()
				if rd == 0 {
					return undef
				}
				imm := cAddiImm(raw)
				return mk(encodeI(0x1B, 0, rd, rd, int64(imm)), ADDIW)
			}
			imm := cJImm(raw)
			return mk(encodeJ(0x6F, 1, int64(imm)), JAL)
		case 2: // C.LI (rd==0 is a HINT, not reserved)
			rd := w.CRdRs1()
			imm := cAddiImm(raw)
			return mk(encodeI(0x13, 0, rd, 0, int64(imm)), ADDI)
		case 3: // C.ADDI16SP / C.LUI
			rd := w.CRdRs1()
			if rd == 2 {
				imm := cAddi16spImm(raw)
				if imm == 0 {
					return undef
				}
				return mk(encodeI(0x13, 0, 2, 2, int64(imm)), ADDI)
			}
			imm := cLuiImm(raw)
			if imm == 0 || rd == 0 {
				return undef
			}
			return mk(encodeU(0x37, rd, int64(imm)), LUI)
		case 4: // C.SRLI/C.SRAI/C.ANDI/C.SUB/C.XOR/C.OR/C.AND(W)
			return decodeCA(raw, w, opt, mk, undef)
		case 5: // C.J
			imm := cJImm(raw)
			return mk(encodeJ(0x6F, 0, int64(imm)), JAL)
		case 6: // C.BEQZ
			rs1 := w.CRdRs1p()
			imm := cBImm(raw)
			return mk(encodeB(0x63, 0, rs1, 0, int64(imm)), BEQ)
		case 7: // C.BNEZ
			rs1 := w.CRdRs1p()
			imm := cBImm(raw)
			return mk(encodeB(0x63, 1, rs1, 0, int64(imm)), BNE)
		}
		return undef

	case 2:
		switch f3 {
		case 0: // C.SLLI (rd==0 is a HINT, not reserved)
			rd := w.CRdRs1()
			shamt := cShamt(raw, opt)
			return mk(encodeIShamt(0x13, 1, 0, rd, rd, shamt), SLLI)
		case 1: // C.FLDSP
			rd := w.CRdRs1()
			imm := cLdspImm(raw)
			return mk(encodeI(0x07, 3, rd, 2, int64(imm)), FLD)
		case 2: // C.LWSP
			rd := w.CRdRs1()
			if rd == 0 {
				return undef
			}
			imm := cLwspImm(raw)
			return mk(encodeI(0x03, 2, rd, 2, int64(imm)), LW)
		case 3: // C.LDSP (rv64) / C.FLWSP (rv32)
			rd := w.CRdRs1()
			if opt.RV64 {
				if rd == 0 {
					return undef
				}
				imm := cLdspImm(raw)
				return mk(encodeI(0x03, 3, rd, 2, int64(imm)), LD)
			}
			imm := cLwspImm(raw)
			return mk(encodeI(0x07, 2, rd, 2, int64(imm)), FLW)
		case 4:
			rd := w.CRdRs1()
			rs2 := w.CRs2()
			bit12 := (raw >> 12) & 1
			if bit12 == 0 {
				if rs2 == 0 { // C.JR
					if rd == 0 {
						return undef
					}
					return mk(encodeI(0x67, 0, 0, rd, 0), JALR)
				}
				// C.MV (rd==0 is a HINT, not reserved)
				return mk(encodeR(0x33, 0, 0, rd, 0, rs2), ADD)
			}
			if rs2 == 0 {
				if rd == 0 { // C.EBREAK
					return mk(encodeI(0x73, 0, 0, 0, 1), EBREAK)
				}
				// C.JALR
				return mk(encodeI(0x67, 0, 1, rd, 0), JALR)
			}
			// C.ADD (rd==0 is a HINT, not reserved)
			return mk(encodeR(0x33, 0, 0, rd, rd, rs2), ADD)
		case 5: // C.FSDSP
			imm := cSdspImm(raw)
			return mk(encodeS(0x27, 3, 2, w.CRs2(), int64(imm)), FSD)
		case 6: // C.SWSP
			imm := cSwspImm(raw)
			return mk(encodeS(0x23, 2, 2, w.CRs2(), int64(imm)), SW)
		case 7: // C.SDSP (rv64) / C.FSWSP (rv32)
			if opt.RV64 {
				imm := cSdspImm(raw)
				return mk(encodeS(0x23, 3, 2, w.CRs2(), int64(imm)), SD)
			}
			imm := cSwspImm(raw)
			return mk(encodeS(0x27, 2, 2, w.CRs2(), int64(imm)), FSW)
		}
		return undef
	}
	return undef
}

func decodeCA(raw uint32, w Word, opt Options, mk func(uint32, Opcode) Decoded, undef Decoded) Decoded {
	rd := w.CRdRs1p()
	switch (raw >> 10) & 0x3 {
	case 0: // C.SRLI
		shamt := cShamt(raw, opt)
		return mk(encodeIShamt(0x13, 5, 0, rd, rd, shamt), SRLI)
	case 1: // C.SRAI
		shamt := cShamt(raw, opt)
		return mk(encodeIShamt(0x13, 5, 0x20, rd, rd, shamt), SRAI)
	case 2: // C.ANDI
		imm := cAddiImm(raw)
		return mk(encodeI(0x13, 7, rd, rd, int64(imm)), ANDI)
	case 3:
		rs2 := w.CRs2p()
		isWord := (raw>>12)&1 != 0
		switch (raw >> 5) & 0x3 {
		case 0:
			if isWord {
				if !opt.RV64 {
					return undef
				}
				return mk(encodeR(0x3B, 0, 0x20, rd, rd, rs2), SUBW)
			}
			return mk(encodeR(0x33, 0, 0x20, rd, rd, rs2), SUB)
		case 1:
			if isWord {
				if !opt.RV64 {
					return undef
				}
				return mk(encodeR(0x3B, 0, 0, rd, rd, rs2), ADDW)
			}
			return mk(encodeR(0x33, 4, 0, rd, rd, rs2), XOR)
		case 2:
			if isWord {
				return undef
			}
			return mk(encodeR(0x33, 6, 0, rd, rd, rs2), OR)
		case 3:
			if isWord {
				return undef
			}
			return mk(encodeR(0x33, 7, 0, rd, rd, rs2), AND)
		}
	}
	return undef
}

func cShamt(raw uint32, opt Options) uint32 {
	shamt := ((raw >> 12) & 1 << 5) | ((raw >> 2) & 0x1F)
	if !opt.RV64 && shamt >= 32 {
		return shamt // an rv32 shamt of 32 or more is passed through, not rejected
	}
	return shamt
}

func cIW(raw uint32) uint32 {
	b := (raw >> 5) & 0xFF
	// nzuimm[5:4|9:6|2|3]
	imm := ((b >> 2) & 0xF << 6) | ((b >> 6) & 0x3 << 4) | ((b >> 1) & 1 << 2) | ((b >> 0) & 1 << 3)
	return imm
}

func cLWImm(raw uint32) uint32 {
	imm5_3 := (raw >> 10) & 0x7
	imm2 := (raw >> 6) & 1
	imm6 := (raw >> 5) & 1
	return (imm5_3 << 3) | (imm6 << 6) | (imm2 << 2)
}

func cLDImm(raw uint32) uint32 {
	imm5_3 := (raw >> 10) & 0x7
	imm7_6 := (raw >> 5) & 0x3
	return (imm5_3 << 3) | (imm7_6 << 6)
}

func cAddiImm(raw uint32) int64 {
	imm := ((raw >> 12) & 1 << 5) | ((raw >> 2) & 0x1F)
	return signExtend(uint64(imm), 6)
}

func cJImm(raw uint32) int64 {
	bit11 := (raw >> 12) & 1
	bit4 := (raw >> 11) & 1
	bit9_8 := (raw >> 9) & 0x3
	bit10 := (raw >> 8) & 1
	bit6 := (raw >> 7) & 1
	bit7 := (raw >> 6) & 1
	bit3_1 := (raw >> 3) & 0x7
	bit5 := (raw >> 2) & 1
	imm := (bit11 << 11) | (bit10 << 10) | (bit9_8 << 8) | (bit6 << 6) | (bit7 << 7) | (bit4 << 4) | (bit3_1 << 1) | (bit5 << 5)
	return signExtend(uint64(imm), 12)
}

func cBImm(raw uint32) int64 {
	bit8 := (raw >> 12) & 1
	bit4_3 := (raw >> 10) & 0x3
	bit7_6 := (raw >> 5) & 0x3
	bit2_1 := (raw >> 3) & 0x3
	bit5 := (raw >> 2) & 1
	imm := (bit8 << 8) | (bit7_6 << 6) | (bit5 << 5) | (bit4_3 << 3) | (bit2_1 << 1)
	return signExtend(uint64(imm), 9)
}

func cAddi16spImm(raw uint32) int64 {
	bit9 := (raw >> 12) & 1
	bit4 := (raw >> 6) & 1
	bit6 := (raw >> 5) & 1
	bit8_7 := (raw >> 3) & 0x3
	bit5 := (raw >> 2) & 1
	imm := (bit9 << 9) | (bit8_7 << 7) | (bit6 << 6) | (bit5 << 5) | (bit4 << 4)
	return signExtend(uint64(imm), 10)
}

func cLuiImm(raw uint32) int64 {
	bit17 := (raw >> 12) & 1
	bits16_12 := (raw >> 2) & 0x1F
	imm := (bit17 << 17) | (bits16_12 << 12)
	return signExtend(uint64(imm), 18)
}

func cLwspImm(raw uint32) int64 {
	bit5 := (raw >> 12) & 1
	bit4_2 := (raw >> 4) & 0x7
	bit7_6 := (raw >> 2) & 0x3
	return int64((bit5 << 5) | (bit4_2 << 2) | (bit7_6 << 6))
}

func cLdspImm(raw uint32) int64 {
	bit5 := (raw >> 12) & 1
	bit4_3 := (raw >> 5) & 0x3
	bit8_6 := (raw >> 2) & 0x7
	return int64((bit5 << 5) | (bit4_3 << 3) | (bit8_6 << 6))
}

func cSwspImm(raw uint32) int64 {
	bit5_2 := (raw >> 9) & 0xF
	bit7_6 := (raw >> 7) & 0x3
	return int64((bit5_2 << 2) | (bit7_6 << 6))
}

func cSdspImm(raw uint32) int64 {
	bit5_3 := (raw >> 10) & 0x7
	bit8_6 := (raw >> 7) & 0x7
	return int64((bit5_3 << 3) | (bit8_6 << 6))
}
