// Package asm encodes and disassembles RISC-V instructions, adapted
// from the ARM emulator's encoder/encoder.go mnemonic-dispatch shape: a
// single EncodeInstruction switch routing to per-family encoders
// (encodeDataProcessing*, encodeMemory, encodeBranch, ...). Here the
// families are ALU-immediate/register, load/store, branch/jump, and
// system, each producing a canonical riscv.Word the same way the
// ARM emulator's family encoders each produce one ARM word.
package asm

import (
	"fmt"
	"strings"

	"github.com/lookbusy1344/riscv-vp/riscv"
)

// Instruction is the operand bag Encode consumes; callers (tests, a
// future text assembler) populate only the fields their mnemonic needs.
type Instruction struct {
	Mnemonic string
	Rd       uint32
	Rs1      uint32
	Rs2      uint32
	Imm      int64
}

// mnemonicTable maps an assembler mnemonic directly to its Opcode,
// covering the base integer, M, and privileged forms. F/D and A
// mnemonics are not in the table, so Encode rejects them as unknown.
var mnemonicTable = map[string]riscv.Opcode{
	"addi": riscv.ADDI, "slti": riscv.SLTI, "sltiu": riscv.SLTIU,
	"xori": riscv.XORI, "ori": riscv.ORI, "andi": riscv.ANDI,
	"slli": riscv.SLLI, "srli": riscv.SRLI, "srai": riscv.SRAI,
	"add": riscv.ADD, "sub": riscv.SUB, "sll": riscv.SLL, "slt": riscv.SLT,
	"sltu": riscv.SLTU, "xor": riscv.XOR, "srl": riscv.SRL, "sra": riscv.SRA,
	"or": riscv.OR, "and": riscv.AND,
	"lui": riscv.LUI, "auipc": riscv.AUIPC,
	"jal": riscv.JAL, "jalr": riscv.JALR,
	"beq": riscv.BEQ, "bne": riscv.BNE, "blt": riscv.BLT, "bge": riscv.BGE,
	"bltu": riscv.BLTU, "bgeu": riscv.BGEU,
	"lb": riscv.LB, "lh": riscv.LH, "lw": riscv.LW, "lbu": riscv.LBU, "lhu": riscv.LHU,
	"lwu": riscv.LWU, "ld": riscv.LD,
	"sb": riscv.SB, "sh": riscv.SH, "sw": riscv.SW, "sd": riscv.SD,
	"mul": riscv.MUL, "mulh": riscv.MULH, "mulhsu": riscv.MULHSU, "mulhu": riscv.MULHU,
	"div": riscv.DIV, "divu": riscv.DIVU, "rem": riscv.REM, "remu": riscv.REMU,
	"ecall": riscv.ECALL, "ebreak": riscv.EBREAK,
	"mret": riscv.MRET, "sret": riscv.SRET, "uret": riscv.URET, "wfi": riscv.WFI,
}

// Encode builds the canonical 32-bit word for one instruction. It does
// not expand to the compressed form; compression is a decode-time-only
// concept in this simulator. Emitting compressed forms from the
// assembler was decided against, since no round trip needs it and it
// would double every encoder path below.
func Encode(in Instruction) (uint32, error) {
	op, ok := mnemonicTable[strings.ToLower(in.Mnemonic)]
	if !ok {
		return 0, fmt.Errorf("asm: unknown mnemonic %q", in.Mnemonic)
	}
	switch op {
	case riscv.ADDI, riscv.SLTI, riscv.SLTIU, riscv.XORI, riscv.ORI, riscv.ANDI,
		riscv.JALR, riscv.LB, riscv.LH, riscv.LW, riscv.LBU, riscv.LHU, riscv.LWU, riscv.LD:
		return encodeI(op, in.Rd, in.Rs1, in.Imm), nil
	case riscv.SLLI, riscv.SRLI, riscv.SRAI:
		return encodeShift(op, in.Rd, in.Rs1, uint32(in.Imm)), nil
	case riscv.ADD, riscv.SUB, riscv.SLL, riscv.SLT, riscv.SLTU, riscv.XOR, riscv.SRL, riscv.SRA,
		riscv.OR, riscv.AND, riscv.MUL, riscv.MULH, riscv.MULHSU, riscv.MULHU,
		riscv.DIV, riscv.DIVU, riscv.REM, riscv.REMU:
		return encodeR(op, in.Rd, in.Rs1, in.Rs2), nil
	case riscv.LUI, riscv.AUIPC:
		return encodeU(op, in.Rd, in.Imm), nil
	case riscv.JAL:
		return encodeJ(in.Rd, in.Imm), nil
	case riscv.BEQ, riscv.BNE, riscv.BLT, riscv.BGE, riscv.BLTU, riscv.BGEU:
		return encodeB(op, in.Rs1, in.Rs2, in.Imm), nil
	case riscv.SB, riscv.SH, riscv.SW, riscv.SD:
		return encodeS(op, in.Rs1, in.Rs2, in.Imm), nil
	case riscv.ECALL:
		return 0x00000073, nil
	case riscv.EBREAK:
		return 0x00100073, nil
	case riscv.MRET:
		return 0x30200073, nil
	case riscv.SRET:
		return 0x10200073, nil
	case riscv.URET:
		return 0x00200073, nil
	case riscv.WFI:
		return 0x10500073, nil
	}
	return 0, fmt.Errorf("asm: mnemonic %q not yet encodable", in.Mnemonic)
}

func opcode7(op riscv.Opcode) uint32 {
	switch op {
	case riscv.LUI:
		return 0x37
	case riscv.AUIPC:
		return 0x17
	case riscv.JAL:
		return 0x6F
	case riscv.JALR:
		return 0x67
	case riscv.BEQ, riscv.BNE, riscv.BLT, riscv.BGE, riscv.BLTU, riscv.BGEU:
		return 0x63
	case riscv.LB, riscv.LH, riscv.LW, riscv.LBU, riscv.LHU, riscv.LWU, riscv.LD:
		return 0x03
	case riscv.SB, riscv.SH, riscv.SW, riscv.SD:
		return 0x23
	case riscv.ADDI, riscv.SLTI, riscv.SLTIU, riscv.XORI, riscv.ORI, riscv.ANDI,
		riscv.SLLI, riscv.SRLI, riscv.SRAI:
		return 0x13
	case riscv.ADD, riscv.SUB, riscv.SLL, riscv.SLT, riscv.SLTU, riscv.XOR, riscv.SRL, riscv.SRA,
		riscv.OR, riscv.AND, riscv.MUL, riscv.MULH, riscv.MULHSU, riscv.MULHU,
		riscv.DIV, riscv.DIVU, riscv.REM, riscv.REMU:
		return 0x33
	}
	return 0
}

func funct3(op riscv.Opcode) uint32 {
	switch op {
	case riscv.ADDI, riscv.ADD, riscv.SUB, riscv.BEQ, riscv.LB, riscv.SB, riscv.MUL, riscv.JALR:
		return 0
	case riscv.SLLI, riscv.SLL, riscv.BNE, riscv.LH, riscv.SH, riscv.MULH:
		return 1
	case riscv.SLTI, riscv.SLT, riscv.LW, riscv.SW, riscv.MULHSU:
		return 2
	case riscv.SLTIU, riscv.SLTU, riscv.LD, riscv.SD, riscv.MULHU:
		return 3
	case riscv.XORI, riscv.XOR, riscv.BLT, riscv.LBU, riscv.DIV:
		return 4
	case riscv.ORI, riscv.OR, riscv.SRLI, riscv.SRAI, riscv.SRL, riscv.SRA, riscv.BGE, riscv.LHU, riscv.DIVU:
		return 5
	case riscv.ANDI, riscv.AND, riscv.BLTU, riscv.LWU, riscv.REM:
		return 6
	case riscv.BGEU, riscv.REMU:
		return 7
	}
	return 0
}

func funct7(op riscv.Opcode) uint32 {
	switch op {
	case riscv.SUB, riscv.SRA, riscv.SRAI:
		return 0x20
	case riscv.MUL, riscv.MULH, riscv.MULHSU, riscv.MULHU, riscv.DIV, riscv.DIVU, riscv.REM, riscv.REMU:
		return 0x01
	}
	return 0
}

func encodeR(op riscv.Opcode, rd, rs1, rs2 uint32) uint32 {
	return (funct7(op) << 25) | (rs2 << 20) | (rs1 << 15) | (funct3(op) << 12) | (rd << 7) | opcode7(op)
}

func encodeI(op riscv.Opcode, rd, rs1 uint32, imm int64) uint32 {
	return (uint32(imm)&0xFFF)<<20 | (rs1 << 15) | (funct3(op) << 12) | (rd << 7) | opcode7(op)
}

func encodeShift(op riscv.Opcode, rd, rs1, shamt uint32) uint32 {
	top := uint32(0)
	if op == riscv.SRAI {
		top = 0x20
	}
	return (top << 25) | ((shamt & 0x3F) << 20) | (rs1 << 15) | (funct3(op) << 12) | (rd << 7) | opcode7(op)
}

func encodeU(op riscv.Opcode, rd uint32, imm int64) uint32 {
	return (uint32(imm) & 0xFFFFF000) | (rd << 7) | opcode7(op)
}

func encodeJ(rd uint32, imm int64) uint32 {
	u := uint32(imm)
	word := ((u >> 20 & 1) << 31) | ((u >> 1 & 0x3FF) << 21) | ((u >> 11 & 1) << 20) | ((u >> 12 & 0xFF) << 12)
	return word | (rd << 7) | opcode7(riscv.JAL)
}

func encodeB(op riscv.Opcode, rs1, rs2 uint32, imm int64) uint32 {
	u := uint32(imm)
	word := ((u >> 12 & 1) << 31) | ((u >> 5 & 0x3F) << 25) | (rs2 << 20) | (rs1 << 15) |
		(funct3(op) << 12) | ((u >> 1 & 0xF) << 8) | ((u >> 11 & 1) << 7)
	return word | opcode7(op)
}

func encodeS(op riscv.Opcode, rs1, rs2 uint32, imm int64) uint32 {
	u := uint32(imm)
	return ((u>>5&0x7F)<<25 | (rs2 << 20) | (rs1 << 15) | (funct3(op) << 12) | ((u & 0x1F) << 7)) | opcode7(op)
}

// Disassemble decodes a raw 32-bit or 16-bit instruction word at addr
// and formats it as "mnemonic rd, rs1, rs2/imm", the same terse
// register-list style the ARM emulator's trace/coverage output uses for
// ARM disassembly (vm/trace.go's Disassembly field).
func Disassemble(raw uint32, addr uint64, opt riscv.Options) string {
	d := riscv.Decode(raw, addr, opt)
	if d.Op == riscv.UNDEF {
		return fmt.Sprintf(".word 0x%08x", raw)
	}
	w := d.Word
	name := strings.ToLower(d.Op.String())
	switch d.Op {
	case riscv.LUI, riscv.AUIPC:
		return fmt.Sprintf("%s x%d, 0x%x", name, w.Rd(), uint32(w.ImmU())>>12)
	case riscv.JAL:
		return fmt.Sprintf("%s x%d, %d", name, w.Rd(), w.ImmJ())
	case riscv.JALR:
		return fmt.Sprintf("%s x%d, %d(x%d)", name, w.Rd(), w.ImmI(), w.Rs1())
	case riscv.BEQ, riscv.BNE, riscv.BLT, riscv.BGE, riscv.BLTU, riscv.BGEU:
		return fmt.Sprintf("%s x%d, x%d, %d", name, w.Rs1(), w.Rs2(), w.ImmB())
	case riscv.LB, riscv.LH, riscv.LW, riscv.LBU, riscv.LHU, riscv.LWU, riscv.LD,
		riscv.FLW, riscv.FLD:
		return fmt.Sprintf("%s x%d, %d(x%d)", name, w.Rd(), w.ImmI(), w.Rs1())
	case riscv.SB, riscv.SH, riscv.SW, riscv.SD, riscv.FSW, riscv.FSD:
		return fmt.Sprintf("%s x%d, %d(x%d)", name, w.Rs2(), w.ImmS(), w.Rs1())
	case riscv.ADDI, riscv.SLTI, riscv.SLTIU, riscv.XORI, riscv.ORI, riscv.ANDI:
		return fmt.Sprintf("%s x%d, x%d, %d", name, w.Rd(), w.Rs1(), w.ImmI())
	case riscv.ECALL, riscv.EBREAK, riscv.MRET, riscv.SRET, riscv.URET, riscv.WFI,
		riscv.FENCE, riscv.FENCEI:
		return name
	default:
		return fmt.Sprintf("%s x%d, x%d, x%d", name, w.Rd(), w.Rs1(), w.Rs2())
	}
}
