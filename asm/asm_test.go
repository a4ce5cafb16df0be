package asm

import (
	"testing"

	"github.com/lookbusy1344/riscv-vp/riscv"
)

func TestEncodeDecodeRoundTripR(t *testing.T) {
	raw, err := Encode(Instruction{Mnemonic: "add", Rd: 5, Rs1: 6, Rs2: 7})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	d := riscv.Decode(raw, 0, riscv.Options{RV64: true})
	if d.Op != riscv.ADD {
		t.Fatalf("got op %v, want ADD", d.Op)
	}
	if d.Word.Rd() != 5 || d.Word.Rs1() != 6 || d.Word.Rs2() != 7 {
		t.Fatalf("bad fields: rd=%d rs1=%d rs2=%d", d.Word.Rd(), d.Word.Rs1(), d.Word.Rs2())
	}
}

func TestEncodeDecodeRoundTripI(t *testing.T) {
	raw, err := Encode(Instruction{Mnemonic: "addi", Rd: 1, Rs1: 2, Imm: -5})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	d := riscv.Decode(raw, 0, riscv.Options{RV64: true})
	if d.Op != riscv.ADDI {
		t.Fatalf("got op %v, want ADDI", d.Op)
	}
	if d.Word.ImmI() != -5 {
		t.Fatalf("imm = %d, want -5", d.Word.ImmI())
	}
}

func TestEncodeDecodeRoundTripBranch(t *testing.T) {
	raw, err := Encode(Instruction{Mnemonic: "beq", Rs1: 3, Rs2: 4, Imm: 16})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	d := riscv.Decode(raw, 0, riscv.Options{RV64: true})
	if d.Op != riscv.BEQ {
		t.Fatalf("got op %v, want BEQ", d.Op)
	}
	if d.Word.ImmB() != 16 {
		t.Fatalf("imm = %d, want 16", d.Word.ImmB())
	}
}

func TestEncodeDecodeRoundTripStore(t *testing.T) {
	raw, err := Encode(Instruction{Mnemonic: "sw", Rs1: 2, Rs2: 8, Imm: 12})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	d := riscv.Decode(raw, 0, riscv.Options{RV64: true})
	if d.Op != riscv.SW {
		t.Fatalf("got op %v, want SW", d.Op)
	}
	if d.Word.ImmS() != 12 || d.Word.Rs1() != 2 || d.Word.Rs2() != 8 {
		t.Fatalf("bad fields: imm=%d rs1=%d rs2=%d", d.Word.ImmS(), d.Word.Rs1(), d.Word.Rs2())
	}
}

func TestEncodeUnknownMnemonic(t *testing.T) {
	if _, err := Encode(Instruction{Mnemonic: "bogus"}); err == nil {
		t.Fatal("expected error for unknown mnemonic")
	}
}

func TestDisassembleBasic(t *testing.T) {
	raw, _ := Encode(Instruction{Mnemonic: "addi", Rd: 1, Rs1: 0, Imm: 42})
	text := Disassemble(raw, 0, riscv.Options{RV64: true})
	want := "addi x1, x0, 42"
	if text != want {
		t.Fatalf("Disassemble = %q, want %q", text, want)
	}
}

func TestDisassembleSystem(t *testing.T) {
	raw, _ := Encode(Instruction{Mnemonic: "ecall"})
	if text := Disassemble(raw, 0, riscv.Options{RV64: true}); text != "ecall" {
		t.Fatalf("Disassemble = %q, want ecall", text)
	}
}

func TestDisassembleUndef(t *testing.T) {
	text := Disassemble(0xFFFFFFFF, 0, riscv.Options{RV64: true})
	if text[:6] != ".word " {
		t.Fatalf("Disassemble = %q, want .word prefix", text)
	}
}
