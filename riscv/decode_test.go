package riscv

import "testing"

func TestDecodeAddi(t *testing.T) {
	// addi x1, x0, 42
	raw := encodeI(0x13, 0, 1, 0, 42)
	d := Decode(raw, 0x1000, Options{RV64: true})
	if d.Op != ADDI {
		t.Fatalf("got %v want ADDI", d.Op)
	}
	if d.Word.ImmI() != 42 {
		t.Fatalf("imm = %d want 42", d.Word.ImmI())
	}
	if d.PCDelta != 4 {
		t.Fatalf("pcdelta = %d want 4", d.PCDelta)
	}
}

func TestDecodeCompressedAddi(t *testing.T) {
	// c.addi x1, 5: quadrant 1, funct3 0, rd/rs1=1, imm=5
	raw := uint16(0x1) | uint16(0<<13) | uint16(1<<7) | uint16(5<<2)
	d := Decode(uint32(raw), 0x2000, Options{RV64: true, C: true})
	if d.Op != ADDI {
		t.Fatalf("got %v want ADDI", d.Op)
	}
	if d.PCDelta != 2 {
		t.Fatalf("pcdelta = %d want 2", d.PCDelta)
	}
	if d.Word.ImmI() != 5 {
		t.Fatalf("imm = %d want 5", d.Word.ImmI())
	}
}

func TestDecodeReservedAddi4spn(t *testing.T) {
	// c.addi4spn with all-zero immediate bits is reserved.
	raw := uint16(0x0) // quadrant 0, funct3 0, imm fields all zero
	d := Decode(uint32(raw), 0x3000, Options{RV64: true, C: true})
	if d.Op != UNDEF {
		t.Fatalf("got %v want UNDEF", d.Op)
	}
}

func TestDecodeCJrReserved(t *testing.T) {
	// c.jr x0 is reserved (rd==0): quadrant 2, funct3 4, bit 12 clear, rs2 0.
	raw := uint16(2) | uint16(4<<13) | uint16(0<<7) | uint16(0<<2)
	d := Decode(uint32(raw), 0x4000, Options{RV64: true, C: true})
	if d.Op != UNDEF {
		t.Fatalf("got %v want UNDEF", d.Op)
	}
}

func TestDecodeHintsAreNotReserved(t *testing.T) {
	// c.li x0, 5 is a HINT, not reserved: quadrant1 funct3=2, rd=0.
	raw := uint16(0x1) | uint16(2<<13) | uint16(0<<7) | uint16(5<<2)
	d := Decode(uint32(raw), 0x5000, Options{RV64: true, C: true})
	if d.Op != ADDI {
		t.Fatalf("got %v want ADDI (hint), not UNDEF", d.Op)
	}
}

func TestDecodeBranchMisalignedWithoutC(t *testing.T) {
	// BEQ x1, x2, 2 is representable but only valid when C is enabled;
	// the decoder itself doesn't enforce alignment (that's the ISS's job),
	// it only decodes the opcode correctly.
	raw := encodeB(0x63, 0, 1, 2, 2)
	d := Decode(raw, 0x1000, Options{RV64: true})
	if d.Op != BEQ {
		t.Fatalf("got %v want BEQ", d.Op)
	}
	if d.Word.ImmB() != 2 {
		t.Fatalf("imm = %d want 2", d.Word.ImmB())
	}
}

func TestDecodeAmoLrRequiresRs2Zero(t *testing.T) {
	w := encodeR(0x2F, 2, 0x02<<2, 1, 2, 3) // lr.w with rs2 != 0
	d := Decode(w, 0x1000, Options{RV64: true})
	if d.Op != UNDEF {
		t.Fatalf("got %v want UNDEF", d.Op)
	}
}

func TestDecodeFMvXWNotGatedByRV64(t *testing.T) {
	w := (uint32(0x70) << 25) | (2 << 15) | (1 << 7) | 0x53
	d32 := Decode(w, 0x1000, Options{RV64: false})
	d64 := Decode(w, 0x1000, Options{RV64: true})
	if d32.Op != FMVXW || d64.Op != FMVXW {
		t.Fatalf("got rv32=%v rv64=%v want FMVXW both", d32.Op, d64.Op)
	}
}
