package hart

import "testing"

func TestParseISA(t *testing.T) {
	tests := []struct {
		isa  string
		want uint64
	}{
		{"rv64imafdc", misaI | misaM | misaA | misaF | misaD | misaC},
		{"rv32i", misaI},
		{"RV64GC", misaI | misaM | misaA | misaF | misaD | misaC},
		{"imac", misaI | misaM | misaA | misaC},
		{"", 0},
	}

	for _, tt := range tests {
		if got := ParseISA(tt.isa); got != tt.want {
			t.Errorf("ParseISA(%q) = %#x, want %#x", tt.isa, got, tt.want)
		}
	}
}
