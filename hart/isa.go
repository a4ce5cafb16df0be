package hart

import "strings"

// ParseISA turns an ISA string like "rv64imafdc" into a misa extension
// mask suitable for NewHart/NewCSRFile. Only the letters this platform
// models are recognized; "g" expands to the imafd shorthand the
// unprivileged spec defines it as.
func ParseISA(isa string) uint64 {
	isa = strings.ToLower(isa)
	isa = strings.TrimPrefix(isa, "rv32")
	isa = strings.TrimPrefix(isa, "rv64")

	var mask uint64
	for _, c := range isa {
		switch c {
		case 'i':
			mask |= misaI
		case 'm':
			mask |= misaM
		case 'a':
			mask |= misaA
		case 'f':
			mask |= misaF
		case 'd':
			mask |= misaD
		case 'c':
			mask |= misaC
		case 's':
			mask |= misaS
		case 'u':
			mask |= misaU
		case 'g':
			mask |= misaI | misaM | misaA | misaF | misaD
		}
	}
	return mask
}
