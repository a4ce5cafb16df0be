package elfload

import (
	"bytes"
	"testing"

	"github.com/lookbusy1344/riscv-vp/membus"
)

func TestLoadRejectsGarbage(t *testing.T) {
	bus := membus.NewBus()
	_, err := Load(bytes.NewReader([]byte("not an elf file")), bus)
	if err == nil {
		t.Fatal("expected an error for non-ELF input")
	}
}

func TestLoadRejectsEmpty(t *testing.T) {
	bus := membus.NewBus()
	_, err := Load(bytes.NewReader(nil), bus)
	if err == nil {
		t.Fatal("expected an error for empty input")
	}
}
