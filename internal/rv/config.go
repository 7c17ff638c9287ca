package rv

import (
	"errors"
	"fmt"
)

// ISA is a set of instruction-set extension flags.
type ISA uint8

const (
	// ISAIMC enables the base integer, multiply/divide and compressed sets.
	ISAIMC ISA = 1 << iota
	// ISAB enables the Zba, Zbb and Zbs bit-manipulation sets.
	ISAB
	// ISAMOP enables macro-op fusion.
	ISAMOP
	// ISAA enables load-reserved/store-conditional and AMOs.
	ISAA
)

// Version1 is the only instruction-set version the decoder implements.
const Version1 uint32 = 1

// PageSize is the granularity of memory protection.
const PageSize = 4096

// Config is the fixed machine configuration. A Config is a value: it is
// built once from a profile and never mutated afterwards.
type Config struct {
	ISA         ISA
	Version     uint32
	MemoryLimit uint64 // highest valid address
	StackTop    uint64
	StackSize   uint64
	MaxCycles   uint64
}

// Has reports whether every flag in f is enabled.
func (c Config) Has(f ISA) bool {
	return c.ISA&f == f
}

// Validate checks the invariants a machine relies on.
func (c Config) Validate() error {
	if !c.Has(ISAIMC) {
		return errors.New("config: base IMC extensions are required")
	}
	if c.Version != Version1 {
		return fmt.Errorf("config: unsupported version %d", c.Version)
	}
	if c.StackTop%PageSize != 0 || c.StackSize%PageSize != 0 {
		return fmt.Errorf("config: stack top 0x%x and size 0x%x must be page aligned", c.StackTop, c.StackSize)
	}
	if c.StackSize == 0 || c.StackSize > c.StackTop {
		return fmt.Errorf("config: stack size 0x%x does not fit below top 0x%x", c.StackSize, c.StackTop)
	}
	if c.StackTop-1 > c.MemoryLimit {
		return fmt.Errorf("config: stack top 0x%x exceeds memory limit 0x%x", c.StackTop, c.MemoryLimit)
	}
	if c.MaxCycles == 0 {
		return errors.New("config: max cycles must be positive")
	}
	return nil
}

// String renders the enabled extensions, e.g. "IMC+B+A".
func (i ISA) String() string {
	s := ""
	add := func(f ISA, name string) {
		if i&f == 0 {
			return
		}
		if s != "" {
			s += "+"
		}
		s += name
	}
	add(ISAIMC, "IMC")
	add(ISAB, "B")
	add(ISAA, "A")
	add(ISAMOP, "MOP")
	if s == "" {
		return "none"
	}
	return s
}
