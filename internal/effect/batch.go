package effect

import (
	"fmt"
	"strings"

	"github.com/roach88/rvcheck/internal/expr"
	"github.com/roach88/rvcheck/internal/rv"
)

// WriteKind tags a Write.
type WriteKind uint8

const (
	MemoryWrite WriteKind = iota + 1
	RegisterWrite
	ReservationWrite
	EnvironmentCall
	EnvironmentBreak
)

var writeKindNames = [...]string{
	MemoryWrite:      "memory",
	RegisterWrite:    "register",
	ReservationWrite: "reservation",
	EnvironmentCall:  "ecall",
	EnvironmentBreak: "ebreak",
}

func (k WriteKind) String() string {
	if int(k) < len(writeKindNames) && writeKindNames[k] != "" {
		return writeKindNames[k]
	}
	return fmt.Sprintf("WriteKind<%d>", k)
}

// Write is one recorded effect. Address and Size are set for memory writes,
// Index for register writes, and Value for every kind except the two
// environment markers.
type Write struct {
	Kind    WriteKind
	Address expr.Ref
	Size    uint8
	Index   uint8
	Value   expr.Ref
}

// Batch is everything one instruction recorded. Its refs point into Arena,
// which stays valid until the recorder is reset.
type Batch struct {
	Arena     *expr.Arena
	Writes    []Write
	NextPC    expr.Ref
	HasNextPC bool
}

// Format renders w with its expressions spelled out.
func (b *Batch) Format(w Write) string {
	switch w.Kind {
	case MemoryWrite:
		return fmt.Sprintf("mem%d[%s] = %s", w.Size, b.Arena.Format(w.Address), b.Arena.Format(w.Value))
	case RegisterWrite:
		return fmt.Sprintf("%s = %s", rv.RegisterName(w.Index), b.Arena.Format(w.Value))
	case ReservationWrite:
		return "resv = " + b.Arena.Format(w.Value)
	default:
		return w.Kind.String()
	}
}

func (b *Batch) String() string {
	parts := make([]string, 0, len(b.Writes)+1)
	if b.HasNextPC {
		parts = append(parts, "pc = "+b.Arena.Format(b.NextPC))
	}
	for _, w := range b.Writes {
		parts = append(parts, b.Format(w))
	}
	return strings.Join(parts, "; ")
}

// Value is a Write with its expressions reduced to numbers.
type Value struct {
	Kind    WriteKind
	Address uint64
	Size    uint8
	Index   uint8
	Value   uint64
}

func (v Value) String() string {
	switch v.Kind {
	case MemoryWrite:
		return fmt.Sprintf("mem%d[0x%x] = 0x%x", v.Size, v.Address, v.Value)
	case RegisterWrite:
		return fmt.Sprintf("%s = 0x%x", rv.RegisterName(v.Index), v.Value)
	case ReservationWrite:
		return fmt.Sprintf("resv = 0x%x", v.Value)
	default:
		return v.Kind.String()
	}
}

// Effects is an evaluated Batch.
type Effects struct {
	NextPC    uint64
	HasNextPC bool
	Writes    []Value
}

// Evaluate reduces every expression in the batch against state. All
// expressions share one evaluator, so each node is reduced at most once and
// every value reflects the same snapshot. State must not change until
// Evaluate returns.
func (b *Batch) Evaluate(state expr.State) (*Effects, error) {
	ev := expr.NewEvaluator(b.Arena, state)
	out := &Effects{Writes: make([]Value, 0, len(b.Writes))}

	if b.HasNextPC {
		pc, err := ev.Eval(b.NextPC)
		if err != nil {
			return nil, fmt.Errorf("next pc: %w", err)
		}
		out.NextPC = pc
		out.HasNextPC = true
	}

	for i, w := range b.Writes {
		v := Value{Kind: w.Kind, Size: w.Size, Index: w.Index}
		var err error
		switch w.Kind {
		case MemoryWrite:
			if v.Address, err = ev.Eval(w.Address); err != nil {
				return nil, fmt.Errorf("write %d address: %w", i, err)
			}
			if v.Value, err = ev.Eval(w.Value); err != nil {
				return nil, fmt.Errorf("write %d value: %w", i, err)
			}
		case RegisterWrite, ReservationWrite:
			if v.Value, err = ev.Eval(w.Value); err != nil {
				return nil, fmt.Errorf("write %d value: %w", i, err)
			}
		}
		out.Writes = append(out.Writes, v)
	}
	return out, nil
}
