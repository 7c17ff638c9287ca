package expr

import (
	"fmt"

	"github.com/roach88/rvcheck/internal/alu"
)

// State answers the entry-state reads an expression may make. The concrete
// machine implements it.
type State interface {
	Register(i uint8) uint64
	PC() uint64
	Reservation() uint64
	Load(addr uint64, size int) (uint64, error)
}

// EvalError reports an expression that could not be reduced.
type EvalError struct {
	Ref    Ref
	Reason string
	Err    error
}

func (e *EvalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evaluate #%d: %s: %v", e.Ref, e.Reason, e.Err)
	}
	return fmt.Sprintf("evaluate #%d: %s", e.Ref, e.Reason)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// Evaluator reduces expressions of one arena against one state. Results are
// memoised, so a node shared by several writes is evaluated once. An
// Evaluator must not outlive a change to either the arena or the state.
type Evaluator struct {
	arena  *Arena
	state  State
	values []uint64
	done   []bool
}

// NewEvaluator returns an evaluator with an empty cache.
func NewEvaluator(arena *Arena, state State) *Evaluator {
	n := arena.Len()
	return &Evaluator{
		arena:  arena,
		state:  state,
		values: make([]uint64, n),
		done:   make([]bool, n),
	}
}

// Eval returns the value of r. Only the taken arm of a select is evaluated.
func (e *Evaluator) Eval(r Ref) (uint64, error) {
	if int(r) >= len(e.values) {
		return 0, &EvalError{Ref: r, Reason: "reference outside arena"}
	}
	if e.done[r] {
		return e.values[r], nil
	}
	n := e.arena.nodes[r]

	var v uint64
	switch n.Kind {
	case KindImm:
		v = n.Value
	case KindRegister:
		v = e.state.Register(n.Index)
	case KindPC:
		v = e.state.PC()
	case KindReservation:
		v = e.state.Reservation()
	case KindLoad:
		addr, err := e.Eval(n.A)
		if err != nil {
			return 0, err
		}
		v, err = e.state.Load(addr, int(n.Size))
		if err != nil {
			return 0, &EvalError{Ref: r, Reason: fmt.Sprintf("load%d at 0x%x", n.Size, addr), Err: err}
		}
	case KindBinary:
		x, err := e.Eval(n.A)
		if err != nil {
			return 0, err
		}
		y, err := e.Eval(n.B)
		if err != nil {
			return 0, err
		}
		v = alu.Binary(alu.BinOp(n.Op), x, y)
	case KindUnary:
		x, err := e.Eval(n.A)
		if err != nil {
			return 0, err
		}
		v = alu.Unary(alu.UnOp(n.Op), x)
	case KindSelect:
		cond, err := e.Eval(n.A)
		if err != nil {
			return 0, err
		}
		arm := n.C
		if cond != 0 {
			arm = n.B
		}
		if v, err = e.Eval(arm); err != nil {
			return 0, err
		}
	default:
		return 0, &EvalError{Ref: r, Reason: fmt.Sprintf("unknown node kind %s", n.Kind)}
	}

	e.values[r] = v
	e.done[r] = true
	return v, nil
}
