// Package expr holds symbolic expressions over an instruction's entry state.
//
// Nodes live in an Arena and refer to their operands by Ref, so one
// sub-expression can feed several writes without being copied. The arena is
// reset in bulk between instructions.
package expr

import (
	"fmt"
	"strings"

	"github.com/roach88/rvcheck/internal/alu"
	"github.com/roach88/rvcheck/internal/rv"
)

// Ref addresses a node in an Arena.
type Ref uint32

// Kind discriminates nodes.
type Kind uint8

const (
	KindImm Kind = iota + 1
	KindRegister
	KindPC
	KindReservation
	KindLoad
	KindBinary
	KindUnary
	KindSelect
)

var kindNames = [...]string{
	KindImm:         "imm",
	KindRegister:    "register",
	KindPC:          "pc",
	KindReservation: "reservation",
	KindLoad:        "load",
	KindBinary:      "binary",
	KindUnary:       "unary",
	KindSelect:      "select",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind<%d>", k)
}

// Node is one expression. Which fields are meaningful depends on Kind:
// Value for KindImm, Index for KindRegister, A and Size for KindLoad, Op
// with A (and B) for KindUnary and KindBinary, and A, B, C as condition,
// then and else for KindSelect.
type Node struct {
	Kind  Kind
	Op    uint8
	Index uint8
	Size  uint8
	Value uint64
	A     Ref
	B     Ref
	C     Ref
}

// Arena owns the nodes of one instruction.
type Arena struct {
	nodes []Node
}

// Reset discards every node, keeping capacity.
func (a *Arena) Reset() {
	a.nodes = a.nodes[:0]
}

// Len returns the number of nodes.
func (a *Arena) Len() int {
	return len(a.nodes)
}

// Node returns the node r refers to.
func (a *Arena) Node(r Ref) (Node, bool) {
	if int(r) >= len(a.nodes) {
		return Node{}, false
	}
	return a.nodes[r], true
}

func (a *Arena) push(n Node) Ref {
	a.nodes = append(a.nodes, n)
	return Ref(len(a.nodes) - 1)
}

func (a *Arena) Imm(v uint64) Ref {
	return a.push(Node{Kind: KindImm, Value: v})
}

// Register is the value register i held at instruction entry.
func (a *Arena) Register(i uint8) Ref {
	return a.push(Node{Kind: KindRegister, Index: i})
}

// PC is the pc at instruction entry.
func (a *Arena) PC() Ref {
	return a.push(Node{Kind: KindPC})
}

// Reservation is the load reservation at instruction entry.
func (a *Arena) Reservation() Ref {
	return a.push(Node{Kind: KindReservation})
}

// Load is the size bytes at addr as memory stood at instruction entry.
func (a *Arena) Load(addr Ref, size int) Ref {
	return a.push(Node{Kind: KindLoad, Size: uint8(size), A: addr})
}

func (a *Arena) Binary(op alu.BinOp, x, y Ref) Ref {
	return a.push(Node{Kind: KindBinary, Op: uint8(op), A: x, B: y})
}

func (a *Arena) Unary(op alu.UnOp, x Ref) Ref {
	return a.push(Node{Kind: KindUnary, Op: uint8(op), A: x})
}

func (a *Arena) Select(cond, t, f Ref) Ref {
	return a.push(Node{Kind: KindSelect, A: cond, B: t, C: f})
}

// Format renders r as an s-expression, for logs and the journal.
func (a *Arena) Format(r Ref) string {
	var b strings.Builder
	a.format(&b, r)
	return b.String()
}

func (a *Arena) format(b *strings.Builder, r Ref) {
	n, ok := a.Node(r)
	if !ok {
		fmt.Fprintf(b, "<bad ref %d>", r)
		return
	}
	switch n.Kind {
	case KindImm:
		fmt.Fprintf(b, "0x%x", n.Value)
	case KindRegister:
		b.WriteString(rv.RegisterName(n.Index))
	case KindPC:
		b.WriteString("pc")
	case KindReservation:
		b.WriteString("resv")
	case KindLoad:
		fmt.Fprintf(b, "(load%d ", n.Size)
		a.format(b, n.A)
		b.WriteByte(')')
	case KindBinary:
		fmt.Fprintf(b, "(%s ", alu.BinOp(n.Op))
		a.format(b, n.A)
		b.WriteByte(' ')
		a.format(b, n.B)
		b.WriteByte(')')
	case KindUnary:
		fmt.Fprintf(b, "(%s ", alu.UnOp(n.Op))
		a.format(b, n.A)
		b.WriteByte(')')
	case KindSelect:
		b.WriteString("(select ")
		a.format(b, n.A)
		b.WriteByte(' ')
		a.format(b, n.B)
		b.WriteByte(' ')
		a.format(b, n.C)
		b.WriteByte(')')
	default:
		fmt.Fprintf(b, "<%s>", n.Kind)
	}
}
