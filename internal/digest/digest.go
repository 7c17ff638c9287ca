package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/roach88/rvcheck/internal/effect"
	"github.com/roach88/rvcheck/internal/machine"
)

// Domain prefixes. The version suffix leaves room for a new layout.
const (
	DomainState   = "rvcheck/state/v1"
	DomainEffects = "rvcheck/effects/v1"
)

// hashWithDomain returns SHA256(domain || 0x00 || data) in hex.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash canonicalises v and hashes it under domain.
func Hash(domain string, v Value) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}
	return hashWithDomain(domain, data), nil
}

// Word renders a 64-bit value. JSON integers cannot carry the full range,
// so words are fixed-width hex strings.
func Word(v uint64) String {
	return String(fmt.Sprintf("%016x", v))
}

// StateObject returns the canonical description of m's architectural state:
// pc, registers, reservation, run status, exit code and the contents of
// every page written since load.
func StateObject(m *machine.Machine) Object {
	regs := m.Registers()
	registers := make(Array, len(regs))
	for i, r := range regs {
		registers[i] = Word(r)
	}

	mem := m.Memory()
	dirty := mem.DirtyPages()
	pages := make(Array, 0, len(dirty))
	for _, n := range dirty {
		sum := sha256.Sum256(mem.Page(n))
		pages = append(pages, Object{
			"page":   Word(n),
			"sha256": String(hex.EncodeToString(sum[:])),
		})
	}

	return Object{
		"pc":          Word(m.PC()),
		"registers":   registers,
		"reservation": Word(m.Reservation()),
		"running":     Bool(m.Running()),
		"exit_code":   Int(m.ExitCode()),
		"pages":       pages,
	}
}

// State hashes StateObject(m).
func State(m *machine.Machine) string {
	s, err := Hash(DomainState, StateObject(m))
	if err != nil {
		// StateObject only builds values Marshal accepts.
		panic(err)
	}
	return s
}

// EffectsObject returns the canonical description of one step's evaluated
// writes, in record order.
func EffectsObject(fx *effect.Effects) Object {
	writes := make(Array, len(fx.Writes))
	for i, w := range fx.Writes {
		obj := Object{"kind": String(w.Kind.String())}
		switch w.Kind {
		case effect.MemoryWrite:
			obj["address"] = Word(w.Address)
			obj["size"] = Int(w.Size)
			obj["value"] = Word(w.Value)
		case effect.RegisterWrite:
			obj["index"] = Int(w.Index)
			obj["value"] = Word(w.Value)
		case effect.ReservationWrite:
			obj["value"] = Word(w.Value)
		}
		writes[i] = obj
	}

	out := Object{"writes": writes}
	if fx.HasNextPC {
		out["next_pc"] = Word(fx.NextPC)
	}
	return out
}

// Effects hashes EffectsObject(fx).
func Effects(fx *effect.Effects) string {
	s, err := Hash(DomainEffects, EffectsObject(fx))
	if err != nil {
		panic(err)
	}
	return s
}

// Image returns the plain SHA-256 of an image file, comparable with
// sha256sum output.
func Image(img []byte) string {
	sum := sha256.Sum256(img)
	return hex.EncodeToString(sum[:])
}
