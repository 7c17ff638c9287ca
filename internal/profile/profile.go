// Package profile defines the fixed machine configurations.
//
// Profiles are written in CUE, embedded in the binary, checked against the
// #Profile schema and decoded into rv.Config values. Users pick a runner,
// not a profile: each runner is tied to one.
package profile

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/rvcheck/internal/rv"
)

// Profile names.
const (
	Recording = "recording"
	Roundtrip = "roundtrip"
)

//go:embed profiles.cue
var builtinSource string

// ProfileError reports an invalid or unknown profile, with the CUE source
// position when there is one.
type ProfileError struct {
	Profile string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ProfileError) Error() string {
	where := e.Field
	if e.Profile != "" {
		where = e.Profile + "." + e.Field
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), where, e.Message)
	}
	return fmt.Sprintf("%s: %s", where, e.Message)
}

// formatCUEError keeps the first error and its position.
func formatCUEError(profile string, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	pe := &ProfileError{Profile: profile, Field: "cue", Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		pe.Pos = positions[0]
	}
	return pe
}

// Set is a compiled collection of profiles.
type Set struct {
	configs map[string]Profile
}

// Profile is one decoded profile.
type Profile struct {
	Name        string
	Description string
	Config      rv.Config
}

// Parse compiles CUE source and decodes every profile under "profiles".
func Parse(filename, src string) (*Set, error) {
	v := cuecontext.New().CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError("", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError("", err)
	}

	iter, err := v.LookupPath(cue.ParsePath("profiles")).Fields()
	if err != nil {
		return nil, formatCUEError("", err)
	}

	s := &Set{configs: make(map[string]Profile)}
	for iter.Next() {
		name := iter.Label()
		p, err := decode(name, iter.Value())
		if err != nil {
			return nil, err
		}
		s.configs[name] = p
	}
	return s, nil
}

var extensionFlags = map[string]rv.ISA{
	"A":   rv.ISAA,
	"B":   rv.ISAB,
	"MOP": rv.ISAMOP,
}

func decode(name string, v cue.Value) (Profile, error) {
	p := Profile{Name: name}
	fail := func(field, msg string) (Profile, error) {
		return Profile{}, &ProfileError{Profile: name, Field: field, Message: msg, Pos: v.Pos()}
	}

	desc, err := v.LookupPath(cue.ParsePath("description")).String()
	if err != nil {
		return Profile{}, formatCUEError(name, err)
	}
	p.Description = desc

	list, err := v.LookupPath(cue.ParsePath("extensions")).List()
	if err != nil {
		return Profile{}, formatCUEError(name, err)
	}
	base := map[string]bool{}
	for list.Next() {
		ext, err := list.Value().String()
		if err != nil {
			return Profile{}, formatCUEError(name, err)
		}
		if flag, ok := extensionFlags[ext]; ok {
			p.Config.ISA |= flag
			continue
		}
		base[ext] = true
	}
	if !base["I"] || !base["M"] || !base["C"] {
		return fail("extensions", "I, M and C are required")
	}
	p.Config.ISA |= rv.ISAIMC

	words := []struct {
		path string
		dst  *uint64
	}{
		{"memory_limit", &p.Config.MemoryLimit},
		{"stack.top", &p.Config.StackTop},
		{"stack.size", &p.Config.StackSize},
		{"max_cycles", &p.Config.MaxCycles},
	}
	for _, w := range words {
		n, err := v.LookupPath(cue.ParsePath(w.path)).Uint64()
		if err != nil {
			return Profile{}, formatCUEError(name, err)
		}
		*w.dst = n
	}

	version, err := v.LookupPath(cue.ParsePath("version")).Uint64()
	if err != nil {
		return Profile{}, formatCUEError(name, err)
	}
	p.Config.Version = uint32(version)

	if err := p.Config.Validate(); err != nil {
		return fail("config", err.Error())
	}
	return p, nil
}

// Lookup returns the named profile.
func (s *Set) Lookup(name string) (Profile, error) {
	p, ok := s.configs[name]
	if !ok {
		return Profile{}, &ProfileError{Profile: name, Field: "name", Message: "unknown profile"}
	}
	return p, nil
}

// Names lists the profiles in lexical order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.configs))
	for n := range s.configs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var builtin = sync.OnceValues(func() (*Set, error) {
	return Parse("profiles.cue", builtinSource)
})

// Builtin returns the embedded profiles.
func Builtin() (*Set, error) {
	return builtin()
}

// Load returns the configuration of a built-in profile.
func Load(name string) (rv.Config, error) {
	s, err := builtin()
	if err != nil {
		return rv.Config{}, fmt.Errorf("built-in profiles: %w", err)
	}
	p, err := s.Lookup(name)
	if err != nil {
		return rv.Config{}, err
	}
	return p.Config, nil
}
