package store

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/roach88/rvcheck/internal/digest"
	"github.com/roach88/rvcheck/internal/effect"
)

func word(v uint64) string {
	return string(digest.Word(v))
}

func parseWord(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad word %q: %w", s, err)
	}
	return v, nil
}

// marshalArgs stores the guest argument vector as a canonical JSON array.
func marshalArgs(args []string) (string, error) {
	arr := make(digest.Array, len(args))
	for i, a := range args {
		arr[i] = digest.String(a)
	}
	data, err := digest.Marshal(arr)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	return string(data), nil
}

func unmarshalArgs(s string) ([]string, error) {
	var args []string
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	if args == nil {
		args = []string{}
	}
	return args, nil
}

var writeKinds = func() map[string]effect.WriteKind {
	m := make(map[string]effect.WriteKind)
	for k := effect.MemoryWrite; k <= effect.EnvironmentBreak; k++ {
		m[k.String()] = k
	}
	return m
}()

func parseWriteKind(s string) (effect.WriteKind, error) {
	k, ok := writeKinds[s]
	if !ok {
		return 0, fmt.Errorf("unknown write kind %q", s)
	}
	return k, nil
}
