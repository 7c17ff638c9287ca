package rv

import (
	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheSize is the number of decoded instructions CachedDecoder keeps.
const DefaultCacheSize = 4096

// CachedDecoder memoises decodes by pc.
//
// Executable pages are frozen at load time and can never become writable,
// so a successful decode stays valid for the life of one memory image. A
// CachedDecoder must therefore not be shared between machines whose images
// differ. Failed decodes are not cached.
type CachedDecoder struct {
	inner InstructionDecoder
	cache *lru.Cache
}

// NewCachedDecoder wraps inner with an LRU cache of the given size.
func NewCachedDecoder(inner InstructionDecoder, size int) (*CachedDecoder, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedDecoder{inner: inner, cache: cache}, nil
}

// Decode returns the cached instruction at pc, decoding on a miss.
func (d *CachedDecoder) Decode(mem Fetcher, pc uint64) (Instruction, error) {
	if v, ok := d.cache.Get(pc); ok {
		return v.(Instruction), nil
	}
	inst, err := d.inner.Decode(mem, pc)
	if err != nil {
		return Instruction{}, err
	}
	d.cache.Add(pc, inst)
	return inst, nil
}

// Len reports how many instructions are cached.
func (d *CachedDecoder) Len() int {
	return d.cache.Len()
}
