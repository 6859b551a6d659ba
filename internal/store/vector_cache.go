package store

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sanonone/lacuna/pkg/storage/mmap"
	"github.com/sanonone/lacuna/pkg/vecmath"
)

// vectorCache keeps embedding vectors in memory-mapped arena files, one
// arena per model, so repeated graph builds and semantic scans read vectors
// straight from mapped pages instead of decoding SQLite BLOBs. The cache is
// filled lazily on a model's first use and kept current by PutEmbedding.
type vectorCache struct {
	dir       string
	precision uint8

	mu     sync.RWMutex
	models map[string]*modelArena
}

type modelArena struct {
	arena *mmap.VectorArena
	dim   int
	slots map[string]uint32 // patent id -> arena slot
}

func newVectorCache(dir, precision string) *vectorCache {
	prec := mmap.PrecFloat32
	if strings.EqualFold(precision, "float16") {
		prec = mmap.PrecFloat16
	}
	return &vectorCache{dir: dir, precision: prec, models: make(map[string]*modelArena)}
}

func (vc *vectorCache) has(model string) bool {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	_, ok := vc.models[model]
	return ok
}

// fill creates the arena for a model and streams vectors into it through the
// loader. A concurrent fill of the same model wins or loses atomically; the
// loser's work is discarded.
func (vc *vectorCache) fill(model string, dim int, load func(put func(id string, vec []float32) error) error) error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if _, ok := vc.models[model]; ok {
		return nil
	}

	vectorSize := dim * 4
	if vc.precision == mmap.PrecFloat16 {
		vectorSize = dim * 2
	}
	arena, err := mmap.NewVectorArena(filepath.Join(vc.dir, sanitizeModelDir(model)), vectorSize, dim, vc.precision)
	if err != nil {
		return fmt.Errorf("vector cache: %w", err)
	}
	ma := &modelArena{arena: arena, dim: dim, slots: make(map[string]uint32)}

	err = load(func(id string, vec []float32) error {
		return ma.write(vc.precision, id, vec)
	})
	if err != nil {
		arena.Close()
		return err
	}
	vc.models[model] = ma
	return nil
}

// put refreshes one vector in an already-filled model arena. Models not yet
// cached are skipped; their arena picks the row up when it is filled.
func (vc *vectorCache) put(model, id string, vec []float32) error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	ma, ok := vc.models[model]
	if !ok {
		return nil
	}
	return ma.write(vc.precision, id, vec)
}

// lookup reads vectors for the ids present in the model arena. Missing ids
// are simply absent from the result.
func (vc *vectorCache) lookup(model string, ids []string) (map[string][]float32, error) {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	ma, ok := vc.models[model]
	if !ok {
		return nil, fmt.Errorf("vector cache: model %q not cached", model)
	}
	out := make(map[string][]float32, len(ids))
	for _, id := range ids {
		slot, ok := ma.slots[id]
		if !ok {
			continue
		}
		vec, err := ma.read(vc.precision, slot)
		if err != nil {
			return nil, err
		}
		out[id] = vec
	}
	return out, nil
}

// scan visits every cached vector of the model. The callback must not
// retain vec.
func (vc *vectorCache) scan(model string, visit func(id string, vec []float32) error) error {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	ma, ok := vc.models[model]
	if !ok {
		return fmt.Errorf("vector cache: model %q not cached", model)
	}
	for id, slot := range ma.slots {
		vec, err := ma.read(vc.precision, slot)
		if err != nil {
			return err
		}
		if err := visit(id, vec); err != nil {
			return err
		}
	}
	return nil
}

func (vc *vectorCache) Close() error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	var firstErr error
	for _, ma := range vc.models {
		if err := ma.arena.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	vc.models = make(map[string]*modelArena)
	return firstErr
}

func (ma *modelArena) write(precision uint8, id string, vec []float32) error {
	if len(vec) != ma.dim {
		return fmt.Errorf("vector cache: dimension mismatch for %s: got %d, want %d", id, len(vec), ma.dim)
	}
	slot, ok := ma.slots[id]
	if !ok {
		slot = uint32(len(ma.slots))
	}
	buf, err := ma.arena.GetBytes(slot)
	if err != nil {
		return fmt.Errorf("vector cache: slot %d: %w", slot, err)
	}
	if precision == mmap.PrecFloat16 {
		copy(mmap.BytesToUint16Slice(buf, ma.dim), vecmath.EncodeFloat16(vec))
	} else {
		copy(mmap.BytesToFloat32Slice(buf, ma.dim), vec)
	}
	ma.slots[id] = slot
	return nil
}

func (ma *modelArena) read(precision uint8, slot uint32) ([]float32, error) {
	buf, err := ma.arena.GetBytes(slot)
	if err != nil {
		return nil, fmt.Errorf("vector cache: slot %d: %w", slot, err)
	}
	if precision == mmap.PrecFloat16 {
		return vecmath.DecodeFloat16(mmap.BytesToUint16Slice(buf, ma.dim)), nil
	}
	out := make([]float32, ma.dim)
	copy(out, mmap.BytesToFloat32Slice(buf, ma.dim))
	return out, nil
}

// sanitizeModelDir maps a model name onto a filesystem-safe directory name.
func sanitizeModelDir(model string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, model)
}
