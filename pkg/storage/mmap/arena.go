// Package mmap implements a chunked memory-mapped vector arena: fixed-size
// records addressed by a dense slot index, backed by a directory of
// equally-sized files. The store layers its embedding cache on top of it, so
// graph builds and semantic scans read vectors from mapped pages instead of
// decoding database BLOBs row by row.
package mmap

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"
)

const (
	// DefaultChunkSize is the size of one backing file (64 MiB).
	DefaultChunkSize = 64 * 1024 * 1024
	// ArenaMagic tags arena files ("LACN").
	ArenaMagic   = 0x4C41434E
	ArenaVersion = 1
	// ArenaHeaderSize reserves the first bytes of every chunk for the
	// header; the remainder is record payload.
	ArenaHeaderSize = 64
)

// Record precision stored in the chunk header, so a restart detects when
// the cache was written at a different width than the current config.
const (
	PrecFloat32 uint8 = 0
	PrecFloat16 uint8 = 1
	PrecInt8    uint8 = 2
)

// chunk is one mapped backing file.
type chunk struct {
	id   int
	file *os.File
	data []byte
}

// VectorArena stores fixed-size vector records in mapped chunks. Reads of
// existing chunks take only a read lock; appending a chunk takes the write
// lock once.
type VectorArena struct {
	mu         sync.RWMutex
	dir        string
	chunkSize  int
	recordSize int
	perChunk   int
	chunks     []*chunk
	dim        uint32
	precision  uint8
}

// NewVectorArena opens (or creates) the arena directory. recordSize is the
// byte width of one vector at the chosen precision; existing chunks are
// remapped and their headers validated against dim and precision.
func NewVectorArena(dir string, recordSize, dim int, precision uint8) (*VectorArena, error) {
	if recordSize <= 0 {
		return nil, fmt.Errorf("mmap: record size must be positive, got %d", recordSize)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mmap: create arena dir: %w", err)
	}
	perChunk := (DefaultChunkSize - ArenaHeaderSize) / recordSize
	if perChunk == 0 {
		return nil, fmt.Errorf("mmap: record size %d exceeds chunk payload", recordSize)
	}

	va := &VectorArena{
		dir:        dir,
		chunkSize:  DefaultChunkSize,
		recordSize: recordSize,
		perChunk:   perChunk,
		dim:        uint32(dim),
		precision:  precision,
	}
	if err := va.openExisting(); err != nil {
		va.Close()
		return nil, err
	}
	return va, nil
}

// openExisting maps every chunk file already present, in order.
func (va *VectorArena) openExisting() error {
	entries, err := os.ReadDir(va.dir)
	if err != nil {
		return fmt.Errorf("mmap: read arena dir: %w", err)
	}
	maxID := -1
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var id int
		if _, err := fmt.Sscanf(entry.Name(), "arena_%04d.bin", &id); err == nil && id > maxID {
			maxID = id
		}
	}
	for id := 0; id <= maxID; id++ {
		if err := va.mapChunk(id); err != nil {
			return err
		}
	}
	return nil
}

func (va *VectorArena) mapChunk(id int) error {
	name := filepath.Join(va.dir, fmt.Sprintf("arena_%04d.bin", id))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("mmap: open chunk: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("mmap: stat chunk: %w", err)
	}
	fresh := info.Size() == 0
	if info.Size() < int64(va.chunkSize) {
		if err := file.Truncate(int64(va.chunkSize)); err != nil {
			file.Close()
			return fmt.Errorf("mmap: grow chunk: %w", err)
		}
	}
	data, err := mmapFile(file.Fd(), va.chunkSize)
	if err != nil {
		file.Close()
		return fmt.Errorf("mmap: map chunk: %w", err)
	}

	if fresh {
		binary.LittleEndian.PutUint32(data[0:4], ArenaMagic)
		binary.LittleEndian.PutUint32(data[4:8], ArenaVersion)
		binary.LittleEndian.PutUint32(data[8:12], va.dim)
		data[12] = va.precision
	} else if err := va.validateHeader(name, data); err != nil {
		munmapFile(data)
		file.Close()
		return err
	}

	va.chunks = append(va.chunks, &chunk{id: id, file: file, data: data})
	return nil
}

func (va *VectorArena) validateHeader(name string, data []byte) error {
	if got := binary.LittleEndian.Uint32(data[0:4]); got != ArenaMagic {
		return fmt.Errorf("mmap: %s is not an arena chunk", name)
	}
	if got := binary.LittleEndian.Uint32(data[4:8]); got != ArenaVersion {
		return fmt.Errorf("mmap: %s has unsupported version %d", name, got)
	}
	if got := binary.LittleEndian.Uint32(data[8:12]); got != va.dim {
		return fmt.Errorf("mmap: %s dimension mismatch: file %d, arena %d", name, got, va.dim)
	}
	if got := data[12]; got != va.precision {
		return fmt.Errorf("mmap: %s precision mismatch: file %d, arena %d", name, got, va.precision)
	}
	return nil
}

// GetBytes returns the record bytes for a slot, growing the arena with new
// chunks as needed. The returned slice aliases mapped memory and stays
// valid until Close.
func (va *VectorArena) GetBytes(slot uint32) ([]byte, error) {
	chunkID := int(slot) / va.perChunk
	offset := ArenaHeaderSize + (int(slot)%va.perChunk)*va.recordSize

	va.mu.RLock()
	if chunkID < len(va.chunks) {
		data := va.chunks[chunkID].data
		va.mu.RUnlock()
		return data[offset : offset+va.recordSize], nil
	}
	va.mu.RUnlock()

	va.mu.Lock()
	defer va.mu.Unlock()
	for chunkID >= len(va.chunks) {
		if err := va.mapChunk(len(va.chunks)); err != nil {
			return nil, err
		}
	}
	return va.chunks[chunkID].data[offset : offset+va.recordSize], nil
}

// Close unmaps and closes every chunk. The arena must not be used after.
func (va *VectorArena) Close() error {
	va.mu.Lock()
	defer va.mu.Unlock()
	var firstErr error
	for _, c := range va.chunks {
		if err := munmapFile(c.data); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := c.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	va.chunks = nil
	return firstErr
}

// BytesToFloat32Slice reinterprets record bytes as float32 components
// without copying.
func BytesToFloat32Slice(b []byte, dim int) []float32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), dim)
}

// BytesToUint16Slice reinterprets record bytes as raw float16 bits.
func BytesToUint16Slice(b []byte, dim int) []uint16 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(&b[0])), dim)
}

// BytesToInt8Slice reinterprets record bytes as int8 components.
func BytesToInt8Slice(b []byte, dim int) []int8 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int8)(unsafe.Pointer(&b[0])), dim)
}
