package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperjump/ragchain/pkg/utils"
)

// MemoryIndex is an in-memory vector index using brute-force inner product search
// over unit-length vectors.
type MemoryIndex struct {
	dimensions int
	slots      map[string]int
	entries    []memoryEntry
	nextSeq    int64
	mu         sync.RWMutex
}

type memoryEntry struct {
	id  string
	seq int64
	vec []float32
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		slots:      make(map[string]int),
	}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Upsert stores normalized copies of vectors. A known id keeps its insertion sequence.
// The batch is rejected as a whole if any vector has the wrong dimension.
func (m *MemoryIndex) Upsert(ctx context.Context, ids []string, vectors [][]float32) error {
	if err := checkBatch(ids, vectors, m.dimensions); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		vec := utils.NormalizedCopy(vectors[i])
		if slot, ok := m.slots[id]; ok {
			m.entries[slot].vec = vec
			continue
		}
		m.slots[id] = len(m.entries)
		m.entries = append(m.entries, memoryEntry{id: id, seq: m.nextSeq, vec: vec})
		m.nextSeq++
	}
	return nil
}

// Search returns the top-k vectors by cosine similarity to query.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, &DimensionError{Got: len(query), Want: m.dimensions}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := utils.NormalizedCopy(query)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return nil, ErrEmptyIndex
	}
	if k <= 0 {
		return []*VectorResult{}, nil
	}
	cands := make([]ranked, len(m.entries))
	for i, e := range m.entries {
		cands[i] = ranked{id: e.id, seq: e.seq, score: InnerProduct(q, e.vec)}
	}
	return topK(cands, k), nil
}

// Remove deletes vectors by ID. Unknown ids are ignored.
func (m *MemoryIndex) Remove(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		slot, ok := m.slots[id]
		if !ok {
			continue
		}
		last := len(m.entries) - 1
		if slot != last {
			m.entries[slot] = m.entries[last]
			m.slots[m.entries[slot].id] = slot
		}
		m.entries = m.entries[:last]
		delete(m.slots, id)
	}
	return nil
}

// Save persists the index to path. Directory is created if needed. Format: dimension (4),
// n (4), next sequence (8), then per vector: idLen (4), id bytes, sequence (8),
// vector (dimension*4 bytes).
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	header := []any{uint32(m.dimensions), uint32(len(m.entries)), m.nextSeq}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for _, e := range m.entries {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(e.id))); err != nil {
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := w.WriteString(e.id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, e.seq); err != nil {
			return fmt.Errorf("write sequence: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(e.vec)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush index file: %w", err)
	}
	return nil
}

// Load reads the index from path and replaces the in-memory contents. Dimensions must match.
// If the file does not exist, no error is returned and the index is unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var (
		dim, n  uint32
		nextSeq int64
	)
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, m.dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &nextSeq); err != nil {
		return fmt.Errorf("read sequence: %w", err)
	}

	entries := make([]memoryEntry, 0, n)
	slots := make(map[string]int, n)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return fmt.Errorf("read id len: %w", err)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		var seq int64
		if err := binary.Read(r, binary.LittleEndian, &seq); err != nil {
			return fmt.Errorf("read sequence: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		id := string(idBytes)
		slots[id] = len(entries)
		entries = append(entries, memoryEntry{id: id, seq: seq, vec: bytesToFloat32Slice(buf)})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = entries
	m.slots = slots
	m.nextSeq = nextSeq
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
