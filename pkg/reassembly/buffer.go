package reassembly

import (
	"slices"
	"sync"
)

// Buffer collects chunk payloads keyed by sequence number. UDP may deliver
// chunks out of order, repeated, or with holes; Buffer keeps the first copy
// of each sequence and only orders them when drained.
type Buffer struct {
	mu     sync.Mutex
	chunks map[uint32][]byte
	bytes  int
}

func New() *Buffer {
	return &Buffer{chunks: make(map[uint32][]byte)}
}

// Insert stores a copy of payload under seq. It reports false, and leaves the
// buffer untouched, when seq is already present.
func (b *Buffer) Insert(seq uint32, payload []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.chunks[seq]; dup {
		return false
	}
	b.chunks[seq] = append([]byte(nil), payload...)
	b.bytes += len(payload)
	return true
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Size is the total payload bytes held.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}

// Gaps lists the sequence numbers missing between 0 and the highest
// sequence seen.
func (b *Buffer) Gaps() []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) == 0 {
		return nil
	}
	seqs := b.sortedLocked()
	var gaps []uint32
	var want uint32
	for _, seq := range seqs {
		for ; want < seq; want++ {
			gaps = append(gaps, want)
		}
		want = seq + 1
	}
	return gaps
}

// DrainOrdered returns every payload in ascending sequence order and empties
// the buffer.
func (b *Buffer) DrainOrdered() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) == 0 {
		return nil
	}
	seqs := b.sortedLocked()
	out := make([][]byte, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, b.chunks[seq])
	}
	b.chunks = make(map[uint32][]byte)
	b.bytes = 0
	return out
}

func (b *Buffer) sortedLocked() []uint32 {
	seqs := make([]uint32, 0, len(b.chunks))
	for seq := range b.chunks {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)
	return seqs
}
