package chunker

import (
	"errors"
	"fmt"
	"math"
)

var ErrTooManyChunks = errors.New("file needs more chunks than the sequence space holds")

// Part locates one chunk inside the source file.
type Part struct {
	Seq      uint32
	Offset   int64
	Length   int64
	LastPart bool
}

// Plan splits a file of a given size into fixed-size chunks addressed by a
// u32 sequence number. The last chunk may be short; an empty file has no
// chunks.
type Plan struct {
	size      int64
	chunkSize int64
	count     uint32
}

func NewPlan(size int64, chunkSize int) (*Plan, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0, got %d", chunkSize)
	}
	if size < 0 {
		return nil, fmt.Errorf("size must be >= 0, got %d", size)
	}
	cs := int64(chunkSize)
	total := (size + cs - 1) / cs // ceil div
	if total > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d chunks", ErrTooManyChunks, total)
	}
	return &Plan{size: size, chunkSize: cs, count: uint32(total)}, nil
}

func (p *Plan) Count() uint32    { return p.count }
func (p *Plan) Size() int64      { return p.size }
func (p *Plan) ChunkSize() int64 { return p.chunkSize }

// Part returns the bounds of seq; ok is false once seq is past the end.
func (p *Plan) Part(seq uint32) (Part, bool) {
	if seq >= p.count {
		return Part{}, false
	}
	offset := int64(seq) * p.chunkSize
	length := min(p.chunkSize, p.size-offset)
	return Part{
		Seq:      seq,
		Offset:   offset,
		Length:   length,
		LastPart: offset+length == p.size,
	}, true
}

// Slice returns the payload of seq from data, which must hold the whole file.
// The result aliases data.
func (p *Plan) Slice(data []byte, seq uint32) ([]byte, bool) {
	part, ok := p.Part(seq)
	if !ok || int64(len(data)) < part.Offset+part.Length {
		return nil, false
	}
	return data[part.Offset : part.Offset+part.Length], true
}
