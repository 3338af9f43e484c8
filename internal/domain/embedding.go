package domain

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"
)

// Mode selects the embedding model variant on the service side.
type Mode string

// ModeStandard is the default embedding mode.
const ModeStandard Mode = "standard"

// DefaultBatchSize is the number of pages sent per request when none is configured.
const DefaultBatchSize = 10

// OrDefault returns ModeStandard for an empty mode.
func (m Mode) OrDefault() Mode {
	if m == "" {
		return ModeStandard
	}
	return m
}

// Image is a single rasterized page or picture.
type Image = image.Image

// ColBERT is a multi-vector embedding: one row per token or image patch.
type ColBERT [][]float32

// Dims returns the row width, or 0 for an empty embedding.
func (c ColBERT) Dims() int {
	if len(c) == 0 {
		return 0
	}
	return len(c[0])
}

// Validate rejects empty or ragged embeddings.
func (c ColBERT) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("embedding has no vectors: %w", ErrInvalidInput)
	}
	dims := len(c[0])
	if dims == 0 {
		return fmt.Errorf("embedding vector 0 is empty: %w", ErrInvalidInput)
	}
	for i, row := range c {
		if len(row) != dims {
			return fmt.Errorf("embedding vector %d has %d dims, want %d: %w",
				i, len(row), dims, ErrInvalidInput)
		}
	}
	return nil
}

// colbertHeaderSize is two uint32: rows, dims.
const colbertHeaderSize = 8

// MarshalBinary encodes the embedding as a rows/dims header followed by
// little-endian float32 values.
func (c ColBERT) MarshalBinary() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	rows, dims := len(c), c.Dims()
	b := make([]byte, colbertHeaderSize+rows*dims*4)
	binary.LittleEndian.PutUint32(b[0:], uint32(rows))
	binary.LittleEndian.PutUint32(b[4:], uint32(dims))
	off := colbertHeaderSize
	for _, row := range c {
		for _, v := range row {
			binary.LittleEndian.PutUint32(b[off:], math.Float32bits(v))
			off += 4
		}
	}
	return b, nil
}

// UnmarshalBinary decodes a blob produced by MarshalBinary.
func (c *ColBERT) UnmarshalBinary(b []byte) error {
	if len(b) < colbertHeaderSize {
		return fmt.Errorf("embedding blob too short (%d bytes)", len(b))
	}
	rows64 := uint64(binary.LittleEndian.Uint32(b[0:]))
	dims64 := uint64(binary.LittleEndian.Uint32(b[4:]))
	if rows64 == 0 || dims64 == 0 {
		return fmt.Errorf("embedding blob header %dx%d is empty", rows64, dims64)
	}
	// rows*dims*4 can exceed 64 bits, so the length is checked by division.
	payload := uint64(len(b) - colbertHeaderSize)
	if payload%4 != 0 || payload/4/dims64 != rows64 || payload/4%dims64 != 0 {
		return fmt.Errorf("embedding blob length %d does not hold %dx%d values", len(b), rows64, dims64)
	}
	rows, dims := int(rows64), int(dims64)
	out := make(ColBERT, rows)
	off := colbertHeaderSize
	for i := range out {
		row := make([]float32, dims)
		for j := range row {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
			off += 4
		}
		out[i] = row
	}
	*c = out
	return nil
}

// EmbeddingResponse is the result of one or more embedding calls.
// Images is nil unless the caller asked for the rasterized pages back.
type EmbeddingResponse struct {
	CreditsSpent int
	Embeddings   []ColBERT
	Images       []Image
}

// Merge folds a chunk response into the aggregate, preserving order.
func (r *EmbeddingResponse) Merge(chunk EmbeddingResponse) {
	r.CreditsSpent += chunk.CreditsSpent
	r.Embeddings = append(r.Embeddings, chunk.Embeddings...)
}

// EmptyResponse is the aggregate of zero units.
func EmptyResponse() EmbeddingResponse {
	return EmbeddingResponse{Embeddings: []ColBERT{}}
}
