package chunk

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"io"
	"time"
)

// ChunkRef captures the identifying information for a content-defined chunk.
type ChunkRef struct {
	Hash   [32]byte // Strong hash used as the CAS key (SHA256 of the chunk bytes)
	Offset uint64   // Byte offset within the file
	Length uint32   // Length of the chunk
}

// Manifest describes the chunk layout for a single file mutation.
type Manifest struct {
	Version   uint64     `json:"version"`
	Timestamp time.Time  `json:"timestamp"`
	Chunks    []ChunkRef `json:"chunks"`
}

// Chunk holds a chunk's byte data and reference metadata.
type Chunk struct {
	Ref  ChunkRef
	Data []byte
}

// StreamChunker drives one logical stream through a Chunker, turning the
// Continue/Finished state machine into an io.EOF-terminated iterator and
// hashing each emitted chunk for CAS storage. It never holds more than one
// chunk's worth of bytes in memory at a time.
type StreamChunker struct {
	source io.Reader
	ch     Chunker
	offset uint64
	done   bool
}

// NewStreamChunker builds a streaming chunker over r using the algorithm and
// parameters named by cfg.
func NewStreamChunker(r io.Reader, cfg Config) (*StreamChunker, error) {
	ch, err := cfg.Instantiate()
	if err != nil {
		return nil, err
	}
	return &StreamChunker{source: r, ch: ch}, nil
}

// Kind returns the configuration the underlying Chunker was built from.
func (s *StreamChunker) Kind() Config { return s.ch.Kind() }

// Next returns the next content-defined chunk, or io.EOF once the stream is
// exhausted. A chunker that has returned a non-EOF error is poisoned and must
// not be called again.
func (s *StreamChunker) Next() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}

	var buf bytes.Buffer
	status, err := s.ch.Chunk(s.source, &buf)
	if err != nil {
		s.done = true
		return Chunk{}, err
	}

	if status == StatusFinished {
		s.done = true
		if buf.Len() == 0 {
			return Chunk{}, io.EOF
		}
	}

	data := buf.Bytes()
	ref := ChunkRef{
		Hash:   sha256.Sum256(data),
		Offset: s.offset,
		Length: uint32(len(data)),
	}
	s.offset += uint64(len(data))

	out := make([]byte, len(data))
	copy(out, data)

	return Chunk{Ref: ref, Data: out}, nil
}

// Split reads r to completion under cfg and returns every emitted chunk. It's
// meant for small inputs and tests; streaming callers should prefer
// StreamChunker.Next so only one chunk is buffered at a time.
func Split(cfg Config, r io.Reader) ([]Chunk, error) {
	sc, err := NewStreamChunker(r, cfg)
	if err != nil {
		return nil, err
	}

	var chunks []Chunk
	for {
		c, err := sc.Next()
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, c)
	}
}
