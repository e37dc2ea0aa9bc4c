package chunk

import (
	"io"
)

// aeChunker implements asymmetric-extremum chunking: no multiplicative
// hashing, just a local maximum search over a sliding window of width W. It
// ignores its seed (canonically zero) and serves as the correctness
// reference among the three algorithms.
type aeChunker struct {
	cfg Config
	src byteSource

	window  int // W, computed once at construction
	minSize int
	maxSize int
}

func newAEChunker(cfg Config) *aeChunker {
	// W = A / (e - 1); e - 1 approx 1.71828.
	window := int(float64(cfg.AvgSize) / 1.718281828459045)
	if window < 1 {
		window = 1
	}
	return &aeChunker{
		cfg:     cfg,
		window:  window,
		minSize: cfg.minSize(),
		maxSize: cfg.maxSize(),
	}
}

func (c *aeChunker) Kind() Config { return c.cfg }

func (c *aeChunker) Chunk(source io.Reader, sink io.Writer) (Status, error) {
	br := c.src.reader(source)

	var (
		maxVal byte
		maxPos int
		i      int // bytes consumed so far in this chunk
	)

	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return StatusFinished, nil
			}
			return StatusFinished, &ReadFailedError{Cause: err}
		}

		pos := i // 0-based position of this byte within the chunk
		if werr := writeAll(sink, []byte{b}); werr != nil {
			return StatusFinished, werr
		}
		i++

		cut := false
		if pos < maxPos+c.window {
			if b > maxVal {
				maxVal = b
				maxPos = pos
			}
		} else {
			cut = true
		}

		if i < c.minSize {
			cut = false
		} else if i >= c.maxSize {
			cut = true
		}

		if cut {
			return StatusContinue, nil
		}
	}
}
