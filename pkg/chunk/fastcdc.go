package chunk

import "io"

// normalizationBias is the number of bits by which the small/large masks
// diverge from log2(avg_size), per ยง4.5.
const normalizationBias = 2

// splitmix64 is the generator used to derive the 256-entry gear table from a
// 64-bit seed; it's a simple, well-known, deterministic bit mixer.
func splitmix64(state *uint64) uint64 {
	*state += 0x9E3779B97F4A7C15
	z := *state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	z = z ^ (z >> 31)
	return z
}

func newGearTable(seed uint64) *[256]uint64 {
	var table [256]uint64
	state := seed
	for i := range table {
		table[i] = splitmix64(&state)
	}
	return &table
}

// fastCDCChunker implements gear-hash chunking with normalized (two-mask)
// cutpoint selection, ยง4.5.
type fastCDCChunker struct {
	cfg Config
	src byteSource

	gear    *[256]uint64
	maskS   uint64 // stricter mask (more set bits), used while i < avg_size
	maskL   uint64 // looser mask (fewer set bits), used once i >= avg_size
	minSize int
	maxSize int
}

func newFastCDCChunker(cfg Config) *fastCDCChunker {
	bits := log2Floor(cfg.AvgSize)

	bitsS := bits + normalizationBias
	if bitsS > 63 {
		bitsS = 63
	}
	bitsL := int(bits) - normalizationBias
	if bitsL < 1 {
		bitsL = 1
	}

	return &fastCDCChunker{
		cfg:     cfg,
		gear:    newGearTable(cfg.Seed),
		maskS:   (uint64(1) << bitsS) - 1,
		maskL:   (uint64(1) << uint(bitsL)) - 1,
		minSize: cfg.minSize(),
		maxSize: cfg.maxSize(),
	}
}

func (c *fastCDCChunker) Kind() Config { return c.cfg }

func (c *fastCDCChunker) Chunk(source io.Reader, sink io.Writer) (Status, error) {
	br := c.src.reader(source)

	var (
		h uint64
		i int
	)

	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return StatusFinished, nil
			}
			return StatusFinished, &ReadFailedError{Cause: err}
		}

		if werr := writeAll(sink, []byte{b}); werr != nil {
			return StatusFinished, werr
		}

		h = (h << 1) + c.gear[b]
		i++

		if i < c.minSize {
			continue
		}
		if i >= c.maxSize {
			return StatusContinue, nil
		}

		mask := c.maskL
		if i < c.cfg.AvgSize {
			mask = c.maskS
		}
		if h&mask == 0 {
			return StatusContinue, nil
		}
	}
}
