package chunk

import "io"

// rabinWindow is the fixed sliding-window width used by the Rabin chunker
// (ยง4.4): 64 bytes, independent of avg_size.
const rabinWindow = 64

// rabinTables holds the precomputed out-table (cancels a byte leaving the
// window in O(1)) and mod-table (reduces the hash register modulo the
// chunker's polynomial after a shift-in) for one polynomial. They are built
// once per chunker instance from the seed and treated as read-only
// afterwards.
type rabinTables struct {
	poly     pol
	polShift uint
	out      [256]pol
	mod      [256]pol
}

// newRabinTables derives a 32-bit polynomial from the seed and builds its
// out/mod tables. The seed salts which polynomial is used, so distinct
// repositories land on distinct boundary sets, per ยง4.4. Unlike a
// from-scratch Rabin implementation we don't run an irreducibility search at
// construction time: the polynomial's shape (top bit and constant term
// forced to 1) is fixed and only its middle bits vary with the seed. That
// trades the provable mixing guarantee of a verified-irreducible polynomial
// for an O(1), search-free construction; the rolling hash it produces is
// still deterministic and content-dependent, which is all chunking needs.
func newRabinTables(seed32 uint32) *rabinTables {
	p := pol(uint64(seed32) | (1 << 31) | 1)
	k := p.deg() // 31

	t := &rabinTables{poly: p, polShift: uint(k - 8)}

	for b := 0; b < 256; b++ {
		var h pol
		h = appendByte(h, byte(b), p)
		for i := 0; i < rabinWindow-1; i++ {
			h = appendByte(h, 0, p)
		}
		t.out[b] = h
	}

	for b := 0; b < 256; b++ {
		shifted := pol(b) << uint(k)
		t.mod[b] = polMod(shifted, p) | shifted
	}

	return t
}

// rabinChunker implements the classic polynomial rolling hash chunker of
// ยง4.4: a 64-byte window, an out-table for O(1) byte eviction, and a mask
// cutpoint test against the hash register.
type rabinChunker struct {
	cfg Config
	src byteSource

	tables  *rabinTables
	mask    pol
	minSize int
	maxSize int
}

func newRabinChunker(cfg Config) *rabinChunker {
	return &rabinChunker{
		cfg:     cfg,
		tables:  newRabinTables(uint32(cfg.Seed)),
		mask:    pol(cfg.AvgSize - 1),
		minSize: cfg.minSize(),
		maxSize: cfg.maxSize(),
	}
}

func (c *rabinChunker) Kind() Config { return c.cfg }

func (c *rabinChunker) Chunk(source io.Reader, sink io.Writer) (Status, error) {
	br := c.src.reader(source)

	var (
		window [rabinWindow]byte
		wpos   int
		digest pol
		i      int
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

		out := window[wpos]
		window[wpos] = b
		digest ^= c.tables.out[out]
		wpos = (wpos + 1) % rabinWindow

		index := digest >> c.tables.polShift
		digest <<= 8
		digest |= pol(b)
		digest ^= c.tables.mod[index]

		i++
		if i < c.minSize {
			continue
		}

		cut := digest&c.mask == 0
		if i >= c.maxSize {
			cut = true
		}
		if cut {
			return StatusContinue, nil
		}
	}
}
