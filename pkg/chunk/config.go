package chunk

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// Kind identifies a chunking algorithm. Values match the tagged discriminator
// the repository layer persists alongside avg_size and seed.
type Kind int

const (
	KindAE      Kind = 1
	KindRabin   Kind = 2
	KindFastCDC Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindAE:
		return "ae"
	case KindRabin:
		return "rabin"
	case KindFastCDC:
		return "fastcdc"
	default:
		return "unknown"
	}
}

const defaultAvgSizeBytes = 8 * 1024 // 8 KiB, used when the textual form omits "/<kib>"

// Config is the immutable identity of a chunker: algorithm, target average
// chunk size, and an algorithm-specific seed. AE ignores its seed (canonically
// zero); Rabin truncates its seed to 32 bits; FastCDC uses the full 64 bits.
// These widths are a compatibility constraint, not an oversight: widening
// Rabin's seed would change every boundary for archives that already exist.
type Config struct {
	Kind    Kind
	AvgSize int
	Seed    uint64
}

// NewConfig builds a Config from a name ("ae", "rabin", "fastcdc"), an average
// chunk size in bytes, and a seed. Rabin and FastCDC require AvgSize to be a
// power of two; the requirement is enforced here, never rounded silently.
func NewConfig(name string, avgSizeBytes int, seed uint64) (Config, error) {
	var kind Kind
	switch name {
	case "ae":
		kind = KindAE
	case "rabin":
		kind = KindRabin
	case "fastcdc":
		kind = KindFastCDC
	default:
		return Config{}, &ConfigInvalidError{Reason: fmt.Sprintf("unsupported chunker kind %q", name)}
	}

	cfg := Config{Kind: kind, AvgSize: avgSizeBytes, Seed: seed}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseConfig parses the canonical textual form "<name>/<kib>", e.g.
// "fastcdc/8". A missing "/<kib>" suffix defaults to 8 KiB. The seed is not
// part of the textual form and is always zero on parse.
func ParseConfig(text string) (Config, error) {
	name := text
	kib := defaultAvgSizeBytes / 1024

	if pos := strings.IndexByte(text, '/'); pos >= 0 {
		name = text[:pos]
		sizeText := text[pos+1:]
		n, err := strconv.Atoi(sizeText)
		if err != nil {
			return Config{}, &ConfigInvalidError{Reason: fmt.Sprintf("chunk size must be a number, got %q", sizeText)}
		}
		kib = n
	}

	return NewConfig(name, kib*1024, 0)
}

// Format renders the canonical round-trip textual form. Seed is not encoded.
func (c Config) Format() string {
	return fmt.Sprintf("%s/%d", c.Kind.String(), c.AvgSize/1024)
}

func (c Config) validate() error {
	if c.AvgSize <= 0 {
		return &ConfigInvalidError{Reason: fmt.Sprintf("avg_size must be positive, got %d", c.AvgSize)}
	}
	switch c.Kind {
	case KindAE:
		return nil
	case KindRabin, KindFastCDC:
		if !isPowerOfTwo(c.AvgSize) {
			return &ConfigInvalidError{Reason: fmt.Sprintf("avg_size must be a power of two for %s, got %d", c.Kind, c.AvgSize)}
		}
		return nil
	default:
		return &ConfigInvalidError{Reason: fmt.Sprintf("unknown chunker kind %d", c.Kind)}
	}
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// minSize is the common size-policy floor: no cutpoint may be emitted before
// this many bytes of the current chunk have been consumed.
func (c Config) minSize() int { return c.AvgSize / 4 }

// maxSize is the common size-policy ceiling: a cutpoint is forced once this
// many bytes have accumulated, regardless of hash state. It takes precedence
// over any hash-driven cutpoint.
func (c Config) maxSize() int { return c.AvgSize * 4 }

// Instantiate creates a live Chunker for this Config. Table construction
// (Rabin's out/mod tables, FastCDC's gear table) happens once here; the
// chunker treats them as read-only for its lifetime.
func (c Config) Instantiate() (Chunker, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	switch c.Kind {
	case KindAE:
		return newAEChunker(c), nil
	case KindRabin:
		return newRabinChunker(c), nil
	case KindFastCDC:
		return newFastCDCChunker(c), nil
	default:
		return nil, &ConfigInvalidError{Reason: fmt.Sprintf("unknown chunker kind %d", c.Kind)}
	}
}

// log2Floor returns floor(log2(n)) for n > 0.
func log2Floor(n int) uint {
	if n <= 0 {
		return 0
	}
	return uint(bits.Len(uint(n)) - 1)
}
