package chunk

import (
	"bufio"
	"io"
)

// scratchSize bounds the internal read-ahead buffer each chunker keeps on
// top of its source. It amortizes small reads without holding more than a
// fixed amount of unprocessed input in memory.
const scratchSize = 64 * 1024

// byteSource wraps the io.Reader handed to Chunk with a small buffered
// reader so single-byte reads on the hot loop don't each turn into a
// syscall. It is created lazily on the first Chunk call and reused across
// calls for the lifetime of the stream, since a Chunker drives exactly one
// logical stream and the caller passes the same source every time.
type byteSource struct {
	br *bufio.Reader
}

func (b *byteSource) reader(source io.Reader) *bufio.Reader {
	if b.br == nil {
		b.br = bufio.NewReaderSize(source, scratchSize)
	}
	return b.br
}
