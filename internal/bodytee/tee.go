// Package bodytee implements component 4.D: fan a single streaming HTTP
// body out to two independent consumers. The live consumer gets every
// byte, in order, with no extra buffering. The capture consumer reads
// from a bounded ring; if it falls behind, the oldest buffered chunks
// are dropped and the capture is marked lossy — the live consumer is
// never slowed by this.
//
// Grounded on the teacher pack's io.TeeReader-based capture path
// (other_examples/4f407ee4_charliek-prox__internal-proxy-capture.go.go,
// CaptureManager.CaptureRequest/CaptureResponse), adapted from "buffer
// until truncation" semantics to the spec's "drop oldest chunk" ring.
package bodytee

import (
	"io"
	"sync"
	"sync/atomic"
)

// DefaultRingChunks is the default capture ring capacity named in §4.D.
const DefaultRingChunks = 16

// New fans src out into a live reader (read this to drive forwarding;
// every Read on live also feeds the capture side synchronously, the
// same chunk, without blocking) and a capture reader (lossy, bounded).
func New(src io.Reader, ringChunks int) (live io.Reader, capture *CaptureReader) {
	if ringChunks <= 0 {
		ringChunks = DefaultRingChunks
	}
	cr := &CaptureReader{
		ch: make(chan chunk, ringChunks),
	}
	return &teeReader{r: src, sink: cr}, cr
}

type chunk struct {
	data []byte
	err  error // non-nil only on the terminal chunk (io.EOF or a real error)
}

// teeReader mirrors io.TeeReader but also forwards the terminal error
// (EOF or otherwise) to the capture sink, so the capture side knows the
// stream ended instead of merely going quiet.
type teeReader struct {
	r        io.Reader
	sink     *CaptureReader
	finished bool // set once the terminal chunk has been pushed and sink.finish called
}

func (t *teeReader) Read(p []byte) (int, error) {
	if t.finished {
		// A caller that keeps reading past the first terminal error would
		// otherwise push onto a sink already closed by finish, which panics.
		return t.r.Read(p)
	}
	n, err := t.r.Read(p)
	if n > 0 {
		cp := make([]byte, n)
		copy(cp, p[:n])
		t.sink.push(chunk{data: cp})
	}
	if err != nil {
		t.finished = true
		t.sink.push(chunk{err: err})
		t.sink.finish()
	}
	return n, err
}

// CaptureReader is the lagging, lossy consumer side of a tee. It
// implements io.Reader so callers can io.ReadAll it the same way they
// would any body.
type CaptureReader struct {
	ch       chan chunk
	leftover []byte
	termErr  error
	done     bool

	lossy    atomic.Bool
	finishMu sync.Mutex
	finished bool
}

// push enqueues a chunk without blocking. If the ring is full, the
// oldest buffered chunk is dropped to make room and Lossy becomes true.
func (c *CaptureReader) push(ck chunk) {
	select {
	case c.ch <- ck:
		return
	default:
	}
	select {
	case <-c.ch:
		c.lossy.Store(true)
	default:
	}
	select {
	case c.ch <- ck:
	default:
		c.lossy.Store(true)
	}
}

// finish closes the channel once the terminal chunk has been pushed, so
// a subsequent Read drains whatever is buffered and then returns the
// terminal error instead of blocking forever.
func (c *CaptureReader) finish() {
	c.finishMu.Lock()
	defer c.finishMu.Unlock()
	if !c.finished {
		c.finished = true
		close(c.ch)
	}
}

// Read drains buffered chunks in order, returning the terminal error
// (io.EOF or the upstream's error) once the buffer and channel are
// empty and the producer has finished.
func (c *CaptureReader) Read(p []byte) (int, error) {
	for len(c.leftover) == 0 {
		if c.done {
			return 0, c.termErr
		}
		ck, ok := <-c.ch
		if !ok {
			c.done = true
			if c.termErr == nil {
				c.termErr = io.EOF
			}
			return 0, c.termErr
		}
		if ck.err != nil {
			c.termErr = ck.err
			continue
		}
		c.leftover = ck.data
	}
	n := copy(p, c.leftover)
	c.leftover = c.leftover[n:]
	return n, nil
}

// Lossy reports whether any buffered chunk was dropped for overflow.
func (c *CaptureReader) Lossy() bool {
	return c.lossy.Load()
}
