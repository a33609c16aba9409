package core

// reader.go holds the stream transforms applied to every data file before
// CSV parsing. They work on a fixed buffer, so memory use does not grow
// with file size.

import (
	"bufio"
	"bytes"
	"io"
	"sync/atomic"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// skipBOM drops a leading UTF-8 byte order mark.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, _ := br.Peek(len(utf8BOM)); bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM)) //nolint:errcheck
	}
	return br
}

// utf8Sanitizer replaces invalid UTF-8 bytes with U+FFFD. Sequences split
// across reads are held back until the next read completes them.
type utf8Sanitizer struct {
	r    io.Reader
	buf  []byte
	tail []byte // incomplete sequence carried to the next read
	out  []byte // sanitized bytes not yet returned
	err  error
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{r: r, buf: make([]byte, 32*1024)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for len(s.out) == 0 {
		if s.err != nil {
			if len(s.tail) == 0 {
				return 0, s.err
			}
			s.out = appendSanitized(s.out[:0], s.tail)
			s.tail = s.tail[:0]
			break
		}

		n, err := s.r.Read(s.buf)
		s.err = err
		chunk := append(s.tail, s.buf[:n]...)

		keep := 0
		if err == nil {
			keep = incompleteTail(chunk)
		}
		s.out = appendSanitized(s.out[:0], chunk[:len(chunk)-keep])
		s.tail = append(chunk[:0], chunk[len(chunk)-keep:]...)
	}

	n := copy(p, s.out)
	s.out = s.out[n:]
	return n, nil
}

func appendSanitized(dst, src []byte) []byte {
	if utf8.Valid(src) {
		return append(dst, src...)
	}
	for len(src) > 0 {
		r, size := utf8.DecodeRune(src)
		if r == utf8.RuneError && size == 1 {
			dst = utf8.AppendRune(dst, utf8.RuneError)
		} else {
			dst = append(dst, src[:size]...)
		}
		src = src[size:]
	}
	return dst
}

// incompleteTail returns how many trailing bytes of b start a multi-byte
// sequence that is not complete yet.
func incompleteTail(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if !utf8.RuneStart(c) {
			continue
		}
		if c >= utf8.RuneSelf && !utf8.FullRune(b[len(b)-i:]) {
			return i
		}
		return 0
	}
	return 0
}

// countingReader tracks bytes read. BytesRead is safe to call from other
// goroutines.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func (c *countingReader) BytesRead() int64 {
	return c.n.Load()
}

// wrapSource applies BOM skipping, UTF-8 repair and byte counting, in
// that order.
func wrapSource(r io.Reader) (io.Reader, *countingReader) {
	counter := &countingReader{r: r}
	return newUTF8Sanitizer(skipBOM(counter)), counter
}
