package dkim

import (
	"bytes"
	"io"
	"strings"
)

// Canonicalization names a DKIM canonicalization algorithm.
type Canonicalization string

// The canonicalization algorithms of RFC 6376 section 3.4.
const (
	Simple  Canonicalization = "simple"
	Relaxed Canonicalization = "relaxed"
)

var crlf = []byte("\r\n")

// RelaxedBodyFilter canonicalizes a message body with the relaxed body
// algorithm. Input may arrive in arbitrary chunks; output for a chunk
// is returned as soon as it can no longer change. The zero value is
// ready to use.
type RelaxedBodyFilter struct {
	wsp     bool // whitespace seen since the last content byte
	cr      bool // last byte was a CR, a following LF belongs to it
	content bool // current line has content
	blank   int  // blank lines not yet emitted
}

// Process canonicalizes chunk and returns the output it produced.
// Trailing whitespace and blank lines are held back until content
// follows them.
func (f *RelaxedBodyFilter) Process(chunk []byte) []byte {
	out := make([]byte, 0, len(chunk))
	for _, c := range chunk {
		switch c {
		case '\n':
			if f.cr {
				f.cr = false
				continue
			}
			out = f.endLine(out)
		case '\r':
			out = f.endLine(out)
			f.cr = true
		case ' ', '\t':
			f.cr = false
			f.wsp = true
		default:
			f.cr = false
			for ; f.blank > 0; f.blank-- {
				out = append(out, crlf...)
			}
			if f.wsp {
				out = append(out, ' ')
				f.wsp = false
			}
			out = append(out, c)
			f.content = true
		}
	}
	return out
}

func (f *RelaxedBodyFilter) endLine(out []byte) []byte {
	f.wsp = false
	if !f.content {
		f.blank++
		return out
	}
	f.content = false
	return append(out, crlf...)
}

// Flush processes remaining and ends the body. Blank lines at the end of
// the body are dropped and a last line without a line break gets one.
// A body of only blank lines yields no output at all.
func (f *RelaxedBodyFilter) Flush(remaining []byte) []byte {
	out := f.Process(remaining)
	if f.content {
		out = append(out, crlf...)
	}
	f.Reset()
	return out
}

// Reset discards all state so the filter can be used for a new body.
func (f *RelaxedBodyFilter) Reset() {
	*f = RelaxedBodyFilter{}
}

// bodyWriter feeds a body through a canonicalizer into w.
type bodyWriter struct {
	w      io.Writer
	filter interface {
		Process([]byte) []byte
		Flush([]byte) []byte
	}
}

func (b *bodyWriter) Write(p []byte) (int, error) {
	if _, err := b.w.Write(b.filter.Process(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (b *bodyWriter) Close() error {
	_, err := b.w.Write(b.filter.Flush(nil))
	return err
}

// simpleBodyFilter implements the simple body algorithm: only trailing
// empty lines are removed, and an empty body becomes a single CRLF.
type simpleBodyFilter struct {
	held []byte // trailing line break bytes
}

func (f *simpleBodyFilter) Process(chunk []byte) []byte {
	f.held = append(f.held, chunk...)
	i := len(f.held) - 1
	for i >= 0 && (f.held[i] == '\r' || f.held[i] == '\n') {
		i--
	}
	if i < 0 {
		return nil
	}
	out := append([]byte(nil), f.held[:i+1]...)
	f.held = append(f.held[:0], f.held[i+1:]...)
	return out
}

func (f *simpleBodyFilter) Flush(remaining []byte) []byte {
	out := f.Process(remaining)
	for bytes.HasSuffix(f.held, crlf) {
		f.held = f.held[:len(f.held)-2]
	}
	out = append(out, f.held...)
	f.held = nil
	return append(out, crlf...)
}

// newBodyWriter returns a writer that canonicalizes a body with c into w.
// It must be closed to flush the end of the body.
func newBodyWriter(w io.Writer, c Canonicalization) io.WriteCloser {
	if c == Simple {
		return &bodyWriter{w: w, filter: &simpleBodyFilter{}}
	}
	return &bodyWriter{w: w, filter: &RelaxedBodyFilter{}}
}

// RelaxedHeader canonicalizes a header field with the relaxed header
// algorithm: the name is lowercased, the value unfolded, whitespace runs
// collapsed to one space and whitespace around the value removed. The
// result carries no trailing CRLF.
func RelaxedHeader(name, value string) string {
	var b strings.Builder
	b.Grow(len(name) + len(value) + 1)
	b.WriteString(strings.ToLower(strings.TrimRight(name, " \t")))
	b.WriteByte(':')
	start := b.Len()

	wsp := false
	for i := 0; i < len(value); i++ {
		switch c := value[i]; c {
		case '\r', '\n':
		case ' ', '\t':
			wsp = true
		default:
			if wsp && b.Len() > start {
				b.WriteByte(' ')
			}
			wsp = false
			b.WriteByte(c)
		}
	}
	return b.String()
}

// canonicalHeader returns f canonicalized with c, followed by CRLF.
func canonicalHeader(f field, c Canonicalization) string {
	if c == Simple {
		return f.raw + "\r\n"
	}
	return RelaxedHeader(f.name(), f.value()) + "\r\n"
}
