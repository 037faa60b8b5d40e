package dkim

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	cferr "github.com/cloudflare/cfsmime/errors"
)

// field is one header field as it appears in the message, folding
// included and without its final CRLF.
type field struct {
	raw string
}

func (f field) name() string {
	if i := strings.IndexByte(f.raw, ':'); i >= 0 {
		return f.raw[:i]
	}
	return f.raw
}

func (f field) value() string {
	if i := strings.IndexByte(f.raw, ':'); i >= 0 {
		return f.raw[i+1:]
	}
	return ""
}

// key is the lowercased field name used for matching.
func (f field) key() string {
	return strings.ToLower(strings.TrimSpace(f.name()))
}

type message struct {
	header []field
	body   []byte
}

// readMessage splits a message into its header fields and body. Bare LF
// line endings in the header are accepted; the body is kept verbatim.
func readMessage(r io.Reader) (*message, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	m := new(message)
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		var line []byte
		if i < 0 {
			line, data = data, nil
		} else {
			line, data = data[:i], data[i+1:]
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) == 0 {
			m.body = data
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			if len(m.header) == 0 {
				return nil, cferr.Wrap(cferr.DKIMError, cferr.ParseFailed,
					fmt.Errorf("message starts with a continuation line"))
			}
			m.header[len(m.header)-1].raw += "\r\n" + string(line)
			continue
		}
		if bytes.IndexByte(line, ':') < 0 {
			return nil, cferr.Wrap(cferr.DKIMError, cferr.ParseFailed,
				fmt.Errorf("malformed header line %q", line))
		}
		m.header = append(m.header, field{raw: string(line)})
	}
	return m, nil
}

// all returns the fields named key, top to bottom.
func (m *message) all(key string) []field {
	var fs []field
	for _, f := range m.header {
		if f.key() == key {
			fs = append(fs, f)
		}
	}
	return fs
}

// pick selects the fields listed in keys for signing. A name listed more
// than once selects successive instances from the bottom up; names with
// no instance left select nothing.
func pick(header []field, keys []string) []field {
	used := make(map[int]bool)
	var fs []field
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		for i := len(header) - 1; i >= 0; i-- {
			if used[i] || header[i].key() != k {
				continue
			}
			used[i] = true
			fs = append(fs, header[i])
			break
		}
	}
	return fs
}

// writeTo writes the header, the blank line and the body to w.
func (m *message) writeTo(w io.Writer) error {
	var b bytes.Buffer
	for _, f := range m.header {
		b.WriteString(f.raw)
		b.Write(crlf)
	}
	b.Write(crlf)
	b.Write(m.body)
	_, err := w.Write(b.Bytes())
	return err
}

// tagList is a parsed tag=value list, RFC 6376 section 3.2.
type tagList struct {
	names  []string
	values map[string]string
}

func parseTagList(s string) (*tagList, error) {
	tl := &tagList{values: make(map[string]string)}
	for _, spec := range strings.Split(s, ";") {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		i := strings.IndexByte(spec, '=')
		if i < 0 {
			return nil, fmt.Errorf("tag %q has no value", strings.TrimSpace(spec))
		}
		name := strings.TrimSpace(spec[:i])
		if name == "" {
			return nil, fmt.Errorf("empty tag name in %q", strings.TrimSpace(spec))
		}
		if _, ok := tl.values[name]; ok {
			return nil, fmt.Errorf("duplicate tag %q", name)
		}
		tl.names = append(tl.names, name)
		tl.values[name] = strings.TrimSpace(spec[i+1:])
	}
	return tl, nil
}

func (tl *tagList) get(name string) (string, bool) {
	v, ok := tl.values[name]
	return v, ok
}

// stripWSP removes all whitespace, including folding, from a tag value.
func stripWSP(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}

// splitList splits a colon separated tag value such as h=.
func splitList(s string) []string {
	var l []string
	for _, v := range strings.Split(s, ":") {
		if v = strings.TrimSpace(v); v != "" {
			l = append(l, v)
		}
	}
	return l
}

// withoutSignature returns the raw field with the value of its b= tag
// removed, as hashed by the signer.
func withoutSignature(f field) field {
	name, value := f.name(), f.value()
	specs := strings.Split(value, ";")
	for i, spec := range specs {
		eq := strings.IndexByte(spec, '=')
		if eq < 0 || strings.TrimSpace(spec[:eq]) != "b" {
			continue
		}
		specs[i] = spec[:eq+1]
	}
	return field{raw: name + ":" + strings.Join(specs, ";")}
}

// foldBase64 splits an encoded value into folded lines.
func foldBase64(s string) string {
	const width = 72
	var b strings.Builder
	for len(s) > width {
		b.WriteString(s[:width])
		b.WriteString("\r\n ")
		s = s[width:]
	}
	b.WriteString(s)
	return b.String()
}
