package event

import (
	"fmt"
	"strings"
	"unicode/utf8"
	"unsafe"

	"github.com/maxpert/cqnwatch/dpi"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// Str is a string decoded from a message buffer. A borrowed Str aliases the
// buffer and is only valid while the callback that received it is running;
// an owned Str is an independent copy.
type Str struct {
	s        string
	borrowed bool
}

// OwnedStr wraps s as an owned value.
func OwnedStr(s string) Str { return Str{s: s} }

func (s Str) String() string { return s.s }

// Borrowed reports whether s aliases a message buffer.
func (s Str) Borrowed() bool { return s.borrowed }

// Clone detaches s from the message buffer.
func (s Str) Clone() Str {
	if !s.borrowed {
		return s
	}
	return Str{s: strings.Clone(s.s)}
}

// Charset is the encoding of strings inside notification messages.
type Charset struct {
	name string
	enc  encoding.Encoding
}

// UTF8 is the charset every modern server uses.
var UTF8 = Charset{name: "UTF-8", enc: unicode.UTF8}

// server charset names that are not IANA names
var charsetAliases = map[string]string{
	"AL32UTF8":      "UTF-8",
	"UTF8":          "UTF-8",
	"WE8ISO8859P1":  "ISO-8859-1",
	"WE8ISO8859P15": "ISO-8859-15",
	"WE8MSWIN1252":  "windows-1252",
	"US7ASCII":      "UTF-8",
	"CL8MSWIN1251":  "windows-1251",
	"EE8ISO8859P2":  "ISO-8859-2",
}

// LookupCharset resolves a server or IANA charset name.
func LookupCharset(name string) (Charset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return UTF8, nil
	}
	if alias, ok := charsetAliases[strings.ToUpper(name)]; ok {
		name = alias
	}
	if strings.EqualFold(name, "UTF-8") {
		return UTF8, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return Charset{}, fmt.Errorf("unknown charset %q: %w", name, err)
	}
	if enc == nil {
		return Charset{}, fmt.Errorf("unsupported charset %q", name)
	}
	return Charset{name: name, enc: enc}, nil
}

// Name returns the canonical name the charset was resolved to.
func (c Charset) Name() string {
	if c.enc == nil {
		return UTF8.name
	}
	return c.name
}

func (c Charset) isUTF8() bool {
	return c.enc == nil || c.enc == unicode.UTF8
}

// view decodes n bytes at p. Valid UTF-8 in a UTF-8 charset is borrowed,
// anything else is transcoded into an owned copy with invalid sequences
// replaced by U+FFFD.
func (c Charset) view(p *byte, n uint32) Str {
	b := dpi.Bytes(p, n)
	if len(b) == 0 {
		return Str{}
	}
	if c.isUTF8() && utf8.Valid(b) {
		return Str{s: unsafe.String(&b[0], len(b)), borrowed: true}
	}
	enc := c.enc
	if enc == nil {
		enc = unicode.UTF8
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return Str{s: strings.ToValidUTF8(string(b), "�")}
	}
	return Str{s: string(out)}
}

// Encode converts s into the charset. Used by servers building messages.
func (c Charset) Encode(s string) ([]byte, error) {
	if c.isUTF8() {
		return []byte(s), nil
	}
	return c.enc.NewEncoder().Bytes([]byte(s))
}
