// Package decode turns raw child-process output into text.
//
// Child processes do not promise any particular encoding, so decoding never
// fails: bytes that cannot be decoded become U+FFFD.
package decode

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

const (
	CharsetUTF8 = "utf-8"
	CharsetAuto = "auto"
)

// Replacement is substituted for undecodable byte sequences.
const Replacement = "\uFFFD"

// Decoder converts one complete line of bytes into text.
type Decoder interface {
	Decode(b []byte) string
}

// New returns a decoder for the named charset. An empty name means UTF-8.
// "auto" keeps valid UTF-8 as is and guesses the charset of anything else.
func New(charset string) (Decoder, error) {
	name := strings.ToLower(strings.TrimSpace(charset))
	switch name {
	case "", CharsetUTF8, "utf8":
		return UTF8{}, nil
	case CharsetAuto:
		return &Auto{detector: chardet.NewTextDetector()}, nil
	}

	enc, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return &Named{enc: enc}, nil
}

func lookup(name string) (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", name)
	}
	return enc, nil
}

// UTF8 decodes UTF-8, replacing malformed sequences.
type UTF8 struct{}

func (UTF8) Decode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), Replacement)
}

// Named decodes a fixed, explicitly configured charset such as cp850.
type Named struct {
	enc encoding.Encoding
}

func (n *Named) Decode(b []byte) string {
	out, err := n.enc.NewDecoder().Bytes(b)
	if err != nil {
		return UTF8{}.Decode(b)
	}
	return UTF8{}.Decode(out)
}

// Auto passes valid UTF-8 through and runs charset detection on the rest.
type Auto struct {
	detector *chardet.Detector
}

func (a *Auto) Decode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	result, err := a.detector.DetectBest(b)
	if err != nil || result == nil {
		return UTF8{}.Decode(b)
	}

	enc, err := lookup(strings.ToLower(result.Charset))
	if err != nil {
		return UTF8{}.Decode(b)
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return UTF8{}.Decode(b)
	}
	return UTF8{}.Decode(out)
}
