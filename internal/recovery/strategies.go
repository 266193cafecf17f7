package recovery

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/catastro-enricher/internal/normalize"
)

// Source encodings understood by the sanitize and force strategies
const (
	EncodingUTF8        = "UTF-8"
	EncodingISO88591    = "ISO-8859-1"
	EncodingWindows1252 = "Windows-1252"
	EncodingASCII       = "ASCII"
)

var (
	errInvalidUTF8 = errors.New("invalid UTF-8")
	errInvalidJSON = errors.New("invalid JSON")
)

var bom = []byte("\ufeff")

// Strategy turns raw bytes into a UTF-8 JSON document or reports why it could not
type Strategy interface {
	Name() string
	Decode(raw []byte) ([]byte, error)
}

// DefaultStrategies returns the cascade in the order it is tried
func DefaultStrategies() []Strategy {
	return []Strategy{
		Strict{},
		Sanitize{},
		Force{Encoding: EncodingUTF8},
		Force{Encoding: EncodingISO88591},
		Force{Encoding: EncodingWindows1252},
		Force{Encoding: EncodingASCII},
	}
}

// Strict accepts the input only if it is already valid UTF-8 and valid JSON
type Strict struct{}

func (Strict) Name() string { return "strict" }

func (Strict) Decode(raw []byte) ([]byte, error) {
	if !utf8.Valid(raw) {
		return nil, errInvalidUTF8
	}
	if !json.Valid(raw) {
		return nil, errInvalidJSON
	}
	return raw, nil
}

// Sanitize guesses the source encoding, converts to UTF-8 and replaces every
// unsafe sequence with a space before checking the document.
type Sanitize struct{}

func (Sanitize) Name() string { return "sanitize" }

func (Sanitize) Decode(raw []byte) ([]byte, error) {
	text := raw
	if enc := DetectEncoding(raw); enc != EncodingUTF8 {
		var err error
		if text, err = toUTF8(raw, enc); err != nil {
			return nil, fmt.Errorf("convert from %s: %w", enc, err)
		}
	}
	// invalid sequences left in UTF-8 input become spaces here
	text, _ = normalize.SafeText(bytes.TrimPrefix(text, bom))
	return lenient(text)
}

// Force converts from a fixed source encoding without any detection
type Force struct {
	Encoding string
}

func (f Force) Name() string { return "force:" + f.Encoding }

func (f Force) Decode(raw []byte) ([]byte, error) {
	text, err := toUTF8(raw, f.Encoding)
	if err != nil {
		return nil, err
	}
	return lenient(bytes.TrimPrefix(text, bom))
}

// lenient accepts a document whose text has already been made valid UTF-8
func lenient(text []byte) ([]byte, error) {
	if !json.Valid(text) {
		return nil, errInvalidJSON
	}
	return text, nil
}

// toUTF8 converts raw from enc. UTF-8 input keeps its valid sequences and has
// each run of invalid bytes replaced by U+FFFD; ASCII input has every byte above 0x7F
// replaced by '?'.
func toUTF8(raw []byte, enc string) ([]byte, error) {
	switch enc {
	case EncodingUTF8:
		return bytes.ToValidUTF8(raw, []byte("\ufffd")), nil
	case EncodingASCII:
		out := make([]byte, len(raw))
		for i, b := range raw {
			if b > 0x7F {
				b = '?'
			}
			out[i] = b
		}
		return out, nil
	}

	var e encoding.Encoding
	switch enc {
	case EncodingISO88591:
		e = charmap.ISO8859_1
	case EncodingWindows1252:
		e = charmap.Windows1252
	default:
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}
	out, _, err := transform.Bytes(e.NewDecoder(), raw)
	return out, err
}

// DetectEncoding picks the most plausible source encoding among UTF-8,
// ISO-8859-1 and Windows-1252. Input with a handful of stray bytes in
// otherwise valid UTF-8 is still reported as UTF-8.
func DetectEncoding(raw []byte) string {
	valid, invalid := scanUTF8(raw)
	if invalid == 0 || invalid == 1 || invalid <= valid {
		return EncodingUTF8
	}
	for _, b := range raw {
		if b >= 0x80 && b <= 0x9F {
			return EncodingWindows1252
		}
	}
	return EncodingISO88591
}

// scanUTF8 counts valid multi-byte sequences and runs of invalid bytes
func scanUTF8(raw []byte) (multibyte, invalid int) {
	inInvalid := false
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		if r == utf8.RuneError && size <= 1 {
			if !inInvalid {
				invalid++
				inInvalid = true
			}
			raw = raw[1:]
			continue
		}
		inInvalid = false
		if size > 1 {
			multibyte++
		}
		raw = raw[size:]
	}
	return multibyte, invalid
}
