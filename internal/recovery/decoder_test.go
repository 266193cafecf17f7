package recovery

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catastro-enricher/internal/logging"
	"github.com/catastro-enricher/internal/refcat"
)

func states(doc *Document) []State {
	out := make([]State, len(doc.Attempts))
	for i, a := range doc.Attempts {
		out[i] = a.State
	}
	return out
}

func TestDecodeStrictInput(t *testing.T) {
	d := NewDecoder(logging.Nop())

	doc, err := d.Decode([]byte(`{"type":"FeatureCollection","features":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "strict", doc.Strategy)
	assert.Equal(t, []State{Succeeded, NotTried, NotTried, NotTried, NotTried, NotTried}, states(doc))
}

func TestDecodeSingleInvalidSequence(t *testing.T) {
	d := NewDecoder(logging.Nop())
	raw := []byte("{\"calle\":\"Mayor\xff\",\"n\":1}")

	doc, err := d.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "sanitize", doc.Strategy)
	assert.Equal(t, `{"calle":"Mayor ","n":1}`, string(doc.Data))
	assert.Equal(t, []State{Failed, Succeeded, NotTried, NotTried, NotTried, NotTried}, states(doc))
	assert.Error(t, doc.Attempts[0].Err)
}

func TestDecodeLoneLatin1Letter(t *testing.T) {
	d := NewDecoder(logging.Nop())

	// one invalid sequence in an otherwise valid document is a damaged UTF-8 byte
	doc, err := d.Decode([]byte("{\"pais\":\"ESPA\xd1A\"}"))
	require.NoError(t, err)
	assert.Equal(t, "sanitize", doc.Strategy)
	assert.Equal(t, `{"pais":"ESPA A"}`, string(doc.Data))

	// a second one tips the document to Latin-1
	doc, err = d.Decode([]byte("{\"pais\":\"ESPA\xd1A y CA\xd1ADA\"}"))
	require.NoError(t, err)
	assert.Equal(t, "sanitize", doc.Strategy)
	assert.Equal(t, `{"pais":"ESPAÑA y CAÑADA"}`, string(doc.Data))
}

func TestDecodeLegacyEncodings(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "latin1",
			raw:  "{\"calle\":\"Pe\xf1a \xc1guila\"}",
			want: `{"calle":"Peña Águila"}`,
		},
		{
			name: "windows-1252 quotes",
			raw:  "{\"t\":\"\x93hola\x94 caf\xe9\"}",
			want: `{"t":"“hola” café"}`,
		},
		{
			name: "byte order mark",
			raw:  "\xef\xbb\xbf{\"a\":1}",
			want: `{"a":1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := NewDecoder(logging.Nop()).Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, "sanitize", doc.Strategy)
			assert.Equal(t, tt.want, string(doc.Data))
		})
	}
}

func TestDecodeControlCharactersBecomeSpaces(t *testing.T) {
	doc, err := NewDecoder(logging.Nop()).Decode([]byte("{\"a\":\"x\x01y\"}"))
	require.NoError(t, err)
	assert.Equal(t, "sanitize", doc.Strategy)
	assert.Equal(t, `{"a":"x y"}`, string(doc.Data))
}

func TestDecodeUndecodable(t *testing.T) {
	d := NewDecoder(logging.Nop())

	doc, err := d.Decode([]byte("definitely not json \xff"))
	assert.Nil(t, doc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, refcat.ErrUndecodable))
}

type stubStrategy struct {
	name  string
	err   error
	calls *[]string
}

func (s stubStrategy) Name() string { return s.name }

func (s stubStrategy) Decode(raw []byte) ([]byte, error) {
	*s.calls = append(*s.calls, s.name)
	if s.err != nil {
		return nil, s.err
	}
	return raw, nil
}

func TestDecodeStopsAtFirstSuccess(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	d := NewDecoder(logging.Nop(),
		stubStrategy{name: "a", err: boom, calls: &calls},
		stubStrategy{name: "b", calls: &calls},
		stubStrategy{name: "c", calls: &calls},
	)

	doc, err := d.Decode([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Equal(t, "b", doc.Strategy)
	assert.Equal(t, []State{Failed, Succeeded, NotTried}, states(doc))
	assert.Equal(t, boom, doc.Attempts[0].Err)
}

func TestForceStrategies(t *testing.T) {
	raw := []byte("{\"a\":\"caf\xe9\"}")
	tests := []struct {
		encoding string
		want     string
	}{
		{EncodingUTF8, "{\"a\":\"caf\ufffd\"}"},
		{EncodingISO88591, `{"a":"café"}`},
		{EncodingWindows1252, `{"a":"café"}`},
		{EncodingASCII, `{"a":"caf?"}`},
	}

	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			s := Force{Encoding: tt.encoding}
			assert.Equal(t, "force:"+tt.encoding, s.Name())
			got, err := s.Decode(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}

	_, err := Force{Encoding: "EBCDIC"}.Decode(raw)
	assert.Error(t, err)
}

func TestDetectEncoding(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"ascii", "plain", EncodingUTF8},
		{"valid utf8", "año café", EncodingUTF8},
		{"one stray byte", "plain \xff text", EncodingUTF8},
		{"one latin1 letter", "ESPA\xd1A", EncodingUTF8},
		{"two latin1 letters", "ESPA\xd1A y CA\xd1ADA", EncodingISO88591},
		{"stray bytes outnumbered", "a\xc3\xb1o caf\xc3\xa9 \xff x \xfe", EncodingUTF8},
		{"latin1", "Pe\xf1a \xc1guila", EncodingISO88591},
		{"windows-1252", "\x93hola\x94 caf\xe9", EncodingWindows1252},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectEncoding([]byte(tt.raw)))
		})
	}
}

func TestDecodeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parcelas.json")
	require.NoError(t, os.WriteFile(path, []byte("{\"n\":\"\xd1and\xfa\"}"), 0o644))

	d := NewDecoder(logging.Nop())
	doc, err := d.DecodeFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"n":"Ñandú"}`, string(doc.Data))

	_, err = d.DecodeFile(filepath.Join(dir, "missing.json"))
	assert.True(t, errors.Is(err, refcat.ErrFileNotFound))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "not_tried", NotTried.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "succeeded", Succeeded.String())
}
