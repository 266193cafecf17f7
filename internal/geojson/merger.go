// Package geojson writes enrichment records into the properties of a GeoJSON
// FeatureCollection. Documents are edited as raw bytes so feature order,
// property order, number formatting and geometry stay exactly as read.
package geojson

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/catastro-enricher/internal/refcat"
)

// Options selects which properties are read and written
type Options struct {
	RefCatKey     string // property holding the reference code
	YearKey       string // property receiving the construction year
	StreetKey     string // property receiving the street
	WriteStreet   bool
	ZeroUnmatched bool // set the year to "0" when the code is not in the table
}

// MergeOptions writes year and street, zeroing the year of unmatched features
func MergeOptions() Options {
	return Options{
		RefCatKey:     "REFCAT",
		YearKey:       "FECHAALTA",
		StreetKey:     "CALLE",
		WriteStreet:   true,
		ZeroUnmatched: true,
	}
}

// YearOnlyOptions writes only the year and leaves unmatched features alone
func YearOnlyOptions() Options {
	return Options{
		RefCatKey: "REFCAT",
		YearKey:   "FECHAALTA",
	}
}

// Stats counts what happened to each feature
type Stats struct {
	Features  int
	Matched   int
	Unmatched int
	Malformed int // features without the reference-code property
}

// Result is a merged document
type Result struct {
	Document []byte
	Stats    Stats
}

// Merger applies a lookup table to FeatureCollections
type Merger struct {
	opts Options
	log  *zap.Logger
}

// NewMerger creates a merger. Empty keys fall back to MergeOptions values.
func NewMerger(opts Options, log *zap.Logger) *Merger {
	def := MergeOptions()
	if opts.RefCatKey == "" {
		opts.RefCatKey = def.RefCatKey
	}
	if opts.YearKey == "" {
		opts.YearKey = def.YearKey
	}
	if opts.StreetKey == "" {
		opts.StreetKey = def.StreetKey
	}
	return &Merger{opts: opts, log: log}
}

// Options returns the effective options
func (m *Merger) Options() Options {
	return m.opts
}

// Merge writes table values into every feature of doc. doc must be valid
// UTF-8 JSON whose top-level type is "FeatureCollection" with a features
// array; anything else is refcat.ErrNotFeatureCollection.
func (m *Merger) Merge(doc []byte, table *refcat.Table) (*Result, error) {
	if !gjson.ValidBytes(doc) {
		return nil, refcat.E(refcat.KindMalformedJSON, "geojson.merge", fmt.Errorf("document is not valid JSON"))
	}
	root := gjson.ParseBytes(doc)
	if !root.IsObject() || root.Get("type").String() != "FeatureCollection" {
		return nil, refcat.E(refcat.KindNotFeatureCollection, "geojson.merge", fmt.Errorf("top-level type is not FeatureCollection"))
	}
	features := root.Get("features")
	if !features.IsArray() {
		return nil, refcat.E(refcat.KindNotFeatureCollection, "geojson.merge", fmt.Errorf("features list missing"))
	}

	elems := features.Array()
	m.log.Info("GeoJSON cargado", zap.Int("features", len(elems)))

	var stats Stats
	edits := make([]string, 0, len(elems))
	for _, feature := range elems {
		stats.Features++
		edited, err := m.mergeFeature(feature, table, &stats)
		if err != nil {
			return nil, refcat.E(refcat.KindEncode, "geojson.merge", err)
		}
		edits = append(edits, edited)
	}

	array, err := spliceArray(features.Raw, elems, edits)
	if err != nil {
		return nil, refcat.E(refcat.KindEncode, "geojson.merge", err)
	}
	out, err := sjson.SetRawBytes(doc, "features", []byte(array))
	if err != nil {
		return nil, refcat.E(refcat.KindEncode, "geojson.merge", err)
	}
	if !gjson.ValidBytes(out) {
		return nil, refcat.E(refcat.KindEncode, "geojson.merge", fmt.Errorf("merged document is not valid JSON"))
	}

	m.log.Info("Fusión completada",
		zap.Int("features", stats.Features),
		zap.Int("actualizadas", stats.Matched),
		zap.Int("no_encontradas", stats.Unmatched),
		zap.Int("sin_refcat", stats.Malformed))

	return &Result{Document: out, Stats: stats}, nil
}

// mergeFeature returns the feature text after applying the table. Untouched
// features come back verbatim.
func (m *Merger) mergeFeature(feature gjson.Result, table *refcat.Table, stats *Stats) (string, error) {
	props := feature.Get("properties")
	ref := props.Get(escapeKey(m.opts.RefCatKey))
	if !props.IsObject() || !ref.Exists() || ref.Type == gjson.Null {
		stats.Malformed++
		m.log.Debug("Feature sin propiedad de referencia", zap.String("key", m.opts.RefCatKey))
		return feature.Raw, nil
	}

	code := refcat.ParseCode(ref.Raw)
	if ref.Type == gjson.String {
		code = refcat.ParseCode(ref.Str)
	}

	rec, found := table.Get(code)
	if !found {
		stats.Unmatched++
		if !m.opts.ZeroUnmatched {
			return feature.Raw, nil
		}
		m.log.Debug("RefCat no encontrada; año a 0", zap.String("refcat", code.String()))
		return sjson.Set(feature.Raw, m.propertyPath(m.opts.YearKey), refcat.Record{}.YearString())
	}

	stats.Matched++
	m.log.Debug("Actualizada RefCat",
		zap.String("refcat", code.String()),
		zap.String("anterior", props.Get(escapeKey(m.opts.YearKey)).String()),
		zap.Int("anno", rec.Year),
		zap.String("calle", rec.Address))

	raw, err := sjson.Set(feature.Raw, m.propertyPath(m.opts.YearKey), rec.YearString())
	if err != nil {
		return "", err
	}
	if m.opts.WriteStreet {
		raw, err = sjson.Set(raw, m.propertyPath(m.opts.StreetKey), rec.Address)
	}
	return raw, err
}

func (m *Merger) propertyPath(key string) string {
	return "properties." + escapeKey(key)
}

// escapeKey quotes the path syntax characters gjson and sjson interpret
func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%', ':':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// spliceArray rebuilds the raw array text with each element replaced by its
// edit, keeping the separators and whitespace of the original.
func spliceArray(raw string, elems []gjson.Result, edits []string) (string, error) {
	var b bytes.Buffer
	b.Grow(len(raw))
	cursor := 0
	for i, elem := range elems {
		at := strings.Index(raw[cursor:], elem.Raw)
		if at < 0 {
			return "", fmt.Errorf("feature %d not found in source text", i)
		}
		b.WriteString(raw[cursor : cursor+at])
		b.WriteString(edits[i])
		cursor += at + len(elem.Raw)
	}
	b.WriteString(raw[cursor:])
	return b.String(), nil
}

// OutputPath names the merged file next to its input: <base>_actualizado.<ext>
func OutputPath(input string) string {
	dir, file := filepath.Split(input)
	ext := filepath.Ext(file)
	return filepath.Join(dir, strings.TrimSuffix(file, ext)+"_actualizado"+ext)
}
