package etl

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/catastro-enricher/internal/catastro"
	"github.com/catastro-enricher/internal/geojson"
	"github.com/catastro-enricher/internal/logging"
	"github.com/catastro-enricher/internal/refcat"
)

type fakeResolver struct {
	results map[refcat.Code]catastro.Result
	calls   []refcat.Code
	onQuery func()
}

func (f *fakeResolver) Query(ctx context.Context, code refcat.Code) catastro.Result {
	f.calls = append(f.calls, code)
	if f.onQuery != nil {
		f.onQuery()
	}
	if r, ok := f.results[code]; ok {
		return r
	}
	return catastro.Single{}
}

func (f *fakeResolver) Reduce(code refcat.Code, result catastro.Result) refcat.Record {
	return catastro.RecordOf(result)
}

type fakeTracker struct {
	startErr error
	kinds    []string
	lookups  []string
	summary  map[string]int
	runErr   error
	finished bool
}

func (f *fakeTracker) StartRun(ctx context.Context, kind, input string) (uuid.UUID, error) {
	f.kinds = append(f.kinds, kind)
	if f.startErr != nil {
		return uuid.Nil, f.startErr
	}
	return uuid.New(), nil
}

func (f *fakeTracker) RecordLookup(ctx context.Context, runID uuid.UUID, code refcat.Code, rec refcat.Record, outcome string) error {
	f.lookups = append(f.lookups, code.String()+":"+outcome)
	return nil
}

func (f *fakeTracker) FinishRun(ctx context.Context, runID uuid.UUID, summary map[string]int, runErr error) error {
	f.finished = true
	f.summary = summary
	f.runErr = runErr
	return nil
}

func standardResolver() *fakeResolver {
	return &fakeResolver{results: map[refcat.Code]catastro.Result{
		"1234567AB": catastro.Single{Property: catastro.Property{Year: 1988, Address: "MAYOR"}},
		"7654321CD": catastro.Multiple{Properties: []catastro.Property{
			{Ref: "A", Year: 1975, Address: "VIEJA"},
			{Ref: "B", Year: 1990, Address: "NUEVA"},
		}},
		"0000000ER": catastro.Failure{Kind: refcat.KindTransport, Reason: "timeout"},
	}}
}

const processInput = `Id,RefCat,Nombre
1,1234567AB,Casa
2,,Vacía
3,7654321CD,"Calle, con coma"
4,1234567AB,Repetida
5
6,0000000ER,Fallo
`

func TestProcess(t *testing.T) {
	resolver := standardResolver()
	var sleeps []time.Duration
	p := NewPipeline(logging.Nop(), resolver, WithSleep(func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}))

	var out bytes.Buffer
	stats, err := p.Process(context.Background(), strings.NewReader(processInput), &out)
	require.NoError(t, err)

	want := `Id,RefCat,Nombre,AnnoConstruccion,Direccion
1,1234567AB,Casa,1988,MAYOR
2,,Vacía,0,
3,7654321CD,"Calle, con coma",1990,NUEVA
4,1234567AB,Repetida,1988,MAYOR
6,0000000ER,Fallo,0,Error: timeout
`
	assert.Equal(t, want, out.String())

	assert.Equal(t, ProcessStats{
		Rows: 6, Written: 5, Resolved: 3, Lookups: 3, Failed: 1,
		Multiple: 1, Cached: 1, Empty: 1, Short: 1,
	}, *stats)
	assert.Equal(t, []refcat.Code{"1234567AB", "7654321CD", "0000000ER"}, resolver.calls)
	assert.Equal(t, []time.Duration{DefaultDelay, DefaultDelay}, sleeps)
}

func TestProcessHeaderErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty input", ""},
		{"no RefCat column", "Id,Referencia\n1,1234567AB\n"},
		{"case differs", "id,refcat\n1,1234567AB\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := standardResolver()
			p := NewPipeline(logging.Nop(), resolver, WithDelay(0))

			var out bytes.Buffer
			_, err := p.Process(context.Background(), strings.NewReader(tt.input), &out)
			assert.True(t, errors.Is(err, refcat.ErrMissingColumn), "got %v", err)
			assert.Empty(t, resolver.calls)
		})
	}
}

func TestProcessHeaderWithByteOrderMark(t *testing.T) {
	p := NewPipeline(logging.Nop(), standardResolver(), WithDelay(0))

	var out bytes.Buffer
	_, err := p.Process(context.Background(), strings.NewReader("\ufeffRefCat\n1234567AB\n"), &out)
	require.NoError(t, err)
	assert.Equal(t, "RefCat,AnnoConstruccion,Direccion\n1234567AB,1988,MAYOR\n", out.String())
}

func TestProcessStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver := standardResolver()
	resolver.onQuery = cancel
	p := NewPipeline(logging.Nop(), resolver, WithDelay(0))

	var out bytes.Buffer
	stats, err := p.Process(ctx, strings.NewReader(processInput), &out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, stats.Written)
	assert.Len(t, resolver.calls, 1)
	assert.Contains(t, out.String(), "1,1234567AB,Casa,1988,MAYOR\n")
}

func TestProcessThrottleCancelled(t *testing.T) {
	p := NewPipeline(logging.Nop(), standardResolver(), WithSleep(func(ctx context.Context, d time.Duration) error {
		return context.DeadlineExceeded
	}))

	var out bytes.Buffer
	stats, err := p.Process(context.Background(), strings.NewReader(processInput), &out)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, stats.Lookups)
}

func TestProcessWithoutResolver(t *testing.T) {
	p := NewPipeline(logging.Nop(), nil)
	_, err := p.Process(context.Background(), strings.NewReader(processInput), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestProcessAudit(t *testing.T) {
	t.Run("records run and remote lookups", func(t *testing.T) {
		tracker := &fakeTracker{}
		p := NewPipeline(logging.Nop(), standardResolver(), WithDelay(0), WithTracker(tracker))

		_, err := p.Process(context.Background(), strings.NewReader(processInput), &bytes.Buffer{})
		require.NoError(t, err)

		assert.Equal(t, []string{KindProcess}, tracker.kinds)
		assert.Equal(t, []string{"1234567AB:single", "7654321CD:multiple", "0000000ER:failure"}, tracker.lookups)
		assert.True(t, tracker.finished)
		assert.NoError(t, tracker.runErr)
		assert.Equal(t, 1, tracker.summary["cached"])
		assert.Equal(t, 6, tracker.summary["rows"])
	})

	t.Run("setup failure is recorded", func(t *testing.T) {
		tracker := &fakeTracker{}
		p := NewPipeline(logging.Nop(), standardResolver(), WithDelay(0), WithTracker(tracker))

		_, err := p.Process(context.Background(), strings.NewReader("Id\n1\n"), &bytes.Buffer{})
		require.Error(t, err)
		assert.True(t, tracker.finished)
		assert.True(t, errors.Is(tracker.runErr, refcat.ErrMissingColumn))
	})

	t.Run("audit outage does not stop the run", func(t *testing.T) {
		tracker := &fakeTracker{startErr: errors.New("connection refused")}
		p := NewPipeline(logging.Nop(), standardResolver(), WithDelay(0), WithTracker(tracker))

		stats, err := p.Process(context.Background(), strings.NewReader(processInput), &bytes.Buffer{})
		require.NoError(t, err)
		assert.Equal(t, 5, stats.Written)
		assert.Empty(t, tracker.lookups)
		assert.False(t, tracker.finished)
	})
}

const mergeTable = `RefCat,AnnoConstruccion,Direccion
1234567AB,1988,Mayor
7654321CD,no consta,Sin Año
`

const mergeDoc = `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"REFCAT":"1234567AB"},"geometry":{"type":"Point","coordinates":[1,2]}},
{"type":"Feature","properties":{"REFCAT":"7654321CD"},"geometry":null},
{"type":"Feature","properties":{"REFCAT":"9999999ZZ","CALLE":"Antigua"},"geometry":null},
{"type":"Feature","properties":{},"geometry":null}
]}`

func TestMergeGeoJSON(t *testing.T) {
	p := NewPipeline(logging.Nop(), nil)

	res, err := p.MergeGeoJSON(context.Background(), strings.NewReader(mergeTable), []byte(mergeDoc), geojson.MergeOptions())
	require.NoError(t, err)
	assert.Equal(t, geojson.Stats{Features: 4, Matched: 2, Unmatched: 1, Malformed: 1}, res.Stats)

	doc := gjson.ParseBytes(res.Document)
	assert.Equal(t, "1988", doc.Get("features.0.properties.FECHAALTA").String())
	assert.Equal(t, "Mayor", doc.Get("features.0.properties.CALLE").String())
	assert.Equal(t, "0", doc.Get("features.1.properties.FECHAALTA").String())
	assert.Equal(t, "Sin Año", doc.Get("features.1.properties.CALLE").String())
	assert.Equal(t, "0", doc.Get("features.2.properties.FECHAALTA").String())
	assert.Equal(t, "Antigua", doc.Get("features.2.properties.CALLE").String())
}

func TestUpdateYears(t *testing.T) {
	p := NewPipeline(logging.Nop(), nil)
	table := "RefCat,AnnoConstruccion\n1234567AB,1988\n7654321CD,desconocido\n"

	res, err := p.UpdateYears(context.Background(), strings.NewReader(table), []byte(mergeDoc), geojson.YearOnlyOptions())
	require.NoError(t, err)
	assert.Equal(t, geojson.Stats{Features: 4, Matched: 1, Unmatched: 2, Malformed: 1}, res.Stats)

	doc := gjson.ParseBytes(res.Document)
	assert.Equal(t, "1988", doc.Get("features.0.properties.FECHAALTA").String())
	assert.False(t, doc.Get("features.1.properties.FECHAALTA").Exists())
	assert.False(t, doc.Get("features.0.properties.CALLE").Exists())
}

func TestMergeErrors(t *testing.T) {
	tests := []struct {
		name  string
		table string
		doc   string
		want  error
	}{
		{"header only", "RefCat,AnnoConstruccion,Direccion\n", mergeDoc, refcat.ErrNoRecords},
		{"missing column", "RefCat,AnnoConstruccion\n1234567AB,1988\n", mergeDoc, refcat.ErrMissingColumn},
		{"undecodable", mergeTable, "<xml/>", refcat.ErrUndecodable},
		{"not a collection", mergeTable, `{"type":"Feature"}`, refcat.ErrNotFeatureCollection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := &fakeTracker{}
			p := NewPipeline(logging.Nop(), nil, WithTracker(tracker))

			res, err := p.MergeGeoJSON(context.Background(), strings.NewReader(tt.table), []byte(tt.doc), geojson.MergeOptions())
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.True(t, errors.Is(tracker.runErr, tt.want))
		})
	}
}

func TestMergeRecoversLegacyEncoding(t *testing.T) {
	p := NewPipeline(logging.Nop(), nil)
	doc := []byte("{\"type\":\"FeatureCollection\",\"features\":[{\"properties\":{\"REFCAT\":\"1234567AB\",\"MUNICIPIO\":\"M\xe1laga y Pe\xf1a\"}}]}")

	res, err := p.MergeGeoJSON(context.Background(), strings.NewReader(mergeTable), doc, geojson.MergeOptions())
	require.NoError(t, err)
	out := gjson.ParseBytes(res.Document)
	assert.Equal(t, "Málaga y Peña", out.Get("features.0.properties.MUNICIPIO").String())
	assert.Equal(t, "1988", out.Get("features.0.properties.FECHAALTA").String())
}

func TestProcessFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "referencias.csv")
	out := filepath.Join(dir, "resultado.csv")
	require.NoError(t, os.WriteFile(in, []byte("RefCat\n1234567AB\n"), 0o644))

	p := NewPipeline(logging.Nop(), standardResolver(), WithDelay(0))
	stats, err := p.ProcessFile(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Written)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "RefCat,AnnoConstruccion,Direccion\n1234567AB,1988,MAYOR\n", string(data))

	t.Run("missing input", func(t *testing.T) {
		_, err := p.ProcessFile(context.Background(), filepath.Join(dir, "nope.csv"), out)
		assert.True(t, errors.Is(err, refcat.ErrFileNotFound))
	})

	t.Run("failed setup leaves no output", func(t *testing.T) {
		bad := filepath.Join(dir, "sin_refcat.csv")
		require.NoError(t, os.WriteFile(bad, []byte("Id\n1\n"), 0o644))
		target := filepath.Join(dir, "vacio.csv")

		_, err := p.ProcessFile(context.Background(), bad, target)
		assert.True(t, errors.Is(err, refcat.ErrMissingColumn))
		assert.NoFileExists(t, target)
	})
}

func TestMergeFile(t *testing.T) {
	dir := t.TempDir()
	table := filepath.Join(dir, "datos.csv")
	doc := filepath.Join(dir, "parcelas.geojson")
	require.NoError(t, os.WriteFile(table, []byte(mergeTable), 0o644))
	require.NoError(t, os.WriteFile(doc, []byte(mergeDoc), 0o644))

	p := NewPipeline(logging.Nop(), nil)

	outPath, res, err := p.MergeFile(context.Background(), table, doc, geojson.MergeOptions(), false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "parcelas_actualizado.geojson"), outPath)
	assert.Equal(t, 2, res.Stats.Matched)

	written, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, res.Document, written)

	_, _, err = p.MergeFile(context.Background(), table, filepath.Join(dir, "missing.geojson"), geojson.MergeOptions(), false)
	assert.True(t, errors.Is(err, refcat.ErrFileNotFound))

	_, _, err = p.MergeFile(context.Background(), filepath.Join(dir, "missing.csv"), doc, geojson.YearOnlyOptions(), true)
	assert.True(t, errors.Is(err, refcat.ErrFileNotFound))
}
