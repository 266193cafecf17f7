package lookup

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/catastro-enricher/internal/normalize"
	"github.com/catastro-enricher/internal/refcat"
)

// Options selects which columns are required and how unusable years are treated
type Options struct {
	RequireYear    bool // AnnoConstruccion must be present
	RequireAddress bool // Direccion must be present and is copied into records
	// ZeroInvalidYear keeps rows whose year is not a positive integer, with
	// year 0. When false such rows produce no record at all.
	ZeroInvalidYear bool
}

// YearOnly is used when only construction years are propagated
func YearOnly() Options {
	return Options{RequireYear: true}
}

// WithAddress is used when both year and street are propagated
func WithAddress() Options {
	return Options{RequireYear: true, RequireAddress: true, ZeroInvalidYear: true}
}

// Result is the outcome of a successful build
type Result struct {
	Table   *refcat.Table
	Header  []string
	Rows    int // data rows read
	Valid   int // rows that produced a record
	Skipped int // rows rejected
}

// Builder turns a delimited source into a lookup table
type Builder struct {
	opts Options
	log  *zap.Logger
}

// NewBuilder creates a builder
func NewBuilder(opts Options, log *zap.Logger) *Builder {
	return &Builder{opts: opts, log: log}
}

type columns struct {
	ref, year, address int
}

// minLen is the shortest row that holds every required column
func (c columns) minLen() int {
	m := c.ref
	if c.year > m {
		m = c.year
	}
	if c.address > m {
		m = c.address
	}
	return m + 1
}

// BuildFile opens path and builds the table from it
func (b *Builder) BuildFile(path string) (*Result, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			b.log.Error("El archivo CSV no existe", zap.String("file", path))
			return nil, &refcat.Error{Kind: refcat.KindFileNotFound, Op: "lookup.build", Path: path, Err: err}
		}
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	res, err := b.Build(file)
	if err != nil {
		var rerr *refcat.Error
		if errors.As(err, &rerr) && rerr.Path == "" {
			rerr.Path = path
		}
		return nil, err
	}
	return res, nil
}

// Build reads the header and every row of r
func (b *Builder) Build(r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, refcat.E(refcat.KindMissingColumn, "lookup.build", errors.New("empty file, no header row"))
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = normalize.Field(header[i])
	}
	b.log.Info("Encabezados CSV", zap.Int("count", len(header)), zap.Strings("headers", header))

	cols, err := b.resolveColumns(header)
	if err != nil {
		b.log.Error("Faltan columnas requeridas", zap.Error(err))
		return nil, err
	}

	res := &Result{Table: refcat.NewTable(), Header: header}
	minLen := cols.minLen()

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		res.Rows++
		if err != nil {
			b.log.Warn("Error leyendo fila", zap.Int("row", res.Rows), zap.Error(err))
			res.Skipped++
			continue
		}

		if len(record) < minLen {
			b.log.Warn("Fila incompleta", zap.Int("row", res.Rows), zap.Int("columns", len(record)), zap.Int("required", minLen))
			res.Skipped++
			continue
		}

		code := refcat.ParseCode(record[cols.ref])
		if code.Empty() {
			b.log.Warn("RefCat vacía", zap.Int("row", res.Rows))
			res.Skipped++
			continue
		}

		rec, ok := b.recordFrom(record, cols, code, res.Rows)
		if !ok {
			res.Skipped++
			continue
		}

		if _, dup := res.Table.Get(code); dup {
			b.log.Debug("RefCat repetida, se usa la última fila", zap.String("refcat", code.String()), zap.Int("row", res.Rows))
		}
		res.Table.Set(code, rec)
		res.Valid++
	}

	b.log.Info("Registros leídos desde CSV",
		zap.Int("rows", res.Rows),
		zap.Int("valid", res.Valid),
		zap.Int("skipped", res.Skipped),
		zap.Int("codes", res.Table.Len()))
	return res, nil
}

func (b *Builder) recordFrom(record []string, cols columns, code refcat.Code, row int) (refcat.Record, bool) {
	var rec refcat.Record

	if cols.year >= 0 {
		raw := normalize.Field(record[cols.year])
		year, ok := refcat.ParseYear(raw)
		if !ok {
			if !b.opts.ZeroInvalidYear {
				b.log.Info("Año no válido", zap.String("refcat", code.String()), zap.String("anno", raw))
				return rec, false
			}
			year = refcat.UnknownYear
		}
		rec.Year = year
	}

	if cols.address >= 0 {
		rec.Address = normalize.Field(record[cols.address])
	}
	return rec, true
}

func (b *Builder) resolveColumns(header []string) (columns, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		if _, seen := index[h]; !seen {
			index[h] = i
		}
	}

	cols := columns{ref: -1, year: -1, address: -1}
	var missing []string

	if i, ok := index[refcat.ColumnRefCat]; ok {
		cols.ref = i
	} else {
		missing = append(missing, refcat.ColumnRefCat)
	}

	if i, ok := index[refcat.ColumnYear]; ok {
		cols.year = i
	} else if b.opts.RequireYear {
		missing = append(missing, refcat.ColumnYear)
	}

	if b.opts.RequireAddress {
		if i, ok := index[refcat.ColumnAddress]; ok {
			cols.address = i
		} else {
			missing = append(missing, refcat.ColumnAddress)
		}
	}

	if len(missing) > 0 {
		return cols, refcat.E(refcat.KindMissingColumn, "lookup.build", fmt.Errorf("required columns %v not found", missing))
	}
	return cols, nil
}
