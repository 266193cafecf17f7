package etl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/catastro-enricher/internal/geojson"
	"github.com/catastro-enricher/internal/lookup"
	"github.com/catastro-enricher/internal/refcat"
)

func readInput(op, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &refcat.Error{Kind: refcat.KindFileNotFound, Op: op, Path: path, Err: err}
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// ProcessFile enriches the table at inPath into outPath. The output file is
// removed again when the run fails before any row was written.
func (p *Pipeline) ProcessFile(ctx context.Context, inPath, outPath string) (*ProcessStats, error) {
	in, err := os.Open(inPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			p.log.Error("El archivo de entrada no existe", zap.String("file", inPath))
			return nil, &refcat.Error{Kind: refcat.KindFileNotFound, Op: "etl.process", Path: inPath, Err: err}
		}
		return nil, fmt.Errorf("failed to open %s: %w", inPath, err)
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", outPath, err)
	}

	stats, err := p.process(ctx, inPath, in, out)
	if cerr := out.Close(); cerr != nil && err == nil {
		err = refcat.E(refcat.KindEncode, "etl.process", cerr)
	}
	if err != nil && stats != nil && stats.Written == 0 {
		os.Remove(outPath)
	}
	if err == nil {
		p.log.Info("Resultados guardados", zap.String("file", outPath))
	}
	return stats, err
}

// MergeFile merges the table at tablePath into the FeatureCollection at
// docPath and writes <base>_actualizado.<ext> next to it. yearOnly selects
// the year-only update. The output path is returned.
func (p *Pipeline) MergeFile(ctx context.Context, tablePath, docPath string, opts geojson.Options, yearOnly bool) (string, *geojson.Result, error) {
	kind, lopts := KindMergeGeoJSON, lookup.WithAddress()
	if yearOnly {
		kind, lopts = KindUpdateJSON, lookup.YearOnly()
	}
	op := "etl." + kind

	table, err := readInput(op, tablePath)
	if err != nil {
		p.log.Error("No se pudo leer el CSV", zap.String("file", tablePath), zap.Error(err))
		return "", nil, err
	}
	doc, err := readInput(op, docPath)
	if err != nil {
		p.log.Error("No se pudo leer el JSON", zap.String("file", docPath), zap.Error(err))
		return "", nil, err
	}

	res, err := p.merge(ctx, kind, docPath, lopts, opts, bytes.NewReader(table), doc)
	if err != nil {
		return "", nil, err
	}

	outPath := geojson.OutputPath(docPath)
	if err := os.WriteFile(outPath, res.Document, 0o644); err != nil {
		return "", nil, &refcat.Error{Kind: refcat.KindEncode, Op: op, Path: outPath, Err: err}
	}
	p.log.Info("Proceso completado", zap.String("file", outPath))
	return outPath, res, nil
}
