package etl

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/catastro-enricher/internal/geojson"
	"github.com/catastro-enricher/internal/lookup"
	"github.com/catastro-enricher/internal/refcat"
)

// MergeGeoJSON builds a year and address table from table and writes it into
// the FeatureCollection doc. Unmatched features get year "0".
func (p *Pipeline) MergeGeoJSON(ctx context.Context, table io.Reader, doc []byte, opts geojson.Options) (*geojson.Result, error) {
	return p.merge(ctx, KindMergeGeoJSON, "-", lookup.WithAddress(), opts, table, doc)
}

// UpdateYears writes only construction years into doc; unmatched features
// are left as they are.
func (p *Pipeline) UpdateYears(ctx context.Context, table io.Reader, doc []byte, opts geojson.Options) (*geojson.Result, error) {
	return p.merge(ctx, KindUpdateJSON, "-", lookup.YearOnly(), opts, table, doc)
}

func (p *Pipeline) merge(ctx context.Context, kind, name string, lopts lookup.Options, gopts geojson.Options, table io.Reader, doc []byte) (res *geojson.Result, err error) {
	summary := map[string]int{}
	run := p.startRun(ctx, kind, name)
	defer func() { p.finishRun(ctx, run, summary, err) }()

	built, err := lookup.NewBuilder(lopts, run.log).Build(table)
	if err != nil {
		return nil, err
	}
	summary["table_rows"] = built.Rows
	summary["table_codes"] = built.Table.Len()
	if built.Table.Len() == 0 {
		run.log.Error("No hay datos válidos en el CSV para procesar")
		return nil, refcat.E(refcat.KindNoRecords, "etl."+kind, errors.New("no valid rows in table"))
	}

	decoded, err := p.decoder.Decode(doc)
	if err != nil {
		return nil, err
	}
	p.metrics.ObserveDecode(decoded.Strategy)
	run.log.Info("Documento decodificado", zap.String("strategy", decoded.Strategy))

	res, err = geojson.NewMerger(gopts, run.log).Merge(decoded.Data, built.Table)
	if err != nil {
		return nil, err
	}

	summary["features"] = res.Stats.Features
	summary["matched"] = res.Stats.Matched
	summary["unmatched"] = res.Stats.Unmatched
	summary["malformed"] = res.Stats.Malformed
	p.metrics.ObserveMerge(res.Stats.Matched, res.Stats.Unmatched, res.Stats.Malformed)
	return res, nil
}
