package etl

import (
	"context"
	"errors"
	"strings"

	"github.com/catastro-enricher/internal/refcat"
)

// Outcomes reported by Lookup besides the remote variants
const (
	OutcomeCached = "cached"
	OutcomeEmpty  = "empty"
)

// CodeResult is what Lookup found for one input code
type CodeResult struct {
	Code    refcat.Code
	Record  refcat.Record
	Outcome string // single, multiple, failure, cached or empty
}

// Lookup resolves codes in order with the same memoization and pause between
// remote calls as Process. On cancellation the results gathered so far are
// returned with the context error.
func (p *Pipeline) Lookup(ctx context.Context, codes []refcat.Code) (results []CodeResult, err error) {
	if p.resolver == nil {
		return nil, errors.New("pipeline has no resolver")
	}

	stats := &ProcessStats{}
	run := p.startRun(ctx, KindLookup, joinCodes(codes))
	defer func() { p.finishRun(ctx, run, stats.Summary(), err) }()

	memo := make(map[refcat.Code]refcat.Record)
	results = make([]CodeResult, 0, len(codes))
	for _, raw := range codes {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		stats.Rows++

		code := refcat.ParseCode(string(raw))
		res := CodeResult{Code: code}
		switch {
		case code.Empty():
			stats.Empty++
			res.Outcome = OutcomeEmpty

		default:
			if rec, seen := memo[code]; seen {
				stats.Cached++
				p.metrics.ObserveLookup(OutcomeCached, 0)
				res.Record, res.Outcome = rec, OutcomeCached
				break
			}
			if err := p.throttle(ctx, stats); err != nil {
				return results, err
			}
			res.Record, res.Outcome = p.lookup(ctx, run, code, stats)
			memo[code] = res.Record
		}

		if res.Record.Known() {
			stats.Resolved++
		}
		stats.Written++
		results = append(results, res)
	}
	return results, nil
}

func joinCodes(codes []refcat.Code) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}
