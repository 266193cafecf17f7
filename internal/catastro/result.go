package catastro

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/catastro-enricher/internal/refcat"
)

// Property is one cadastral unit as reported by the service, already reduced
// to the fields the pipeline uses.
type Property struct {
	Ref     string // reference code of the unit, when the service reports one
	Year    int
	Address string
}

// Record converts the property to an enrichment record
func (p Property) Record() refcat.Record {
	return refcat.Record{Year: p.Year, Address: p.Address}
}

// Result is the outcome of one remote query: Single, Multiple or Failure
type Result interface {
	isResult()
}

// Single is a response describing one property
type Single struct {
	Property Property
	Notice   string // service-reported error text, if any
}

// Multiple is a response listing several sub-properties
type Multiple struct {
	Properties []Property
}

// Failure is a query that produced no usable document
type Failure struct {
	Kind   refcat.Kind // KindTransport, KindHTTPStatus or KindMalformedJSON
	Reason string
	Err    error
}

func (Single) isResult()   {}
func (Multiple) isResult() {}
func (Failure) isResult()  {}

// Sentinel renders the failure as the record written in place of real data
func (f Failure) Sentinel() refcat.Record {
	return refcat.Record{Year: refcat.UnknownYear, Address: "Error: " + f.Reason}
}

func (f Failure) Error() string {
	return f.Reason
}

// RecordOf reduces a result to the record written for its code. It never
// fails: a Failure becomes its sentinel record.
func RecordOf(result Result) refcat.Record {
	switch r := result.(type) {
	case Single:
		return r.Property.Record()
	case Multiple:
		chosen, _ := SelectLatest(r.Properties)
		return chosen.Record()
	case Failure:
		return r.Sentinel()
	}
	return refcat.Record{}
}

// Outcome names the variant of result for logs and audit rows
func Outcome(result Result) string {
	switch result.(type) {
	case Single:
		return "single"
	case Multiple:
		return "multiple"
	case Failure:
		return "failure"
	}
	return "unknown"
}

// parseResult decodes a response body. This is the only place that decides
// between Single and Multiple.
func parseResult(body []byte) Result {
	if !gjson.ValidBytes(body) {
		err := errors.New("invalid JSON document")
		return Failure{
			Kind:   refcat.KindMalformedJSON,
			Reason: fmt.Sprintf("malformed JSON: %v", err),
			Err:    refcat.E(refcat.KindMalformedJSON, "catastro.parse", err),
		}
	}
	result := gjson.GetBytes(body, pathResult)
	if !result.IsObject() {
		return Single{}
	}

	if list := result.Get(pathList); list.Exists() && list.Type != gjson.Null {
		items := listItems(list)
		props := make([]Property, 0, len(items))
		for _, item := range items {
			props = append(props, propertyOf(item))
		}
		return Multiple{Properties: props}
	}

	single := Single{Notice: noticeOf(result)}
	if bi := result.Get(pathSingle); bi.IsObject() {
		single.Property = propertyOf(bi)
	}
	return single
}

// SelectLatest picks the property with the strictly greatest year; the first
// occurrence wins ties. When no property has a positive year the first one
// is returned. The index is -1 only for an empty list.
func SelectLatest(props []Property) (Property, int) {
	if len(props) == 0 {
		return Property{}, -1
	}
	best, maxYear := -1, 0
	for i, p := range props {
		if p.Year > maxYear {
			maxYear = p.Year
			best = i
		}
	}
	if best < 0 {
		best = 0
	}
	return props[best], best
}
