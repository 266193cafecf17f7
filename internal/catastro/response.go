package catastro

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/catastro-enricher/internal/normalize"
	"github.com/catastro-enricher/internal/refcat"
)

// Paths into the Consulta_DNPRC JSON response. Only these are read; any
// other field may take any shape.
const (
	pathResult  = "consulta_dnprcResult"
	pathList    = "lrcdnp.rcdnp"
	pathSingle  = "bico.bi"
	pathErrors  = "control.cuerr"
	pathErrList = "lerr"
	pathYear    = "debi.ant"
	pathLine    = "ldt"
)

// streetPaths are tried in order; the first non-empty street name wins
var streetPaths = []string{
	"dt.locs.lors.lourb.dir.nv",
	"dt.locs.lous.lourb.dir.nv",
}

// rcPaths make up the reference code of a reported unit
var rcPaths = []string{"rc.pc1", "rc.pc2", "rc.car", "rc.cc1", "rc.cc2"}

// text returns a scalar as text. Strings and numbers are accepted; anything
// else reads as "".
func text(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number:
		return v.Raw
	}
	return ""
}

// yearOf reads a construction year given as a JSON number or numeric string
func yearOf(v gjson.Result) int {
	y, _ := refcat.ParseYear(text(v))
	return y
}

// listItems returns the elements of rcdnp, which the service sends either as
// an array or as a single object
func listItems(v gjson.Result) []gjson.Result {
	if v.IsArray() {
		return v.Array()
	}
	return []gjson.Result{v}
}

// propertyOf extracts year and address from one unit of the response
func propertyOf(p gjson.Result) Property {
	var ref strings.Builder
	for _, path := range rcPaths {
		ref.WriteString(text(p.Get(path)))
	}
	return Property{
		Ref:     ref.String(),
		Year:    yearOf(p.Get(pathYear)),
		Address: addressOf(p),
	}
}

// addressOf tries the urban location under "lors", then under "lous", then
// the free-text line. "" means unknown.
func addressOf(p gjson.Result) string {
	for _, path := range streetPaths {
		if name := strings.TrimSpace(text(p.Get(path))); name != "" {
			return name
		}
	}
	if line := text(p.Get(pathLine)); line != "" {
		return normalize.StreetFromLine(line)
	}
	return ""
}

// noticeOf renders the first service error when the control block reports
// one. lerr arrives as {"err": [...]}, {"err": {...}} or a bare array.
func noticeOf(result gjson.Result) string {
	if result.Get(pathErrors).Int() <= 0 {
		return ""
	}
	errs := result.Get(pathErrList)
	if errs.IsObject() {
		errs = errs.Get("err")
	}
	first := errs
	if errs.IsArray() {
		items := errs.Array()
		if len(items) == 0 {
			return ""
		}
		first = items[0]
	}
	if !first.IsObject() {
		return ""
	}
	return strings.TrimSpace(text(first.Get("cod")) + " " + text(first.Get("des")))
}
