package refcat

import (
	"strconv"
	"strings"
)

// Column names used by the tabular input and output files
const (
	ColumnRefCat  = "RefCat"
	ColumnYear    = "AnnoConstruccion"
	ColumnAddress = "Direccion"
)

// UnknownYear is the sentinel for an absent or unusable construction year
const UnknownYear = 0

// Code is a cadastral reference code. It is always handled as text so that
// leading zeros and letters survive every stage.
type Code string

// ParseCode trims surrounding whitespace from a raw field
func ParseCode(raw string) Code {
	return Code(strings.TrimSpace(raw))
}

// Empty reports whether the code carries no identifier
func (c Code) Empty() bool {
	return c == ""
}

func (c Code) String() string {
	return string(c)
}

// Record is the enrichment pair resolved for a reference code
type Record struct {
	Year    int    // 0 = unknown
	Address string // "" = unknown
}

// YearString renders the year the way it is written to CSV and GeoJSON
func (r Record) YearString() string {
	return strconv.Itoa(r.Year)
}

// Known reports whether the record carries a construction year
func (r Record) Known() bool {
	return r.Year != UnknownYear
}

// ValidYear reports whether y is a usable construction year (positive, at
// most four digits).
func ValidYear(y int) bool {
	return y > 0 && y <= 9999
}

// ParseYear converts a text field into a year. Only plain digits are
// accepted, optionally followed by a decimal fraction ("1988.0"), which is
// dropped. The boolean is false when the value is not a positive integer of
// at most four digits.
func ParseYear(raw string) (int, bool) {
	whole, frac, hasFrac := strings.Cut(strings.TrimSpace(raw), ".")
	if !allDigits(whole) || (hasFrac && !allDigits(frac)) {
		return UnknownYear, false
	}
	y, err := strconv.Atoi(whole)
	if err != nil || !ValidYear(y) {
		return UnknownYear, false
	}
	return y, true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Table maps reference codes to their enrichment records. Keys are unique;
// a later Set for the same code replaces the earlier record.
type Table struct {
	records map[Code]Record
	order   []Code
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{records: make(map[Code]Record)}
}

// Set stores rec under code. Empty codes are ignored and reported as false.
func (t *Table) Set(code Code, rec Record) bool {
	if code.Empty() {
		return false
	}
	if _, exists := t.records[code]; !exists {
		t.order = append(t.order, code)
	}
	t.records[code] = rec
	return true
}

// Get returns the record stored for code
func (t *Table) Get(code Code) (Record, bool) {
	rec, ok := t.records[code]
	return rec, ok
}

// Len returns the number of distinct codes in the table
func (t *Table) Len() int {
	return len(t.records)
}

// Codes returns the codes in first-insertion order
func (t *Table) Codes() []Code {
	out := make([]Code, len(t.order))
	copy(out, t.order)
	return out
}
