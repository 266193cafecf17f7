package refcat

import (
	"fmt"
	"strings"
)

// Kind classifies pipeline failures
type Kind int

const (
	KindUnknown Kind = iota
	KindFileNotFound
	KindMissingColumn
	KindTransport
	KindHTTPStatus
	KindMalformedJSON
	KindNotFeatureCollection
	KindUndecodable
	KindEncode
	KindNoRecords
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindFileNotFound:         "file not found",
	KindMissingColumn:        "missing column",
	KindTransport:            "transport failure",
	KindHTTPStatus:           "http status failure",
	KindMalformedJSON:        "malformed json",
	KindNotFeatureCollection: "not a feature collection",
	KindUndecodable:          "undecodable",
	KindEncode:               "encode failure",
	KindNoRecords:            "no records",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the error type returned by every pipeline stage
type Error struct {
	Kind Kind
	Op   string // stage or operation, e.g. "lookup.build"
	Path string // file involved, if any
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Path != "" {
		b.WriteString(" (")
		b.WriteString(e.Path)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrMissingColumn)
// holds for every missing-column failure regardless of its details.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// Sentinels for errors.Is checks
var (
	ErrFileNotFound         = &Error{Kind: KindFileNotFound}
	ErrMissingColumn        = &Error{Kind: KindMissingColumn}
	ErrTransport            = &Error{Kind: KindTransport}
	ErrHTTPStatus           = &Error{Kind: KindHTTPStatus}
	ErrMalformedJSON        = &Error{Kind: KindMalformedJSON}
	ErrNotFeatureCollection = &Error{Kind: KindNotFeatureCollection}
	ErrUndecodable          = &Error{Kind: KindUndecodable}
	ErrEncode               = &Error{Kind: KindEncode}
	ErrNoRecords            = &Error{Kind: KindNoRecords}
)

// E builds an *Error
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind of err, or KindUnknown
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return KindUnknown
		}
		err = u.Unwrap()
	}
	return KindUnknown
}
