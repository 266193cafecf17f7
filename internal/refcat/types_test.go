package refcat

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseYear(t *testing.T) {
	tests := []struct {
		input  string
		want   int
		wantOK bool
	}{
		{"1988", 1988, true},
		{" 2004 ", 2004, true},
		{"1975.0", 1975, true},
		{"0", 0, false},
		{"-12", 0, false},
		{"", 0, false},
		{"abc", 0, false},
		{"12345", 0, false},
		{"1_988", 0, false},
		{"1e3", 0, false},
		{"+1988", 0, false},
		{"0x7C4", 0, false},
		{"1988.", 0, false},
		{".5", 0, false},
		{"1988.75", 1988, true},
		{"0999", 999, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseYear(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestTableLastWriteWins(t *testing.T) {
	table := NewTable()

	assert.True(t, table.Set("1234567AB", Record{Year: 1950, Address: "Real"}))
	assert.True(t, table.Set("7654321BA", Record{Year: 1960}))
	assert.True(t, table.Set("1234567AB", Record{Year: 1988, Address: "Mayor"}))
	assert.False(t, table.Set("", Record{Year: 2000}))

	rec, ok := table.Get("1234567AB")
	assert.True(t, ok)
	assert.Equal(t, Record{Year: 1988, Address: "Mayor"}, rec)
	assert.Equal(t, 2, table.Len())
	assert.Equal(t, []Code{"1234567AB", "7654321BA"}, table.Codes())
}

func TestParseCodeKeepsLeadingZeros(t *testing.T) {
	assert.Equal(t, Code("0012345VK4701A"), ParseCode("  0012345VK4701A\t"))
	assert.True(t, ParseCode("   ").Empty())
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("loading table: %w", &Error{
		Kind: KindMissingColumn,
		Op:   "lookup.build",
		Err:  errors.New("RefCat"),
	})

	assert.True(t, errors.Is(err, ErrMissingColumn))
	assert.False(t, errors.Is(err, ErrFileNotFound))
	assert.Equal(t, KindMissingColumn, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "missing column")
}
