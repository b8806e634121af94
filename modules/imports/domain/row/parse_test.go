package row_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundflow/receipts/modules/imports/domain/row"
)

func TestParseAmountCents(t *testing.T) {
	cases := []struct {
		input string
		want  int64
	}{
		{"$1,234.56", 123456},
		{"(1234.56)", -123456},
		{"1234", 123400},
		{"0.5", 50},
		{"  $99 ", 9900},
		{"-12.00", -1200},
		{"($2,000)", -200000},
		{".25", 25},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := row.ParseAmountCents(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseAmountCents_Invalid(t *testing.T) {
	for _, input := range []string{"abc", "", "12.345", "$", "1.2.3"} {
		t.Run(input, func(t *testing.T) {
			_, err := row.ParseAmountCents(input)
			assert.Error(t, err)
		})
	}
}

func TestParseYear(t *testing.T) {
	year, err := row.ParseYear(" 2025 ")
	require.NoError(t, err)
	assert.Equal(t, 2025, year)

	for _, input := range []string{"1999", "2101", "20x5", ""} {
		_, err := row.ParseYear(input)
		assert.Error(t, err, input)
	}
}

func TestParse(t *testing.T) {
	raw := row.RawRow{Fields: map[string]string{
		"member_id": " M-100 ",
		"branch":    "North",
		"amount":    "$1,234.56",
		"year":      "2025",
		"note":      "ignored",
	}}
	parsed, err := row.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "M-100", parsed.MemberID)
	assert.Equal(t, "North", parsed.Branch)
	assert.Equal(t, int64(123456), parsed.AmountCents)
	assert.Equal(t, 2025, parsed.Year)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"missing member": {"amount": "10", "year": "2025"},
		"bad amount":     {"member_id": "M-1", "amount": "abc", "year": "2025"},
		"bad year":       {"member_id": "M-1", "amount": "10", "year": "1888"},
	}
	for name, fields := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := row.Parse(row.RawRow{Fields: fields})
			var verr *row.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}
