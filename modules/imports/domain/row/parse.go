package row

import (
	"fmt"
	"strconv"
	"strings"
)

// Required CSV columns. Extra columns are carried along in RawRow but ignored
// by validation.
const (
	FieldMemberID = "member_id"
	FieldBranch   = "branch"
	FieldAmount   = "amount"
	FieldYear     = "year"
)

const (
	MinYear = 2000
	MaxYear = 2100
)

// ParsedRow is the validated form of a RawRow. Producing one guarantees the
// row can be attempted against the directory service.
type ParsedRow struct {
	MemberID    string
	Branch      string
	AmountCents int64
	Year        int
}

// ValidationError marks a row as malformed input. Rows failing validation are
// terminal without consuming any external-call budget.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid row: %s %s", e.Field, e.Reason)
}

// Parse validates the required fields of a raw record.
func Parse(raw RawRow) (*ParsedRow, error) {
	memberID := strings.TrimSpace(raw.Get(FieldMemberID))
	if memberID == "" {
		return nil, &ValidationError{Field: FieldMemberID, Reason: "is missing"}
	}
	amount, err := ParseAmountCents(raw.Get(FieldAmount))
	if err != nil {
		return nil, &ValidationError{Field: FieldAmount, Reason: "does not parse"}
	}
	year, err := ParseYear(raw.Get(FieldYear))
	if err != nil {
		return nil, &ValidationError{Field: FieldYear, Reason: "does not parse"}
	}
	return &ParsedRow{
		MemberID:    memberID,
		Branch:      strings.TrimSpace(raw.Get(FieldBranch)),
		AmountCents: amount,
		Year:        year,
	}, nil
}

// ParseAmountCents converts a currency string to integer cents. It tolerates
// the punctuation spreadsheets produce: a leading dollar sign, thousands
// separators, surrounding whitespace, and parenthesized negatives.
func ParseAmountCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	}
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("too many decimal places: %q", frac)
	}
	for frac != "" && len(frac) < 2 {
		frac += "0"
	}
	if frac == "" {
		frac = "00"
	}
	if whole == "" {
		whole = "0"
	}
	cents, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if negative {
		cents = -cents
	}
	return cents, nil
}

// ParseYear parses a four-digit year and bounds it to a sane range.
func ParseYear(s string) (int, error) {
	year, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse year: %w", err)
	}
	if year < MinYear || year > MaxYear {
		return 0, fmt.Errorf("year %d out of range", year)
	}
	return year, nil
}
