package csvkit

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Record is one data row keyed by canonical (lower-cased, trimmed) header
// names. Missing trailing fields read as empty strings.
type Record struct {
	// Line is the 1-based source line of the record, for error reporting.
	Line   int
	Fields map[string]string
}

func (r Record) Get(name string) string {
	return r.Fields[strings.ToLower(strings.TrimSpace(name))]
}

// Blank reports whether every field of the record is empty or whitespace.
func (r Record) Blank() bool {
	for _, v := range r.Fields {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Document is a decoded delimited file: the canonical header plus the data
// records in source order, fully-blank rows dropped.
type Document struct {
	Header  []string
	Records []Record
}

// HasColumn reports whether the header declares the given column
// (case-insensitive).
func (d *Document) HasColumn(name string) bool {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, h := range d.Header {
		if h == want {
			return true
		}
	}
	return false
}

// Decode parses RFC4180-style delimited text: quoted fields may embed commas,
// newlines and doubled quotes. Header names are canonicalized to lower case
// and used as field keys for every subsequent record.
func Decode(r io.Reader) (*Document, error) {
	br := stripUTF8BOM(bufio.NewReader(r))

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = false

	header, err := readHeader(cr)
	if err != nil {
		return nil, err
	}

	doc := &Document{Header: header}
	for {
		rec, err := cr.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			// csv.ParseError already names the offending line.
			return nil, err
		}
		if len(rec) == 0 {
			continue
		}
		line, _ := cr.FieldPos(0)

		fields := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(rec) {
				fields[name] = rec[i]
			} else {
				fields[name] = ""
			}
		}

		record := Record{Line: line, Fields: fields}
		if record.Blank() {
			continue
		}
		doc.Records = append(doc.Records, record)
	}

	return doc, nil
}

func stripUTF8BOM(r *bufio.Reader) *bufio.Reader {
	b, err := r.Peek(3)
	if err == nil && len(b) == 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = r.Discard(3)
	}
	return r
}

func readHeader(r *csv.Reader) ([]string, error) {
	h, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("missing header")
		}
		return nil, err
	}
	for i := range h {
		h[i] = strings.ToLower(strings.TrimSpace(h[i]))
		if !utf8.ValidString(h[i]) {
			return nil, fmt.Errorf("invalid header encoding")
		}
	}
	return h, nil
}
