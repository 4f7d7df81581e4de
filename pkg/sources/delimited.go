package sources

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/pkg/errors"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var delimiterCandidates = []rune{',', ';', '\t', '|'}

// DelimitedReader reads CSV-like text. The delimiter is sniffed from the header line.
type DelimitedReader struct {
	name string
	r    io.Reader
}

func NewDelimitedReader(name string, r io.Reader) *DelimitedReader {
	return &DelimitedReader{name: name, r: r}
}

func (d *DelimitedReader) Format() string { return FormatDelimited }

func (d *DelimitedReader) Read(ctx context.Context) ([]models.RawRecord, error) {
	data, err := io.ReadAll(d.r)
	if err != nil {
		return nil, ferrors.NewSourceFormatError(d.name, "cannot read", errors.Wrap(err, "read delimited source"))
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ferrors.NewSourceFormatErrorf(d.name, "empty file")
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = SniffDelimiter(firstLine(data))
	cr.FieldsPerRecord = -1

	var rows [][]string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, ferrors.NewSourceFormatError(d.name, pe.Err.Error(), err).AtLine(pe.Line)
			}
			return nil, ferrors.NewSourceFormatError(d.name, "malformed record", err)
		}
		rows = append(rows, rec)
	}
	return recordsFromRows(d.name, rows)
}

// SniffDelimiter picks the candidate that occurs most often outside quotes, defaulting to a comma.
func SniffDelimiter(line string) rune {
	counts := map[rune]int{}
	quoted := false
	for _, r := range line {
		if r == '"' {
			quoted = !quoted
			continue
		}
		if !quoted {
			counts[r]++
		}
	}
	best, bestCount := ',', 0
	for _, c := range delimiterCandidates {
		if counts[c] > bestCount {
			best, bestCount = c, counts[c]
		}
	}
	return best
}

func firstLine(data []byte) string {
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}
