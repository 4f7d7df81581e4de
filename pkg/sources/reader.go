// Package sources reads raw records from spreadsheets, delimited text, text listings and an
// external database view. Readers fail fast with SourceFormatError before any write happens.
package sources

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/Ramsey-B/fern/pkg/database"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

const (
	FormatDelimited = "delimited"
	FormatXLSX      = "xlsx"
	FormatListing   = "listing"
	FormatView      = "view"
)

// Reader yields every raw record of one source
type Reader interface {
	Format() string
	Read(ctx context.Context) ([]models.RawRecord, error)
}

// Spec locates a source
type Spec struct {
	// Location is a file path or a postgres:// DSN
	Location string
	// Sheet selects a spreadsheet tab; empty means the first one
	Sheet string
	// View is the relation read from a database source
	View string
}

// IsDSN reports whether location points at a database instead of a file
func IsDSN(location string) bool {
	l := strings.ToLower(location)
	return strings.HasPrefix(l, "postgres://") || strings.HasPrefix(l, "postgresql://")
}

// ViewOpener connects to an external database
type ViewOpener func(ctx context.Context, dsn string) (database.Executor, func() error, error)

// Open picks a reader by extension or DSN. The returned close func releases files and connections.
func Open(ctx context.Context, spec Spec, openView ViewOpener) (Reader, func() error, error) {
	if IsDSN(spec.Location) {
		if openView == nil {
			return nil, nil, ferrors.NewSourceFormatErrorf(spec.Location, "database sources are not configured")
		}
		exec, closeFn, err := openView(ctx, spec.Location)
		if err != nil {
			return nil, nil, ferrors.NewConnectivityError("source database", err)
		}
		return NewViewReader(exec, spec.View), closeFn, nil
	}

	f, err := os.Open(spec.Location)
	if err != nil {
		return nil, nil, ferrors.NewSourceFormatError(spec.Location, "cannot open file", err)
	}
	name := filepath.Base(spec.Location)

	switch ext := strings.ToLower(filepath.Ext(spec.Location)); ext {
	case ".xlsx", ".xlsm":
		return NewXLSXReader(name, f, spec.Sheet), f.Close, nil
	case ".csv", ".tsv", ".txt":
		return NewDelimitedReader(name, f), f.Close, nil
	case ".lst":
		return NewListingReader(name, f), f.Close, nil
	default:
		_ = f.Close()
		return nil, nil, ferrors.NewSourceFormatErrorf(spec.Location, "unsupported file extension %q", ext)
	}
}

// recordsFromRows turns a header row plus data rows into raw records. Leading blank rows are skipped;
// blank data rows are skipped but still advance the index so it matches the sheet.
func recordsFromRows(source string, rows [][]string) ([]models.RawRecord, error) {
	start := 0
	for start < len(rows) && blankRow(rows[start]) {
		start++
	}
	if start == len(rows) {
		return nil, ferrors.NewSourceFormatErrorf(source, "no header row")
	}

	header := make([]string, len(rows[start]))
	seen := map[string]bool{}
	named := 0
	for i, h := range rows[start] {
		h = normalizers.CollapseWhitespace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" || seen[normalizers.Key(h)] {
			continue
		}
		seen[normalizers.Key(h)] = true
		header[i] = h
		named++
	}
	if named == 0 {
		return nil, ferrors.NewSourceFormatErrorf(source, "header row has no column names").AtLine(start + 1)
	}

	var out []models.RawRecord
	for i, row := range rows[start+1:] {
		if blankRow(row) {
			continue
		}
		if len(row) > len(header) && !blankRow(row[len(header):]) {
			return nil, ferrors.NewSourceFormatErrorf(source, "row has %d cells but the header has %d", len(row), len(header)).AtLine(start + i + 2)
		}
		fields := make(map[string]string, named)
		for c, name := range header {
			if name == "" {
				continue
			}
			if c < len(row) {
				fields[name] = row[c]
			} else {
				fields[name] = ""
			}
		}
		out = append(out, models.RawRecord{Index: i + 1, Source: source, Fields: fields})
	}
	return out, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
