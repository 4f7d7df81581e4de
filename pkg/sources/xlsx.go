package sources

import (
	"context"
	"io"

	"github.com/xuri/excelize/v2"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

// XLSXReader reads one sheet of a workbook. Cells are read raw so date serials and
// decimal-less coordinates reach the normalizers untouched.
type XLSXReader struct {
	name  string
	r     io.Reader
	sheet string
}

func NewXLSXReader(name string, r io.Reader, sheet string) *XLSXReader {
	return &XLSXReader{name: name, r: r, sheet: sheet}
}

func (x *XLSXReader) Format() string { return FormatXLSX }

func (x *XLSXReader) Read(ctx context.Context) ([]models.RawRecord, error) {
	f, err := excelize.OpenReader(x.r)
	if err != nil {
		return nil, ferrors.NewSourceFormatError(x.name, "not a readable workbook", err)
	}
	defer f.Close()

	sheet := x.sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ferrors.NewSourceFormatErrorf(x.name, "workbook has no sheets")
		}
		sheet = sheets[0]
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, ferrors.NewSourceFormatError(x.name, "cannot read sheet "+sheet, err)
	}
	return recordsFromRows(x.name, rows)
}
