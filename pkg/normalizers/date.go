package normalizers

import (
	"math"
	"strconv"
	"strings"
	"time"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
)

// SerialEpoch is day zero of the spreadsheet serial date system. Serial 25569 is 1970-01-01.
var SerialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2006-01-02T15:04:05Z07:00", "02-01-2006"}

// SerialToDate converts a spreadsheet day serial to a calendar date. The fractional part is the time of day.
func SerialToDate(serial float64) time.Time {
	days := math.Floor(serial)
	return SerialEpoch.AddDate(0, 0, int(days)).Add(time.Duration(math.Round((serial-days)*86400)) * time.Second)
}

// NormalizeDate accepts a day serial or a textual date. Blank and sentinel values return nil without error.
func NormalizeDate(field, raw string) (*time.Time, *ferrors.FieldNormalizationError) {
	text := CleanText(raw)
	if text == nil {
		return nil, nil
	}

	if serial, err := strconv.ParseFloat(strings.ReplaceAll(*text, ",", "."), 64); err == nil {
		if serial <= 0 {
			return nil, ferrors.NewFieldNormalizationError(field, raw, "date serial must be positive")
		}
		d := SerialToDate(serial)
		return &d, nil
	}

	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, *text); err == nil {
			d = d.UTC()
			return &d, nil
		}
	}
	return nil, ferrors.NewFieldNormalizationError(field, raw, "unrecognized date")
}
