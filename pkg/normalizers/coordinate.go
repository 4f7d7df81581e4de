package normalizers

import (
	"math"
	"strconv"
	"strings"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Axis is latitude or longitude
type Axis string

const (
	Latitude  Axis = "latitude"
	Longitude Axis = "longitude"
)

// Limit is the valid magnitude for the axis.
func (a Axis) Limit() float64 {
	if a == Latitude {
		return 90
	}
	return 180
}

// maxIntegerDigits is the widest integer part a valid coordinate can have on the axis.
func (a Axis) maxIntegerDigits() int {
	if a == Latitude {
		return 2
	}
	return 3
}

// inflatedThreshold is the magnitude above which a value is treated as missing its decimal separator.
const inflatedThreshold = 1000

// BoundingBox narrows valid coordinates to a deployment region
type BoundingBox struct {
	MinLat float64 `mapstructure:"min_lat"`
	MaxLat float64 `mapstructure:"max_lat"`
	MinLng float64 `mapstructure:"min_lng"`
	MaxLng float64 `mapstructure:"max_lng"`
}

func (b *BoundingBox) contains(axis Axis, v float64) bool {
	if b == nil {
		return true
	}
	if axis == Latitude {
		return v >= b.MinLat && v <= b.MaxLat
	}
	return v >= b.MinLng && v <= b.MaxLng
}

// CoordinateResult is a normalized coordinate and its flag. Value is nil when the input had no data
// or could not be trusted; Issue is set whenever Flag is.
type CoordinateResult struct {
	Value *float64
	Flag  models.CoordinateFlag
	Issue *ferrors.FieldNormalizationError
}

// NormalizeCoordinate parses a coordinate and repairs magnitude-inflated values that lost their
// decimal separator, for example -190078 becomes -19.0078.
//
// Values above 1000 in magnitude are shifted right by counting the digits of the integer part. Shifts
// that land inside the bounding box win; otherwise the widest in-range shift is kept and flagged
// out_of_bounds. Out-of-range values that are not inflated, or that no shift can repair, return nil
// with out_of_range.
func NormalizeCoordinate(raw string, axis Axis, box *BoundingBox) CoordinateResult {
	text := CleanText(raw)
	if text == nil {
		return CoordinateResult{}
	}

	v, err := strconv.ParseFloat(strings.ReplaceAll(*text, ",", "."), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return flagged(axis, raw, nil, models.CoordinateUnparseable, "not a number")
	}

	if math.Abs(v) <= axis.Limit() {
		if !box.contains(axis, v) {
			return flagged(axis, raw, &v, models.CoordinateOutOfBounds, "outside the deployment region")
		}
		return CoordinateResult{Value: &v}
	}

	if math.Abs(v) <= inflatedThreshold {
		return flagged(axis, raw, nil, models.CoordinateOutOfRange, "outside the valid range")
	}

	digits := len(strconv.FormatFloat(math.Trunc(math.Abs(v)), 'f', 0, 64))
	var fallback *float64
	for keep := axis.maxIntegerDigits(); keep >= 1; keep-- {
		shifted := v / math.Pow10(digits-keep)
		if math.Abs(shifted) > axis.Limit() {
			continue
		}
		if box.contains(axis, shifted) {
			return CoordinateResult{Value: &shifted}
		}
		if fallback == nil {
			s := shifted
			fallback = &s
		}
	}

	if fallback != nil {
		return flagged(axis, raw, fallback, models.CoordinateOutOfBounds, "outside the deployment region after decimal repair")
	}
	return flagged(axis, raw, nil, models.CoordinateOutOfRange, "cannot be shifted into the valid range")
}

func flagged(axis Axis, raw string, v *float64, flag models.CoordinateFlag, reason string) CoordinateResult {
	return CoordinateResult{
		Value: v,
		Flag:  flag,
		Issue: ferrors.NewFieldNormalizationError(string(axis), raw, reason),
	}
}
