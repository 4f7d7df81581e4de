package models

import (
	"strings"
	"time"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
)

// RawRecord is one row exactly as read from a source. Index is 1-based, header excluded.
type RawRecord struct {
	Index  int               `json:"index"`
	Source string            `json:"source"`
	Fields map[string]string `json:"fields"`
}

func (r RawRecord) Get(key string) string {
	return r.Fields[key]
}

// CoordinateFlag marks a coordinate that could not be trusted as-is.
type CoordinateFlag string

const (
	CoordinateOK          CoordinateFlag = ""
	CoordinateOutOfRange  CoordinateFlag = "out_of_range"
	CoordinateOutOfBounds CoordinateFlag = "out_of_bounds"
	CoordinateUnparseable CoordinateFlag = "unparseable"
)

// RelatedRef names another entity a record should be linked to.
type RelatedRef struct {
	Kind       EntityKind `json:"kind"`
	Name       string     `json:"name"`
	NaturalKey *string    `json:"natural_key,omitempty"`
}

// NormalizedRecord is the typed view of a RawRecord after cleaning.
type NormalizedRecord struct {
	EntityKind     EntityKind        `json:"entity_kind" validate:"required"`
	Name           *string           `json:"name"`
	OriginalName   string            `json:"original_name"`
	NaturalKey     *string           `json:"natural_key,omitempty"`
	Category       *string           `json:"category,omitempty"`
	Address        *string           `json:"address,omitempty"`
	District       *string           `json:"district,omitempty"`
	Phone          *string           `json:"phone,omitempty"`
	Hours          *string           `json:"hours,omitempty"`
	Latitude       *float64          `json:"latitude,omitempty"`
	Longitude      *float64          `json:"longitude,omitempty"`
	CoordinateFlag CoordinateFlag    `json:"coordinate_flag,omitempty"`
	ValidFrom      *time.Time        `json:"valid_from,omitempty"`
	ValidTo        *time.Time        `json:"valid_to,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	RelatedRefs    []RelatedRef      `json:"related_refs,omitempty"`
	FieldIssues    []FieldIssue      `json:"field_issues,omitempty"`
	Raw            *RawRecord        `json:"-"`
}

// FieldIssue is the persisted form of a FieldNormalizationError.
type FieldIssue struct {
	Field  string `json:"field"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

func (n *NormalizedRecord) AddIssue(err *ferrors.FieldNormalizationError) {
	n.FieldIssues = append(n.FieldIssues, FieldIssue{Field: err.Field, Value: err.Value, Reason: err.Reason})
}

func (n *NormalizedRecord) DisplayName() string {
	if n.Name != nil {
		return *n.Name
	}
	return n.OriginalName
}

func (n *NormalizedRecord) RowIndex() int {
	if n.Raw == nil {
		return 0
	}
	return n.Raw.Index
}

// Fields returns the mutable part of the record for entity upserts.
func (n *NormalizedRecord) Fields() MutableFields {
	f := MutableFields{
		Category:   n.Category,
		Address:    n.Address,
		District:   n.District,
		Phone:      n.Phone,
		Hours:      n.Hours,
		Attributes: n.Attributes,
	}
	// flagged coordinates never reach production
	if n.CoordinateFlag == CoordinateOK {
		f.Latitude = n.Latitude
		f.Longitude = n.Longitude
	}
	return f
}

// SourceIdentity is the stable identity of a source record inside a batch, used for idempotent re-import.
func (n *NormalizedRecord) SourceIdentity() string {
	parts := []string{string(n.EntityKind), NameKey(n.OriginalName)}
	if n.NaturalKey != nil {
		parts = append(parts, *n.NaturalKey)
	}
	for _, ref := range n.RelatedRefs {
		parts = append(parts, string(ref.Kind)+"="+NameKey(ref.Name))
	}
	return strings.Join(parts, "|")
}
