package models

import (
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
)

// EntityKind identifies a canonical entity table
type EntityKind string

const (
	EntityFacility     EntityKind = "facility"
	EntityProfessional EntityKind = "professional"
	EntitySpecialty    EntityKind = "specialty"
)

var entityTables = map[EntityKind]string{
	EntityFacility:     "facilities",
	EntityProfessional: "professionals",
	EntitySpecialty:    "specialties",
}

func (k EntityKind) Table() string {
	return entityTables[k]
}

func (k EntityKind) Valid() bool {
	_, ok := entityTables[k]
	return ok
}

func EntityKinds() []EntityKind {
	return []EntityKind{EntityFacility, EntityProfessional, EntitySpecialty}
}

// CanonicalEntity is the production-of-record row for a facility, professional or specialty.
// NaturalKey is immutable once set.
type CanonicalEntity struct {
	ID         int64                             `json:"id" db:"id"`
	Kind       EntityKind                        `json:"kind" db:"-"`
	NaturalKey *string                           `json:"natural_key,omitempty" db:"natural_key"`
	Name       string                            `json:"name" db:"name"`
	Category   *string                           `json:"category,omitempty" db:"category"`
	Address    *string                           `json:"address,omitempty" db:"address"`
	District   *string                           `json:"district,omitempty" db:"district"`
	Phone      *string                           `json:"phone,omitempty" db:"phone"`
	Hours      *string                           `json:"hours,omitempty" db:"hours"`
	Latitude   *float64                          `json:"latitude,omitempty" db:"latitude"`
	Longitude  *float64                          `json:"longitude,omitempty" db:"longitude"`
	Attributes database.JSONB[map[string]string] `json:"attributes" db:"attributes"`
	Active     bool                              `json:"active" db:"active"`
	CreatedAt  time.Time                         `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time                         `json:"updated_at" db:"updated_at"`
}

// MutableFields is the part of an entity an import is allowed to overwrite.
type MutableFields struct {
	Category   *string           `json:"category,omitempty"`
	Address    *string           `json:"address,omitempty"`
	District   *string           `json:"district,omitempty"`
	Phone      *string           `json:"phone,omitempty"`
	Hours      *string           `json:"hours,omitempty"`
	Latitude   *float64          `json:"latitude,omitempty"`
	Longitude  *float64          `json:"longitude,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Apply copies non-nil incoming values onto the entity and reports whether anything changed.
// Missing incoming values never blank out stored ones.
func (e *CanonicalEntity) Apply(f MutableFields) bool {
	changed := false
	changed = setString(&e.Category, f.Category) || changed
	changed = setString(&e.Address, f.Address) || changed
	changed = setString(&e.District, f.District) || changed
	changed = setString(&e.Phone, f.Phone) || changed
	changed = setString(&e.Hours, f.Hours) || changed
	changed = setFloat(&e.Latitude, f.Latitude) || changed
	changed = setFloat(&e.Longitude, f.Longitude) || changed

	for k, v := range f.Attributes {
		if v == "" {
			continue
		}
		if e.Attributes.Data == nil {
			e.Attributes.Data = map[string]string{}
		}
		if e.Attributes.Data[k] != v {
			e.Attributes.Data[k] = v
			changed = true
		}
	}
	return changed
}

func (e *CanonicalEntity) Fields() MutableFields {
	return MutableFields{
		Category:   e.Category,
		Address:    e.Address,
		District:   e.District,
		Phone:      e.Phone,
		Hours:      e.Hours,
		Latitude:   e.Latitude,
		Longitude:  e.Longitude,
		Attributes: e.Attributes.Data,
	}
}

func setString(dst **string, src *string) bool {
	if src == nil {
		return false
	}
	if *dst != nil && **dst == *src {
		return false
	}
	v := *src
	*dst = &v
	return true
}

func setFloat(dst **float64, src *float64) bool {
	if src == nil {
		return false
	}
	if *dst != nil && **dst == *src {
		return false
	}
	v := *src
	*dst = &v
	return true
}

// NormalizeKey is the stored and compared form of a natural key: trimmed and upper-cased.
// A blank key is no key.
func NormalizeKey(key *string) *string {
	if key == nil {
		return nil
	}
	k := strings.ToUpper(strings.TrimSpace(*key))
	if k == "" {
		return nil
	}
	return &k
}

// NameKey is the identity used for exact-name matching and duplicate grouping.
func NameKey(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}

// RelationshipKind identifies a junction table
type RelationshipKind string

const (
	RelFacilityProfessional  RelationshipKind = "facility_professional"
	RelProfessionalSpecialty RelationshipKind = "professional_specialty"
	RelFacilitySpecialty     RelationshipKind = "facility_specialty"
)

type relationshipDef struct {
	table string
	left  EntityKind
	right EntityKind
}

var relationshipDefs = map[RelationshipKind]relationshipDef{
	RelFacilityProfessional:  {table: "facility_professionals", left: EntityFacility, right: EntityProfessional},
	RelProfessionalSpecialty: {table: "professional_specialties", left: EntityProfessional, right: EntitySpecialty},
	RelFacilitySpecialty:     {table: "facility_specialties", left: EntityFacility, right: EntitySpecialty},
}

func (k RelationshipKind) Table() string { return relationshipDefs[k].table }
func (k RelationshipKind) Left() EntityKind { return relationshipDefs[k].left }
func (k RelationshipKind) Right() EntityKind { return relationshipDefs[k].right }

func RelationshipKinds() []RelationshipKind {
	return []RelationshipKind{RelFacilityProfessional, RelProfessionalSpecialty, RelFacilitySpecialty}
}

// RelationshipKindsFor returns the junctions that reference the given entity kind on either side.
func RelationshipKindsFor(kind EntityKind) []RelationshipKind {
	var out []RelationshipKind
	for _, rk := range RelationshipKinds() {
		if rk.Left() == kind || rk.Right() == kind {
			out = append(out, rk)
		}
	}
	return out
}

// Relationship is a junction row. (LeftID, RightID) is unique per kind.
type Relationship struct {
	ID        int64            `json:"id" db:"id"`
	Kind      RelationshipKind `json:"kind" db:"-"`
	LeftID    int64            `json:"left_id" db:"left_id"`
	RightID   int64            `json:"right_id" db:"right_id"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

// Pair is the identity of a relationship row.
type Pair struct {
	LeftID  int64
	RightID int64
}

func (r Relationship) Pair() Pair {
	return Pair{LeftID: r.LeftID, RightID: r.RightID}
}
