package models

import "time"

// Session is an analytics visitor session
type Session struct {
	ID              int64     `json:"id" db:"id"`
	SessionKey      string    `json:"session_key" db:"session_key"`
	FirstSeen       time.Time `json:"first_seen" db:"first_seen"`
	LastSeen        time.Time `json:"last_seen" db:"last_seen"`
	DurationSeconds *int64    `json:"duration_seconds,omitempty" db:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// UnitStat is the per-facility daily interaction aggregate
type UnitStat struct {
	ID                 int64     `json:"id" db:"id"`
	FacilityID         int64     `json:"facility_id" db:"facility_id"`
	Day                time.Time `json:"day" db:"day"`
	Views              int64     `json:"views" db:"views"`
	ContactsWhatsapp   int64     `json:"contacts_whatsapp" db:"contacts_whatsapp"`
	ContactsPhone      int64     `json:"contacts_phone" db:"contacts_phone"`
	ContactsEmail      int64     `json:"contacts_email" db:"contacts_email"`
	ContactsDirections int64     `json:"contacts_directions" db:"contacts_directions"`
	ConversionRate     *float64  `json:"conversion_rate,omitempty" db:"conversion_rate"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// Contacts is the sum of contact actions across every tracked channel.
func (u UnitStat) Contacts() int64 {
	return u.ContactsWhatsapp + u.ContactsPhone + u.ContactsEmail + u.ContactsDirections
}

// RetentionKind names an analytics table subject to age-based deletion
type RetentionKind string

const (
	RetentionEvents      RetentionKind = "events"
	RetentionSessions    RetentionKind = "sessions"
	RetentionPerformance RetentionKind = "performance"
)

var retentionTables = map[RetentionKind]string{
	RetentionEvents:      "analytics_events",
	RetentionSessions:    "analytics_sessions",
	RetentionPerformance: "analytics_performance",
}

func (k RetentionKind) Table() string {
	return retentionTables[k]
}

// Event is a raw analytics event
type Event struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PerformanceSample is a page timing sample
type PerformanceSample struct {
	ID         int64     `json:"id" db:"id"`
	Metric     string    `json:"metric" db:"metric"`
	ValueMilli float64   `json:"value_ms" db:"value_ms"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
