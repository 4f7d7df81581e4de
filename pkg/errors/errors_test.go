package errors

import (
	"context"
	"database/sql/driver"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestFromDB(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{"unique", &pq.Error{Code: "23505", Constraint: "facilities_natural_key_key"}, KindConstraint},
		{"foreign key", fmt.Errorf("delete: %w", &pq.Error{Code: "23503"}), KindConstraint},
		{"check raised by trigger", &pq.Error{Code: "23514"}, KindConstraint},
		{"connection", &pq.Error{Code: "08006"}, KindConnectivity},
		{"admin shutdown", &pq.Error{Code: "57P01"}, KindConnectivity},
		{"bad conn", driver.ErrBadConn, KindConnectivity},
		{"syntax", &pq.Error{Code: "42601"}, KindUnknown},
		{"plain", stderrors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, Kind(FromDB("facilities", tt.err)))
		})
	}

	assert.NoError(t, FromDB("facilities", nil))

	var cv *ConstraintViolation
	assert.True(t, stderrors.As(FromDB("facilities", &pq.Error{Code: "23505", Constraint: "uq"}), &cv))
	assert.Equal(t, "facilities", cv.Table)
	assert.Equal(t, "uq", cv.Constraint)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(NewSourceFormatErrorf("a.csv", "no header")))
	assert.True(t, IsFatal(fmt.Errorf("run: %w", NewConnectivityError("postgres", stderrors.New("refused")))))
	assert.True(t, IsFatal(context.DeadlineExceeded))

	assert.False(t, IsFatal(NewFieldNormalizationError("latitude", "abc", "unparseable")))
	assert.False(t, IsFatal(NewMatchAmbiguousError("facility", "UBS", []string{"UBS A", "UBS B"})))
	assert.False(t, IsFatal(&ConstraintViolation{Table: "facilities"}))
}

func TestSourceFormatError_Message(t *testing.T) {
	err := NewSourceFormatErrorf("unidades.csv", "expected %d columns", 4).AtLine(7)
	assert.Equal(t, `source "unidades.csv" line 7: expected 4 columns`, err.Error())

	wrapped := NewSourceFormatError("x.xlsx", "cannot open", stderrors.New("zip: not a valid zip file"))
	assert.Contains(t, wrapped.Error(), "zip: not a valid zip file")
	assert.Equal(t, KindSourceFormat, Kind(wrapped))
}
