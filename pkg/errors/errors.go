package errors

import (
	"context"
	"database/sql/driver"
	stderrors "errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"
)

// Error kinds reported in run summaries.
const (
	KindSourceFormat       = "source_format"
	KindFieldNormalization = "field_normalization"
	KindMatchAmbiguous     = "match_ambiguous"
	KindConstraint         = "constraint_violation"
	KindConnectivity       = "connectivity"
	KindUnknown            = "unknown"
)

// SourceFormatError means the source could not be read at all. Fatal for the run.
type SourceFormatError struct {
	Source string
	Line   int
	Reason string
	Err    error
}

func NewSourceFormatError(source, reason string, err error) *SourceFormatError {
	return &SourceFormatError{Source: source, Reason: reason, Err: err}
}

func NewSourceFormatErrorf(source string, format string, args ...any) *SourceFormatError {
	return &SourceFormatError{Source: source, Reason: fmt.Sprintf(format, args...)}
}

func (e *SourceFormatError) AtLine(line int) *SourceFormatError {
	e.Line = line
	return e
}

func (e *SourceFormatError) Error() string {
	msg := fmt.Sprintf("source %q: %s", e.Source, e.Reason)
	if e.Line > 0 {
		msg = fmt.Sprintf("source %q line %d: %s", e.Source, e.Line, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SourceFormatError) Unwrap() error { return e.Err }

// FieldNormalizationError is a single field problem. The row proceeds with the field unset or flagged.
type FieldNormalizationError struct {
	Field  string
	Value  string
	Reason string
}

func NewFieldNormalizationError(field, value, reason string) *FieldNormalizationError {
	return &FieldNormalizationError{Field: field, Value: value, Reason: reason}
}

func (e *FieldNormalizationError) Error() string {
	return fmt.Sprintf("field '%s' value %q: %s", e.Field, e.Value, e.Reason)
}

// MatchAmbiguousError holds a row at pending instead of guessing.
type MatchAmbiguousError struct {
	Kind       string
	Target     string
	Candidates []string
}

func NewMatchAmbiguousError(kind, target string, candidates []string) *MatchAmbiguousError {
	return &MatchAmbiguousError{Kind: kind, Target: target, Candidates: candidates}
}

func (e *MatchAmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous %s match for %q: %s", e.Kind, e.Target, strings.Join(e.Candidates, " | "))
}

// ConstraintViolation is a uniqueness or foreign key failure at write time. The row is skipped.
type ConstraintViolation struct {
	Table      string
	Constraint string
	Detail     string
	Err        error
}

func (e *ConstraintViolation) Error() string {
	msg := "constraint violation"
	if e.Table != "" {
		msg += " on " + e.Table
	}
	if e.Constraint != "" {
		msg += " (" + e.Constraint + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ConstraintViolation) Unwrap() error { return e.Err }

// ConnectivityError means the source or the store is unreachable. Fatal, safe to retry the run.
type ConnectivityError struct {
	Target string
	Err    error
}

func NewConnectivityError(target string, err error) *ConnectivityError {
	return &ConnectivityError{Target: target, Err: err}
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s unreachable: %v", e.Target, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

func IsSourceFormatError(err error) bool {
	var target *SourceFormatError
	return stderrors.As(err, &target)
}

func IsFieldNormalizationError(err error) bool {
	var target *FieldNormalizationError
	return stderrors.As(err, &target)
}

func IsMatchAmbiguousError(err error) bool {
	var target *MatchAmbiguousError
	return stderrors.As(err, &target)
}

func IsConstraintViolation(err error) bool {
	var target *ConstraintViolation
	return stderrors.As(err, &target)
}

func IsConnectivityError(err error) bool {
	var target *ConnectivityError
	return stderrors.As(err, &target)
}

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	return IsSourceFormatError(err) || IsConnectivityError(err) || stderrors.Is(err, context.DeadlineExceeded)
}

// Kind classifies err for summaries and metrics labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsSourceFormatError(err):
		return KindSourceFormat
	case IsFieldNormalizationError(err):
		return KindFieldNormalization
	case IsMatchAmbiguousError(err):
		return KindMatchAmbiguous
	case IsConstraintViolation(err):
		return KindConstraint
	case IsConnectivityError(err):
		return KindConnectivity
	default:
		return KindUnknown
	}
}

// FromDB converts driver errors into the taxonomy. Unknown errors are returned unchanged.
func FromDB(table string, err error) error {
	if err == nil {
		return nil
	}
	if IsConstraintViolation(err) || IsConnectivityError(err) {
		return err
	}

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "23":
			return &ConstraintViolation{Table: table, Constraint: pqErr.Constraint, Detail: pqErr.Detail, Err: err}
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57":
			return NewConnectivityError("database", err)
		}
		return err
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) || stderrors.Is(err, driver.ErrBadConn) {
		return NewConnectivityError("database", err)
	}
	return err
}
