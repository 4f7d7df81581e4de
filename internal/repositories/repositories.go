// Package repositories holds what the postgres repositories share. Each sub-package implements one
// of the store ports against the schema in db/migrations.
package repositories

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
)

// DBError classifies err for callers. Constraint and connectivity failures keep their taxonomy type
// so the pipeline can isolate or abort on them; anything else becomes an internal error.
func DBError(table, msg string, err error) error {
	if err == nil {
		return nil
	}
	err = ferrors.FromDB(table, err)
	if ferrors.IsConstraintViolation(err) || ferrors.IsConnectivityError(err) {
		return err
	}
	return httperror.NewHTTPErrorf(http.StatusInternalServerError, "%s: %v", msg, err)
}

// IsNotFound reports whether err is a repository not-found error
func IsNotFound(err error) bool {
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}
