// Package remote defines the document store the sync engine writes to and
// the backends that implement it.
package remote

import (
	"context"
	"errors"

	"healthtrack/syncd/internal/document"
)

var ErrNotFound = errors.New("record not found")

// Store is the remote document store. Implementations accept time.Time
// values in documents and return them as time.Time.
type Store interface {
	// Create inserts doc into collection and returns the id the store assigned.
	Create(ctx context.Context, collection string, doc document.Doc) (string, error)

	// Update sets fields on the record with id. Fields not named are kept. A
	// missing record is a permanent ErrNotFound.
	Update(ctx context.Context, collection string, id string, fields document.Doc) error

	// Delete physically removes the record with id.
	Delete(ctx context.Context, collection string, id string) error

	// List returns every record of collection. Each record carries its id
	// under document.IDField.
	List(ctx context.Context, collection string) ([]document.Doc, error)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as a failure that retrying cannot fix, such as a
// malformed payload or a rejected write.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var target *permanentError
	return errors.As(err, &target)
}
