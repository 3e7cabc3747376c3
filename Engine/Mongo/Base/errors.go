package base

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

var (
	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = stderrors.New("eloquent: no matching document")
	// ErrInvalidArgument marks programming errors caught before any store I/O.
	ErrInvalidArgument = stderrors.New("eloquent: invalid argument")
	// ErrMultipleFound is matched by every *MultipleFoundError.
	ErrMultipleFound = stderrors.New("eloquent: more than one matching document")
)

// NotFoundError is returned by the *OrFail terminals and Sole.
type NotFoundError struct {
	Collection string
	Filter     bson.M
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("eloquent: no document in %s matches %v", e.Collection, e.Filter)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// MultipleFoundError is returned by Sole when the match is not unique.
type MultipleFoundError struct {
	Collection string
	Filter     bson.M
	Count      int64
}

func (e *MultipleFoundError) Error() string {
	return fmt.Sprintf("eloquent: %d documents in %s match %v, expected one", e.Count, e.Collection, e.Filter)
}

func (e *MultipleFoundError) Is(target error) bool {
	return target == ErrMultipleFound
}

func invalidArgument(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrNotFound)
}

func IsInvalidArgument(err error) bool {
	return stderrors.Is(err, ErrInvalidArgument)
}

func IsMultipleFound(err error) bool {
	return stderrors.Is(err, ErrMultipleFound)
}
