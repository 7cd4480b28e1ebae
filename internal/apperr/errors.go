package apperr

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrMissingPrerequisite = errors.New("missing prerequisite")
	ErrUnknownSession      = errors.New("unknown session")
)
