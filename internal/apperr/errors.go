// Package apperr holds sentinel errors shared between packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrNotRegistered = errors.New("document not registered")
	ErrNotInBatch    = errors.New("document not in batch")
	ErrInvalidInput  = errors.New("invalid input")
)
