// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested task does not exist or has been
// evicted. The two cases are indistinguishable on purpose.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates malformed client input. Wrap it with the field
// detail: fmt.Errorf("%w: prompt is required", domain.ErrValidation).
var ErrValidation = errors.New("validation")

// ErrConflict indicates an id collision on insert.
var ErrConflict = errors.New("conflict: task id already exists")
