// Package pdberr defines the error values shared by the PDB decoders, the
// symbol/type store and the address resolver.
package pdberr

import (
	"errors"
	"fmt"
)

// Decode-time errors. Any of these aborts construction of a store.
var (
	// ErrMalformedContainer is returned when the MSF signature or page size is invalid.
	ErrMalformedContainer = errors.New("malformed MSF container")

	// ErrOutOfRange is returned when a page or stream index lies outside the container.
	ErrOutOfRange = errors.New("index out of range")

	// ErrTruncatedInput is returned when a declared length runs past the available bytes.
	ErrTruncatedInput = errors.New("truncated input")

	// ErrDanglingReference is returned when a type reference names no decoded record.
	ErrDanglingReference = errors.New("dangling type reference")
)

// Query-time errors. These never invalidate a store.
var (
	// ErrNotFound is returned when a symbol or root type name is absent.
	ErrNotFound = errors.New("not found")

	// ErrUnknownField is returned when a path segment names no field of the current aggregate.
	ErrUnknownField = errors.New("unknown field")

	// ErrNotAggregate is returned when a non-final path segment is not a struct or union.
	ErrNotAggregate = errors.New("not an aggregate")

	// ErrIncompleteType is returned when an aggregate's layout is unavailable
	// because its forward reference was never resolved.
	ErrIncompleteType = errors.New("incomplete type")

	// ErrInvalidPath is returned for empty paths or empty segments.
	ErrInvalidPath = errors.New("invalid field path")
)

// DecodeError locates a decode failure inside a stream.
type DecodeError struct {
	Stream string // e.g. "TPI", "symbol records", "module 12 symbols"
	Offset int    // byte offset of the failing record within the stream
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s stream at offset 0x%x: %v", e.Stream, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// PathError reports why a field path could not be resolved.
type PathError struct {
	Path    string
	Segment string
	Err     error
}

func (e *PathError) Error() string {
	if e.Segment == "" {
		return fmt.Sprintf("path %q: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("path %q at %q: %v", e.Path, e.Segment, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }
