package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrFetch is returned when a page could not be rendered or its content extracted.
	ErrFetch = errors.New("fetch failed")
	// ErrGeneration is returned when the inference service could not produce an answer.
	ErrGeneration = errors.New("generation failed")
)
