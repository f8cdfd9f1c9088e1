package core

import "errors"

var (
	// ErrNotFound is returned when a document, parse or report does not exist.
	ErrNotFound = errors.New("not found")
	// ErrParseFailure marks a file that could not be read or parsed.
	ErrParseFailure = errors.New("document not parseable")
	// ErrEmptyContent marks a parse that succeeded without usable text.
	ErrEmptyContent = errors.New("document has no usable text")
	// ErrMalformedResponse marks a JSON-mode reply that could not be decoded or validated.
	ErrMalformedResponse = errors.New("malformed provider response")
	// ErrDuplicateChunk marks a second chunk with the same document and index.
	ErrDuplicateChunk = errors.New("duplicate chunk index")
)
