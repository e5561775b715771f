package domain

import (
	"errors"
	"strings"
)

var (
	// ErrEmbeddingFailure is returned when the embedding service is unreachable
	// or answers with an unusable vector.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrDimensionMismatch is returned when a vector does not match the
	// dimension the index was built for.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrIndexUnavailable covers network, server and configuration failures
	// talking to the vector index.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrIndexUnauthorized is returned when the index rejects the credentials.
	ErrIndexUnauthorized = errors.New("vector index rejected credentials")

	ErrInvalidInput = errors.New("invalid input")
)

// ErrorKind classifies the outcome of a save or recall at the subsystem boundary.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindInvalidInput      ErrorKind = "invalid_input"
	KindEmbeddingFailure  ErrorKind = "embedding_failure"
	KindDimensionMismatch ErrorKind = "dimension_mismatch"
	KindIndexUnavailable  ErrorKind = "index_unavailable"
	KindNoResults         ErrorKind = "no_results"
)

// IsDimensionMismatch reports whether err signals a dimension mismatch, either
// through ErrDimensionMismatch or through the remote service's message text.
func IsDimensionMismatch(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDimensionMismatch) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "dimension mismatch") ||
		strings.Contains(msg, "vector dimension") ||
		strings.Contains(msg, "does not match the dimension") ||
		strings.Contains(msg, "must have the same length")
}

// Classify maps an error returned by a client into an ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrEmbeddingFailure):
		return KindEmbeddingFailure
	case IsDimensionMismatch(err):
		return KindDimensionMismatch
	default:
		return KindIndexUnavailable
	}
}
