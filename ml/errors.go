package ml

import "errors"

var (
	// ErrSchemaMismatch reports a row or request missing a required field,
	// or carrying a field in an unexpected shape.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrInvalidInput reports a value outside its physical domain.
	ErrInvalidInput = errors.New("invalid input")
	// ErrArtifactCorrupt reports an artifact that cannot be decoded or does
	// not match the compiled feature schema.
	ErrArtifactCorrupt = errors.New("artifact corrupt")
	// ErrArtifactMissing reports an artifact path with no file behind it.
	ErrArtifactMissing = errors.New("artifact missing")
)

// ErrorKind maps an error to the taxonomy name used in API responses.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrArtifactCorrupt):
		return "artifact_corrupt"
	case errors.Is(err, ErrArtifactMissing):
		return "artifact_missing"
	default:
		return "internal"
	}
}
