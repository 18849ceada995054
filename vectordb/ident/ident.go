// Package ident provides the TableIdentifier value object. Identifiers are
// interpolated into DDL and therefore can only be built through validating
// factories; there is no way to hold an unvalidated identifier.
package ident

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/minio/highwayhash"
	"github.com/vecdex/vecdex/vectordb"
)

var hashKey = []byte("4ecdex-table-ident-hash-key-v1..")

var validIdentifier = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// TableIdentifier names a physical vector table. The zero value is invalid.
type TableIdentifier struct {
	value string
}

// New validates name against the restricted identifier character set and
// returns it as a TableIdentifier.
func New(name string) (TableIdentifier, error) {
	if name == "" {
		return TableIdentifier{}, vectordb.NewValidationError("table identifier", "empty")
	}
	if !validIdentifier.MatchString(name) {
		return TableIdentifier{}, vectordb.NewValidationError("table identifier", "%q contains characters outside [A-Za-z0-9_-]", name)
	}
	return TableIdentifier{value: name}, nil
}

// ForModel derives the deterministic identifier of a corpus-wide index.
func ForModel(modelName string, dimension int) (TableIdentifier, error) {
	if modelName == "" {
		return TableIdentifier{}, vectordb.NewValidationError("model name", "empty")
	}
	if dimension <= 0 {
		return TableIdentifier{}, vectordb.NewValidationError("dimension", "%d is not positive", dimension)
	}
	suffix := keyHash(fmt.Sprintf("%s|%d", modelName, dimension))
	return New(fmt.Sprintf("vec_%s_%d_%s", Sanitize(modelName), dimension, suffix))
}

// ForDocument derives the deterministic identifier of a document-scoped index.
func ForDocument(documentID, modelName string, dimension int) (TableIdentifier, error) {
	if documentID == "" {
		return TableIdentifier{}, vectordb.NewValidationError("document id", "empty")
	}
	if modelName == "" {
		return TableIdentifier{}, vectordb.NewValidationError("model name", "empty")
	}
	if dimension <= 0 {
		return TableIdentifier{}, vectordb.NewValidationError("dimension", "%d is not positive", dimension)
	}
	suffix := keyHash(fmt.Sprintf("%s|%s|%d", documentID, modelName, dimension))
	return New(fmt.Sprintf("vec_doc_%s_%s_%d_%s", Sanitize(documentID), Sanitize(modelName), dimension, suffix))
}

// String returns the validated identifier text.
func (t TableIdentifier) String() string { return t.value }

// IsZero reports whether the identifier was never constructed via a factory.
func (t TableIdentifier) IsZero() bool { return t.value == "" }

// Sanitize maps an arbitrary key component onto the identifier character set.
// The mapping is lossy; collision resistance comes from the hash suffix that
// derivation appends.
func Sanitize(component string) string {
	var builder strings.Builder
	builder.Grow(len(component))
	for _, r := range component {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			builder.WriteRune(r)
		default:
			builder.WriteByte('_')
		}
	}
	return builder.String()
}

// FileComponent renders an arbitrary key component for use in an index file
// name: the sanitized text plus the hash suffix of the original, so distinct
// inputs stay distinct after the lossy sanitization.
func FileComponent(component string) string {
	return Sanitize(component) + "_" + keyHash(component)
}

func keyHash(canonical string) string {
	return fmt.Sprintf("%08x", highwayhash.Sum64([]byte(canonical), hashKey))
}
