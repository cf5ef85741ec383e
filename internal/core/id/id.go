// Package id provides UUIDv7 identifiers for documents.
// UUIDv7 is time-ordered, so ascending id order is creation order.
package id

import (
	"bytes"
	"slices"

	"github.com/google/uuid"
)

// ID is a type alias for UUID, used across all entities.
type ID = uuid.UUID

// New generates a new UUIDv7.
func New() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to V4 if V7 fails (should never happen)
		return uuid.New()
	}
	return id
}

// Parse converts string to ID with validation.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// ParseAll converts a list of strings, failing on the first invalid one.
func ParseAll(values []string) ([]ID, error) {
	ids := make([]ID, 0, len(values))
	for _, v := range values {
		parsed, err := uuid.Parse(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, parsed)
	}
	return ids, nil
}

// MustParse converts string to ID, panics on error.
// Use only for constants and tests.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// IsNil checks if ID is zero-value.
func IsNil(id ID) bool {
	return id == uuid.Nil
}

// Compare orders ids by their byte representation.
func Compare(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}

// SortAscending sorts ids in place and drops duplicates.
func SortAscending(ids []ID) []ID {
	slices.SortFunc(ids, Compare)
	return slices.Compact(ids)
}

// Strings renders ids for logs and error details.
func Strings(ids []ID) []string {
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}
