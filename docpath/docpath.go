// Package docpath validates and manipulates slash-delimited document and
// collection paths.
//
// A path alternates collection and document segments starting with a
// collection: an odd number of segments addresses a collection, an even
// number addresses a document. Segments must be non-empty.
package docpath

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is returned when a path is empty, has blank segments, or has the
// wrong segment parity for the requested kind.
var ErrInvalid = errors.New("prism: invalid path")

// Split returns the path's segments. It does not validate them.
func Split(path string) []string {
	return strings.Split(path, "/")
}

// Join joins segments into a path.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// IsDocument reports whether path has document parity (even segment count).
// It does not check segment contents; use ValidateDocument for full checks.
func IsDocument(path string) bool {
	return len(Split(path))%2 == 0
}

// IsCollection reports whether path has collection parity (odd segment count).
func IsCollection(path string) bool {
	return !IsDocument(path)
}

func validateSegments(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalid)
	}
	for _, seg := range Split(path) {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalid, path)
		}
	}
	return nil
}

// ValidateDocument checks that path is a well-formed document path.
func ValidateDocument(path string) error {
	if err := validateSegments(path); err != nil {
		return err
	}
	if !IsDocument(path) {
		return fmt.Errorf("%w: %q is not a document path (odd segment count)", ErrInvalid, path)
	}
	return nil
}

// ValidateCollection checks that path is a well-formed collection path.
func ValidateCollection(path string) error {
	if err := validateSegments(path); err != nil {
		return err
	}
	if !IsCollection(path) {
		return fmt.Errorf("%w: %q is not a collection path (even segment count)", ErrInvalid, path)
	}
	return nil
}

// ID returns the final segment of a document path, which is the document id.
func ID(docPath string) string {
	segs := Split(docPath)
	return segs[len(segs)-1]
}

// Parent returns the collection path containing the document at docPath.
func Parent(docPath string) string {
	i := strings.LastIndex(docPath, "/")
	if i < 0 {
		return ""
	}
	return docPath[:i]
}

// Child returns the document path for id within the collection at collPath.
func Child(collPath, id string) string {
	return collPath + "/" + id
}
