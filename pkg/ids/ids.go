// Package ids defines the opaque identifier types shared by every layer of
// the incremental build engine: sources, emitted products, classpath
// libraries, and the two flavors of class name a compiler reports.
package ids

import "strings"

// SourceID is an opaque reference to an input source file, path-like.
type SourceID string

// ProductID is an opaque reference to an emitted class file.
type ProductID string

// LibraryID is a reference to a classpath artifact (a jar or a loose class
// file living outside this project).
type LibraryID string

// CompanionSuffix is appended to a ClassName to encode the companion
// singleton ("object") form of a class/trait. Both forms are tracked
// separately in every relation that's keyed on ClassName.
const CompanionSuffix = "$"

// ClassName is a fully-qualified source-level class name, e.g.
// "com.foo.Bar". A companion object is named "com.foo.Bar$".
type ClassName string

// IsCompanion reports whether n names a companion singleton.
func (n ClassName) IsCompanion() bool {
	return strings.HasSuffix(string(n), CompanionSuffix)
}

// CompanionOf strips the companion suffix, returning the class-like name
// that owns this companion object. ok is false if n is not a companion.
func (n ClassName) CompanionOf() (ClassName, bool) {
	if !n.IsCompanion() {
		return "", false
	}
	return n[:len(n)-len(CompanionSuffix)], true
}

// Companion returns the companion-object name for a class-like name.
func (n ClassName) Companion() ClassName {
	if n.IsCompanion() {
		return n
	}
	return n + ClassName(CompanionSuffix)
}

// BinaryClassName is the compiled, flattened class name that appears in a
// class file (nested classes use '$' as the separator, matching JVM
// convention; this is a distinct namespace from ClassName's companion
// suffix).
type BinaryClassName string

// NewSourceIDSet builds a set of SourceIDs.
func NewSourceIDSet(ids ...SourceID) map[SourceID]struct{} {
	s := make(map[SourceID]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// NewClassNameSet builds a set of ClassNames.
func NewClassNameSet(names ...ClassName) map[ClassName]struct{} {
	s := make(map[ClassName]struct{}, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}
