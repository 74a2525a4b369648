// Package classpath defines the classpath-lookup and external-API-lookup
// contracts the engine is parameterized over, and ships one concrete,
// optional implementation backed by a dotted-path trie.
package classpath

import (
	"strings"

	"github.com/dghubble/trie"

	"github.com/stackb/incrc/pkg/apimodel"
	"github.com/stackb/incrc/pkg/ids"
)

// Entry names the classpath location providing a binary class name.
type Entry struct {
	Library ids.LibraryID
	Binary  ids.BinaryClassName
}

// Lookup answers whether a binary class name resides on the current
// classpath and which entry provides it, resolves external class APIs, and
// lets the caller veto further invalidation.
type Lookup interface {
	// LookupOnClasspath reports whether binary is present on the
	// classpath and, if so, which entry provides it.
	LookupOnClasspath(binary ids.BinaryClassName) (Entry, bool)
	// LookupAnalyzedClass returns the current AnalyzedClass for an
	// external binary name, or an empty AnalyzedClass if none is known.
	LookupAnalyzedClass(binary ids.BinaryClassName) apimodel.AnalyzedClass
	// LookupAnalysis answers whether a precomputed "changed" verdict is
	// available for binary; a precomputed answer pre-empts the change
	// detector's stamp comparison.
	LookupAnalysis(binary ids.BinaryClassName) (changed bool, answered bool)
	// ChangedClasspathHash reports whether the classpath's aggregate hash
	// differs from the last recorded one.
	ChangedClasspathHash() bool
	// ShouldDoIncrementalCompilation may veto further invalidation given
	// the next round's invalidated classes.
	ShouldDoIncrementalCompilation(nextInvalidations map[ids.ClassName]struct{}) bool
}

// importSegmenter segments a dotted binary/class name by '.' boundaries,
// so the trie branches per package segment rather than per byte.
func importSegmenter(path string, start int) (segment string, next int) {
	if len(path) == 0 || start < 0 || start > len(path)-1 {
		return "", -1
	}
	end := strings.IndexRune(path[start+1:], '.')
	if end == -1 {
		return path[start:], -1
	}
	return path[start : start+end+1], start + end + 1
}

// TrieLookup is a concrete, optional Lookup backed by a dotted-path trie.
// Most real builds will back Lookup with an actual classpath scanner; this
// implementation exists so the driver and invalidator have something
// concrete to run against in tests and in the demo command.
type TrieLookup struct {
	entries     *trie.PathTrie
	apis        map[ids.BinaryClassName]apimodel.AnalyzedClass
	answers     map[ids.BinaryClassName]bool
	hashChanged bool
	veto        func(map[ids.ClassName]struct{}) bool
}

// NewTrieLookup builds an empty TrieLookup.
func NewTrieLookup() *TrieLookup {
	return &TrieLookup{
		entries: trie.NewPathTrieWithConfig(&trie.PathTrieConfig{Segmenter: importSegmenter}),
		apis:    make(map[ids.BinaryClassName]apimodel.AnalyzedClass),
		answers: make(map[ids.BinaryClassName]bool),
	}
}

// Put registers that binary is supplied by lib.
func (l *TrieLookup) Put(binary ids.BinaryClassName, lib ids.LibraryID) {
	l.entries.Put(string(binary), Entry{Library: lib, Binary: binary})
}

// PutAPI records the current external AnalyzedClass for a binary name.
func (l *TrieLookup) PutAPI(binary ids.BinaryClassName, ac apimodel.AnalyzedClass) {
	l.apis[binary] = ac
}

// PutPrecomputedAnswer records a precomputed "did this binary's providing
// entry change" answer, honored ahead of stamp comparison.
func (l *TrieLookup) PutPrecomputedAnswer(binary ids.BinaryClassName, changed bool) {
	l.answers[binary] = changed
}

// SetClasspathHashChanged controls ChangedClasspathHash's return value.
func (l *TrieLookup) SetClasspathHashChanged(changed bool) {
	l.hashChanged = changed
}

// SetVeto installs the ShouldDoIncrementalCompilation predicate; nil means
// "never veto".
func (l *TrieLookup) SetVeto(f func(map[ids.ClassName]struct{}) bool) {
	l.veto = f
}

// LookupOnClasspath implements Lookup.
func (l *TrieLookup) LookupOnClasspath(binary ids.BinaryClassName) (Entry, bool) {
	v := l.entries.Get(string(binary))
	if v == nil {
		return Entry{}, false
	}
	return v.(Entry), true
}

// LookupAnalyzedClass implements Lookup.
func (l *TrieLookup) LookupAnalyzedClass(binary ids.BinaryClassName) apimodel.AnalyzedClass {
	if ac, ok := l.apis[binary]; ok {
		return ac
	}
	return apimodel.Empty(ids.ClassName(binary))
}

// LookupAnalysis implements Lookup.
func (l *TrieLookup) LookupAnalysis(binary ids.BinaryClassName) (bool, bool) {
	changed, ok := l.answers[binary]
	return changed, ok
}

// ChangedClasspathHash implements Lookup.
func (l *TrieLookup) ChangedClasspathHash() bool {
	return l.hashChanged
}

// ShouldDoIncrementalCompilation implements Lookup.
func (l *TrieLookup) ShouldDoIncrementalCompilation(next map[ids.ClassName]struct{}) bool {
	if l.veto == nil {
		return true
	}
	return l.veto(next)
}
