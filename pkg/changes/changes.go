// Package changes implements the change detector: given the current set of
// sources, the previous Analysis, a stamp reader, and the external lookup
// hook, it produces the InitialChanges that seed the first invalidation
// round.
package changes

import (
	"github.com/stackb/incrc/pkg/analysis"
	"github.com/stackb/incrc/pkg/apimodel"
	"github.com/stackb/incrc/pkg/classpath"
	"github.com/stackb/incrc/pkg/config"
	"github.com/stackb/incrc/pkg/ids"
	"github.com/stackb/incrc/pkg/stamp"
)

// APIChange pairs a class name with its old and new AnalyzedClass. The
// change detector emits these for externally-resident classes; the cycle
// driver builds the same shape for internal classes between rounds, so the
// invalidator consumes one type for both.
type APIChange struct {
	Class ids.ClassName
	Old   apimodel.AnalyzedClass
	New   apimodel.AnalyzedClass
}

// Changed reports whether this pair actually differs in a way that warrants
// invalidation: either the whole-API hash or the extra hash moved.
func (c APIChange) Changed() bool {
	return c.Old.APIHash != c.New.APIHash || c.Old.ExtraHash != c.New.ExtraHash
}

// SourceChanges partitions the current vs previous source set.
type SourceChanges struct {
	Added      []ids.SourceID
	Removed    []ids.SourceID
	Changed    []ids.SourceID
	Unmodified []ids.SourceID
}

// InitialChanges is the output of Detect.
type InitialChanges struct {
	Sources            SourceChanges
	RemovedProducts    []ids.ProductID
	ChangedLibraries   []ids.LibraryID
	ExternalAPIChanges []APIChange
}

// Detect compares the current inputs against the previous Analysis. lookup
// may be nil, in which case external API changes are not detected and
// library-change detection degrades to stamp comparison only.
func Detect(
	current []ids.SourceID,
	prev *analysis.Analysis,
	stamps stamp.Reader,
	lookup classpath.Lookup,
	opts config.Options,
) (InitialChanges, error) {
	ic := InitialChanges{}

	currentSet := ids.NewSourceIDSet(current...)
	prevSources := prev.Sources()
	prevSet := ids.NewSourceIDSet(prevSources...)

	for _, s := range current {
		if _, ok := prevSet[s]; !ok {
			ic.Sources.Added = append(ic.Sources.Added, s)
			continue
		}
		changed, err := sourceChanged(s, prev, stamps, lookup)
		if err != nil {
			return InitialChanges{}, err
		}
		if changed {
			ic.Sources.Changed = append(ic.Sources.Changed, s)
		} else {
			ic.Sources.Unmodified = append(ic.Sources.Unmodified, s)
		}
	}
	for _, s := range prevSources {
		if _, ok := currentSet[s]; !ok {
			ic.Sources.Removed = append(ic.Sources.Removed, s)
		}
	}

	for product, prevStamp := range prev.Stamps.Product {
		cur, err := stamps.Stamp(string(product))
		if err != nil {
			return InitialChanges{}, err
		}
		if !cur.Equal(prevStamp) {
			ic.RemovedProducts = append(ic.RemovedProducts, product)
		}
	}

	for lib, prevStamp := range prev.Stamps.Library {
		binaries := prev.Relations.LibraryClassName.Forward(lib)
		changed, err := libraryChanged(lib, prevStamp, binaries, prev, stamps, lookup, opts)
		if err != nil {
			return InitialChanges{}, err
		}
		if changed {
			ic.ChangedLibraries = append(ic.ChangedLibraries, lib)
		}
	}

	if lookup != nil {
		for className, oldAC := range prev.APIs.External {
			newAC := lookup.LookupAnalyzedClass(ids.BinaryClassName(className))
			change := APIChange{Class: className, Old: oldAC, New: newAC}
			if change.Changed() {
				ic.ExternalAPIChanges = append(ic.ExternalAPIChanges, change)
			}
		}
		// If every member of the external change set is vetoed, clear it:
		// the caller has decided a full rebuild (or no rebuild) is coming
		// anyway and seeding invalidation from these would be wasted work.
		if len(ic.ExternalAPIChanges) > 0 {
			allVetoed := true
			for _, c := range ic.ExternalAPIChanges {
				if lookup.ShouldDoIncrementalCompilation(map[ids.ClassName]struct{}{c.Class: {}}) {
					allVetoed = false
					break
				}
			}
			if allVetoed {
				ic.ExternalAPIChanges = nil
			}
		}
	}

	return ic, nil
}

func sourceChanged(s ids.SourceID, prev *analysis.Analysis, stamps stamp.Reader, lookup classpath.Lookup) (bool, error) {
	if lookup != nil {
		if changed, answered := lookup.LookupAnalysis(ids.BinaryClassName(s)); answered {
			return changed, nil
		}
	}
	cur, err := stamps.Stamp(string(s))
	if err != nil {
		return false, err
	}
	prevStamp := prev.Stamps.Source[s]
	return !cur.Equal(prevStamp), nil
}

// libraryChanged applies the three-part library-change rule: (ii) the
// same-path library's stamp differs; (i) the classpath hash differs and a
// class this library supplied is gone or now supplied by a different entry;
// (iii) a class previously only on the classpath is now produced by an
// in-project source. SkipClasspathLookup collapses this to (ii) only.
func libraryChanged(
	lib ids.LibraryID,
	prevStamp stamp.Stamp,
	binaries []ids.BinaryClassName,
	prev *analysis.Analysis,
	stamps stamp.Reader,
	lookup classpath.Lookup,
	opts config.Options,
) (bool, error) {
	cur, err := stamps.Stamp(string(lib))
	if err != nil {
		return false, err
	}
	if !cur.Equal(prevStamp) {
		return true, nil
	}
	if opts.SkipClasspathLookup || lookup == nil {
		return false, nil
	}

	if lookup.ChangedClasspathHash() {
		for _, bin := range binaries {
			entry, onClasspath := lookup.LookupOnClasspath(bin)
			if !onClasspath || entry.Library != lib {
				return true, nil
			}
		}
	}

	for _, bin := range binaries {
		if srcs := prev.Relations.DeclaredClasses.Reverse(ids.ClassName(bin)); len(srcs) > 0 {
			return true, nil
		}
	}
	return false, nil
}
