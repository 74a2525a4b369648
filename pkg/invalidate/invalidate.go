// Package invalidate turns API changes into sets of invalidated classes:
// classifying each change, computing the directly-affected classes, closing
// transitively over inheritance, resolving same-product collisions,
// expanding package objects, and finally mapping classes back to sources
// with the all-sources widening rule.
package invalidate

import (
	"github.com/stackb/incrc/pkg/analysis"
	"github.com/stackb/incrc/pkg/apimodel"
	"github.com/stackb/incrc/pkg/changes"
	"github.com/stackb/incrc/pkg/config"
	"github.com/stackb/incrc/pkg/ids"
	"github.com/stackb/incrc/pkg/internal/worklist"
)

// Kind classifies one API change.
type Kind int

const (
	// NamesChange is the ordinary case: the symmetric difference of
	// per-name hash tuples drives invalidation.
	NamesChange Kind = iota
	// MacroDefinition pre-empts the name-hash diff: either side defines a
	// macro and recompileOnMacroDef is set.
	MacroDefinition
	// TraitPrivateMembersModified fires when a trait's extra hash changed
	// but its API hash did not, i.e. a private-member-only edit.
	TraitPrivateMembersModified
)

// ClassifyChange returns the change's Kind and, for NamesChange, the
// symmetric difference of per-name hash tuples.
func ClassifyChange(change changes.APIChange, opts config.Options) (Kind, worklist.Set[analysis.UsedName]) {
	if opts.RecompileOnMacroDef && (change.Old.HasMacro || change.New.HasMacro) {
		return MacroDefinition, nil
	}
	isTrait := change.Old.Provenance.IsTrait || change.New.Provenance.IsTrait
	if isTrait && change.Old.APIHash == change.New.APIHash && change.Old.ExtraHash != change.New.ExtraHash {
		return TraitPrivateMembersModified, nil
	}
	return NamesChange, symmetricDiff(change.Old.PerNameHashes, change.New.PerNameHashes)
}

type nameKey struct {
	name  string
	scope apimodel.UseScope
}

func symmetricDiff(oldHashes, newHashes []apimodel.PerNameHash) worklist.Set[analysis.UsedName] {
	oldMap := make(map[nameKey]uint64, len(oldHashes))
	for _, h := range oldHashes {
		oldMap[nameKey{h.Name, h.Scope}] = h.Hash
	}
	newMap := make(map[nameKey]uint64, len(newHashes))
	for _, h := range newHashes {
		newMap[nameKey{h.Name, h.Scope}] = h.Hash
	}
	out := worklist.NewSet[analysis.UsedName]()
	for k, oh := range oldMap {
		if nh, ok := newMap[k]; !ok || nh != oh {
			out.Add(analysis.UsedName{Name: k.name, Scope: k.scope})
		}
	}
	for k, nh := range newMap {
		if oh, ok := oldMap[k]; !ok || oh != nh {
			out.Add(analysis.UsedName{Name: k.name, Scope: k.scope})
		}
	}
	return out
}

// DirectlyAffected computes the classes immediately hit by a change, before
// transitive closure.
//
// A memberRef edge from a source outside c's language family is always
// conservative here: this engine doesn't track per-source language families
// at all, so every referencing class is already included unconditionally —
// the conservative case and the ordinary case collapse to the same
// computation.
func DirectlyAffected(kind Kind, change changes.APIChange, modified worklist.Set[analysis.UsedName], rels *analysis.Analysis, opts config.Options) worklist.Set[ids.ClassName] {
	switch kind {
	case MacroDefinition, TraitPrivateMembersModified:
		return memberRefUsers(change.Class, rels)
	default:
		return namesChangeAffected(change, modified, rels, opts)
	}
}

func memberRefUsers(c ids.ClassName, rels *analysis.Analysis) worklist.Set[ids.ClassName] {
	out := worklist.NewSet(rels.Relations.MemberRefInternal.Reverse(c)...)
	for _, x := range rels.Relations.MemberRefExternal.Reverse(c) {
		out.Add(x)
	}
	return out
}

// namesChangeAffected finds classes whose usedNames intersect the modified
// name set under matching UseScope. A change inside a sealed hierarchy
// additionally invalidates pattern-match users of the name regardless of
// the modified tuple's own scope, since exhaustiveness of a match depends
// on the whole hierarchy; useOptimizedSealed restricts that widening to
// modifications that are themselves PatternTarget-scoped.
func namesChangeAffected(change changes.APIChange, modified worklist.Set[analysis.UsedName], rels *analysis.Analysis, opts config.Options) worklist.Set[ids.ClassName] {
	sealed := change.Old.Provenance.IsSealed || change.New.Provenance.IsSealed
	out := worklist.NewSet[ids.ClassName]()
	for n := range modified {
		for _, user := range rels.Relations.UsedNames.Reverse(n) {
			out.Add(user)
		}
		if sealed && !(opts.UseOptimizedSealed && n.Scope != apimodel.PatternTarget) {
			widened := analysis.UsedName{Name: n.Name, Scope: apimodel.PatternTarget}
			for _, user := range rels.Relations.UsedNames.Reverse(widened) {
				out.Add(user)
			}
		}
	}
	return out
}

// inheritanceChildren returns the direct subclasses of c, walking both the
// internal and external inheritance relations and the local-inheritance
// relations too: a locally-inherited class still needs recompiling when its
// ancestor's API changes, the same as any other subclass.
func inheritanceChildren(c ids.ClassName, rels *analysis.Analysis) []ids.ClassName {
	out := append([]ids.ClassName{}, rels.Relations.InheritanceInternal.Reverse(c)...)
	out = append(out, rels.Relations.InheritanceExternal.Reverse(c)...)
	out = append(out, rels.Relations.LocalInheritanceInternal.Reverse(c)...)
	out = append(out, rels.Relations.LocalInheritanceExternal.Reverse(c)...)
	return out
}

func inheritanceParents(c ids.ClassName, rels *analysis.Analysis) []ids.ClassName {
	out := append([]ids.ClassName{}, rels.Relations.InheritanceInternal.Forward(c)...)
	out = append(out, rels.Relations.InheritanceExternal.Forward(c)...)
	out = append(out, rels.Relations.LocalInheritanceInternal.Forward(c)...)
	out = append(out, rels.Relations.LocalInheritanceExternal.Forward(c)...)
	return out
}

// Invalidate handles a single API change end to end: directlyAffected(c)
// and c itself seed an iterative DFS over subclass edges, so that a change
// ripples down through every class that inherits it, directly or
// transitively, while a plain member-reference dependency breaks only at
// the immediate user. c itself lands in the result only when something
// actually inherits into it — i.e. it sits below another invalidated class
// on an inheritance cycle — not merely for having changed.
func Invalidate(change changes.APIChange, rels *analysis.Analysis, opts config.Options) worklist.Set[ids.ClassName] {
	kind, modified := ClassifyChange(change, opts)
	direct := DirectlyAffected(kind, change, modified, rels, opts)
	if kind == MacroDefinition {
		direct = expandMacroUsers(direct, rels)
	}

	seeds := append(direct.Slice(), change.Class)
	result := worklist.DFS(seeds, func(n ids.ClassName) []ids.ClassName {
		return inheritanceChildren(n, rels)
	})

	if !direct.Has(change.Class) && !inheritsFromAny(change.Class, result, rels) {
		delete(result, change.Class)
	}
	return result
}

// expandMacroUsers widens a macro change's direct users: a user that
// itself defines a macro re-expands at its own use sites, so its users
// are invalidated too, transitively through member references.
func expandMacroUsers(direct worklist.Set[ids.ClassName], rels *analysis.Analysis) worklist.Set[ids.ClassName] {
	return worklist.DFS(direct.Slice(), func(n ids.ClassName) []ids.ClassName {
		if ac, ok := rels.APIs.Internal[n]; ok && ac.HasMacro {
			return memberRefUsers(n, rels).Slice()
		}
		return nil
	})
}

func inheritsFromAny(c ids.ClassName, candidates worklist.Set[ids.ClassName], rels *analysis.Analysis) bool {
	for _, p := range inheritanceParents(c, rels) {
		if p != c && candidates.Has(p) {
			return true
		}
	}
	return false
}

// SecondOrder invalidates every class declared by a source whose product is
// claimed by more than one source in the merged srcProd relation: a name
// collision means one of the claimants must lose, so both get recompiled.
func SecondOrder(a *analysis.Analysis) worklist.Set[ids.ClassName] {
	claimants := make(map[ids.ProductID]worklist.Set[ids.SourceID])
	for _, pair := range a.Relations.SrcProd.All() {
		s := claimants[pair.Value]
		if s == nil {
			s = worklist.NewSet[ids.SourceID]()
			claimants[pair.Value] = s
		}
		s.Add(pair.Key)
	}

	out := worklist.NewSet[ids.ClassName]()
	for _, srcs := range claimants {
		if len(srcs) <= 1 {
			continue
		}
		for src := range srcs {
			for _, c := range a.Relations.Classes.Forward(src) {
				out.Add(c)
			}
		}
	}
	return out
}

// ExpandPackageObjects adds every package object that inherits, directly or
// transitively, from a member of invalidated; recompiling those prevents
// "class needed by package is missing" errors. Every known package object
// is a candidate — a package object may inherit from a trait declared in
// an unrelated package, so candidacy cannot be narrowed to the packages of
// already-invalidated classes. Each candidate's ancestor chain is walked
// looking for a hit in invalidated.
func ExpandPackageObjects(invalidated worklist.Set[ids.ClassName], a *analysis.Analysis) worklist.Set[ids.ClassName] {
	out := worklist.NewSet[ids.ClassName]()
	check := func(po ids.ClassName, ac apimodel.AnalyzedClass) {
		if !ac.Provenance.IsPackage || out.Has(po) {
			return
		}
		ancestors := worklist.DFS([]ids.ClassName{po}, func(n ids.ClassName) []ids.ClassName {
			return inheritanceParents(n, a)
		})
		for anc := range ancestors {
			if anc != po && invalidated.Has(anc) {
				out.Add(po)
				return
			}
		}
	}
	for name, ac := range a.APIs.Internal {
		check(name, ac)
	}
	for name, ac := range a.APIs.External {
		check(name, ac)
	}
	return out
}

// Saturate is the termination safety net: once the cycle driver has run
// more than transitiveStep rounds, it switches to this brute-force
// transitive closure over memberRefInternal.reverse for the remaining
// changed classes, bounding how long inheritance-driven convergence can
// take.
func Saturate(seeds []ids.ClassName, rels *analysis.Analysis) worklist.Set[ids.ClassName] {
	return worklist.DFS(seeds, func(n ids.ClassName) []ids.ClassName {
		return rels.Relations.MemberRefInternal.Reverse(n)
	})
}

// MapToSources maps invalidated classes to the sources that declare them,
// then widens to every source if the resulting count exceeds
// recompileAllFraction * |allSources|. The second return value reports
// whether widening occurred.
func MapToSources(classes worklist.Set[ids.ClassName], a *analysis.Analysis, allSources []ids.SourceID, opts config.Options) (worklist.Set[ids.SourceID], bool) {
	out := worklist.NewSet[ids.SourceID]()
	for c := range classes {
		for _, s := range a.DefinesClass(c) {
			out.Add(s)
		}
	}
	threshold := opts.RecompileAllFraction * float64(len(allSources))
	if float64(len(out)) > threshold {
		return worklist.NewSet(allSources...), true
	}
	return out, false
}
