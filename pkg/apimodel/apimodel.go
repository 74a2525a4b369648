// Package apimodel represents the public API of one class-like definition
// and produces the whole-API and per-name hashes the invalidator diffs.
package apimodel

import (
	"hash/fnv"
	"sort"

	"github.com/stackb/incrc/pkg/ids"
)

// UseScope is the syntactic role a name reference plays.
type UseScope int

const (
	// Default is an ordinary identifier reference.
	Default UseScope = iota
	// Implicit is a reference resolved via implicit search.
	Implicit
	// PatternTarget is a reference that appears as a pattern-match target
	// (used to scope sealed-hierarchy exhaustiveness propagation).
	PatternTarget
)

func (s UseScope) String() string {
	switch s {
	case Default:
		return "Default"
	case Implicit:
		return "Implicit"
	case PatternTarget:
		return "PatternTarget"
	default:
		return "Unknown"
	}
}

// Member is one public-or-private member contributing to an API hash. Body
// is the part Minimize strips unless API-debug mode is requested; Name and
// Signature always survive minimization since they determine structural
// equivalence.
type Member struct {
	Name      string
	Signature string
	Private   bool
	Body      string
}

// ClassLike is the minimal view of a compiled class/trait/object the hasher
// needs. It intentionally does not carry compiler-internal symbol tables;
// the compiler driver is expected to project its own representation down
// to this shape before calling apimodel.
type ClassLike struct {
	Name      ids.ClassName
	IsTrait   bool
	IsPackage bool // package object, consulted by the package-object expansion rule
	IsSealed  bool // roots a sealed hierarchy; gates pattern-target propagation
	Members   []Member
	// Parents lists this class's direct parent types in declaration order;
	// used only by callers building inheritance edges, not by the hasher.
	Parents  []ids.ClassName
	HasMacro bool
}

// PerNameHash is one (name, scope) -> hash tuple: a hash of the subset of
// a class's API that contributes to that exported identifier.
type PerNameHash struct {
	Name  string
	Scope UseScope
	Hash  uint64
}

// APIHash hashes the whole public API deterministically: every non-private
// member's (name, signature), sorted, folded into an FNV-1a digest. Two
// classes with identical public surfaces but different source order or
// different private internals hash identically.
func APIHash(c ClassLike) uint64 {
	return hashMembers(c.Members, false)
}

// ExtraHash additionally folds in private members; for traits this is the
// tie-break signal distinguishing a pure rename of a private member (which
// changes ExtraHash but not APIHash) from a public API change.
func ExtraHash(c ClassLike) uint64 {
	return hashMembers(c.Members, true)
}

func hashMembers(members []Member, includePrivate bool) uint64 {
	sigs := make([]string, 0, len(members))
	for _, m := range members {
		if m.Private && !includePrivate {
			continue
		}
		sigs = append(sigs, m.Name+"\x00"+m.Signature)
	}
	sort.Strings(sigs)
	h := fnv.New64a()
	for _, s := range sigs {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// PerNameHashes emits one hash per contributing top-level name, tagged with
// a UseScope. A member's exported name determines its scope: this minimal
// model treats every ordinary member as Default scope; a compiler driver
// that distinguishes implicit defs or sealed pattern targets is expected to
// set Member.Signature so it differs only when the contributing content
// actually differs; apimodel does not itself classify scopes beyond
// Default since that classification is a property of the source language,
// not of this engine.
func PerNameHashes(c ClassLike) []PerNameHash {
	byName := make(map[string][]Member)
	for _, m := range c.Members {
		byName[m.Name] = append(byName[m.Name], m)
	}
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]PerNameHash, 0, len(names))
	for _, n := range names {
		out = append(out, PerNameHash{
			Name:  n,
			Scope: Default,
			Hash:  hashMembers(byName[n], false),
		})
	}
	return out
}

// MergeCompanionHashes combines a class's and its companion object's
// per-name hash arrays by (name, scope), using a stable combinator (the
// hash of the pair's two hashes concatenated in a fixed order, class side
// first) so the result never depends on the order of either input array or
// on map iteration order. Which side a name came from does matter: a name
// present only on the class side hashes differently from the same name and
// hash present only on the object side.
func MergeCompanionHashes(classHashes, objectHashes []PerNameHash) []PerNameHash {
	type key struct {
		name  string
		scope UseScope
	}
	merged := make(map[key][2]uint64)
	order := make([]key, 0, len(classHashes)+len(objectHashes))

	put := func(p PerNameHash, slot int) {
		k := key{p.Name, p.Scope}
		pair, ok := merged[k]
		if !ok {
			order = append(order, k)
		}
		pair[slot] = p.Hash
		merged[k] = pair
	}
	for _, p := range classHashes {
		put(p, 0)
	}
	for _, p := range objectHashes {
		put(p, 1)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].name != order[j].name {
			return order[i].name < order[j].name
		}
		return order[i].scope < order[j].scope
	})

	out := make([]PerNameHash, 0, len(order))
	for _, k := range order {
		pair := merged[k]
		h := fnv.New64a()
		var buf [16]byte
		putUint64(buf[0:8], pair[0])
		putUint64(buf[8:16], pair[1])
		h.Write(buf[:])
		out = append(out, PerNameHash{Name: k.name, Scope: k.scope, Hash: h.Sum64()})
	}
	return out
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Minimize strips body text from every member it keeps (and, unless
// c.IsTrait, drops private members altogether), returning a copy safe to
// persist in an AnalyzedClass's Provenance without retaining full source
// bodies across builds. If apiDebug is true, nothing is stripped.
func Minimize(c ClassLike, apiDebug bool) ClassLike {
	if apiDebug {
		return c
	}
	out := c
	out.Members = make([]Member, 0, len(c.Members))
	for _, m := range c.Members {
		if m.Private && !c.IsTrait {
			continue
		}
		m.Body = ""
		out.Members = append(out.Members, m)
	}
	return out
}

// AnalyzedClass is the tuple recorded for one compiled class or object.
type AnalyzedClass struct {
	CompilationTimestamp int64
	Name                 ids.ClassName
	Companions           []ids.ClassName
	APIHash              uint64
	ExtraHash            uint64
	PerNameHashes        []PerNameHash
	HasMacro             bool
	Provenance           ClassLike
}

// Empty returns the zero-value AnalyzedClass used when an external lookup
// has no record of a class.
func Empty(name ids.ClassName) AnalyzedClass {
	return AnalyzedClass{Name: name}
}
