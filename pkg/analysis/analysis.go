// Package analysis aggregates the relations, APIs, stamps, and compilation
// metadata of one build into a single immutable value.
package analysis

import (
	"github.com/stackb/incrc/pkg/apimodel"
	"github.com/stackb/incrc/pkg/ids"
	"github.com/stackb/incrc/pkg/relation"
	"github.com/stackb/incrc/pkg/stamp"
)

// DependencyContext classifies a reported class dependency edge.
type DependencyContext int

const (
	MemberRef DependencyContext = iota
	Inheritance
	LocalInheritance
)

// SourceInfo carries whatever ancillary metadata the compiler driver
// reports about a source; kept opaque here since its shape is
// driver-specific.
type SourceInfo struct {
	MainClass ids.ClassName
	Problems  []Problem
}

// Problem is one diagnostic reported by the compiler for a source.
type Problem struct {
	Category string
	Pos      string
	Message  string
	Severity string
	Reported bool
}

// Compilation records one compile round's bookkeeping.
type Compilation struct {
	CycleNum int
	Sources  []ids.SourceID
	Output   string
}

// APIs holds the internal (compiled-this-project) and external
// (classpath-resident) class API maps.
type APIs struct {
	Internal map[ids.ClassName]apimodel.AnalyzedClass
	External map[ids.ClassName]apimodel.AnalyzedClass
}

// Stamps holds the three independently-stamped file universes.
type Stamps struct {
	Source  map[ids.SourceID]stamp.Stamp
	Product map[ids.ProductID]stamp.Stamp
	Library map[ids.LibraryID]stamp.Stamp
}

// Relations is the engine's relation store. The four "legacy" relations
// are carried as always-empty fields so a codec can still emit thirteen
// named sections for old readers; nothing in this engine ever populates
// them. The codec's thirteen sections do not include LibraryClassName or
// the two local-inheritance relations, and Classes is rebuilt from
// DeclaredClasses on read.
type Relations struct {
	SrcProd          *relation.Relation[ids.SourceID, ids.ProductID]
	LibraryDep       *relation.Relation[ids.SourceID, ids.LibraryID]
	LibraryClassName *relation.Relation[ids.LibraryID, ids.BinaryClassName]

	// directSourceDep, directExternal and the two public-inherited
	// relations held in legacy are never populated.
	legacy legacyRelations

	Classes                  *relation.Relation[ids.SourceID, ids.ClassName]
	ProductClassName         *relation.Relation[ids.ClassName, ids.BinaryClassName]
	MemberRefInternal        *relation.Relation[ids.ClassName, ids.ClassName]
	MemberRefExternal        *relation.Relation[ids.ClassName, ids.ClassName]
	InheritanceInternal      *relation.Relation[ids.ClassName, ids.ClassName]
	InheritanceExternal      *relation.Relation[ids.ClassName, ids.ClassName]
	LocalInheritanceInternal *relation.Relation[ids.ClassName, ids.ClassName]
	LocalInheritanceExternal *relation.Relation[ids.ClassName, ids.ClassName]
	UsedNames                *relation.Relation[ids.ClassName, UsedName]
	DeclaredClasses          *relation.Relation[ids.SourceID, ids.ClassName]
}

// legacyRelations are the four always-empty slots preserved for the
// on-disk layout: older readers expect thirteen relation sections, and
// source-level dependency tracking lives in these slots there.
type legacyRelations struct {
	directSourceDep  *relation.Relation[ids.SourceID, ids.SourceID]
	directExternal   *relation.Relation[ids.SourceID, ids.BinaryClassName]
	publicInherited1 *relation.Relation[ids.ClassName, ids.ClassName]
	publicInherited2 *relation.Relation[ids.ClassName, ids.ClassName]
}

// UsedName is one entry of the usedNames relation: an unqualified
// identifier, tagged by the scope it was referenced in.
type UsedName struct {
	Name  string
	Scope apimodel.UseScope
}

// Analysis is the immutable record of one compilation outcome.
type Analysis struct {
	Relations    Relations
	APIs         APIs
	Stamps       Stamps
	SourceInfos  map[ids.SourceID]SourceInfo
	Compilations []Compilation
}

func emptyRelations() Relations {
	return Relations{
		SrcProd:          relation.New[ids.SourceID, ids.ProductID](),
		LibraryDep:       relation.New[ids.SourceID, ids.LibraryID](),
		LibraryClassName: relation.New[ids.LibraryID, ids.BinaryClassName](),
		legacy: legacyRelations{
			directSourceDep:  relation.New[ids.SourceID, ids.SourceID](),
			directExternal:   relation.New[ids.SourceID, ids.BinaryClassName](),
			publicInherited1: relation.New[ids.ClassName, ids.ClassName](),
			publicInherited2: relation.New[ids.ClassName, ids.ClassName](),
		},
		Classes:                  relation.New[ids.SourceID, ids.ClassName](),
		ProductClassName:         relation.New[ids.ClassName, ids.BinaryClassName](),
		MemberRefInternal:        relation.New[ids.ClassName, ids.ClassName](),
		MemberRefExternal:        relation.New[ids.ClassName, ids.ClassName](),
		InheritanceInternal:      relation.New[ids.ClassName, ids.ClassName](),
		InheritanceExternal:      relation.New[ids.ClassName, ids.ClassName](),
		LocalInheritanceInternal: relation.New[ids.ClassName, ids.ClassName](),
		LocalInheritanceExternal: relation.New[ids.ClassName, ids.ClassName](),
		UsedNames:                relation.New[ids.ClassName, UsedName](),
		DeclaredClasses:          relation.New[ids.SourceID, ids.ClassName](),
	}
}

// Empty returns the Analysis an engine starts its very first cycle from.
func Empty() *Analysis {
	return &Analysis{
		Relations: emptyRelations(),
		APIs: APIs{
			Internal: make(map[ids.ClassName]apimodel.AnalyzedClass),
			External: make(map[ids.ClassName]apimodel.AnalyzedClass),
		},
		Stamps: Stamps{
			Source:  make(map[ids.SourceID]stamp.Stamp),
			Product: make(map[ids.ProductID]stamp.Stamp),
			Library: make(map[ids.LibraryID]stamp.Stamp),
		},
		SourceInfos: make(map[ids.SourceID]SourceInfo),
	}
}

// Dependency is one edge reported for a source during AddSource.
type Dependency struct {
	From, On ids.ClassName
	Context  DependencyContext
}

// NonLocalProduct is one emitted class file that corresponds to a
// declared, non-local class.
type NonLocalProduct struct {
	Product ids.ProductID
	Class   ids.ClassName
	Binary  ids.BinaryClassName
}

// AddSource folds one compiled source's facts into a new Analysis,
// updating every relevant relation at once. classes are the non-local,
// top-level classes this source declares (with their computed APIs);
// nonLocalProducts/localProducts are the class files it produced;
// internalDeps/externalDeps are the reported dependency edges, already
// split by whether the referenced class lives in this project.
func (a *Analysis) AddSource(
	src ids.SourceID,
	classes []apimodel.AnalyzedClass,
	srcStamp stamp.Stamp,
	info SourceInfo,
	nonLocalProducts []NonLocalProduct,
	localProducts []ids.ProductID,
	internalDeps, externalDeps []Dependency,
	libraryDeps map[ids.LibraryID]stamp.Stamp,
	usedNames map[ids.ClassName][]UsedName,
) *Analysis {
	out := a.clone()

	out.Stamps.Source[src] = srcStamp
	out.SourceInfos[src] = info

	for _, c := range classes {
		out.APIs.Internal[c.Name] = c
		out.Relations.Classes = out.Relations.Classes.Add(src, c.Name)
		out.Relations.DeclaredClasses = out.Relations.DeclaredClasses.Add(src, c.Name)
	}

	for _, np := range nonLocalProducts {
		out.Relations.SrcProd = out.Relations.SrcProd.Add(src, np.Product)
		out.Relations.ProductClassName = out.Relations.ProductClassName.Add(np.Class, np.Binary)
	}
	for _, p := range localProducts {
		out.Relations.SrcProd = out.Relations.SrcProd.Add(src, p)
	}

	addDeps := func(deps []Dependency, memberRef, inheritance, localInheritance *relation.Relation[ids.ClassName, ids.ClassName]) (
		*relation.Relation[ids.ClassName, ids.ClassName],
		*relation.Relation[ids.ClassName, ids.ClassName],
		*relation.Relation[ids.ClassName, ids.ClassName],
	) {
		for _, d := range deps {
			memberRef = memberRef.Add(d.From, d.On)
			switch d.Context {
			case Inheritance:
				inheritance = inheritance.Add(d.From, d.On)
			case LocalInheritance:
				localInheritance = localInheritance.Add(d.From, d.On)
			}
		}
		return memberRef, inheritance, localInheritance
	}

	out.Relations.MemberRefInternal, out.Relations.InheritanceInternal, out.Relations.LocalInheritanceInternal =
		addDeps(internalDeps, out.Relations.MemberRefInternal, out.Relations.InheritanceInternal, out.Relations.LocalInheritanceInternal)
	out.Relations.MemberRefExternal, out.Relations.InheritanceExternal, out.Relations.LocalInheritanceExternal =
		addDeps(externalDeps, out.Relations.MemberRefExternal, out.Relations.InheritanceExternal, out.Relations.LocalInheritanceExternal)

	for lib, st := range libraryDeps {
		out.Relations.LibraryDep = out.Relations.LibraryDep.Add(src, lib)
		out.Stamps.Library[lib] = st
	}

	for class, names := range usedNames {
		out.Relations.UsedNames = out.Relations.UsedNames.Add(class, names...)
	}

	return out
}

// Without removes every fact keyed on any of srcs. A removed source takes
// its declared classes with it: every edge where the source or one of its
// classes is an endpoint, on either side, leaves the Analysis.
func (a *Analysis) Without(srcs ...ids.SourceID) *Analysis {
	out := a.clone()

	var classes []ids.ClassName
	for _, s := range srcs {
		classes = append(classes, out.Relations.Classes.Forward(s)...)
	}

	out.Relations.SrcProd = out.Relations.SrcProd.RemoveAll(srcs...)
	out.Relations.LibraryDep = out.Relations.LibraryDep.RemoveAll(srcs...)
	out.Relations.Classes = out.Relations.Classes.RemoveAll(srcs...)
	out.Relations.DeclaredClasses = out.Relations.DeclaredClasses.RemoveAll(srcs...)

	out.Relations.ProductClassName = out.Relations.ProductClassName.RemoveAll(classes...)
	out.Relations.MemberRefInternal = removeClassEndpoints(out.Relations.MemberRefInternal, classes)
	out.Relations.MemberRefExternal = removeClassEndpoints(out.Relations.MemberRefExternal, classes)
	out.Relations.InheritanceInternal = removeClassEndpoints(out.Relations.InheritanceInternal, classes)
	out.Relations.InheritanceExternal = removeClassEndpoints(out.Relations.InheritanceExternal, classes)
	out.Relations.LocalInheritanceInternal = removeClassEndpoints(out.Relations.LocalInheritanceInternal, classes)
	out.Relations.LocalInheritanceExternal = removeClassEndpoints(out.Relations.LocalInheritanceExternal, classes)
	out.Relations.UsedNames = out.Relations.UsedNames.RemoveAll(classes...)

	for _, c := range classes {
		delete(out.APIs.Internal, c)
	}
	for _, s := range srcs {
		delete(out.Stamps.Source, s)
		delete(out.SourceInfos, s)
	}

	return out
}

func removeClassEndpoints(r *relation.Relation[ids.ClassName, ids.ClassName], classes []ids.ClassName) *relation.Relation[ids.ClassName, ids.ClassName] {
	return r.RemoveAll(classes...).RemoveValues(classes...)
}

// Merge unions every constituent of a and other into a new Analysis.
func (a *Analysis) Merge(other *Analysis) *Analysis {
	if other == nil {
		return a.clone()
	}
	out := a.clone()

	out.Relations.SrcProd = out.Relations.SrcProd.Merge(other.Relations.SrcProd)
	out.Relations.LibraryDep = out.Relations.LibraryDep.Merge(other.Relations.LibraryDep)
	out.Relations.LibraryClassName = out.Relations.LibraryClassName.Merge(other.Relations.LibraryClassName)
	out.Relations.Classes = out.Relations.Classes.Merge(other.Relations.Classes)
	out.Relations.ProductClassName = out.Relations.ProductClassName.Merge(other.Relations.ProductClassName)
	out.Relations.MemberRefInternal = out.Relations.MemberRefInternal.Merge(other.Relations.MemberRefInternal)
	out.Relations.MemberRefExternal = out.Relations.MemberRefExternal.Merge(other.Relations.MemberRefExternal)
	out.Relations.InheritanceInternal = out.Relations.InheritanceInternal.Merge(other.Relations.InheritanceInternal)
	out.Relations.InheritanceExternal = out.Relations.InheritanceExternal.Merge(other.Relations.InheritanceExternal)
	out.Relations.LocalInheritanceInternal = out.Relations.LocalInheritanceInternal.Merge(other.Relations.LocalInheritanceInternal)
	out.Relations.LocalInheritanceExternal = out.Relations.LocalInheritanceExternal.Merge(other.Relations.LocalInheritanceExternal)
	out.Relations.UsedNames = out.Relations.UsedNames.Merge(other.Relations.UsedNames)
	out.Relations.DeclaredClasses = out.Relations.DeclaredClasses.Merge(other.Relations.DeclaredClasses)

	for k, v := range other.APIs.Internal {
		out.APIs.Internal[k] = v
	}
	for k, v := range other.APIs.External {
		out.APIs.External[k] = v
	}
	for k, v := range other.Stamps.Source {
		out.Stamps.Source[k] = v
	}
	for k, v := range other.Stamps.Product {
		out.Stamps.Product[k] = v
	}
	for k, v := range other.Stamps.Library {
		out.Stamps.Library[k] = v
	}
	for k, v := range other.SourceInfos {
		out.SourceInfos[k] = v
	}
	out.Compilations = append(append([]Compilation(nil), out.Compilations...), other.Compilations...)

	return out
}

func (a *Analysis) clone() *Analysis {
	if a == nil {
		return Empty()
	}
	out := &Analysis{
		Relations: Relations{
			SrcProd:                  a.Relations.SrcProd,
			LibraryDep:               a.Relations.LibraryDep,
			LibraryClassName:         a.Relations.LibraryClassName,
			legacy:                   a.Relations.legacy,
			Classes:                  a.Relations.Classes,
			ProductClassName:         a.Relations.ProductClassName,
			MemberRefInternal:        a.Relations.MemberRefInternal,
			MemberRefExternal:        a.Relations.MemberRefExternal,
			InheritanceInternal:      a.Relations.InheritanceInternal,
			InheritanceExternal:      a.Relations.InheritanceExternal,
			LocalInheritanceInternal: a.Relations.LocalInheritanceInternal,
			LocalInheritanceExternal: a.Relations.LocalInheritanceExternal,
			UsedNames:                a.Relations.UsedNames,
			DeclaredClasses:          a.Relations.DeclaredClasses,
		},
		APIs: APIs{
			Internal: make(map[ids.ClassName]apimodel.AnalyzedClass, len(a.APIs.Internal)),
			External: make(map[ids.ClassName]apimodel.AnalyzedClass, len(a.APIs.External)),
		},
		Stamps: Stamps{
			Source:  make(map[ids.SourceID]stamp.Stamp, len(a.Stamps.Source)),
			Product: make(map[ids.ProductID]stamp.Stamp, len(a.Stamps.Product)),
			Library: make(map[ids.LibraryID]stamp.Stamp, len(a.Stamps.Library)),
		},
		SourceInfos:  make(map[ids.SourceID]SourceInfo, len(a.SourceInfos)),
		Compilations: append([]Compilation(nil), a.Compilations...),
	}
	for k, v := range a.APIs.Internal {
		out.APIs.Internal[k] = v
	}
	for k, v := range a.APIs.External {
		out.APIs.External[k] = v
	}
	for k, v := range a.Stamps.Source {
		out.Stamps.Source[k] = v
	}
	for k, v := range a.Stamps.Product {
		out.Stamps.Product[k] = v
	}
	for k, v := range a.Stamps.Library {
		out.Stamps.Library[k] = v
	}
	for k, v := range a.SourceInfos {
		out.SourceInfos[k] = v
	}
	return out
}

// WithSourceStamps returns a new Analysis with the given source stamps
// overlaid. The compiler callback itself only knows that a source started
// compiling, not its actual content stamp (that comes from the external
// stamp reader); the cycle driver calls this after GetOnce to record the
// real stamps, which it reads once the compile function has returned.
func (a *Analysis) WithSourceStamps(m map[ids.SourceID]stamp.Stamp) *Analysis {
	out := a.clone()
	for src, st := range m {
		out.Stamps.Source[src] = st
	}
	return out
}

// Sources returns every source this Analysis has facts for.
func (a *Analysis) Sources() []ids.SourceID {
	seen := make(map[ids.SourceID]struct{})
	for _, p := range a.Relations.Classes.All() {
		seen[p.Key] = struct{}{}
	}
	for s := range a.Stamps.Source {
		seen[s] = struct{}{}
	}
	out := make([]ids.SourceID, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	return out
}

// ClassesOf returns the classes declared by src.
func (a *Analysis) ClassesOf(src ids.SourceID) []ids.ClassName {
	return a.Relations.Classes.Forward(src)
}

// DefinesClass returns every source that declares class.
func (a *Analysis) DefinesClass(class ids.ClassName) []ids.SourceID {
	return a.Relations.Classes.Reverse(class)
}
