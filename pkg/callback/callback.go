// Package callback implements the surface a compiler driver reports facts
// through during a single compile round. It is the only concurrent-write
// state in the engine: a concurrent map of concurrent sets, written from
// arbitrary compiler threads with no ordering guarantee between inserts,
// then frozen exactly once by GetOnce after the compile function has
// returned.
package callback

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackb/incrc/pkg/analysis"
	"github.com/stackb/incrc/pkg/apimodel"
	"github.com/stackb/incrc/pkg/errs"
	"github.com/stackb/incrc/pkg/ids"
	"github.com/stackb/incrc/pkg/stamp"
)

// syncSet is a concurrency-safe set of comparable values; each instance
// owns its own mutex so callers writing to different keys never contend.
type syncSet[T comparable] struct {
	mu sync.Mutex
	m  map[T]struct{}
}

func newSyncSet[T comparable]() *syncSet[T] {
	return &syncSet[T]{m: make(map[T]struct{})}
}

func (s *syncSet[T]) add(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[v] = struct{}{}
}

func (s *syncSet[T]) slice() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, 0, len(s.m))
	for v := range s.m {
		out = append(out, v)
	}
	return out
}

// Option configures a Callback.
type Option func(*Callback)

// WithLogger attaches a zerolog.Logger. Callbacks default to zerolog.Nop()
// when unset, so library use never writes to stderr unannounced.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Callback) { c.logger = logger }
}

// Callback is the concurrent surface a compiler driver reports facts
// through for exactly one compile round.
type Callback struct {
	logger zerolog.Logger

	done onceFlag

	sourceStamps sync.Map // ids.SourceID -> stamp.Stamp
	classDeps    sync.Map // ids.ClassName -> *syncSet[classDep]
	binaryDeps   sync.Map // ids.ClassName -> *syncSet[binaryDep]
	apis         sync.Map // ids.ClassName -> apimodel.AnalyzedClass
	usedNames    sync.Map // ids.ClassName -> *syncSet[analysis.UsedName]
	nonLocal     sync.Map // ids.SourceID -> *syncSet[analysis.NonLocalProduct]
	local        sync.Map // ids.SourceID -> *syncSet[ids.ProductID]
	libraryDeps  sync.Map // ids.SourceID -> *syncSet[libDep]
	mainClasses  sync.Map // ids.SourceID -> ids.ClassName
	problems     sync.Map // ids.SourceID -> *syncSet[analysis.Problem]
}

type classDep struct {
	On, From ids.ClassName
	Context  analysis.DependencyContext
}

// binaryDep defers classification: whether the referenced binary name is
// internal-same-round, internal-other, or external is only decidable at
// GetOnce time, once every source's declared classes are known.
type binaryDep struct {
	On      ids.BinaryClassName
	From    ids.ClassName
	FromSrc ids.SourceID
	Context analysis.DependencyContext
}

type libDep struct {
	Library ids.LibraryID
	Stamp   stamp.Stamp
}

// onceFlag guards GetOnce's call-exactly-once contract.
type onceFlag struct {
	mu   sync.Mutex
	done bool
}

func (a *onceFlag) markDone() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done {
		return false
	}
	a.done = true
	return true
}

// New builds a Callback for one compile round.
func New(opts ...Option) *Callback {
	c := &Callback{logger: zerolog.Nop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StartSource records that src is about to be compiled.
func (c *Callback) StartSource(src ids.SourceID) {
	c.sourceStamps.LoadOrStore(src, stamp.Stamp(""))
	c.logger.Debug().Str("source", string(src)).Msg("start source")
}

// ClassDependency records "fromClass refers to onClass" under the given
// context.
func (c *Callback) ClassDependency(onClass, fromClass ids.ClassName, ctx analysis.DependencyContext) {
	getSet[ids.ClassName, classDep](&c.classDeps, fromClass).add(classDep{On: onClass, From: fromClass, Context: ctx})
}

// BinaryDependency records a dependency on a binary (non-source-tracked)
// class name; classification happens in GetOnce once every source in this
// round is known.
func (c *Callback) BinaryDependency(onBinary ids.BinaryClassName, fromClass ids.ClassName, fromSource ids.SourceID, ctx analysis.DependencyContext) {
	getSet[ids.ClassName, binaryDep](&c.binaryDeps, fromClass).add(binaryDep{
		On: onBinary, From: fromClass, FromSrc: fromSource, Context: ctx,
	})
}

// GeneratedNonLocalClass records an emitted class file for a declared,
// top-level class.
func (c *Callback) GeneratedNonLocalClass(src ids.SourceID, product ids.ProductID, binary ids.BinaryClassName, class ids.ClassName) {
	getSet[ids.SourceID, analysis.NonLocalProduct](&c.nonLocal, src).add(analysis.NonLocalProduct{
		Product: product, Class: class, Binary: binary,
	})
}

// GeneratedLocalClass records an emitted class file with no top-level class
// name; local classes contribute a product but never an entry in the
// classes relation.
func (c *Callback) GeneratedLocalClass(src ids.SourceID, product ids.ProductID) {
	getSet[ids.SourceID, ids.ProductID](&c.local, src).add(product)
}

// API records the computed API for one top-level class or object
// definition, called once per definition.
func (c *Callback) API(src ids.SourceID, class apimodel.ClassLike, apiDebug bool) {
	minimized := apimodel.Minimize(class, apiDebug)
	ac := apimodel.AnalyzedClass{
		Name:          class.Name,
		APIHash:       apimodel.APIHash(class),
		ExtraHash:     apimodel.ExtraHash(class),
		PerNameHashes: apimodel.PerNameHashes(class),
		HasMacro:      class.HasMacro,
		Provenance:    minimized,
	}
	c.apis.Store(class.Name, ac)
	c.logger.Debug().Str("source", string(src)).Str("class", string(class.Name)).Msg("api")
}

// UsedName records an unqualified identifier reference from className,
// tagged by the use-scopes it appeared under.
func (c *Callback) UsedName(className ids.ClassName, name string, scopes []apimodel.UseScope) {
	set := getSet[ids.ClassName, analysis.UsedName](&c.usedNames, className)
	for _, sc := range scopes {
		set.add(analysis.UsedName{Name: name, Scope: sc})
	}
}

// LibraryDependency records a binary (non-source-tracked) dependency.
func (c *Callback) LibraryDependency(src ids.SourceID, lib ids.LibraryID, st stamp.Stamp) {
	getSet[ids.SourceID, libDep](&c.libraryDeps, src).add(libDep{Library: lib, Stamp: st})
}

// MainClass records the main class discovered for a source.
func (c *Callback) MainClass(src ids.SourceID, class ids.ClassName) {
	c.mainClasses.Store(src, class)
}

// Problem records a diagnostic. The engine doesn't interpret problems; it
// only carries them through to SourceInfo for the caller's own reporting.
func (c *Callback) Problem(src ids.SourceID, p analysis.Problem) {
	getSet[ids.SourceID, analysis.Problem](&c.problems, src).add(p)
}

// DependencyPhaseCompleted, APIPhaseCompleted, ClassesInOutputJar are
// compiler-phase markers; the engine doesn't gate behavior on them but logs
// them for observability.
func (c *Callback) DependencyPhaseCompleted() { c.logger.Debug().Msg("dependency phase completed") }
func (c *Callback) APIPhaseCompleted()        { c.logger.Debug().Msg("api phase completed") }
func (c *Callback) ClassesInOutputJar()       { c.logger.Debug().Msg("classes in output jar") }

// getSet returns the syncSet stored under key in m, creating it if this is
// the first write for that key. Each *sync.Map field in Callback holds
// exactly one element type, so the type parameter T is always the same for
// a given field across the whole round.
func getSet[K comparable, T comparable](m *sync.Map, key K) *syncSet[T] {
	v, _ := m.LoadOrStore(key, newSyncSet[T]())
	return v.(*syncSet[T])
}

// GetOnce finalizes the callback, materializing an immutable Analysis. Must
// be called exactly once per round, after the compile function has
// returned; a second call returns errs.ContractViolation. The
// single-threaded driver invoking GetOnce after the compile function
// returns is what establishes the happens-before between compiler
// completion and snapshotting.
func (c *Callback) GetOnce(knownClasses map[ids.ClassName]ids.SourceID) (*analysis.Analysis, error) {
	if !c.done.markDone() {
		return nil, errs.NewContractViolation("GetOnce called more than once for this compile round")
	}

	a := analysis.Empty()
	now := time.Now().UnixMilli()

	// The caller's knownClasses only covers classes declared by sources
	// outside this round; this round's own declarations are only known
	// now, from the nonLocal products the compile function reported, so
	// fold them in before classifying anything against it.
	known := make(map[ids.ClassName]ids.SourceID, len(knownClasses))
	for k, v := range knownClasses {
		known[k] = v
	}
	c.nonLocal.Range(func(k, v any) bool {
		src := k.(ids.SourceID)
		for _, np := range v.(*syncSet[analysis.NonLocalProduct]).slice() {
			known[np.Class] = src
		}
		return true
	})
	knownClasses = known

	internalDepsBySrc := make(map[ids.SourceID][]analysis.Dependency)
	externalDepsBySrc := make(map[ids.SourceID][]analysis.Dependency)

	c.classDeps.Range(func(k, v any) bool {
		from := k.(ids.ClassName)
		fromSrc, fromKnown := knownClasses[from]
		set := v.(*syncSet[classDep])
		for _, d := range set.slice() {
			_, onKnown := knownClasses[d.On]
			if onKnown {
				internalDepsBySrc[fromSrc] = append(internalDepsBySrc[fromSrc], analysis.Dependency{From: from, On: d.On, Context: d.Context})
			} else if fromKnown {
				externalDepsBySrc[fromSrc] = append(externalDepsBySrc[fromSrc], analysis.Dependency{From: from, On: d.On, Context: d.Context})
			}
		}
		return true
	})

	c.binaryDeps.Range(func(k, v any) bool {
		set := v.(*syncSet[binaryDep])
		for _, d := range set.slice() {
			// The binary name doubles as the class name for classification:
			// a match in knownClasses means the referenced class is compiled
			// in this project after all.
			on := ids.ClassName(d.On)
			if _, ok := knownClasses[on]; ok {
				internalDepsBySrc[d.FromSrc] = append(internalDepsBySrc[d.FromSrc], analysis.Dependency{From: d.From, On: on, Context: d.Context})
			} else {
				externalDepsBySrc[d.FromSrc] = append(externalDepsBySrc[d.FromSrc], analysis.Dependency{From: d.From, On: on, Context: d.Context})
			}
		}
		return true
	})

	// Pair companions before grouping by source: a class-like and its
	// object-like definition under one name cross-reference each other, and
	// the class-like entry carries the merged per-name hash array.
	apisByName := make(map[ids.ClassName]apimodel.AnalyzedClass)
	c.apis.Range(func(k, v any) bool {
		apisByName[k.(ids.ClassName)] = v.(apimodel.AnalyzedClass)
		return true
	})
	for name, ac := range apisByName {
		if name.IsCompanion() {
			continue
		}
		obj, ok := apisByName[name.Companion()]
		if !ok {
			continue
		}
		ac.Companions = []ids.ClassName{obj.Name}
		ac.PerNameHashes = apimodel.MergeCompanionHashes(ac.PerNameHashes, obj.PerNameHashes)
		apisByName[name] = ac
		obj.Companions = []ids.ClassName{name}
		apisByName[obj.Name] = obj
	}

	bySrc := make(map[ids.SourceID][]apimodel.AnalyzedClass)
	for name, ac := range apisByName {
		src, ok := knownClasses[name]
		if !ok {
			continue
		}
		ac.CompilationTimestamp = now
		bySrc[src] = append(bySrc[src], ac)
	}

	nonLocalBySrc := make(map[ids.SourceID][]analysis.NonLocalProduct)
	c.nonLocal.Range(func(k, v any) bool {
		src := k.(ids.SourceID)
		nonLocalBySrc[src] = v.(*syncSet[analysis.NonLocalProduct]).slice()
		return true
	})

	localBySrc := make(map[ids.SourceID][]ids.ProductID)
	c.local.Range(func(k, v any) bool {
		src := k.(ids.SourceID)
		localBySrc[src] = v.(*syncSet[ids.ProductID]).slice()
		return true
	})

	libDepsBySrc := make(map[ids.SourceID]map[ids.LibraryID]stamp.Stamp)
	c.libraryDeps.Range(func(k, v any) bool {
		src := k.(ids.SourceID)
		m := make(map[ids.LibraryID]stamp.Stamp)
		for _, d := range v.(*syncSet[libDep]).slice() {
			m[d.Library] = d.Stamp
		}
		libDepsBySrc[src] = m
		return true
	})

	usedNamesBySrc := make(map[ids.SourceID]map[ids.ClassName][]analysis.UsedName)
	c.usedNames.Range(func(k, v any) bool {
		class := k.(ids.ClassName)
		src, ok := knownClasses[class]
		if !ok {
			return true
		}
		if usedNamesBySrc[src] == nil {
			usedNamesBySrc[src] = make(map[ids.ClassName][]analysis.UsedName)
		}
		usedNamesBySrc[src][class] = v.(*syncSet[analysis.UsedName]).slice()
		return true
	})

	c.sourceStamps.Range(func(k, v any) bool {
		src := k.(ids.SourceID)
		info := analysis.SourceInfo{}
		if mc, ok := c.mainClasses.Load(src); ok {
			info.MainClass = mc.(ids.ClassName)
		}
		if probs, ok := c.problems.Load(src); ok {
			info.Problems = probs.(*syncSet[analysis.Problem]).slice()
		}

		a = a.AddSource(
			src,
			bySrc[src],
			v.(stamp.Stamp),
			info,
			nonLocalBySrc[src],
			localBySrc[src],
			internalDepsBySrc[src],
			externalDepsBySrc[src],
			libDepsBySrc[src],
			usedNamesBySrc[src],
		)
		return true
	})

	return a, nil
}
