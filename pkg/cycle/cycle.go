// Package cycle implements the driver state machine that iterates
// invalidate -> map-to-sources -> prune -> compile -> merge -> detect API
// changes -> next round, until either every source has been recompiled,
// nothing further needs invalidating, or the external lookup vetoes
// continuing.
package cycle

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/stackb/incrc/pkg/analysis"
	"github.com/stackb/incrc/pkg/apimodel"
	"github.com/stackb/incrc/pkg/callback"
	"github.com/stackb/incrc/pkg/changes"
	"github.com/stackb/incrc/pkg/classfile"
	"github.com/stackb/incrc/pkg/classpath"
	"github.com/stackb/incrc/pkg/compiler"
	"github.com/stackb/incrc/pkg/config"
	"github.com/stackb/incrc/pkg/errs"
	"github.com/stackb/incrc/pkg/ids"
	"github.com/stackb/incrc/pkg/internal/worklist"
	"github.com/stackb/incrc/pkg/invalidate"
	"github.com/stackb/incrc/pkg/stamp"
)

// Result is what Run returns.
type Result struct {
	// Analysis is the resulting Analysis: the previous one, unchanged, if
	// Run found nothing to do or rolled back after cancellation; otherwise
	// the merged outcome of every round that ran.
	Analysis *analysis.Analysis
	// Compiled reports whether at least one compile round completed and
	// its outcome is in Analysis; it is false when Run found nothing to do
	// or was cancelled.
	Compiled bool
	// Cycles is the number of compile rounds performed.
	Cycles int
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger attaches a zerolog.Logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// Driver holds the external collaborators the engine is parameterized
// over: a stamp reader, a classpath lookup, a compile function, and a
// class-file manager.
type Driver struct {
	logger  zerolog.Logger
	stamps  stamp.Reader
	lookup  classpath.Lookup
	compile compiler.CompileFunc
	manager classfile.Manager
	options config.Options
}

// New builds a Driver.
func New(stamps stamp.Reader, lookup classpath.Lookup, compile compiler.CompileFunc, manager classfile.Manager, opts config.Options, options ...Option) *Driver {
	d := &Driver{
		logger:  zerolog.Nop(),
		stamps:  stamps,
		lookup:  lookup,
		compile: compile,
		manager: manager,
		options: opts,
	}
	for _, o := range options {
		o(d)
	}
	return d
}

// Run drives compilation of sources to a fixed point starting from prev. It
// asks the change detector for InitialChanges, seeds the invalidated set,
// then loops: recompile, merge, diff APIs, invalidate again.
func (d *Driver) Run(ctx context.Context, sources []ids.SourceID, prev *analysis.Analysis) (Result, error) {
	if prev == nil {
		prev = analysis.Empty()
	}

	ic, err := changes.Detect(sources, prev, d.stamps, d.lookup, d.options)
	if err != nil {
		return Result{}, err
	}

	initiallyChanged := initiallyChangedSources(ic, prev)

	invalidatedClasses := worklist.NewSet[ids.ClassName]()
	for _, c := range ic.ExternalAPIChanges {
		for cls := range invalidate.Invalidate(c, prev, d.options) {
			invalidatedClasses.Add(cls)
		}
	}

	// A removed source takes its declared classes with it: users of those
	// classes are invalidated as if each class's API collapsed to nothing,
	// the source's products are pruned, and its facts leave the Analysis
	// before the first round.
	current := prev
	if len(ic.Sources.Removed) > 0 {
		var orphaned []ids.ProductID
		for _, s := range ic.Sources.Removed {
			orphaned = append(orphaned, prev.Relations.SrcProd.Forward(s)...)
			for _, c := range prev.ClassesOf(s) {
				gone := changes.APIChange{Class: c, Old: prev.APIs.Internal[c], New: apimodel.Empty(c)}
				for cls := range invalidate.Invalidate(gone, prev, d.options) {
					invalidatedClasses.Add(cls)
				}
			}
		}
		if err := d.manager.Delete(orphaned...); err != nil {
			return Result{}, err
		}
		current = prev.Without(ic.Sources.Removed...)
	}

	cycleNum := 0

	for {
		if len(invalidatedClasses) == 0 && len(initiallyChanged) == 0 {
			return d.finish(current, cycleNum > 0, cycleNum)
		}

		classesToRecompile := invalidatedClasses.Union(invalidate.ExpandPackageObjects(invalidatedClasses, current))

		recompileSources, widened := invalidate.MapToSources(classesToRecompile, current, sources, d.options)
		recompileSources = recompileSources.Union(initiallyChanged)
		if widened {
			recompileSources = worklist.NewSet(sources...)
		}

		d.logger.Debug().
			Int("cycle", cycleNum).
			Int("classes", len(classesToRecompile)).
			Int("sources", len(recompileSources)).
			Bool("widened", widened).
			Msg("recompiling")

		oldClasses := make(map[ids.SourceID][]ids.ClassName, len(recompileSources))
		for s := range recompileSources {
			oldClasses[s] = current.ClassesOf(s)
		}

		fresh, compiled, err := d.recompile(ctx, recompileSources.Slice(), current)
		if err != nil {
			if errors.Is(err, errs.Cancellation) {
				if rerr := d.manager.Complete(false); rerr != nil {
					d.logger.Error().Err(rerr).Msg("rollback after cancellation failed")
				}
				return Result{Analysis: prev, Compiled: false, Cycles: cycleNum}, nil
			}
			if rerr := d.manager.Complete(false); rerr != nil {
				d.logger.Error().Err(rerr).Msg("rollback after compiler failure failed")
			}
			return Result{}, errs.CompilerFailure{Err: err}
		}

		merged := current.Without(recompileSources.Slice()...).Merge(fresh)
		cycleNum++

		if setEqual(recompileSources, worklist.NewSet(sources...)) {
			return d.finish(merged, compiled, cycleNum)
		}

		recompiledClasses := classesToRecompile.Union(nil)
		for s := range recompileSources {
			for _, c := range oldClasses[s] {
				recompiledClasses.Add(c)
			}
			for _, c := range merged.ClassesOf(s) {
				recompiledClasses.Add(c)
			}
		}

		secondOrder := invalidate.SecondOrder(merged)
		nextInvalidated := worklist.NewSet[ids.ClassName]()
		for _, c := range diffClasses(recompiledClasses, current, merged) {
			for cls := range invalidate.Invalidate(c, merged, d.options) {
				nextInvalidated.Add(cls)
			}
		}
		for c := range secondOrder {
			nextInvalidated.Add(c)
		}

		if cycleNum > d.options.TransitiveStep {
			nextInvalidated = invalidate.Saturate(nextInvalidated.Slice(), merged)
		}

		if d.lookup != nil && !d.lookup.ShouldDoIncrementalCompilation(map[ids.ClassName]struct{}(nextInvalidated)) {
			return d.finish(merged, compiled, cycleNum)
		}

		current = merged
		invalidatedClasses = nextInvalidated
		initiallyChanged = worklist.NewSet[ids.SourceID]()
	}
}

func (d *Driver) finish(a *analysis.Analysis, compiled bool, cycles int) (Result, error) {
	if err := d.manager.Complete(true); err != nil {
		return Result{}, err
	}
	return Result{Analysis: a, Compiled: compiled, Cycles: cycles}, nil
}

// recompile runs one round: prune the recompiled sources' products via the
// class-file manager, then invoke the compile function against a fresh
// callback and freeze its facts.
func (d *Driver) recompile(ctx context.Context, sources []ids.SourceID, current *analysis.Analysis) (*analysis.Analysis, bool, error) {
	var products []ids.ProductID
	for _, s := range sources {
		products = append(products, current.Relations.SrcProd.Forward(s)...)
	}
	if err := d.manager.Delete(products...); err != nil {
		return nil, false, err
	}

	cb := callback.New(callback.WithLogger(d.logger))
	for _, s := range sources {
		cb.StartSource(s)
	}
	if err := d.compile(ctx, sources, cb); err != nil {
		return nil, false, err
	}

	recompiled := worklist.NewSet(sources...)
	known := make(map[ids.ClassName]ids.SourceID)
	for _, s := range current.Sources() {
		if recompiled.Has(s) {
			continue
		}
		for _, c := range current.ClassesOf(s) {
			known[c] = s
		}
	}

	fresh, err := cb.GetOnce(known)
	if err != nil {
		return nil, false, err
	}

	stamps := make(map[ids.SourceID]stamp.Stamp, len(sources))
	for _, s := range sources {
		st, err := d.stamps.Stamp(string(s))
		if err != nil {
			return nil, false, err
		}
		stamps[s] = st
	}
	fresh = fresh.WithSourceStamps(stamps)

	return fresh, true, nil
}

// initiallyChangedSources collects every source that must be recompiled
// regardless of the invalidated-classes computation: newly added or
// content-changed sources, sources depending on a changed library, and
// sources whose product was externally removed or modified.
func initiallyChangedSources(ic changes.InitialChanges, prev *analysis.Analysis) worklist.Set[ids.SourceID] {
	out := worklist.NewSet(ic.Sources.Added...)
	for _, s := range ic.Sources.Changed {
		out.Add(s)
	}
	changedLibs := worklist.NewSet(ic.ChangedLibraries...)
	for _, pair := range prev.Relations.LibraryDep.All() {
		if changedLibs.Has(pair.Value) {
			out.Add(pair.Key)
		}
	}
	for _, p := range ic.RemovedProducts {
		for _, s := range prev.Relations.SrcProd.Reverse(p) {
			out.Add(s)
		}
	}
	return out
}

// diffClasses detects API changes for exactly the given class names between
// two Analyses, against the internal API maps; the result feeds the
// invalidator for the next round.
func diffClasses(names worklist.Set[ids.ClassName], oldA, newA *analysis.Analysis) []changes.APIChange {
	var out []changes.APIChange
	for c := range names {
		change := changes.APIChange{Class: c, Old: oldA.APIs.Internal[c], New: newA.APIs.Internal[c]}
		if change.Changed() {
			out = append(out, change)
		}
	}
	return out
}

func setEqual[T comparable](a, b worklist.Set[T]) bool {
	if len(a) != len(b) {
		return false
	}
	for x := range a {
		if !b.Has(x) {
			return false
		}
	}
	return true
}
