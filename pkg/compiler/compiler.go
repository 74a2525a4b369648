// Package compiler defines the contract an actual compiler must satisfy:
// consume a source set, emit products, and report facts through a
// callback. The engine never implements one itself; it only specifies the
// contract the cycle driver calls against.
package compiler

import (
	"context"

	"github.com/stackb/incrc/pkg/callback"
	"github.com/stackb/incrc/pkg/ids"
)

// CompileFunc compiles sources, reporting every fact through cb, and
// returns when compilation of this set has finished. Returning an error
// that satisfies errors.Is(err, errs.Cancellation) requests cooperative
// cancellation; any other error is a CompilerFailure. cb.GetOnce must not
// be called by CompileFunc itself; that's the cycle driver's job, after
// CompileFunc returns.
type CompileFunc func(ctx context.Context, sources []ids.SourceID, cb *callback.Callback) error
