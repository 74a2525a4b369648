// Package classfile implements the class-file manager, a scoped resource:
// acquire before the first cycle, commit or roll back generated class
// files transactionally, with guaranteed release on every exit path.
package classfile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/stackb/incrc/pkg/ids"
)

// Manager commits or rolls back generated class files for one cycle.
type Manager interface {
	// Delete stages products for removal: each file leaves its output
	// location at once, and Complete decides whether it is discarded or
	// put back.
	Delete(products ...ids.ProductID) error
	// Complete ends the scope: commit persists staged deletes, discard
	// restores anything staged for deletion. Either way the manager is
	// left ready for the next Acquire.
	Complete(commit bool) error
}

// Option configures an fsManager.
type Option func(*fsManager)

// WithLogger attaches a zerolog.Logger (see pkg/callback's WithLogger for
// the convention this follows).
func WithLogger(logger zerolog.Logger) Option {
	return func(m *fsManager) { m.logger = logger }
}

// fsManager is a filesystem-backed Manager: Delete moves a product's file
// into a staging directory rather than removing it outright, so
// Complete(false) can restore it untouched.
type fsManager struct {
	logger   zerolog.Logger
	stageDir string
	staged   map[ids.ProductID]string // product -> original path
}

// Acquire starts a new transactional scope rooted at stageDir (created if
// absent).
func Acquire(stageDir string, opts ...Option) (Manager, error) {
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return nil, fmt.Errorf("acquire class-file manager: %w", err)
	}
	m := &fsManager{logger: zerolog.Nop(), stageDir: stageDir, staged: make(map[ids.ProductID]string)}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// stagedPath names a product's backup file by a digest of its full path;
// products in different directories may share a basename, so the basename
// alone cannot key the staging area.
func (m *fsManager) stagedPath(p ids.ProductID) string {
	sum := sha256.Sum256([]byte(p))
	return filepath.Join(m.stageDir, hex.EncodeToString(sum[:])+".bak")
}

// Delete implements Manager.
func (m *fsManager) Delete(products ...ids.ProductID) error {
	for _, p := range products {
		path := string(p)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := os.Rename(path, m.stagedPath(p)); err != nil {
			return fmt.Errorf("stage delete of %s: %w", path, err)
		}
		m.staged[p] = path
		m.logger.Debug().Str("product", path).Msg("staged for deletion")
	}
	return nil
}

// Complete implements Manager. On commit, staged files are removed for
// good; on rollback, they're restored to their original location.
func (m *fsManager) Complete(commit bool) error {
	var firstErr error
	for product, original := range m.staged {
		staged := m.stagedPath(product)
		if commit {
			if err := os.Remove(staged); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("commit delete of %s: %w", original, err)
			}
		} else {
			if err := os.Rename(staged, original); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("rollback delete of %s: %w", original, err)
			}
		}
		delete(m.staged, product)
	}
	return firstErr
}
