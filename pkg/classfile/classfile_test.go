package classfile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stackb/incrc/pkg/classfile"
	"github.com/stackb/incrc/pkg/ids"
)

func writeProduct(t *testing.T, dir, name string) ids.ProductID {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("classbytes"), 0o644))
	return ids.ProductID(path)
}

func TestDeleteThenCommitRemovesFile(t *testing.T) {
	out := t.TempDir()
	p := writeProduct(t, out, "A.class")

	mgr, err := classfile.Acquire(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, mgr.Delete(p))

	// staged, not yet gone from the manager's point of view, but moved
	// out of the output location already.
	_, err = os.Stat(string(p))
	require.True(t, os.IsNotExist(err))

	require.NoError(t, mgr.Complete(true))
	_, err = os.Stat(string(p))
	require.True(t, os.IsNotExist(err))
}

func TestDeleteThenRollbackRestoresFile(t *testing.T) {
	out := t.TempDir()
	p := writeProduct(t, out, "A.class")

	mgr, err := classfile.Acquire(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, mgr.Delete(p))
	require.NoError(t, mgr.Complete(false))

	data, err := os.ReadFile(string(p))
	require.NoError(t, err)
	require.Equal(t, "classbytes", string(data))
}

// Two products sharing a basename in different directories stage
// independently and both survive a rollback.
func TestSameBasenameProductsDoNotCollideInStaging(t *testing.T) {
	out := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(out, "a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(out, "b"), 0o755))
	pa := filepath.Join(out, "a", "Main.class")
	pb := filepath.Join(out, "b", "Main.class")
	require.NoError(t, os.WriteFile(pa, []byte("bytes-a"), 0o644))
	require.NoError(t, os.WriteFile(pb, []byte("bytes-b"), 0o644))

	mgr, err := classfile.Acquire(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, mgr.Delete(ids.ProductID(pa), ids.ProductID(pb)))
	require.NoError(t, mgr.Complete(false))

	dataA, err := os.ReadFile(pa)
	require.NoError(t, err)
	require.Equal(t, "bytes-a", string(dataA))
	dataB, err := os.ReadFile(pb)
	require.NoError(t, err)
	require.Equal(t, "bytes-b", string(dataB))
}

func TestDeleteMissingFileIsNoOp(t *testing.T) {
	mgr, err := classfile.Acquire(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, mgr.Delete("does/not/exist.class"))
	require.NoError(t, mgr.Complete(true))
}
