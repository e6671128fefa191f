package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/batchflow/internal/target"
)

func fileTarget(t *testing.T, dir, name string, exists bool) target.Target {
	t.Helper()
	path := filepath.Join(dir, name)
	if exists {
		require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	}
	return target.NewFile(path)
}

func TestComplete_AllOutputsMustExist(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	tk := &Func{
		TaskName: "assemble.S1",
		Out: map[string]target.Target{
			"contigs": fileTarget(t, dir, "S1.fasta", true),
			"log":     fileTarget(t, dir, "S1.log", false),
		},
	}

	ok, err := Complete(ctx, tk)
	require.NoError(t, err)
	require.False(t, ok, "one missing output means incomplete")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "S1.log"), nil, 0o644))
	ok, err = Complete(ctx, tk)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestComplete_NoOutputsIsNeverComplete(t *testing.T) {
	t.Parallel()
	tk := &Func{TaskName: "side-effect-only"}
	ok, err := Complete(context.Background(), tk)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSlotNames_Sorted(t *testing.T) {
	t.Parallel()
	m := map[string]target.Target{
		"gff":   target.NewFile("/x/a.gff"),
		"faa":   target.NewFile("/x/a.faa"),
		"stats": target.NewFile("/x/a.txt"),
	}
	require.Equal(t, []string{"faa", "gff", "stats"}, SlotNames(m))
}
