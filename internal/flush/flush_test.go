package flush

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFile(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "bx_00000000.bas"))
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write(make([]byte, 1024))
	require.NoError(t, err)
	require.NoError(t, File(f, false))
	require.NoError(t, File(f, true))
}
