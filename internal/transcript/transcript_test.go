package transcript

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSinkWritesFileAndConsole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log")
	var console bytes.Buffer

	s, err := Open(path, &console)
	require.NoError(t, err)

	s.Logf("git %s", "checkout master")
	_, err = s.Write([]byte("Switched to branch 'master'\n"))
	require.NoError(t, err)

	require.NoError(t, s.Close())

	want := "> git checkout master\nSwitched to branch 'master'\n"

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, string(content))
	assert.Equal(t, want, console.String())
}

func TestSinkCloseIsIdempotent(t *testing.T) {
	var out bytes.Buffer
	s := New(&out, nil)

	_, err := s.Write([]byte("x"))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, "x", out.String())

	_, err = s.Write([]byte("y"))
	assert.ErrorIs(t, err, ErrClosed)
}
