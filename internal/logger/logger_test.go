package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitWriter(t *testing.T) {
	t.Cleanup(func() { L = slog.New(slog.NewTextHandler(io.Discard, nil)) })

	var out bytes.Buffer
	require.NoError(t, Init(Options{Enabled: true, Writer: &out, JSON: true, Level: slog.LevelDebug}))
	Debug("allocator created", "aidx", 3)
	require.Contains(t, out.String(), `"aidx":3`)

	require.NoError(t, Init(Options{Enabled: false}))
	Error("dropped")
	require.NotContains(t, out.String(), "dropped")
}

func TestInitLogDir(t *testing.T) {
	t.Cleanup(func() { L = slog.New(slog.NewTextHandler(io.Discard, nil)) })

	dir := t.TempDir()
	old := filepath.Join(dir, logPrefix+"2001-01-01"+logSuffix)
	require.NoError(t, os.WriteFile(old, nil, 0o644))
	keep := filepath.Join(dir, "unrelated.log")
	require.NoError(t, os.WriteFile(keep, nil, 0o644))

	require.NoError(t, Init(Options{Enabled: true, LogDir: dir}))
	Info("family opened")

	_, err := os.Stat(old)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(keep)
	require.NoError(t, err)

	today := filepath.Join(dir, logPrefix+time.Now().Format("2006-01-02")+logSuffix)
	data, err := os.ReadFile(today)
	require.NoError(t, err)
	require.Contains(t, string(data), "family opened")
}
