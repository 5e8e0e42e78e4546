package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/cxmalloc/cxmalloc"
)

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		buf.ReadFrom(r)
		done <- buf.String()
	}()

	fnErr := fn()
	w.Close()
	os.Stdout = origStdout
	return <-done, fnErr
}

// assertJSON checks that output is valid JSON
func assertJSON(t *testing.T, output string) {
	t.Helper()
	var result any
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		t.Errorf("invalid JSON output: %v\nOutput: %s", err, output)
	}
}

// assertContains checks that output contains all expected strings
func assertContains(t *testing.T, output string, expected []string) {
	t.Helper()
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("output missing expected string %q\nGot: %s", want, output)
		}
	}
}

func resetFlags() {
	verbose, quiet, jsonOut = false, false, false
	familyDir, inspectBlocks, checkRepair, reportLines, descPath = "", false, false, false, ""
}

// persistedFamily writes a small family and its YAML descriptor. It returns
// the descriptor path and the persistence directory.
func persistedFamily(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	d := cxmalloc.DefaultDescriptor("cli")
	d.Parameter.BlockSize = 4096
	d.Parameter.MaxAllocators = 16
	d.Persist.Path = filepath.Join(dir, "data")

	f, err := cxmalloc.NewFamily(d, cxmalloc.WithSerializer(cxmalloc.RawSerializer{}))
	require.NoError(t, err)
	defer f.Close()
	for i := 0; i < 5; i++ {
		ln, err := f.New(uint32(i * 30))
		require.NoError(t, err)
		copy(ln.Array(), "payload")
	}
	_, err = f.BulkSerialize(context.Background(), true)
	require.NoError(t, err)

	yml, err := cxmalloc.EncodeDescriptor(d)
	require.NoError(t, err)
	path := filepath.Join(dir, "cli.yaml")
	require.NoError(t, os.WriteFile(path, yml, 0o644))
	return path, d.Persist.Path
}
