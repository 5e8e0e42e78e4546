//go:build unix

package mmfile

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestMapQWords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ax_0000.dat")
	want := make([]byte, 64)
	for i := 0; i < 8; i++ {
		binary.LittleEndian.PutUint64(want[i*8:], uint64(i)<<32)
	}
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, release, err := Map(path)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(data) != len(want) {
		t.Fatalf("len mismatch: got %d want %d", len(data), len(want))
	}
	if got := binary.LittleEndian.Uint64(data[56:]); got != 7<<32 {
		t.Fatalf("qword 7 = %#x", got)
	}
	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
}

func TestMapZeroLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bas")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, release, err := Map(path)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected zero-length mapping, got %d", len(data))
	}
	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestMapMissing(t *testing.T) {
	if _, _, err := Map(filepath.Join(t.TempDir(), "nope.dat")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
