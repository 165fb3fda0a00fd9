package agentbin

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func TestLookupPrefersDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "rm-pad-grab-aarch64"), []byte("local"), 0o755); err != nil {
		t.Fatal(err)
	}
	s := &Store{Dir: dir, fs: fstest.MapFS{
		"bin/rm-pad-grab-aarch64": {Data: []byte("embedded")},
		"bin/rm-pad-grab-armv7l":  {Data: []byte("embedded-arm")},
	}}

	b, err := s.Lookup("aarch64")
	if err != nil {
		t.Fatal(err)
	}
	if string(b.Data) != "local" {
		t.Fatalf("got %q, want the directory copy", b.Data)
	}

	b, err = s.Lookup("armv7l")
	if err != nil {
		t.Fatal(err)
	}
	if string(b.Data) != "embedded-arm" {
		t.Fatalf("got %q, want the embedded copy", b.Data)
	}
	// sha256("embedded-arm") as printed by sha256sum.
	if len(b.SHA256) != 64 {
		t.Fatalf("hash %q is not hex sha256", b.SHA256)
	}
}

func TestLookupMissing(t *testing.T) {
	s := &Store{fs: fstest.MapFS{}}
	if _, err := s.Lookup("riscv64"); !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("err = %v, want ErrNotBuilt", err)
	}
}

func TestKnownHash(t *testing.T) {
	b := newBinary("armv7l", []byte("abc"))
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if b.SHA256 != want {
		t.Fatalf("SHA256 = %s", b.SHA256)
	}
}
