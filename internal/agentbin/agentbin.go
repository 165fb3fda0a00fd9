// Package agentbin holds the grab agent binaries shipped inside the host
// binary, one per supported tablet architecture.
package agentbin

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed bin
var embedded embed.FS

// ErrNotBuilt is returned when no binary exists for an architecture.
var ErrNotBuilt = errors.New("agent binary not built for this architecture (run `make agents`)")

// Binary is an agent executable for one architecture.
type Binary struct {
	Arch   string
	Data   []byte
	SHA256 string
}

// FileName is the binary's name for arch, e.g. rm-pad-grab-aarch64.
func FileName(arch string) string {
	return "rm-pad-grab-" + arch
}

// Store resolves agent binaries. Dir, when set, is searched before the
// embedded set so a freshly built agent can be tried without rebuilding the
// host.
type Store struct {
	Dir string
	fs  fs.FS
}

func NewStore(dir string) *Store {
	return &Store{Dir: dir, fs: embedded}
}

// Lookup returns the binary for a `uname -m` value.
func (s *Store) Lookup(arch string) (Binary, error) {
	name := FileName(canonicalArch(arch))
	if s.Dir != "" {
		data, err := os.ReadFile(filepath.Join(s.Dir, name))
		if err == nil {
			return newBinary(arch, data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return Binary{}, err
		}
	}
	data, err := fs.ReadFile(s.fs, "bin/"+name)
	if errors.Is(err, fs.ErrNotExist) {
		return Binary{}, fmt.Errorf("%s: %w", arch, ErrNotBuilt)
	}
	if err != nil {
		return Binary{}, err
	}
	return newBinary(arch, data), nil
}

func newBinary(arch string, data []byte) Binary {
	sum := sha256.Sum256(data)
	return Binary{Arch: arch, Data: data, SHA256: hex.EncodeToString(sum[:])}
}

func canonicalArch(arch string) string {
	switch arch {
	case "armv7l", "armv7", "armv6l":
		return "armv7l"
	case "aarch64", "arm64":
		return "aarch64"
	}
	return arch
}
