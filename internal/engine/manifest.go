package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the manifest file name inside every engine directory.
const ManifestFile = "engine.yaml"

// Adapter kinds.
const (
	AdapterBuiltin = "builtin"
	AdapterProcess = "process"
)

// Manifest describes how to instantiate the adapter of one engine.
type Manifest struct {
	// Adapter is AdapterBuiltin or AdapterProcess.
	Adapter string `yaml:"adapter"`
	// Command is the adapter executable, relative to the engine directory.
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	// Builtin names a factory in the builtin adapter registry.
	Builtin string `yaml:"builtin,omitempty"`
	// Concurrent, when set to false, serialises calls even if the adapter
	// allows concurrent runs.
	Concurrent *bool      `yaml:"concurrent,omitempty"`
	Artifacts  []Artifact `yaml:"artifacts,omitempty"`
}

// Artifact is a file the engine needs, with an optional SHA-256 checksum.
type Artifact struct {
	Path   string `yaml:"path"`
	SHA256 string `yaml:"sha256,omitempty"`
}

// ReadManifest reads and validates the manifest of the engine in dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that the manifest names a usable adapter.
func (m *Manifest) Validate() error {
	switch m.Adapter {
	case AdapterBuiltin:
		if m.Builtin == "" {
			return fmt.Errorf("manifest: builtin adapter needs a builtin name")
		}
	case AdapterProcess:
		if m.Command == "" {
			return fmt.Errorf("manifest: process adapter needs a command")
		}
		if !local(m.Command) {
			return fmt.Errorf("manifest: command %q is outside the engine directory", m.Command)
		}
	default:
		return fmt.Errorf("manifest: unknown adapter kind %q", m.Adapter)
	}
	for _, a := range m.Artifacts {
		if a.Path == "" || !local(a.Path) {
			return fmt.Errorf("manifest: artifact path %q is outside the engine directory", a.Path)
		}
	}
	return nil
}

// VerifyArtifacts checks that every artifact exists in dir and matches its
// checksum when one is declared.
func (m *Manifest) VerifyArtifacts(dir string) error {
	for _, a := range m.Artifacts {
		path := filepath.Join(dir, filepath.FromSlash(a.Path))
		if a.SHA256 == "" {
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("artifact %s: %w", a.Path, err)
			}
			if info.IsDir() {
				return fmt.Errorf("artifact %s: is a directory", a.Path)
			}
			continue
		}
		sum, err := fileSHA256(path)
		if err != nil {
			return fmt.Errorf("artifact %s: %w", a.Path, err)
		}
		if !strings.EqualFold(sum, a.SHA256) {
			return fmt.Errorf("artifact %s: checksum %s does not match %s", a.Path, sum, a.SHA256)
		}
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func local(p string) bool {
	return filepath.IsLocal(filepath.FromSlash(p))
}
