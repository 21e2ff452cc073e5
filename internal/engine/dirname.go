package engine

import (
	"fmt"
	"strings"
)

// Canonical framework names.
const (
	FrameworkPyTorch    = "pytorch"
	FrameworkTensorFlow = "tensorflow"
	FrameworkONNX       = "onnx"
)

var frameworkAliases = map[string]string{
	"torchscript":                   FrameworkPyTorch,
	"tensorflow_saved_model_bundle": FrameworkTensorFlow,
	"keras":                         FrameworkTensorFlow,
}

// NormalizeFramework lower-cases a framework name and maps weight-format
// aliases to the framework that runs them.
func NormalizeFramework(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if canon, ok := frameworkAliases[s]; ok {
		return canon
	}
	return s
}

// EngineDir describes one installed engine, parsed from its directory name
// of the form framework-version-apiVersion-os-arch[-cpu][-gpu].
type EngineDir struct {
	// Name is the directory base name.
	Name string `json:"name"`
	// Path is the absolute directory path. Empty when parsed from a bare name.
	Path       string `json:"path,omitempty"`
	Framework  string `json:"framework"`
	Version    string `json:"version"`
	APIVersion string `json:"api_version"`
	OS         string `json:"os"`
	Arch       string `json:"arch"`
	CPU        bool   `json:"cpu"`
	GPU        bool   `json:"gpu"`
}

// Platform returns the os/arch pair the engine was built for.
func (d EngineDir) Platform() Platform {
	return Platform{OS: d.OS, Arch: d.Arch}
}

// ParseDirName parses an engine directory name. A name without a device
// suffix is taken as CPU-only.
func ParseDirName(name string) (EngineDir, error) {
	parts := strings.Split(name, "-")
	if len(parts) < 5 {
		return EngineDir{}, fmt.Errorf("engine directory %q: want framework-version-apiVersion-os-arch[-cpu][-gpu]", name)
	}
	for i, p := range parts[:5] {
		if p == "" {
			return EngineDir{}, fmt.Errorf("engine directory %q: empty field %d", name, i+1)
		}
	}

	d := EngineDir{
		Name:       name,
		Framework:  NormalizeFramework(parts[0]),
		Version:    parts[1],
		APIVersion: parts[2],
		OS:         strings.ToLower(parts[3]),
		Arch:       strings.ToLower(parts[4]),
	}
	for _, dev := range parts[5:] {
		switch strings.ToLower(dev) {
		case "cpu":
			d.CPU = true
		case "gpu":
			d.GPU = true
		default:
			return EngineDir{}, fmt.Errorf("engine directory %q: unknown device %q", name, dev)
		}
	}
	if !d.CPU && !d.GPU {
		d.CPU = true
	}
	return d, nil
}
