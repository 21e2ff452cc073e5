package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/seantiz/modelrunner/internal/model"
)

// Descriptor is a request for an engine.
type Descriptor struct {
	// Framework is the framework or weights format, e.g. "torchscript".
	Framework string `json:"framework"`
	// Version is the requested framework version.
	Version string `json:"version"`
	// EnginesDir is the root directory scanned for installed engines.
	EnginesDir string `json:"engines_dir"`
	// Device is "any", "cpu" or "gpu". Empty means any.
	Device string `json:"device,omitempty"`
	// Strict disables the nearest-lower version fallback.
	Strict bool `json:"strict,omitempty"`
	// Platform overrides the host platform when set.
	Platform *Platform `json:"platform,omitempty"`
}

// Resolved is the outcome of a successful resolution.
type Resolved struct {
	Dir EngineDir `json:"dir"`
	// Requested is the version the caller asked for.
	Requested string `json:"requested"`
	// Exact reports whether Dir.Version equals Requested.
	Exact bool `json:"exact"`
}

// ListEngines returns every subdirectory of root whose name parses as an
// engine directory, sorted by name. Other entries are ignored.
func ListEngines(root string) ([]EngineDir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("engines dir: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read engines dir: %w", err)
	}

	var dirs []EngineDir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		d, err := ParseDirName(e.Name())
		if err != nil {
			continue
		}
		d.Path = filepath.Join(abs, e.Name())
		dirs = append(dirs, d)
	}
	return dirs, nil
}

// Resolve selects exactly one installed engine. The framework and platform
// must match; an exact version wins; GPU-capable engines are preferred
// unless the CPU was requested. Without Strict, a missing version falls back
// to the nearest lower one and the substitution is logged at WARN.
func (d *Descriptor) Resolve(logger *slog.Logger) (*Resolved, error) {
	framework := NormalizeFramework(d.Framework)
	if framework == "" {
		return nil, fmt.Errorf("%w: no framework given", ErrEngineNotFound)
	}
	device := strings.ToLower(d.Device)
	if device == "" {
		device = model.DeviceAny
	}
	switch device {
	case model.DeviceAny, model.DeviceCPU, model.DeviceGPU:
	default:
		return nil, fmt.Errorf("%w: unknown device %q", ErrEngineNotFound, d.Device)
	}
	platform := HostPlatform()
	if d.Platform != nil {
		platform = *d.Platform
	}

	installed, err := ListEngines(d.EnginesDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngineNotFound, err)
	}

	var candidates []EngineDir
	for _, e := range installed {
		if e.Framework != framework || e.Platform() != platform {
			continue
		}
		if (device == model.DeviceCPU && !e.CPU) || (device == model.DeviceGPU && !e.GPU) {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s for %s (device %s) in %s", ErrEngineNotFound, framework, platform, device, d.EnginesDir)
	}

	exact := filterVersion(candidates, func(v string) bool { return sameVersion(v, d.Version) })
	if len(exact) > 0 {
		chosen, err := pick(exact, device)
		if err != nil {
			return nil, err
		}
		return &Resolved{Dir: chosen, Requested: d.Version, Exact: true}, nil
	}

	available := versions(candidates)
	if d.Strict {
		return nil, fmt.Errorf("%w: %s %s not installed (have %s)", ErrEngineVersionMismatch, framework, d.Version, strings.Join(available, ", "))
	}

	want := canonical(d.Version)
	var best string
	for _, e := range candidates {
		v := canonical(e.Version)
		if v == "" || want == "" || semver.Compare(v, want) >= 0 {
			continue
		}
		if best == "" || semver.Compare(v, best) > 0 {
			best = v
		}
	}
	if best == "" {
		return nil, fmt.Errorf("%w: no %s version at or below %s (have %s)", ErrEngineVersionMismatch, framework, d.Version, strings.Join(available, ", "))
	}

	lower := filterVersion(candidates, func(v string) bool { return canonical(v) == best })
	chosen, err := pick(lower, device)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Warn("engine version substituted",
			"framework", framework,
			"requested", d.Version,
			"using", chosen.Version,
			"engine_dir", chosen.Path,
		)
	}
	return &Resolved{Dir: chosen, Requested: d.Version}, nil
}

// pick applies the device preference, then the newest API version, and
// fails if more than one directory is left.
func pick(dirs []EngineDir, device string) (EngineDir, error) {
	preferred := dirs
	if device == model.DeviceCPU {
		if cpuOnly := filterDirs(dirs, func(e EngineDir) bool { return !e.GPU }); len(cpuOnly) > 0 {
			preferred = cpuOnly
		}
	} else if gpu := filterDirs(dirs, func(e EngineDir) bool { return e.GPU }); len(gpu) > 0 {
		preferred = gpu
	}

	if len(preferred) > 1 {
		newest := ""
		for _, e := range preferred {
			if v := canonical(e.APIVersion); v != "" && (newest == "" || semver.Compare(v, newest) > 0) {
				newest = v
			}
		}
		if newest != "" {
			preferred = filterDirs(preferred, func(e EngineDir) bool { return canonical(e.APIVersion) == newest })
		}
	}

	if len(preferred) != 1 {
		names := make([]string, len(preferred))
		for i, e := range preferred {
			names[i] = e.Name
		}
		return EngineDir{}, fmt.Errorf("%w: %s", ErrAmbiguousEngine, strings.Join(names, ", "))
	}
	return preferred[0], nil
}

func filterDirs(dirs []EngineDir, keep func(EngineDir) bool) []EngineDir {
	var out []EngineDir
	for _, e := range dirs {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func filterVersion(dirs []EngineDir, match func(string) bool) []EngineDir {
	return filterDirs(dirs, func(e EngineDir) bool { return match(e.Version) })
}

func versions(dirs []EngineDir) []string {
	var vs []string
	for _, e := range dirs {
		if !slices.Contains(vs, e.Version) {
			vs = append(vs, e.Version)
		}
	}
	slices.Sort(vs)
	return vs
}

// canonical turns "1.11" or "v1.11.0" into "v1.11.0", or "" if v is not a
// semantic version.
func canonical(v string) string {
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}

func sameVersion(a, b string) bool {
	if a == b {
		return true
	}
	ca, cb := canonical(a), canonical(b)
	return ca != "" && ca == cb
}
