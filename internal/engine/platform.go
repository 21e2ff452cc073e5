package engine

import (
	"fmt"
	"runtime"
	"strings"
)

// Platform is an operating system and CPU architecture pair using the names
// found in engine directory names.
type Platform struct {
	OS   string `json:"os"`
	Arch string `json:"arch"`
}

var goosNames = map[string]string{
	"linux":   "linux",
	"windows": "windows",
	"darwin":  "macosx",
}

var goarchNames = map[string]string{
	"amd64": "x86_64",
	"arm64": "arm64",
}

// HostPlatform returns the platform of the running process.
func HostPlatform() Platform {
	p := Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
	if v, ok := goosNames[p.OS]; ok {
		p.OS = v
	}
	if v, ok := goarchNames[p.Arch]; ok {
		p.Arch = v
	}
	return p
}

// ParsePlatform parses "os-arch", e.g. "windows-x86_64".
func ParsePlatform(s string) (Platform, error) {
	osName, arch, ok := strings.Cut(strings.ToLower(s), "-")
	if !ok || osName == "" || arch == "" {
		return Platform{}, fmt.Errorf("platform %q: want os-arch", s)
	}
	return Platform{OS: osName, Arch: arch}, nil
}

func (p Platform) String() string {
	return p.OS + "-" + p.Arch
}
