// Package spec defines the run parameters and resource bounds of a sandboxed process.
package spec

import (
	"os"
	"time"

	appErr "fuzsandbox/pkg/errors"

	"gopkg.in/yaml.v3"
)

// MountSpec describes a bind mount inside the sandbox.
type MountSpec struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	// WriteLimit caps bytes written to the mount. Zero means read-only;
	// positive values are accepted but not enforced by the engine yet.
	WriteLimit ByteBound `yaml:"writeLimit"`
}

// ReadOnly reports whether the mount must be mounted read-only.
func (m MountSpec) ReadOnly() bool {
	v, ok := m.WriteLimit.Value()
	return ok && v == 0
}

// Stdio redirects one standard stream to a path or an inherited descriptor.
// The zero value redirects to /dev/null.
type Stdio struct {
	Path  string `yaml:"path"`
	fd    uintptr
	useFD bool
}

// StdioPath redirects a stream to a file path.
func StdioPath(path string) Stdio {
	return Stdio{Path: path}
}

// StdioFD redirects a stream to an already open descriptor.
func StdioFD(fd uintptr) Stdio {
	return Stdio{fd: fd, useFD: true}
}

// FD returns the inherited descriptor, if any.
func (s Stdio) FD() (uintptr, bool) {
	return s.fd, s.useFD
}

// UnmarshalYAML accepts a path string or an integer descriptor.
func (s *Stdio) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return appErr.ValidationError("stdio", "must be a path or a descriptor")
	}
	if node.ShortTag() == "!!int" {
		var fd uint
		if err := node.Decode(&fd); err != nil {
			return appErr.Wrapf(err, appErr.InvalidFormat, "decode stdio descriptor failed")
		}
		*s = StdioFD(uintptr(fd))
		return nil
	}
	*s = StdioPath(node.Value)
	return nil
}

// Identity is the uid/gid the sandboxed program runs as.
type Identity struct {
	UID int `yaml:"uid"`
	GID int `yaml:"gid"`
}

// RunParameters is the immutable description of one sandboxed run.
type RunParameters struct {
	TimeLimit    TimeBound  `yaml:"time"`
	MemoryLimit  ByteBound  `yaml:"memory"`
	ProcessLimit CountBound `yaml:"process"`
	StackSize    ByteBound  `yaml:"stackSize"`

	Chroot           string      `yaml:"chroot"`
	Mounts           []MountSpec `yaml:"mounts"`
	Executable       string      `yaml:"executable"`
	Args             []string    `yaml:"parameters"`
	Env              []string    `yaml:"environments"`
	WorkingDirectory string      `yaml:"workingDirectory"`
	Hostname         string      `yaml:"hostname"`
	MountProc        bool        `yaml:"mountProc"`

	Stdin  Stdio `yaml:"stdin"`
	Stdout Stdio `yaml:"stdout"`
	Stderr Stdio `yaml:"stderr"`
	// RedirectBeforeChroot resolves stdio paths on the host instead of inside the new root.
	RedirectBeforeChroot bool `yaml:"redirectBeforeChroot"`

	User       Identity `yaml:"user"`
	CgroupName string   `yaml:"cgroup"`
}

// Validate checks that every bound is usable and the required fields are set.
func (p RunParameters) Validate() error {
	if p.Executable == "" {
		return appErr.ValidationError("executable", "required")
	}
	if p.CgroupName == "" {
		return appErr.ValidationError("cgroup", "required")
	}
	bounds := []struct {
		field string
		ok    bool
	}{
		{"time", p.TimeLimit.Valid()},
		{"memory", p.MemoryLimit.Valid()},
		{"process", p.ProcessLimit.Valid()},
		{"stackSize", p.StackSize.Valid()},
	}
	for _, b := range bounds {
		if !b.ok {
			return appErr.ValidationError(b.field, "must be unbounded or non-negative")
		}
	}
	for _, m := range p.Mounts {
		if m.Source == "" || m.Destination == "" {
			return appErr.ValidationError("mounts", "source and destination are required")
		}
		if !m.WriteLimit.Valid() {
			return appErr.ValidationError("mounts.writeLimit", "must be unbounded or non-negative")
		}
	}
	return nil
}

// WithCgroupName returns a copy with the accounting group replaced.
// Slices are cloned so the copy stays frozen if the caller mutates its own.
func (p RunParameters) WithCgroupName(name string) RunParameters {
	out := p
	out.CgroupName = name
	out.Mounts = append([]MountSpec(nil), p.Mounts...)
	out.Args = append([]string(nil), p.Args...)
	out.Env = append([]string(nil), p.Env...)
	return out
}

// HasTimeLimit reports the finite time limit, if any.
func (p RunParameters) HasTimeLimit() (time.Duration, bool) {
	return p.TimeLimit.Value()
}

// LoadRunParameters reads a YAML parameter file.
func LoadRunParameters(path string) (RunParameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunParameters{}, appErr.Wrapf(err, appErr.ConfigLoadFailed, "read run parameters failed")
	}
	var p RunParameters
	if err := yaml.Unmarshal(data, &p); err != nil {
		return RunParameters{}, appErr.Wrapf(err, appErr.InvalidFormat, "parse run parameters failed")
	}
	if err := p.Validate(); err != nil {
		return RunParameters{}, err
	}
	return p, nil
}
