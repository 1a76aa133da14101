// Package cgroup reads and removes cgroup v1 accounting groups.
package cgroup

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fuzsandbox/internal/sandbox/engine"
	appErr "fuzsandbox/pkg/errors"

	"golang.org/x/sys/unix"
)

// Hierarchy maps each controller to the directory it is mounted on.
type Hierarchy struct {
	mounts map[engine.Subsystem]string
}

var _ engine.Groups = (*Hierarchy)(nil)

// NewHierarchy builds a hierarchy from known mount points.
func NewHierarchy(mounts map[engine.Subsystem]string) *Hierarchy {
	out := make(map[engine.Subsystem]string, len(mounts))
	for k, v := range mounts {
		out[k] = v
	}
	return &Hierarchy{mounts: out}
}

// MountPoint returns where a controller is mounted.
func (h *Hierarchy) MountPoint(subsystem engine.Subsystem) (string, bool) {
	p, ok := h.mounts[subsystem]
	return p, ok
}

func (h *Hierarchy) groupPath(subsystem engine.Subsystem, group string) (string, error) {
	if strings.TrimSpace(group) == "" {
		return "", appErr.ValidationError("group", "required")
	}
	root, ok := h.mounts[subsystem]
	if !ok {
		return "", appErr.Newf(appErr.SandboxEnvironmentUnsupported, "controller %s is not mounted", subsystem)
	}
	clean := filepath.Clean("/" + group)
	return filepath.Join(root, clean), nil
}

// ReadProperty returns the trimmed numeric content of a single-value file.
func (h *Hierarchy) ReadProperty(subsystem engine.Subsystem, group, property string) (string, error) {
	dir, err := h.groupPath(subsystem, group)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(dir, property))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.SandboxStatsUnavailable, "read %s/%s failed", subsystem, property)
	}
	value := strings.TrimSpace(string(data))
	if _, err := strconv.ParseUint(value, 10, 64); err != nil {
		return "", appErr.Wrapf(err, appErr.SandboxStatsUnavailable, "parse %s/%s failed", subsystem, property)
	}
	return value, nil
}

// ReadKeyedProperty returns one value from a "key value" per line statistics file.
// A missing key reads as zero, matching how the kernel omits idle counters.
func (h *Hierarchy) ReadKeyedProperty(subsystem engine.Subsystem, group, file, key string) (string, error) {
	dir, err := h.groupPath(subsystem, group)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.SandboxStatsUnavailable, "read %s/%s failed", subsystem, file)
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != key {
			continue
		}
		if _, err := strconv.ParseUint(fields[1], 10, 64); err != nil {
			return "", appErr.Wrapf(err, appErr.SandboxStatsUnavailable, "parse %s/%s %s failed", subsystem, file, key)
		}
		return fields[1], nil
	}
	return "0", nil
}

// RemoveGroup deletes the group directory. A group that is already gone is not an error.
func (h *Hierarchy) RemoveGroup(subsystem engine.Subsystem, group string) error {
	dir, err := h.groupPath(subsystem, group)
	if err != nil {
		return err
	}
	if err := unix.Rmdir(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		e := appErr.Wrapf(err, appErr.SandboxCleanupFailed, "remove %s group %s failed", subsystem, group)
		if errors.Is(err, unix.EBUSY) {
			e.WithDetail("busy", true)
		}
		return e
	}
	return nil
}

// IsBusy reports whether a removal failed because the group still has members.
func IsBusy(err error) bool {
	return errors.Is(err, unix.EBUSY)
}

func readLines(path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	return scanner.Err()
}
