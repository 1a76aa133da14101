package cgroup

import (
	"strconv"
	"strings"

	"fuzsandbox/internal/sandbox/engine"
	appErr "fuzsandbox/pkg/errors"
)

const (
	DefaultControllersPath = "/proc/cgroups"
	DefaultMountsPath      = "/proc/mounts"
)

// Discover locates the v1 mount point of every required controller.
// Controllers that are missing, disabled or not mounted make the host unsupported.
func Discover(controllersPath, mountsPath string, required []engine.Subsystem) (*Hierarchy, error) {
	if controllersPath == "" {
		controllersPath = DefaultControllersPath
	}
	if mountsPath == "" {
		mountsPath = DefaultMountsPath
	}

	enabled := make(map[string]bool)
	err := readLines(controllersPath, func(line string) {
		if strings.HasPrefix(line, "#") {
			return
		}
		// subsys_name hierarchy num_cgroups enabled
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return
		}
		enabled[fields[0]] = fields[3] == "1"
	})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxEnvironmentUnsupported, "read %s failed", controllersPath)
	}

	mounts := make(map[engine.Subsystem]string)
	err = readLines(mountsPath, func(line string) {
		// device mountpoint fstype options dump pass
		fields := strings.Fields(line)
		if len(fields) < 4 || fields[2] != "cgroup" {
			return
		}
		dir := unescapeMount(fields[1])
		for _, opt := range strings.Split(fields[3], ",") {
			sub := engine.Subsystem(opt)
			if _, seen := mounts[sub]; !seen {
				mounts[sub] = dir
			}
		}
	})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxEnvironmentUnsupported, "read %s failed", mountsPath)
	}

	found := make(map[engine.Subsystem]string, len(required))
	for _, sub := range required {
		if !enabled[string(sub)] {
			return nil, appErr.Newf(appErr.SandboxEnvironmentUnsupported, "controller %s is not enabled", sub)
		}
		dir, ok := mounts[sub]
		if !ok {
			return nil, appErr.Newf(appErr.SandboxEnvironmentUnsupported, "controller %s is not mounted", sub)
		}
		found[sub] = dir
	}
	return &Hierarchy{mounts: found}, nil
}

// unescapeMount decodes the octal escapes the kernel uses for spaces and tabs.
func unescapeMount(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+4 <= len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
