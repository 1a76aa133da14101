// Package identity looks up sandbox users in the sandbox root filesystem.
package identity

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fuzsandbox/internal/sandbox/spec"
	appErr "fuzsandbox/pkg/errors"
)

const passwdPath = "etc/passwd"

// Resolve returns the uid and gid of username as listed in <rootPath>/etc/passwd.
// The host user database is never consulted.
func Resolve(rootPath, username string) (spec.Identity, error) {
	if strings.TrimSpace(username) == "" {
		return spec.Identity{}, appErr.ValidationError("username", "required")
	}
	if rootPath == "" {
		return spec.Identity{}, appErr.ValidationError("root", "required")
	}

	f, err := os.Open(filepath.Join(rootPath, passwdPath))
	if err != nil {
		return spec.Identity{}, appErr.Wrapf(err, appErr.SandboxIdentityNotFound, "open passwd in %s failed", rootPath)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// name:password:uid:gid:gecos:home:shell
		fields := strings.Split(line, ":")
		if len(fields) < 4 || fields[0] != username {
			continue
		}
		uid, err := strconv.Atoi(fields[2])
		if err != nil {
			return spec.Identity{}, appErr.Wrapf(err, appErr.InvalidFormat, "invalid uid for %s", username)
		}
		gid, err := strconv.Atoi(fields[3])
		if err != nil {
			return spec.Identity{}, appErr.Wrapf(err, appErr.InvalidFormat, "invalid gid for %s", username)
		}
		return spec.Identity{UID: uid, GID: gid}, nil
	}
	if err := scanner.Err(); err != nil {
		return spec.Identity{}, appErr.Wrapf(err, appErr.SandboxIdentityNotFound, "read passwd in %s failed", rootPath)
	}
	return spec.Identity{}, appErr.Newf(appErr.SandboxIdentityNotFound, "user %s not found in %s", username, rootPath)
}
