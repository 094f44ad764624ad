package runtimepath

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "hostview"

// Dir returns the per-user runtime directory holding the control socket and
// pid file. XDG_RUNTIME_DIR wins, then /run/user/<uid>, then a private
// directory under /tmp that is created on demand.
func Dir() (string, error) {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return runtimeDir, nil
	}

	uid := os.Getuid()
	runUserDir := fmt.Sprintf("/run/user/%d", uid)
	if info, err := os.Stat(runUserDir); err == nil && info.IsDir() {
		return runUserDir, nil
	}

	tmpDir := fmt.Sprintf("/tmp/%s-runtime-%d", appName, uid)
	if err := os.MkdirAll(tmpDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create runtime dir: %w", err)
	}
	return tmpDir, nil
}

// SocketPath returns the control socket path. A non-empty override (from
// config) is returned as is.
func SocketPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	runtimeDir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(runtimeDir, appName+".sock"), nil
}

// PIDPath returns the pid file written by a running daemon.
func PIDPath() (string, error) {
	runtimeDir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(runtimeDir, appName+".pid"), nil
}
