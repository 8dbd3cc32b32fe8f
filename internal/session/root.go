// Package session prepares the backing root, initializes the backing
// library and runs the FUSE serve loop.
package session

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"

	"lfuse/internal/logging"
	"lfuse/internal/sysio"
)

var (
	logger = logging.GetLogger().WithPrefix("session")
)

// RootDirName is the directory under $HOME that becomes the backing root.
const RootDirName = ".lfuse"

// ErrNoHome is returned when HOME is unset or empty.
var ErrNoHome = errors.New("HOME environment variable not set")

// ResolveRoot returns $HOME/.lfuse, reading HOME through lookupEnv.
func ResolveRoot(lookupEnv func(string) (string, bool)) (string, error) {
	home, ok := lookupEnv("HOME")
	if !ok || home == "" {
		return "", ErrNoHome
	}
	return filepath.Join(home, RootDirName), nil
}

// EnsureRoot creates root with mode 0700. An existing root is accepted
// as is.
func EnsureRoot(root string) error {
	err := os.Mkdir(root, 0700)
	if err != nil && !errors.Is(err, iofs.ErrExist) {
		return fmt.Errorf("couldn't create backing root %s: %w", root, err)
	}
	if err == nil {
		logger.Info("Created backing root %s", root)
	}
	return nil
}

// Publish hands root to the backing library through its environment
// variable and runs the library's one-time setup.
func Publish(root string, backing sysio.Backing) error {
	if err := os.Setenv(sysio.MountPointEnv, root); err != nil {
		return fmt.Errorf("set %s: %w", sysio.MountPointEnv, err)
	}
	if err := backing.Setup(); err != nil {
		return fmt.Errorf("backing library setup: %w", err)
	}
	logger.Debug("Published backing root %s", root)
	return nil
}
