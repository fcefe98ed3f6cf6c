package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"ytdl-stream/internal/config"
)

const lockFileName = ".lock"

// ErrStagingLocked means another server instance already owns the staging
// directory.
var ErrStagingLocked = errors.New("staging directory is in use by another instance")

// Filesystem is the prepared staging area. Release must be called on
// shutdown.
type Filesystem struct {
	StagingDir string
	lock       *flock.Flock
}

// PrepareFilesystem creates the staging directory and takes an exclusive
// lock on it so two instances never sweep each other's files.
func PrepareFilesystem(cfg *config.Config) (*Filesystem, error) {
	dir := cfg.Jobs.StagingDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock staging dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrStagingLocked, dir)
	}
	return &Filesystem{StagingDir: dir, lock: lock}, nil
}

// Release drops the staging lock.
func (f *Filesystem) Release() error {
	if f == nil || f.lock == nil {
		return nil
	}
	return f.lock.Unlock()
}
