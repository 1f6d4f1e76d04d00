package segment

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Staging is a build's private output directory next to its final
// location. Nothing is visible at the final path until Commit.
type Staging struct {
	Dir     string
	out     string
	buildID string
	done    bool
	logger  *slog.Logger
}

// Stage creates <out>.staging-<buildID>.
func Stage(out, buildID string) (*Staging, error) {
	out = filepath.Clean(out)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, fmt.Errorf("creating parent of %s: %w", out, err)
	}
	dir := out + ".staging-" + buildID
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &Staging{
		Dir:     dir,
		out:     out,
		buildID: buildID,
		logger:  slog.Default().With("component", "staging", "build_id", buildID),
	}, nil
}

// Commit moves the staged index into place. A previous index at the final
// path is renamed aside first and removed once the new one is in place; if
// the swap fails it is restored.
func (s *Staging) Commit() error {
	if s.done {
		return errors.New("staging already finished")
	}
	if _, err := os.Stat(filepath.Join(s.Dir, ManifestFile)); err != nil {
		return fmt.Errorf("refusing to commit without manifest: %w", err)
	}
	old := s.out + ".old-" + s.buildID
	hadOld := true
	if err := os.Rename(s.out, old); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("moving previous index aside: %w", err)
		}
		hadOld = false
	}
	if err := os.Rename(s.Dir, s.out); err != nil {
		if hadOld {
			if rerr := os.Rename(old, s.out); rerr != nil {
				s.logger.Error("restoring previous index failed", "path", old, "error", rerr)
			}
		}
		return fmt.Errorf("committing index: %w", err)
	}
	s.done = true
	if err := syncDir(filepath.Dir(s.out)); err != nil {
		s.logger.Warn("syncing parent directory failed", "error", err)
	}
	if hadOld {
		if err := os.RemoveAll(old); err != nil {
			s.logger.Warn("removing previous index failed", "path", old, "error", err)
		}
	}
	s.logger.Info("index committed", "path", s.out, "replaced", hadOld)
	return nil
}

// Abort removes the staging directory. It is a no-op after Commit.
func (s *Staging) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := os.RemoveAll(s.Dir); err != nil {
		return fmt.Errorf("removing staging directory: %w", err)
	}
	return nil
}
