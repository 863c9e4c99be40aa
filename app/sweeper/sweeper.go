// Package sweeper removes stale files from the temp directory on a cron schedule.
// Files still referenced by active jobs as their batch temp file are kept regardless of age.
package sweeper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/robfig/cron/v3"
)

// Sweeper keeps temp directory clean
type Sweeper struct {
	Dir    string
	MaxAge time.Duration
	Refs   Referencer
	Cron   Cron
}

// Referencer returns temp files in use
type Referencer interface {
	BatchTempFiles(ctx context.Context) ([]string, error)
}

// Cron is the subset of robfig/cron used by sweeper
type Cron interface {
	Start()
	Stop() context.Context
	Schedule(schedule cron.Schedule, cmd cron.Job) cron.EntryID
}

// Run schedules sweeps with the standard cron spec and blocks until ctx is done
func (s *Sweeper) Run(ctx context.Context, spec string) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("can't parse sweep schedule %q: %w", spec, err)
	}
	if s.Cron == nil {
		s.Cron = cron.New()
	}
	s.Cron.Schedule(sched, cron.FuncJob(func() {
		if _, err := s.Sweep(ctx); err != nil {
			log.Printf("[WARN] temp sweep failed, %v", err)
		}
	}))
	log.Printf("[INFO] temp sweeper for %s activated, first: %s", s.Dir, sched.Next(time.Now()).Format(time.RFC3339))
	s.Cron.Start()
	<-ctx.Done()
	<-s.Cron.Stop().Done()
	log.Print("[DEBUG] temp sweeper terminated")
	return nil
}

// Sweep removes regular files older than MaxAge and returns number of removed files.
// Failure to remove a single file is logged and doesn't stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	refs, err := s.Refs.BatchTempFiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("can't get referenced temp files: %w", err)
	}
	// relative refs are names inside the temp dir
	keep := make(map[string]bool, len(refs))
	for _, r := range refs {
		if !filepath.IsAbs(r) {
			r = filepath.Join(s.Dir, r)
		}
		keep[canonical(r)] = true
	}

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return 0, fmt.Errorf("can't read %s: %w", s.Dir, err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(s.Dir, entry.Name())
		if keep[canonical(path)] {
			continue
		}
		finfo, err := entry.Info()
		if err != nil {
			log.Printf("[WARN] can't get info for %s, %v", path, err)
			continue
		}
		if time.Since(finfo.ModTime()) < s.MaxAge {
			continue
		}
		if err := os.Remove(path); err != nil {
			log.Printf("[WARN] can't remove stale temp file %s, %v", path, err)
			continue
		}
		log.Printf("[DEBUG] removed stale temp file %s, modified %s", path, finfo.ModTime().Format(time.RFC3339))
		removed++
	}
	if removed > 0 {
		log.Printf("[INFO] removed %d stale temp files from %s", removed, s.Dir)
	}
	return removed, nil
}

// canonical returns absolute path with symlinks resolved. A path that can't be resolved,
// e.g. a reference to a removed file, is returned absolute and cleaned.
func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if res, err := filepath.EvalSymlinks(abs); err == nil {
		return res
	}
	return abs
}
