package engine

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// SweepReport counts what a sweep removed
type SweepReport struct {
	PartsRemoved int `json:"partsRemoved"`
	DirsRemoved  int `json:"dirsRemoved"`
}

// SweepOrphans removes page files left half written by abandoned renders, then the empty
// folders below root. Anything modified within grace is left alone so live batches are not
// disturbed.
func SweepOrphans(root string, grace time.Duration) (SweepReport, error) {
	var report SweepReport
	cutoff := time.Now().Add(-grace)
	Logger.Info("Running orphan sweep on output folder", "path", root, "grace", grace)

	// directory times are taken before anything is removed, removals touch the parent
	var dirs []string
	dirTimes := make(map[string]time.Time)
	err := filepath.WalkDir(root, func(currentFile string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			if currentFile != root {
				if info, err := d.Info(); err == nil {
					dirs = append(dirs, currentFile)
					dirTimes[currentFile] = info.ModTime()
				}
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), partSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		Logger.Debug("Removing orphaned part file", "currentFile", currentFile)
		if err := os.Remove(currentFile); err == nil {
			report.PartsRemoved++
		}
		return nil
	})
	if err != nil {
		Logger.Error("Error sweeping output folder", "path", root, "error", err)
		return report, err
	}

	// deepest first so parents emptied by the removal of their children go too
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		if dirTimes[dir].After(cutoff) {
			continue
		}
		if removeEmptyDir(dir) {
			Logger.Debug("Removing Empty Folder", "currentFile", dir)
			report.DirsRemoved++
		}
	}
	Logger.Info("Orphan sweep finished", "path", root, "partsRemoved", report.PartsRemoved, "dirsRemoved", report.DirsRemoved)
	return report, nil
}

func removeEmptyDir(dir string) bool {
	f, err := os.Open(dir)
	if err != nil {
		return false
	}
	_, err = f.Readdirnames(1)
	f.Close()
	if err != io.EOF {
		return false
	}
	return os.Remove(dir) == nil
}
