package system

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"

	"freespace_cleaner/internal/logging"
)

// Leftover is a working directory abandoned by an interrupted run.
type Leftover struct {
	Path  string `json:"path" yaml:"path"`
	Files int    `json:"files" yaml:"files"`
	Bytes int64  `json:"bytes" yaml:"bytes"`
}

// FindLeftovers lists top-level directories of mountPoint whose name is
// workDirName or starts with workDirName followed by "_".
func FindLeftovers(mountPoint, workDirName string) ([]Leftover, error) {
	entries, err := os.ReadDir(mountPoint)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot list %s", mountPoint)
	}

	var out []Leftover
	for _, e := range entries {
		if !e.IsDir() || !isWorkDir(e.Name(), workDirName) {
			continue
		}
		lo := Leftover{Path: filepath.Join(mountPoint, e.Name())}
		_ = filepath.WalkDir(lo.Path, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			lo.Files++
			if info, err := d.Info(); err == nil {
				lo.Bytes += info.Size()
			}
			return nil
		})
		out = append(out, lo)
	}
	return out, nil
}

func isWorkDir(name, workDirName string) bool {
	return name == workDirName || strings.HasPrefix(name, workDirName+"_")
}

// CleanLeftovers removes work directories left behind by an interrupted
// run. Errors are collected; one stuck directory does not stop the rest.
func CleanLeftovers(ctx context.Context, mountPoint, workDirName string, logger *logging.EnterpriseLogger, dryRun bool) ([]Leftover, error) {
	leftovers, err := FindLeftovers(mountPoint, workDirName)
	if err != nil {
		return nil, err
	}

	var result *multierror.Error
	for _, lo := range leftovers {
		if err := ctx.Err(); err != nil {
			return leftovers, err
		}

		if dryRun {
			logger.Log("INFO", "DRY RUN: leftover would be removed", "path", lo.Path, "files", lo.Files, "bytes", lo.Bytes)
			continue
		}

		if err := os.RemoveAll(lo.Path); err != nil {
			logger.Log("WARN", "Failed to remove leftover", "path", lo.Path, "error", err)
			result = multierror.Append(result, err)
			continue
		}
		logger.Log("INFO", "Leftover removed", "path", lo.Path, "files", lo.Files, "bytes", lo.Bytes)
	}

	return leftovers, result.ErrorOrNil()
}
